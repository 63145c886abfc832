package qstash

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const maxResponseSizeBytes = 1 << 20

var (
	ErrEmptyDestination = errors.New("qstash destination is empty")
	ErrPublishRejected  = errors.New("qstash rejected publish")
)

type Config struct {
	URL     string        `split_words:"true" default:"https://qstash.upstash.io"`
	Token   string        `split_words:"true" required:"true"`
	Timeout time.Duration `split_words:"true" default:"10s"`
	Retries int           `split_words:"true" default:"3"`
}

// ClientOption customizes Client.
type ClientOption func(*Client)

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

type Client struct {
	baseURL    string
	token      string
	retries    int
	httpClient *http.Client
}

// PublishRequest is a single message forwarded by QStash to Destination.
// Headers are forwarded to the destination with the Upstash-Forward- prefix.
type PublishRequest struct {
	Destination     string
	Body            []byte
	ContentType     string
	DeduplicationID string
	Headers         map[string]string
}

type PublishResponse struct {
	MessageID    string `json:"messageId"`
	Deduplicated bool   `json:"deduplicated,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func NewClient(cfg Config, opts ...ClientOption) (*Client, error) {
	baseURL := strings.TrimSpace(cfg.URL)
	if baseURL == "" {
		return nil, errors.New("qstash url is required")
	}

	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, err
	}

	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("qstash token is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		retries: max(cfg.Retries, 0),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}

	return client, nil
}

func MustNew(cfg Config, opts ...ClientOption) *Client {
	client, err := NewClient(cfg, opts...)
	if err != nil {
		panic(err)
	}
	return client
}

// Publish hands the message to QStash. Every publish carries a deduplication
// id; when DeduplicationID is empty a fresh random one is generated, so
// callers that retry and need idempotency must pass their own.
func (c *Client) Publish(ctx context.Context, req PublishRequest) (*PublishResponse, error) {
	destination := strings.TrimSpace(req.Destination)
	if destination == "" {
		return nil, ErrEmptyDestination
	}
	if _, err := url.ParseRequestURI(destination); err != nil {
		return nil, fmt.Errorf("invalid qstash destination: %w", err)
	}

	dedupID := strings.TrimSpace(req.DeduplicationID)
	if dedupID == "" {
		dedupID = uuid.NewString()
	}
	contentType := req.ContentType
	if contentType == "" {
		contentType = "application/json"
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/publish/"+destination, bytes.NewReader(req.Body))
	if err != nil {
		return nil, fmt.Errorf("build qstash request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.token)
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Upstash-Deduplication-Id", dedupID)
	httpReq.Header.Set("Upstash-Retries", strconv.Itoa(c.retries))
	for k, v := range req.Headers {
		httpReq.Header.Set("Upstash-Forward-"+k, v)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("execute qstash request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSizeBytes))
	if err != nil {
		return nil, fmt.Errorf("read qstash response: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		var parsed errorResponse
		if json.Unmarshal(raw, &parsed) == nil && parsed.Error != "" {
			return nil, fmt.Errorf("%w: status=%d: %s", ErrPublishRejected, resp.StatusCode, parsed.Error)
		}
		return nil, fmt.Errorf("%w: status=%d body=%s", ErrPublishRejected, resp.StatusCode, string(raw))
	}

	var out PublishResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode qstash response: %w", err)
	}
	return &out, nil
}
