package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/account-lease-bot/lease/contract"
	messagex "github.com/tanpawarit/account-lease-bot/lease/message"
	qstashx "github.com/tanpawarit/account-lease-bot/pkg/qstash"
	"golang.org/x/time/rate"
)

var _ contractx.Notifier = (*DirectMessenger)(nil)

type Config struct {
	// Destination is the chat gateway endpoint QStash forwards direct
	// messages to.
	Destination string        `split_words:"true"`
	Rate        float64       `split_words:"true" default:"5"`
	Burst       int           `split_words:"true" default:"5"`
	WaitTimeout time.Duration `split_words:"true" default:"5s"`
}

func (c *Config) Validate() error {
	if d := strings.TrimSpace(c.Destination); d != "" {
		if _, err := url.ParseRequestURI(d); err != nil {
			return fmt.Errorf("invalid dm destination: %w", err)
		}
	}
	if c.Rate <= 0 {
		return errors.New("dm rate must be > 0")
	}
	if c.Burst <= 0 {
		return errors.New("dm burst must be > 0")
	}
	return nil
}

// Publisher is the subset of the QStash client used for delivery.
type Publisher interface {
	Publish(ctx context.Context, req qstashx.PublishRequest) (*qstashx.PublishResponse, error)
}

// Payload is the body the chat gateway receives for every direct message.
type Payload struct {
	RecipientID   string              `json:"recipient_id"`
	RecipientName string              `json:"recipient_name,omitempty"`
	Kind          contractx.EventKind `json:"kind"`
	Text          string              `json:"text"`
}

// DirectMessenger delivers notifications as direct messages published through
// QStash. Outbound publishes share one token bucket.
type DirectMessenger struct {
	publisher   Publisher
	destination string
	limiter     *rate.Limiter
	waitTimeout time.Duration
}

func NewDirectMessenger(publisher Publisher, cfg Config) (*DirectMessenger, error) {
	if publisher == nil {
		return nil, errors.New("publisher is required")
	}
	destination := strings.TrimSpace(cfg.Destination)
	if destination == "" {
		return nil, errors.New("dm destination is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &DirectMessenger{
		publisher:   publisher,
		destination: destination,
		limiter:     rate.NewLimiter(rate.Limit(cfg.Rate), cfg.Burst),
		waitTimeout: cfg.WaitTimeout,
	}, nil
}

func (d *DirectMessenger) Notify(ctx context.Context, requester contractx.Requester, event contractx.Event) error {
	if requester.ID == "" {
		return contractx.ErrInvalidRequester
	}
	if event == nil {
		return errors.New("event is nil")
	}

	if err := d.wait(ctx); err != nil {
		return fmt.Errorf("dm throttled: %w", err)
	}

	body, err := json.Marshal(Payload{
		RecipientID:   requester.ID,
		RecipientName: requester.Name,
		Kind:          event.Kind(),
		Text:          messagex.Event(event),
	})
	if err != nil {
		return fmt.Errorf("marshal dm payload: %w", err)
	}

	resp, err := d.publisher.Publish(ctx, qstashx.PublishRequest{
		Destination: d.destination,
		Body:        body,
		Headers:     map[string]string{"X-Recipient-Id": requester.ID},
	})
	if err != nil {
		return err
	}

	log.Debug().
		Str("requester_id", requester.ID).
		Str("kind", string(event.Kind())).
		Str("message_id", resp.MessageID).
		Msg("notify: direct message published")
	return nil
}

func (d *DirectMessenger) wait(ctx context.Context) error {
	if d.waitTimeout <= 0 {
		return d.limiter.Wait(ctx)
	}
	waitCtx, cancel := context.WithTimeout(ctx, d.waitTimeout)
	defer cancel()
	return d.limiter.Wait(waitCtx)
}

// LogNotifier only logs notifications. It is used when no direct message
// transport is configured.
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, requester contractx.Requester, event contractx.Event) error {
	if event == nil {
		return errors.New("event is nil")
	}
	log.Info().
		Str("requester_id", requester.ID).
		Str("requester", requester.String()).
		Str("kind", string(event.Kind())).
		Str("text", messagex.Event(event)).
		Msg("notify: direct message (log only)")
	return nil
}
