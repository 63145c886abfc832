package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	commandx "github.com/tanpawarit/account-lease-bot/lease/command"
	contractx "github.com/tanpawarit/account-lease-bot/lease/contract"
	statsx "github.com/tanpawarit/account-lease-bot/lease/stats"
	logx "github.com/tanpawarit/account-lease-bot/pkg/logger"
)

const maxBodyBytes = 1 << 20

// CommandHandler runs chat commands.
type CommandHandler interface {
	Handle(ctx context.Context, msg commandx.Message) (commandx.Reply, bool, error)
}

// StatusReader exposes the registry snapshot.
type StatusReader interface {
	Status() contractx.StatusReport
}

// History exposes the journal, when one is configured.
type History interface {
	Recent(ctx context.Context, n int64) ([]statsx.Entry, error)
	Totals(ctx context.Context) (map[string]int64, error)
}

type Option func(*Handler)

func WithHistory(h History) Option {
	return func(hd *Handler) { hd.history = h }
}

func WithGatherer(g prometheus.Gatherer) Option {
	return func(hd *Handler) {
		if g != nil {
			hd.gatherer = g
		}
	}
}

func WithRequestTimeout(d time.Duration) Option {
	return func(hd *Handler) {
		if d > 0 {
			hd.timeout = d
		}
	}
}

type Handler struct {
	commands CommandHandler
	status   StatusReader
	history  History
	gatherer prometheus.Gatherer
	timeout  time.Duration
}

type commandResponse struct {
	Reply commandx.Reply `json:"reply"`
}

type historyResponse struct {
	Entries []statsx.Entry   `json:"entries"`
	Totals  map[string]int64 `json:"totals"`
}

type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

func New(commands CommandHandler, status StatusReader, opts ...Option) (*Handler, error) {
	if commands == nil {
		return nil, errors.New("command handler is required")
	}
	if status == nil {
		return nil, errors.New("status reader is required")
	}
	h := &Handler{
		commands: commands,
		status:   status,
		gatherer: prometheus.DefaultGatherer,
		timeout:  30 * time.Second,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h, nil
}

// Register mounts the routes on r.
func (h *Handler) Register(r chi.Router) {
	api := chi.NewRouter()
	api.Use(middleware.RequestID)
	api.Use(middleware.Recoverer)
	api.Use(middleware.Timeout(h.timeout))
	api.Use(requestLogger)
	api.Post("/v1/commands", h.handleCommand)
	api.Get("/v1/status", h.handleStatus)
	api.Get("/v1/history", h.handleHistory)
	api.Get("/healthz", h.handleHealth)
	api.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))

	r.Mount("/", api)
}

// Router returns a fresh chi router with the routes registered.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	h.Register(r)
	return r
}

func (h *Handler) handleCommand(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var msg commandx.Message
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&msg); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}

	reply, ok, err := h.commands.Handle(ctx, msg)
	if err != nil {
		status, code := statusFor(err)
		if status >= http.StatusInternalServerError {
			log.Error().Err(err).Str("request_id", middleware.GetReqID(ctx)).Msg("httpapi: command failed")
			writeError(w, status, code, "")
			return
		}
		writeError(w, status, code, err.Error())
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, commandResponse{Reply: reply})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.status.Status())
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, http.StatusNotFound, "not_found", "history is not enabled")
		return
	}

	limit := int64(20)
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "bad_request", "limit must be a positive integer")
			return
		}
		limit = n
	}

	entries, err := h.history.Recent(r.Context(), limit)
	if err != nil {
		log.Error().Err(err).Msg("httpapi: read history failed")
		writeError(w, http.StatusServiceUnavailable, "unavailable", "")
		return
	}
	totals, err := h.history.Totals(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("httpapi: read totals failed")
		writeError(w, http.StatusServiceUnavailable, "unavailable", "")
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{Entries: entries, Totals: totals})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func statusFor(err error) (int, string) {
	switch contractx.KindOf(err) {
	case contractx.KindInvalid:
		return http.StatusBadRequest, "bad_request"
	case contractx.KindUnknownAccount:
		return http.StatusNotFound, "unknown_account"
	case contractx.KindAlreadyHeld, contractx.KindNotHeld, contractx.KindNotWaiting:
		return http.StatusConflict, string(contractx.KindOf(err))
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Warn().Err(err).Msg("httpapi: encode response failed")
	}
}

func writeError(w http.ResponseWriter, status int, code, description string) {
	writeJSON(w, status, errorResponse{Error: code, ErrorDescription: description})
}

func requestLogger(next http.Handler) http.Handler {
	logger := logx.Component("httpapi")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logger.Debug().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	})
}
