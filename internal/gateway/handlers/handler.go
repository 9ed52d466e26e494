// Package handlers exposes the gateway over HTTP.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/mrmushfiq/ai-gateway/internal/gateway"
	"github.com/mrmushfiq/ai-gateway/internal/gateway/balancer"
	"github.com/mrmushfiq/ai-gateway/internal/gateway/cache"
	"github.com/mrmushfiq/ai-gateway/internal/gateway/failover"
	"github.com/mrmushfiq/ai-gateway/internal/gateway/providers"
)

const maxBodyBytes = 10 << 20

// Service is the gateway API served over HTTP. *gateway.Gateway implements
// it.
type Service interface {
	ChatCompletion(ctx context.Context, req providers.Request) (*providers.Response, error)
	ChatCompletionStream(ctx context.Context, req providers.Request) (providers.StreamReader, string, error)
	Completion(ctx context.Context, req providers.Request) (*providers.Response, error)
	Embeddings(ctx context.Context, req providers.Request) (*providers.Response, error)
	Request(ctx context.Context, endpoint string, req providers.Request) (*providers.Response, error)
	UpdateConfig(upd gateway.ConfigUpdate) error
	ClearCache(ctx context.Context) (int, error)
	Status() gateway.Status
	ProviderStats() []gateway.ProviderStats
	CacheStats(ctx context.Context) cache.Stats
}

type Handler struct {
	gw     Service
	logger *slog.Logger
}

func NewHandler(gw Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{gw: gw, logger: logger}
}

// Routes mounts the gateway endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/health", h.HandleHealth)
	r.Get("/status", h.HandleStatus)

	r.Post("/chat/completions", h.HandleChatCompletion)
	r.Post("/completions", h.HandleCompletion)
	r.Post("/embeddings", h.HandleEmbeddings)
	r.Post("/request", h.HandleRequest)

	r.Post("/config", h.HandleConfig)
	r.Post("/cache/clear", h.HandleClearCache)
}

// knownFields are the request keys with a dedicated field. Everything else
// in the body is passed to the provider untouched.
var knownFields = map[string]bool{
	"model": true, "messages": true, "prompt": true, "input": true,
	"temperature": true, "max_tokens": true, "top_p": true, "stream": true,
	"provider": true, "custom_headers": true, "extra": true,
}

func readBody(r *http.Request) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return data, nil
}

// parseRequest decodes the canonical request shape, moving unknown
// top-level keys into Extra.
func parseRequest(data []byte) (providers.Request, error) {
	var req providers.Request
	if len(data) == 0 {
		return req, errors.New("empty request body")
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return req, fmt.Errorf("invalid request body: %w", err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return req, fmt.Errorf("invalid request body: %w", err)
	}
	for k, raw := range fields {
		if knownFields[k] {
			continue
		}
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return req, fmt.Errorf("invalid field %q: %w", k, err)
		}
		if req.Extra == nil {
			req.Extra = make(map[string]any)
		}
		if _, set := req.Extra[k]; !set {
			req.Extra[k] = v
		}
	}
	return req, nil
}

func decodeRequest(r *http.Request) (providers.Request, error) {
	data, err := readBody(r)
	if err != nil {
		return providers.Request{}, err
	}
	return parseRequest(data)
}

// statusFor maps gateway errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, gateway.ErrInvalidRequest), errors.Is(err, providers.ErrConfig):
		return http.StatusBadRequest
	case errors.Is(err, failover.ErrAllProvidersFailed):
		return http.StatusBadGateway
	case errors.Is(err, balancer.ErrNoCandidates):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		args := []any{"path", r.URL.Path, "status", status, "error", err}
		var all *failover.AllProvidersFailedError
		if errors.As(err, &all) && all.Last != nil {
			args = append(args, "attempted", all.Attempted, "last_error", all.Last)
		}
		h.logger.Error("request failed", args...)
	}
	writeError(w, status, err.Error())
}
