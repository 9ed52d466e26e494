package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
)

// RateLimiter counts requests per client in a fixed one-minute window.
// *redis.Client implements it.
type RateLimiter interface {
	CheckRateLimit(ctx context.Context, id string, limit int) (exceeded bool, remaining int, err error)
}

type Middleware struct {
	limiter RateLimiter
	limit   int
	logger  *slog.Logger
}

// NewMiddleware builds the gateway middleware. A nil limiter or a limit of
// zero disables rate limiting.
func NewMiddleware(limiter RateLimiter, limitPerMinute int, logger *slog.Logger) *Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return &Middleware{
		limiter: limiter,
		limit:   limitPerMinute,
		logger:  logger,
	}
}

// RateLimitMiddleware enforces the per-IP request limit. Limiter failures
// let the request through.
func (m *Middleware) RateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.limiter == nil || m.limit <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		exceeded, remaining, err := m.limiter.CheckRateLimit(r.Context(), "ip:"+clientIP(r), m.limit)
		if err != nil {
			m.logger.Warn("rate limit check failed", "error", err)
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", m.limit))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))

		if exceeded {
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// CORSMiddleware handles CORS
func (m *Middleware) CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Expose-Headers", "X-Provider, X-Cache-Hit, X-Latency-Ms")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
