package gateway

import (
	"log/slog"
	"time"

	"github.com/mrmushfiq/ai-gateway/internal/gateway/cache"
	"github.com/mrmushfiq/ai-gateway/internal/gateway/events"
	"github.com/mrmushfiq/ai-gateway/internal/gateway/retry"
)

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// WithObserver adds lifecycle observers.
func WithObserver(obs ...events.Observer) Option {
	return func(g *Gateway) { g.observers = append(g.observers, obs...) }
}

// WithCacheBackend replaces the in-memory cache backend.
func WithCacheBackend(b cache.Backend) Option {
	return func(g *Gateway) { g.cacheBackend = b }
}

// WithBackoff changes the retry delays. Zero keeps the default.
func WithBackoff(base, max time.Duration) Option {
	return func(g *Gateway) {
		g.retry.BaseDelay = base
		g.retry.MaxDelay = max
	}
}

// WithSleep replaces the wait between retries.
func WithSleep(sleep retry.SleepFunc) Option {
	return func(g *Gateway) { g.retry.Sleep = sleep }
}

// WithClock replaces time.Now for timestamps and cache ages.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

// WithSeed makes weighted selection and random failover deterministic.
func WithSeed(seed int64) Option {
	return func(g *Gateway) { g.seed = seed }
}

// WithRequestID replaces the request id generator.
func WithRequestID(fn func() string) Option {
	return func(g *Gateway) { g.newID = fn }
}
