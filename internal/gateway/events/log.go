package events

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// LogObserver writes events to a slog.Logger. When verbose is off events are
// logged at debug level, so request logging can be toggled at runtime.
type LogObserver struct {
	logger  *slog.Logger
	verbose atomic.Bool
}

// NewLogObserver creates a LogObserver.
func NewLogObserver(logger *slog.Logger, verbose bool) *LogObserver {
	o := &LogObserver{logger: logger}
	o.verbose.Store(verbose)
	return o
}

// SetVerbose toggles info-level request logging.
func (o *LogObserver) SetVerbose(v bool) { o.verbose.Store(v) }

// Observe implements Observer.
func (o *LogObserver) Observe(ctx context.Context, e Event) {
	level := slog.LevelDebug
	if o.verbose.Load() {
		level = slog.LevelInfo
	}
	if e.Type == TypeError || e.Type == TypeFailover {
		// failures are always worth a line
		level = slog.LevelWarn
	}

	attrs := []slog.Attr{
		slog.String("request_id", e.RequestID),
		slog.String("endpoint", e.Endpoint),
		slog.String("provider", e.Provider),
		slog.Int("attempt", e.Attempt),
	}
	if e.Model != "" {
		attrs = append(attrs, slog.String("model", e.Model))
	}
	if e.Latency > 0 {
		attrs = append(attrs, slog.Int64("latency_ms", e.Latency.Milliseconds()))
	}
	if e.Error != "" {
		attrs = append(attrs, slog.String("error", e.Error))
	}
	o.logger.LogAttrs(ctx, level, "gateway "+string(e.Type), attrs...)
}
