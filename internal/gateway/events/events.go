// Package events defines the gateway lifecycle events and the observers that
// consume them. Observers are called synchronously on the request path, so
// anything slow (database writes, network sinks) belongs behind an Async.
package events

import (
	"context"
	"sync"
	"time"
)

// Type identifies a lifecycle point.
type Type string

const (
	TypeRequest  Type = "request"
	TypeResponse Type = "response"
	TypeError    Type = "error"
	TypeFailover Type = "failover"
	TypeCacheHit Type = "cache_hit"
)

// Event is a single lifecycle notification.
type Event struct {
	Type      Type          `json:"type"`
	RequestID string        `json:"request_id,omitempty"`
	Endpoint  string        `json:"endpoint,omitempty"`
	Provider  string        `json:"provider,omitempty"`
	Model     string        `json:"model,omitempty"`
	Attempt   int           `json:"attempt"`
	Latency   time.Duration `json:"latency,omitempty"`
	Error     string        `json:"error,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// Observer receives lifecycle events.
type Observer interface {
	Observe(ctx context.Context, e Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, e Event)

// Observe calls f(ctx, e).
func (f ObserverFunc) Observe(ctx context.Context, e Event) { f(ctx, e) }

// Multi fans an event out to every observer in order.
type Multi []Observer

// Observe implements Observer.
func (m Multi) Observe(ctx context.Context, e Event) {
	for _, o := range m {
		if o != nil {
			o.Observe(ctx, e)
		}
	}
}

// Emitter is the request-scoped hook handed to the executors. The gateway
// binds request id, endpoint and timestamp before forwarding to observers.
type Emitter func(e Event)

// Emit calls the emitter if it is set.
func (f Emitter) Emit(e Event) {
	if f != nil {
		f(e)
	}
}

// Recorder collects events in memory. Used by tests and by callers that want
// to inspect the attempts made for one request.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Observe implements Observer.
func (r *Recorder) Observe(_ context.Context, e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Reset discards recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

// Filter returns the events of the given type.
func Filter(evts []Event, t Type) []Event {
	var out []Event
	for _, e := range evts {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
