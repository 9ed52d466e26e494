package events

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Sink persists events somewhere slow, e.g. the audit log table.
type Sink interface {
	Record(ctx context.Context, e Event) error
}

// Async decouples a Sink from the request path with a bounded queue. When the
// queue is full the event is dropped and counted instead of blocking callers.
type Async struct {
	sink    Sink
	logger  *slog.Logger
	timeout time.Duration

	queue   chan Event
	dropped atomic.Int64
	failed  atomic.Int64

	mu        sync.RWMutex // guards closed and the close of queue
	closed    bool
	closeOnce sync.Once
	done      chan struct{}
}

// NewAsync starts a single worker draining into sink.
func NewAsync(sink Sink, buffer int, logger *slog.Logger) *Async {
	if buffer <= 0 {
		buffer = 1024
	}
	a := &Async{
		sink:    sink,
		logger:  logger,
		timeout: 5 * time.Second,
		queue:   make(chan Event, buffer),
		done:    make(chan struct{}),
	}
	go a.run()
	return a
}

// Observe implements Observer. It never blocks. Events observed after Close
// are counted as dropped.
func (a *Async) Observe(_ context.Context, e Event) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		a.dropped.Add(1)
		return
	}
	select {
	case a.queue <- e:
	default:
		a.dropped.Add(1)
	}
}

// Dropped reports how many events were discarded because the queue was full
// or already closed.
func (a *Async) Dropped() int64 { return a.dropped.Load() }

// Failed reports how many events the sink rejected.
func (a *Async) Failed() int64 { return a.failed.Load() }

// Close stops accepting events and waits for the queue to drain.
func (a *Async) Close() {
	a.closeOnce.Do(func() {
		a.mu.Lock()
		a.closed = true
		close(a.queue)
		a.mu.Unlock()
		<-a.done
	})
}

func (a *Async) run() {
	defer close(a.done)
	for e := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		if err := a.sink.Record(ctx, e); err != nil {
			a.failed.Add(1)
			if a.logger != nil {
				a.logger.Warn("event sink write failed", "type", e.Type, "error", err)
			}
		}
		cancel()
	}
}
