// Package retry runs attempts against a single provider with capped
// exponential backoff between them.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/mrmushfiq/ai-gateway/internal/gateway/balancer"
	"github.com/mrmushfiq/ai-gateway/internal/gateway/events"
)

const (
	DefaultBaseDelay = time.Second
	DefaultMaxDelay  = 10 * time.Second
)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the real SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Executor retries a provider call. Zero values in the config fields fall
// back to the defaults.
type Executor struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Usage     *balancer.Usage
	Sleep     SleepFunc
	Now       func() time.Time
}

// Target describes the provider being attempted.
type Target struct {
	Provider string
	Model    string
	// Retries is the number of attempts after the first one.
	Retries int
}

// Delays returns the wait after each failed attempt that is followed by
// another one.
func (e *Executor) Delays(retries int) []time.Duration {
	b := e.newBackOff()
	out := make([]time.Duration, 0, retries)
	for i := 0; i < retries; i++ {
		out = append(out, b.NextBackOff())
	}
	return out
}

func (e *Executor) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.BaseDelay
	if b.InitialInterval <= 0 {
		b.InitialInterval = DefaultBaseDelay
	}
	b.MaxInterval = e.MaxDelay
	if b.MaxInterval <= 0 {
		b.MaxInterval = DefaultMaxDelay
	}
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Run calls fn up to 1+t.Retries times. Each attempt increments the usage
// counter of the provider and emits request followed by response or error.
// The last error is returned once the budget is spent. A cancelled context
// stops the loop immediately.
func (e *Executor) Run(ctx context.Context, t Target, emit events.Emitter, fn func(ctx context.Context) error) error {
	sleep := e.Sleep
	if sleep == nil {
		sleep = Sleep
	}
	now := e.Now
	if now == nil {
		now = time.Now
	}

	b := e.newBackOff()
	attempts := 1 + max(t.Retries, 0)

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		if e.Usage != nil {
			e.Usage.Inc(t.Provider)
		}
		emit.Emit(events.Event{Type: events.TypeRequest, Provider: t.Provider, Model: t.Model, Attempt: attempt})

		start := now()
		err := fn(ctx)
		latency := now().Sub(start)
		if err == nil {
			emit.Emit(events.Event{Type: events.TypeResponse, Provider: t.Provider, Model: t.Model, Attempt: attempt, Latency: latency})
			return nil
		}

		lastErr = err
		emit.Emit(events.Event{Type: events.TypeError, Provider: t.Provider, Model: t.Model, Attempt: attempt, Latency: latency, Error: err.Error()})

		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			return permanent.Err
		}

		if attempt < attempts-1 {
			if err := sleep(ctx, b.NextBackOff()); err != nil {
				return err
			}
		}
	}
	return lastErr
}
