// Package failover orders the candidate providers for a request and walks
// them until one succeeds.
package failover

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/mrmushfiq/ai-gateway/internal/gateway/balancer"
	"github.com/mrmushfiq/ai-gateway/internal/gateway/events"
	"github.com/mrmushfiq/ai-gateway/internal/gateway/providers"
)

// Strategy controls the order of the providers after the first.
type Strategy string

const (
	Sequential Strategy = "sequential"
	Random     Strategy = "random"
)

// ParseStrategy validates a strategy name. Empty selects sequential.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case "":
		return Sequential, nil
	case Sequential, Random:
		return Strategy(s), nil
	default:
		return "", fmt.Errorf("unknown failover strategy %q", s)
	}
}

// ErrAllProvidersFailed matches every *AllProvidersFailedError.
var ErrAllProvidersFailed = errors.New("all providers failed")

// AllProvidersFailedError is returned once every candidate has failed. It
// wraps the error of the last provider tried; the message names neither the
// providers nor their responses, which stay reachable through errors.As.
type AllProvidersFailedError struct {
	Attempted int
	Last      error
}

func (e *AllProvidersFailedError) Error() string {
	return ErrAllProvidersFailed.Error()
}

// Unwrap returns the last provider error.
func (e *AllProvidersFailedError) Unwrap() error { return e.Last }

// Is implements error matching for errors.Is().
func (e *AllProvidersFailedError) Is(target error) bool { return target == ErrAllProvidersFailed }

// Planner builds attempt sequences.
type Planner struct {
	Strategy Strategy
	Selector balancer.Selector

	mu  sync.Mutex
	rng *rand.Rand
}

// NewPlanner returns a planner. rng may be nil.
func NewPlanner(strategy Strategy, selector balancer.Selector, rng *rand.Rand) *Planner {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Planner{Strategy: strategy, Selector: selector, rng: rng}
}

// Plan puts the selected provider first, then every other candidate once in
// registry order, shuffled when the strategy is random.
func (p *Planner) Plan(candidates []providers.Config, preferred string) ([]providers.Config, error) {
	first, err := p.Selector.Select(candidates, preferred)
	if err != nil {
		return nil, err
	}

	plan := make([]providers.Config, 0, len(candidates))
	plan = append(plan, first)
	for _, c := range candidates {
		if c.Name != first.Name {
			plan = append(plan, c)
		}
	}

	if p.Strategy == Random && len(plan) > 2 {
		tail := plan[1:]
		p.mu.Lock()
		p.rng.Shuffle(len(tail), func(i, j int) { tail[i], tail[j] = tail[j], tail[i] })
		p.mu.Unlock()
	}
	return plan, nil
}

// Execute tries each provider of plan in order and returns the first
// success along with the provider that produced it. Every failure emits a
// failover event naming the provider that failed.
func Execute[T any](ctx context.Context, plan []providers.Config, emit events.Emitter, try func(ctx context.Context, p providers.Config) (T, error)) (T, string, error) {
	var (
		zero    T
		lastErr error
	)
	for _, p := range plan {
		out, err := try(ctx, p)
		if err == nil {
			return out, p.Name, nil
		}
		lastErr = err
		emit.Emit(events.Event{Type: events.TypeFailover, Provider: p.Name, Error: err.Error()})

		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, "", ctxErr
		}
	}
	return zero, "", &AllProvidersFailedError{Attempted: len(plan), Last: lastErr}
}
