// Package balancer picks which provider serves a request.
package balancer

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mrmushfiq/ai-gateway/internal/gateway/providers"
)

// Strategy names a load balancing algorithm.
type Strategy string

const (
	RoundRobin Strategy = "round-robin"
	Weighted   Strategy = "weighted"
	LeastLoad  Strategy = "least-load"
)

// ErrNoCandidates is returned when there is nothing to select from.
var ErrNoCandidates = errors.New("no candidate providers")

// ParseStrategy validates a strategy name. Empty selects round-robin.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case "":
		return RoundRobin, nil
	case RoundRobin, Weighted, LeastLoad:
		return Strategy(s), nil
	default:
		return "", fmt.Errorf("unknown load balancing strategy %q", s)
	}
}

// Selector chooses one provider out of a candidate list.
type Selector interface {
	Select(candidates []providers.Config, preferred string) (providers.Config, error)
	Strategy() Strategy
}

// New builds the selector for a strategy. usage is required by least-load
// and ignored otherwise; rng may be nil.
func New(strategy Strategy, usage *Usage, rng *rand.Rand) (Selector, error) {
	switch strategy {
	case RoundRobin, "":
		return &roundRobin{}, nil
	case Weighted:
		if rng == nil {
			rng = rand.New(rand.NewSource(time.Now().UnixNano()))
		}
		return &weighted{rng: rng}, nil
	case LeastLoad:
		if usage == nil {
			return nil, errors.New("least-load selection requires usage counters")
		}
		return &leastLoad{usage: usage}, nil
	default:
		return nil, fmt.Errorf("unknown load balancing strategy %q", strategy)
	}
}

// pick handles the shared preconditions of every strategy.
func pick(candidates []providers.Config, preferred string) (providers.Config, bool, error) {
	if len(candidates) == 0 {
		return providers.Config{}, false, ErrNoCandidates
	}
	if preferred != "" {
		for _, c := range candidates {
			if c.Name == preferred {
				return c, true, nil
			}
		}
	}
	return providers.Config{}, false, nil
}

type roundRobin struct {
	cursor atomic.Uint64
}

func (r *roundRobin) Strategy() Strategy { return RoundRobin }

func (r *roundRobin) Select(candidates []providers.Config, preferred string) (providers.Config, error) {
	if c, ok, err := pick(candidates, preferred); ok || err != nil {
		return c, err
	}
	n := r.cursor.Add(1) - 1
	return candidates[n%uint64(len(candidates))], nil
}

type weighted struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func (w *weighted) Strategy() Strategy { return Weighted }

func (w *weighted) Select(candidates []providers.Config, preferred string) (providers.Config, error) {
	if c, ok, err := pick(candidates, preferred); ok || err != nil {
		return c, err
	}

	var total float64
	for _, c := range candidates {
		total += c.Weight
	}
	if total <= 0 {
		return candidates[0], nil
	}

	w.mu.Lock()
	r := w.rng.Float64() * total
	w.mu.Unlock()

	for _, c := range candidates {
		r -= c.Weight
		if r < 0 {
			return c, nil
		}
	}
	// float rounding can leave a tiny remainder
	return candidates[len(candidates)-1], nil
}

type leastLoad struct {
	usage *Usage
}

func (l *leastLoad) Strategy() Strategy { return LeastLoad }

func (l *leastLoad) Select(candidates []providers.Config, preferred string) (providers.Config, error) {
	if c, ok, err := pick(candidates, preferred); ok || err != nil {
		return c, err
	}
	best := candidates[0]
	bestCount := l.usage.Count(best.Name)
	for _, c := range candidates[1:] {
		if n := l.usage.Count(c.Name); n < bestCount {
			best, bestCount = c, n
		}
	}
	return best, nil
}
