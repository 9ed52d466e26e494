package balancer

import (
	"sync"
	"sync/atomic"
)

// Usage counts the attempts issued to each provider. Counters only grow.
type Usage struct {
	counters sync.Map // map[string]*atomic.Int64
}

// NewUsage returns an empty set of counters.
func NewUsage() *Usage { return &Usage{} }

func (u *Usage) counter(name string) *atomic.Int64 {
	if v, ok := u.counters.Load(name); ok {
		return v.(*atomic.Int64)
	}
	v, _ := u.counters.LoadOrStore(name, new(atomic.Int64))
	return v.(*atomic.Int64)
}

// Inc records one attempt against name.
func (u *Usage) Inc(name string) int64 {
	return u.counter(name).Add(1)
}

// Count returns the attempts recorded for name.
func (u *Usage) Count(name string) int64 {
	if v, ok := u.counters.Load(name); ok {
		return v.(*atomic.Int64).Load()
	}
	return 0
}

// Snapshot copies every counter.
func (u *Usage) Snapshot() map[string]int64 {
	out := make(map[string]int64)
	u.counters.Range(func(k, v any) bool {
		out[k.(string)] = v.(*atomic.Int64).Load()
		return true
	})
	return out
}
