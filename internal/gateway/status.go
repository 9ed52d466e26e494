package gateway

import (
	"context"
	"time"

	"github.com/mrmushfiq/ai-gateway/internal/gateway/balancer"
	"github.com/mrmushfiq/ai-gateway/internal/gateway/cache"
	"github.com/mrmushfiq/ai-gateway/internal/gateway/failover"
	"github.com/mrmushfiq/ai-gateway/internal/gateway/providers"
)

// Status describes the running configuration. API keys are masked.
type Status struct {
	Providers             []providers.Config `json:"providers"`
	Rejected              map[string]string  `json:"rejected,omitempty"`
	CachingEnabled        bool               `json:"cachingEnabled"`
	CacheTTL              time.Duration      `json:"cacheTTL"`
	FailoverStrategy      failover.Strategy  `json:"failoverStrategy"`
	LoadBalancingStrategy balancer.Strategy  `json:"loadBalancingStrategy"`
	DefaultTimeout        time.Duration      `json:"defaultTimeout"`
	DefaultMaxRetries     int                `json:"defaultMaxRetries"`
	RequestLogging        bool               `json:"requestLogging"`
	RequestDeadline       time.Duration      `json:"requestDeadline,omitempty"`
}

// ProviderStats counts the attempts made against one provider.
type ProviderStats struct {
	Name      string `json:"name"`
	Requests  int64  `json:"requests"`
	Successes int64  `json:"successes"`
	Failures  int64  `json:"failures"`
}

// Status returns the current configuration.
func (g *Gateway) Status() Status {
	cfg, _ := g.snapshot()

	st := Status{
		CachingEnabled:        cfg.CachingEnabled,
		CacheTTL:              g.cache.TTL(),
		FailoverStrategy:      cfg.FailoverStrategy,
		LoadBalancingStrategy: cfg.LoadBalancingStrategy,
		DefaultTimeout:        cfg.DefaultTimeout,
		DefaultMaxRetries:     cfg.DefaultMaxRetries,
		RequestLogging:        cfg.RequestLogging,
		RequestDeadline:       cfg.RequestDeadline,
	}
	for _, p := range g.registry.Providers() {
		st.Providers = append(st.Providers, p.Masked())
	}
	if rejected := g.registry.Rejected(); len(rejected) > 0 {
		st.Rejected = make(map[string]string, len(rejected))
		for name, err := range rejected {
			st.Rejected[name] = err.Error()
		}
	}
	return st
}

// ProviderStats returns per-provider counters in registry order.
func (g *Gateway) ProviderStats() []ProviderStats {
	usage := g.usage.Snapshot()
	var out []ProviderStats
	for _, p := range g.registry.Providers() {
		ps := ProviderStats{Name: p.Name, Requests: usage[p.Name]}
		if v, ok := g.outcomes.Load(p.Name); ok {
			o := v.(*outcome)
			ps.Successes = o.successes.Load()
			ps.Failures = o.failures.Load()
		}
		out = append(out, ps)
	}
	return out
}

// CacheStats returns the cache counters.
func (g *Gateway) CacheStats(ctx context.Context) cache.Stats {
	return g.cache.Stats(ctx)
}
