package gateway

import (
	"time"

	"github.com/mrmushfiq/ai-gateway/internal/gateway/balancer"
	"github.com/mrmushfiq/ai-gateway/internal/gateway/failover"
	"github.com/mrmushfiq/ai-gateway/internal/gateway/providers"
)

// Config is the complete gateway configuration.
type Config struct {
	Providers             []providers.Config `json:"providers"`
	CachingEnabled        bool               `json:"cachingEnabled"`
	CacheTTL              time.Duration      `json:"cacheTTL"`
	FailoverStrategy      failover.Strategy  `json:"failoverStrategy"`
	LoadBalancingStrategy balancer.Strategy  `json:"loadBalancingStrategy"`
	DefaultTimeout        time.Duration      `json:"defaultTimeout"`
	DefaultMaxRetries     int                `json:"defaultMaxRetries"`
	RequestLogging        bool               `json:"requestLogging"`
	// RequestDeadline bounds a whole call across every provider and retry.
	// Zero leaves it to the caller's context.
	RequestDeadline time.Duration `json:"requestDeadline,omitempty"`
}

// DefaultConfig returns the documented defaults without providers.
func DefaultConfig() Config {
	return Config{
		CachingEnabled:        true,
		CacheTTL:              time.Hour,
		FailoverStrategy:      failover.Sequential,
		LoadBalancingStrategy: balancer.RoundRobin,
		DefaultTimeout:        30 * time.Second,
		DefaultMaxRetries:     3,
	}
}

// ConfigUpdate is a partial configuration. Nil fields are left unchanged.
type ConfigUpdate struct {
	Providers             []providers.Config `json:"providers,omitempty"`
	CachingEnabled        *bool              `json:"cachingEnabled,omitempty"`
	CacheTTL              *time.Duration     `json:"cacheTTL,omitempty"`
	FailoverStrategy      *failover.Strategy `json:"failoverStrategy,omitempty"`
	LoadBalancingStrategy *balancer.Strategy `json:"loadBalancingStrategy,omitempty"`
	DefaultTimeout        *time.Duration     `json:"defaultTimeout,omitempty"`
	DefaultMaxRetries     *int               `json:"defaultMaxRetries,omitempty"`
	RequestLogging        *bool              `json:"requestLogging,omitempty"`
	RequestDeadline       *time.Duration     `json:"requestDeadline,omitempty"`
}

// Apply returns c with the set fields of u replaced.
func (u ConfigUpdate) Apply(c Config) Config {
	if u.Providers != nil {
		c.Providers = u.Providers
	}
	if u.CachingEnabled != nil {
		c.CachingEnabled = *u.CachingEnabled
	}
	if u.CacheTTL != nil {
		c.CacheTTL = *u.CacheTTL
	}
	if u.FailoverStrategy != nil {
		c.FailoverStrategy = *u.FailoverStrategy
	}
	if u.LoadBalancingStrategy != nil {
		c.LoadBalancingStrategy = *u.LoadBalancingStrategy
	}
	if u.DefaultTimeout != nil {
		c.DefaultTimeout = *u.DefaultTimeout
	}
	if u.DefaultMaxRetries != nil {
		c.DefaultMaxRetries = *u.DefaultMaxRetries
	}
	if u.RequestLogging != nil {
		c.RequestLogging = *u.RequestLogging
	}
	if u.RequestDeadline != nil {
		c.RequestDeadline = *u.RequestDeadline
	}
	return c
}

// normalize validates c and fills in defaults.
func normalize(c Config) (Config, error) {
	fs, err := failover.ParseStrategy(string(c.FailoverStrategy))
	if err != nil {
		return c, &providers.ConfigError{Reason: err.Error()}
	}
	lb, err := balancer.ParseStrategy(string(c.LoadBalancingStrategy))
	if err != nil {
		return c, &providers.ConfigError{Reason: err.Error()}
	}
	c.FailoverStrategy = fs
	c.LoadBalancingStrategy = lb

	switch {
	case c.CacheTTL < 0:
		return c, &providers.ConfigError{Reason: "cache TTL must not be negative"}
	case c.DefaultTimeout < 0:
		return c, &providers.ConfigError{Reason: "default timeout must not be negative"}
	case c.DefaultMaxRetries < 0:
		return c, &providers.ConfigError{Reason: "default max retries must not be negative"}
	case c.RequestDeadline < 0:
		return c, &providers.ConfigError{Reason: "request deadline must not be negative"}
	}

	d := DefaultConfig()
	if c.CacheTTL == 0 {
		c.CacheTTL = d.CacheTTL
	}
	if c.DefaultTimeout == 0 {
		c.DefaultTimeout = d.DefaultTimeout
	}
	return c, nil
}

func (c Config) defaults() providers.Defaults {
	return providers.Defaults{Timeout: c.DefaultTimeout, MaxRetries: c.DefaultMaxRetries}
}
