package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mrmushfiq/ai-gateway/internal/gateway"
	"github.com/mrmushfiq/ai-gateway/internal/gateway/balancer"
	"github.com/mrmushfiq/ai-gateway/internal/gateway/failover"
	"github.com/mrmushfiq/ai-gateway/internal/gateway/providers"
	"gopkg.in/yaml.v3"
)

// ProviderSpec is the file and HTTP form of a provider. Durations are in
// seconds.
type ProviderSpec struct {
	Name              string  `yaml:"name" json:"name"`
	APIKey            string  `yaml:"api_key" json:"apiKey"`
	BaseURL           string  `yaml:"base_url" json:"baseUrl,omitempty"`
	Weight            float64 `yaml:"weight" json:"weight,omitempty"`
	DefaultModel      string  `yaml:"default_model" json:"defaultModel,omitempty"`
	TimeoutSeconds    float64 `yaml:"timeout_seconds" json:"timeoutSeconds,omitempty"`
	MaxRetries        *int    `yaml:"max_retries" json:"maxRetries,omitempty"`
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requestsPerSecond,omitempty"`
	Burst             int     `yaml:"burst" json:"burst,omitempty"`
}

// Provider converts p to a provider config.
func (p ProviderSpec) Provider() providers.Config {
	return providers.Config{
		Name:              p.Name,
		APIKey:            p.APIKey,
		BaseURL:           p.BaseURL,
		Weight:            p.Weight,
		DefaultModel:      p.DefaultModel,
		Timeout:           seconds(p.TimeoutSeconds),
		MaxRetries:        p.MaxRetries,
		RequestsPerSecond: p.RequestsPerSecond,
		Burst:             p.Burst,
	}
}

// Overrides is a partial gateway configuration as read from the config file
// or posted to the config endpoint. Unset fields keep their current value.
type Overrides struct {
	Providers              []ProviderSpec `yaml:"providers" json:"providers,omitempty"`
	CachingEnabled         *bool          `yaml:"caching_enabled" json:"cachingEnabled,omitempty"`
	CacheTTLSeconds        *float64       `yaml:"cache_ttl_seconds" json:"cacheTTLSeconds,omitempty"`
	FailoverStrategy       *string        `yaml:"failover_strategy" json:"failoverStrategy,omitempty"`
	LoadBalancingStrategy  *string        `yaml:"load_balancing_strategy" json:"loadBalancingStrategy,omitempty"`
	DefaultTimeoutSeconds  *float64       `yaml:"default_timeout_seconds" json:"defaultTimeoutSeconds,omitempty"`
	DefaultMaxRetries      *int           `yaml:"default_max_retries" json:"defaultMaxRetries,omitempty"`
	RequestLogging         *bool          `yaml:"request_logging" json:"requestLogging,omitempty"`
	RequestDeadlineSeconds *float64       `yaml:"request_deadline_seconds" json:"requestDeadlineSeconds,omitempty"`
}

// LoadFile reads a YAML overrides file. ${VAR} references are expanded from
// the environment so keys need not be written to disk.
func LoadFile(path string) (*Overrides, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var o Overrides
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &o); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return &o, nil
}

// Update converts the overrides to a gateway update.
func (o Overrides) Update() gateway.ConfigUpdate {
	var u gateway.ConfigUpdate
	if o.Providers != nil {
		u.Providers = make([]providers.Config, 0, len(o.Providers))
		for _, p := range o.Providers {
			u.Providers = append(u.Providers, p.Provider())
		}
	}
	u.CachingEnabled = o.CachingEnabled
	u.CacheTTL = secondsPtr(o.CacheTTLSeconds)
	if o.FailoverStrategy != nil {
		s := failover.Strategy(*o.FailoverStrategy)
		u.FailoverStrategy = &s
	}
	if o.LoadBalancingStrategy != nil {
		s := balancer.Strategy(*o.LoadBalancingStrategy)
		u.LoadBalancingStrategy = &s
	}
	u.DefaultTimeout = secondsPtr(o.DefaultTimeoutSeconds)
	u.DefaultMaxRetries = o.DefaultMaxRetries
	u.RequestLogging = o.RequestLogging
	u.RequestDeadline = secondsPtr(o.RequestDeadlineSeconds)
	return u
}

// Apply layers the overrides over cfg.
func (o Overrides) Apply(cfg gateway.Config) gateway.Config {
	return o.Update().Apply(cfg)
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

func secondsPtr(v *float64) *time.Duration {
	if v == nil {
		return nil
	}
	d := seconds(*v)
	return &d
}
