package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mrmushfiq/ai-gateway/internal/gateway"
	"github.com/mrmushfiq/ai-gateway/internal/gateway/balancer"
	"github.com/mrmushfiq/ai-gateway/internal/gateway/failover"
	"github.com/mrmushfiq/ai-gateway/internal/gateway/providers"
)

// Config holds all configuration for the gateway process
type Config struct {
	// Server
	Port      string
	Env       string
	LogLevel  string
	LogFormat string

	// Database (optional event audit log)
	DatabaseURL    string
	EventRetention time.Duration
	PurgeSchedule  string

	// Redis (optional shared cache and rate limiting)
	RedisURL string

	// Rate Limiting, per client IP. Zero disables it.
	RateLimitPerMinute int
	// TrustProxyHeaders takes the client IP from X-Forwarded-For and
	// X-Real-IP. Enable only behind a proxy that sets them.
	TrustProxyHeaders bool

	// ConfigFile is an optional YAML file layered over the environment and
	// watched for changes.
	ConfigFile string

	Gateway gateway.Config
}

// Load loads configuration from environment variables and, when
// GATEWAY_CONFIG_FILE is set, from that file.
func Load() (*Config, error) {
	// Try to load .env file (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		Env:                getEnv("ENV", "development"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		LogFormat:          getEnv("LOG_FORMAT", "text"),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		EventRetention:     time.Duration(getEnvInt("EVENT_RETENTION_HOURS", 168)) * time.Hour,
		PurgeSchedule:      getEnv("EVENT_PURGE_SCHEDULE", "@hourly"),
		RedisURL:           getEnv("REDIS_URL", ""),
		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 0),
		TrustProxyHeaders:  getEnvBool("TRUST_PROXY_HEADERS", false),
		ConfigFile:         getEnv("GATEWAY_CONFIG_FILE", ""),
	}

	d := gateway.DefaultConfig()
	cfg.Gateway = gateway.Config{
		Providers:             providersFromEnv(),
		CachingEnabled:        getEnvBool("CACHE_ENABLED", d.CachingEnabled),
		CacheTTL:              time.Duration(getEnvInt("CACHE_TTL_SECONDS", int(d.CacheTTL/time.Second))) * time.Second,
		FailoverStrategy:      failover.Strategy(getEnv("FAILOVER_STRATEGY", string(d.FailoverStrategy))),
		LoadBalancingStrategy: balancer.Strategy(getEnv("LOAD_BALANCING_STRATEGY", string(d.LoadBalancingStrategy))),
		DefaultTimeout:        time.Duration(getEnvInt("DEFAULT_TIMEOUT_SECONDS", int(d.DefaultTimeout/time.Second))) * time.Second,
		DefaultMaxRetries:     getEnvInt("DEFAULT_MAX_RETRIES", d.DefaultMaxRetries),
		RequestLogging:        getEnvBool("REQUEST_LOGGING", false),
		RequestDeadline:       time.Duration(getEnvInt("REQUEST_DEADLINE_SECONDS", 0)) * time.Second,
	}

	if cfg.ConfigFile != "" {
		f, err := LoadFile(cfg.ConfigFile)
		if err != nil {
			return nil, err
		}
		cfg.Gateway = f.Apply(cfg.Gateway)
	}

	// At least one provider is required
	if len(cfg.Gateway.Providers) == 0 {
		return nil, fmt.Errorf("at least one provider is required (OPENAI_API_KEY, ANTHROPIC_API_KEY, GEMINI_API_KEY, GROQ_API_KEY or GATEWAY_CONFIG_FILE)")
	}

	return cfg, nil
}

// providersFromEnv configures every known provider whose <NAME>_API_KEY is
// set. Each also reads <NAME>_BASE_URL, <NAME>_MODEL and <NAME>_WEIGHT.
func providersFromEnv() []providers.Config {
	var out []providers.Config
	for _, name := range providers.KnownProviders() {
		prefix := strings.ToUpper(name)
		key := getEnv(prefix+"_API_KEY", "")
		if key == "" {
			continue
		}
		out = append(out, providers.Config{
			Name:         name,
			APIKey:       key,
			BaseURL:      getEnv(prefix+"_BASE_URL", ""),
			DefaultModel: getEnv(prefix+"_MODEL", ""),
			Weight:       getEnvFloat(prefix+"_WEIGHT", 1),
		})
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
