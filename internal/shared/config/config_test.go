package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mrmushfiq/ai-gateway/internal/gateway"
	"github.com/mrmushfiq/ai-gateway/internal/gateway/balancer"
	"github.com/mrmushfiq/ai-gateway/internal/gateway/failover"
	"github.com/mrmushfiq/ai-gateway/internal/gateway/providers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearProviderEnv(t *testing.T) {
	t.Helper()
	for _, name := range providers.KnownProviders() {
		t.Setenv(strings.ToUpper(name)+"_API_KEY", "")
	}
	t.Setenv("TRUST_PROXY_HEADERS", "")
	t.Setenv("GATEWAY_CONFIG_FILE", "")
}

func TestLoadFromEnv(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-openai-test")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test")
	t.Setenv("ANTHROPIC_WEIGHT", "3")
	t.Setenv("ANTHROPIC_MODEL", "claude-3-haiku-20240307")
	t.Setenv("CACHE_TTL_SECONDS", "120")
	t.Setenv("LOAD_BALANCING_STRATEGY", "weighted")
	t.Setenv("DEFAULT_MAX_RETRIES", "1")
	t.Setenv("RATE_LIMIT_PER_MINUTE", "60")

	cfg, err := Load()
	require.NoError(t, err)

	require.Len(t, cfg.Gateway.Providers, 2)
	assert.Equal(t, "openai", cfg.Gateway.Providers[0].Name)
	assert.Equal(t, 1.0, cfg.Gateway.Providers[0].Weight)
	assert.Equal(t, "anthropic", cfg.Gateway.Providers[1].Name)
	assert.Equal(t, 3.0, cfg.Gateway.Providers[1].Weight)
	assert.Equal(t, "claude-3-haiku-20240307", cfg.Gateway.Providers[1].DefaultModel)

	assert.Equal(t, 2*time.Minute, cfg.Gateway.CacheTTL)
	assert.Equal(t, balancer.Weighted, cfg.Gateway.LoadBalancingStrategy)
	assert.Equal(t, failover.Sequential, cfg.Gateway.FailoverStrategy)
	assert.Equal(t, 1, cfg.Gateway.DefaultMaxRetries)
	assert.Equal(t, 30*time.Second, cfg.Gateway.DefaultTimeout)
	assert.Equal(t, 60, cfg.RateLimitPerMinute)
	assert.False(t, cfg.TrustProxyHeaders, "proxy headers are ignored unless enabled")
	assert.Equal(t, "8080", cfg.Port)

	t.Setenv("TRUST_PROXY_HEADERS", "true")
	cfg, err = Load()
	require.NoError(t, err)
	assert.True(t, cfg.TrustProxyHeaders)
}

func TestLoadRequiresProvider(t *testing.T) {
	clearProviderEnv(t)

	_, err := Load()
	assert.Error(t, err)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestLoadFileExpandsEnv(t *testing.T) {
	t.Setenv("TEST_GROQ_KEY", "gsk-from-env")
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	writeFile(t, path, `
providers:
  - name: groq
    api_key: ${TEST_GROQ_KEY}
    weight: 2
    timeout_seconds: 1.5
    max_retries: 0
caching_enabled: false
failover_strategy: random
request_deadline_seconds: 20
`)

	o, err := LoadFile(path)
	require.NoError(t, err)

	upd := o.Update()
	require.Len(t, upd.Providers, 1)
	p := upd.Providers[0]
	assert.Equal(t, "gsk-from-env", p.APIKey)
	assert.Equal(t, 2.0, p.Weight)
	assert.Equal(t, 1500*time.Millisecond, p.Timeout)
	require.NotNil(t, p.MaxRetries)
	assert.Equal(t, 0, *p.MaxRetries)

	require.NotNil(t, upd.CachingEnabled)
	assert.False(t, *upd.CachingEnabled)
	require.NotNil(t, upd.FailoverStrategy)
	assert.Equal(t, failover.Random, *upd.FailoverStrategy)
	require.NotNil(t, upd.RequestDeadline)
	assert.Equal(t, 20*time.Second, *upd.RequestDeadline)
	assert.Nil(t, upd.CacheTTL)
	assert.Nil(t, upd.LoadBalancingStrategy)
}

func TestLoadFileErrors(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	writeFile(t, path, "providers: [unterminated")
	_, err = LoadFile(path)
	assert.Error(t, err)
}

func TestLoadLayersFileOverEnv(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-openai-test")
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	writeFile(t, path, "load_balancing_strategy: least-load\n")
	t.Setenv("GATEWAY_CONFIG_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, balancer.LeastLoad, cfg.Gateway.LoadBalancingStrategy)
	require.Len(t, cfg.Gateway.Providers, 1)
	assert.Equal(t, "openai", cfg.Gateway.Providers[0].Name)
}

type recordingUpdater struct {
	mu      sync.Mutex
	updates []gateway.ConfigUpdate
}

func (r *recordingUpdater) UpdateConfig(u gateway.ConfigUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
	return nil
}

func (r *recordingUpdater) last() (gateway.ConfigUpdate, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.updates) == 0 {
		return gateway.ConfigUpdate{}, 0
	}
	return r.updates[len(r.updates)-1], len(r.updates)
}

func TestWatchAppliesChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	writeFile(t, path, "request_logging: false\n")

	target := &recordingUpdater{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w, err := Watch(ctx, path, target, nil, 20*time.Millisecond)
	require.NoError(t, err)
	defer w.Close()

	writeFile(t, path, "request_logging: true\ncache_ttl_seconds: 60\n")

	require.Eventually(t, func() bool {
		u, n := target.last()
		return n > 0 && u.RequestLogging != nil && *u.RequestLogging
	}, 5*time.Second, 20*time.Millisecond)

	u, _ := target.last()
	require.NotNil(t, u.CacheTTL)
	assert.Equal(t, time.Minute, *u.CacheTTL)
}

func TestWatchIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	writeFile(t, path, "request_logging: false\n")

	target := &recordingUpdater{}
	w, err := Watch(context.Background(), path, target, nil, 10*time.Millisecond)
	require.NoError(t, err)

	writeFile(t, filepath.Join(dir, "other.yaml"), "request_logging: true\n")
	time.Sleep(100 * time.Millisecond)

	_, n := target.last()
	assert.Zero(t, n)
	assert.NoError(t, w.Close())
	assert.NoError(t, w.Close())
}
