// Package gateway is the entry point for callers: it combines the provider
// registry, the response cache, load balancing, failover and retries behind
// one API.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/mrmushfiq/ai-gateway/internal/gateway/balancer"
	"github.com/mrmushfiq/ai-gateway/internal/gateway/cache"
	"github.com/mrmushfiq/ai-gateway/internal/gateway/events"
	"github.com/mrmushfiq/ai-gateway/internal/gateway/failover"
	"github.com/mrmushfiq/ai-gateway/internal/gateway/providers"
	"github.com/mrmushfiq/ai-gateway/internal/gateway/retry"
)

// Cache key namespaces for the built-in operations.
const (
	EndpointChat       = "/chat/completions"
	EndpointCompletion = "/completions"
	EndpointEmbeddings = "/embeddings"
)

// ErrInvalidRequest is returned for requests rejected before any provider
// is contacted.
var ErrInvalidRequest = errors.New("invalid request")

func invalidRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}

// Gateway routes requests to the configured providers. It is safe for
// concurrent use.
type Gateway struct {
	registry *providers.Registry
	usage    *balancer.Usage
	cache    *cache.Store
	retry    *retry.Executor
	logs     *events.LogObserver
	observer events.Observer
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string

	// set by options
	observers    []events.Observer
	cacheBackend cache.Backend
	seed         int64

	updateMu sync.Mutex
	mu       sync.RWMutex
	cfg      Config
	planner  *failover.Planner

	outcomes sync.Map // provider name -> *outcome
}

type outcome struct {
	successes atomic.Int64
	failures  atomic.Int64
}

// New validates cfg and builds a gateway. Call Start to run the cache sweep
// and Close when done.
func New(cfg Config, opts ...Option) (*Gateway, error) {
	g := &Gateway{
		usage:  balancer.NewUsage(),
		retry:  &retry.Executor{},
		logger: slog.Default(),
		now:    time.Now,
		newID:  uuid.NewString,
		seed:   time.Now().UnixNano(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.retry.Usage = g.usage
	g.retry.Now = g.now

	cfg, err := normalize(cfg)
	if err != nil {
		return nil, err
	}

	g.registry, err = providers.NewRegistry(cfg.Providers, cfg.defaults())
	if err != nil {
		return nil, err
	}
	g.logRejected()

	g.planner, err = g.newPlanner(cfg)
	if err != nil {
		return nil, err
	}
	g.cfg = cfg

	g.cache = cache.NewStore(g.cacheBackend, cfg.CacheTTL, cache.WithClock(g.now), cache.WithLogger(g.logger))
	g.logs = events.NewLogObserver(g.logger, cfg.RequestLogging)
	g.observer = append(events.Multi{g.logs}, g.observers...)

	return g, nil
}

func (g *Gateway) newPlanner(cfg Config) (*failover.Planner, error) {
	sel, err := balancer.New(cfg.LoadBalancingStrategy, g.usage, rand.New(rand.NewSource(g.seed)))
	if err != nil {
		return nil, &providers.ConfigError{Reason: err.Error()}
	}
	return failover.NewPlanner(cfg.FailoverStrategy, sel, rand.New(rand.NewSource(g.seed+1))), nil
}

func (g *Gateway) logRejected() {
	for name, err := range g.registry.Rejected() {
		g.logger.Warn("provider skipped", "provider", name, "error", err)
	}
}

// Start begins the periodic cache sweep.
func (g *Gateway) Start() {
	g.cache.Start()
}

// Close stops the cache sweep and releases idle connections.
func (g *Gateway) Close() error {
	g.cache.Stop()
	g.registry.Close()
	return nil
}

func (g *Gateway) snapshot() (Config, *failover.Planner) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.cfg, g.planner
}

// ChatCompletion sends a chat request.
func (g *Gateway) ChatCompletion(ctx context.Context, req providers.Request) (*providers.Response, error) {
	if len(req.Messages) == 0 {
		return nil, invalidRequest("messages are required")
	}
	return g.execute(ctx, providers.OpChat, EndpointChat, req)
}

// Completion sends a prompt completion request.
func (g *Gateway) Completion(ctx context.Context, req providers.Request) (*providers.Response, error) {
	if req.Prompt == "" {
		return nil, invalidRequest("prompt is required")
	}
	return g.execute(ctx, providers.OpCompletion, EndpointCompletion, req)
}

// Embeddings requests vectors for the input, prompt or message contents.
func (g *Gateway) Embeddings(ctx context.Context, req providers.Request) (*providers.Response, error) {
	if req.Input == nil && req.Prompt == "" && len(req.Messages) == 0 {
		return nil, invalidRequest("input is required")
	}
	return g.execute(ctx, providers.OpEmbeddings, EndpointEmbeddings, req)
}

// Request posts req to an arbitrary provider endpoint path.
func (g *Gateway) Request(ctx context.Context, endpoint string, req providers.Request) (*providers.Response, error) {
	if !strings.HasPrefix(endpoint, "/") {
		return nil, invalidRequest("endpoint must be a path starting with /")
	}
	return g.execute(ctx, providers.OpGeneric, endpoint, req)
}

func (g *Gateway) withDeadline(ctx context.Context, cfg Config) (context.Context, context.CancelFunc) {
	if cfg.RequestDeadline > 0 {
		return context.WithTimeout(ctx, cfg.RequestDeadline)
	}
	return context.WithCancel(ctx)
}

func (g *Gateway) emitter(ctx context.Context, requestID, endpoint string) events.Emitter {
	return func(e events.Event) {
		e.RequestID = requestID
		e.Endpoint = endpoint
		if e.Timestamp.IsZero() {
			e.Timestamp = g.now()
		}
		g.observer.Observe(ctx, e)
	}
}

func (g *Gateway) execute(ctx context.Context, op providers.Operation, endpoint string, req providers.Request) (*providers.Response, error) {
	cfg, planner := g.snapshot()
	ctx, cancel := g.withDeadline(ctx, cfg)
	defer cancel()

	emit := g.emitter(ctx, g.newID(), endpoint)

	useCache := cfg.CachingEnabled && !req.Stream
	var key string
	if useCache {
		var err error
		key, err = cache.Key(endpoint, req)
		if err != nil {
			g.logger.Warn("request not cacheable", "endpoint", endpoint, "error", err)
			useCache = false
		}
	}
	if useCache {
		if entry, ok := g.cache.Get(ctx, key); ok {
			emit.Emit(events.Event{Type: events.TypeCacheHit, Provider: entry.Provider, Model: entry.Response.Model})
			return entry.Response, nil
		}
	}

	plan, err := planner.Plan(g.registry.Providers(), req.Provider)
	if err != nil {
		return nil, err
	}

	resp, provider, err := failover.Execute(ctx, plan, emit, func(ctx context.Context, p providers.Config) (*providers.Response, error) {
		return g.attempt(ctx, op, endpoint, req, p, emit)
	})
	if err != nil {
		return nil, err
	}

	if useCache {
		if err := g.cache.Put(ctx, key, resp, provider); err != nil {
			g.logger.Warn("cache write failed", "endpoint", endpoint, "provider", provider, "error", err)
		}
	}
	return resp, nil
}

// attempt runs one provider through the retry loop. A request the provider
// cannot express fails without counting as an attempt.
func (g *Gateway) attempt(ctx context.Context, op providers.Operation, endpoint string, req providers.Request, p providers.Config, emit events.Emitter) (*providers.Response, error) {
	client, err := g.registry.Client(p.Name)
	if err != nil {
		return nil, err
	}
	call, err := client.Prepare(op, endpoint, req)
	if err != nil {
		return nil, err
	}

	var resp *providers.Response
	target := retry.Target{Provider: p.Name, Model: call.Model, Retries: p.Retries()}
	err = g.retry.Run(ctx, target, emit, func(ctx context.Context) error {
		var err error
		if call.Stream {
			resp, err = g.collect(ctx, client, call, req.CustomHeaders)
		} else {
			resp, err = client.Do(ctx, op, call, req.CustomHeaders)
		}
		g.record(p.Name, err)
		return err
	})
	return resp, err
}

// collect reads a streamed answer into a single response within the
// provider timeout.
func (g *Gateway) collect(ctx context.Context, client *providers.Client, call *providers.Call, headers map[string]string) (*providers.Response, error) {
	if t := client.Config().Timeout; t > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}
	stream, err := client.Stream(ctx, call, headers)
	if err != nil {
		return nil, err
	}
	resp, err := providers.Collect(stream, client.Name(), g.now())
	if err != nil {
		return nil, &providers.ProviderRequestError{Provider: client.Name(), Err: err}
	}
	if resp.Model == "" {
		resp.Model = call.Model
	}
	return resp, nil
}

func (g *Gateway) record(provider string, err error) {
	v, _ := g.outcomes.LoadOrStore(provider, &outcome{})
	o := v.(*outcome)
	if err != nil {
		o.failures.Add(1)
		return
	}
	o.successes.Add(1)
}

// ChatCompletionStream opens a streamed chat completion on the first
// provider that accepts it. The cache is not consulted. The caller must
// close the returned stream.
func (g *Gateway) ChatCompletionStream(ctx context.Context, req providers.Request) (providers.StreamReader, string, error) {
	if len(req.Messages) == 0 {
		return nil, "", invalidRequest("messages are required")
	}
	req.Stream = true

	cfg, planner := g.snapshot()
	ctx, cancel := g.withDeadline(ctx, cfg)

	emit := g.emitter(ctx, g.newID(), EndpointChat)
	plan, err := planner.Plan(g.registry.Providers(), req.Provider)
	if err != nil {
		cancel()
		return nil, "", err
	}

	stream, provider, err := failover.Execute(ctx, plan, emit, func(ctx context.Context, p providers.Config) (providers.StreamReader, error) {
		client, err := g.registry.Client(p.Name)
		if err != nil {
			return nil, err
		}
		call, err := client.Prepare(providers.OpChat, EndpointChat, req)
		if err != nil {
			return nil, err
		}

		var stream providers.StreamReader
		target := retry.Target{Provider: p.Name, Model: call.Model, Retries: p.Retries()}
		err = g.retry.Run(ctx, target, emit, func(ctx context.Context) error {
			var err error
			stream, err = client.Stream(ctx, call, req.CustomHeaders)
			g.record(p.Name, err)
			return err
		})
		return stream, err
	})
	if err != nil {
		cancel()
		return nil, "", err
	}
	return &deadlineStream{StreamReader: stream, cancel: cancel}, provider, nil
}

type deadlineStream struct {
	providers.StreamReader
	cancel context.CancelFunc
}

func (s *deadlineStream) Close() error {
	err := s.StreamReader.Close()
	s.cancel()
	return err
}

// UpdateConfig applies a partial configuration. Provider clients are only
// rebuilt when their base URL or API key changed, usage counters survive a
// strategy change, and the cache TTL takes effect immediately. On error the
// previous configuration stays in place.
func (g *Gateway) UpdateConfig(upd ConfigUpdate) error {
	g.updateMu.Lock()
	defer g.updateMu.Unlock()

	cur, planner := g.snapshot()
	next, err := normalize(upd.Apply(cur))
	if err != nil {
		return err
	}

	if upd.Providers != nil || next.DefaultTimeout != cur.DefaultTimeout || next.DefaultMaxRetries != cur.DefaultMaxRetries {
		rebuilt, err := g.registry.Update(next.Providers, next.defaults())
		if err != nil {
			return err
		}
		g.logRejected()
		if len(rebuilt) > 0 {
			g.logger.Info("provider clients rebuilt", "providers", rebuilt)
		}
	}

	if next.LoadBalancingStrategy != cur.LoadBalancingStrategy || next.FailoverStrategy != cur.FailoverStrategy {
		planner, err = g.newPlanner(next)
		if err != nil {
			return err
		}
	}

	g.cache.SetTTL(next.CacheTTL)
	g.logs.SetVerbose(next.RequestLogging)

	g.mu.Lock()
	g.cfg = next
	g.planner = planner
	g.mu.Unlock()

	g.logger.Info("gateway config updated",
		"providers", len(next.Providers),
		"caching", next.CachingEnabled,
		"load_balancing", next.LoadBalancingStrategy,
		"failover", next.FailoverStrategy,
	)
	return nil
}

// ClearCache removes every cached response.
func (g *Gateway) ClearCache(ctx context.Context) (int, error) {
	return g.cache.Clear(ctx)
}
