package providers

import (
	"fmt"
	"strings"
	"sync"
)

// Registry holds the configured providers in registration order and one
// Client per provider. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	order    []string
	clients  map[string]*Client
	rejected map[string]error
}

// NewRegistry validates cfgs and builds a client per provider.
func NewRegistry(cfgs []Config, defaults Defaults) (*Registry, error) {
	r := &Registry{clients: make(map[string]*Client)}
	if _, err := r.Update(cfgs, defaults); err != nil {
		return nil, err
	}
	return r, nil
}

type resolved struct {
	cfg    Config
	family Family
}

// Update replaces the provider set. Clients are rebuilt only for providers
// whose base URL or API key changed; the others keep their connection pool.
// It returns the names of the providers that got a new client.
func (r *Registry) Update(cfgs []Config, defaults Defaults) ([]string, error) {
	next, rejected, err := validate(cfgs, defaults)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var rebuilt []string
	clients := make(map[string]*Client, len(next))
	order := make([]string, 0, len(next))
	for _, res := range next {
		name := res.cfg.Name
		order = append(order, name)

		old, ok := r.clients[name]
		if ok && old.cfg.BaseURL == res.cfg.BaseURL && old.cfg.APIKey == res.cfg.APIKey {
			clients[name] = old.withConfig(res.cfg)
			continue
		}
		if ok {
			old.closeIdle()
		}
		clients[name] = newClient(res.cfg, res.family)
		rebuilt = append(rebuilt, name)
	}
	for name, old := range r.clients {
		if _, kept := clients[name]; !kept {
			old.closeIdle()
		}
	}

	r.order = order
	r.clients = clients
	r.rejected = rejected
	return rebuilt, nil
}

func validate(cfgs []Config, defaults Defaults) ([]resolved, map[string]error, error) {
	if len(cfgs) == 0 {
		return nil, nil, configErrorf("at least one provider is required")
	}

	seen := make(map[string]bool, len(cfgs))
	rejected := make(map[string]error)
	next := make([]resolved, 0, len(cfgs))
	for i, cfg := range cfgs {
		cfg.Name = strings.TrimSpace(cfg.Name)
		switch {
		case cfg.Name == "":
			return nil, nil, configErrorf("provider %d: name is required", i)
		case seen[cfg.Name]:
			return nil, nil, configErrorf("provider %q: duplicate name", cfg.Name)
		case cfg.APIKey == "":
			return nil, nil, configErrorf("provider %q: api key is required", cfg.Name)
		case cfg.Weight < 0:
			return nil, nil, configErrorf("provider %q: weight must not be negative", cfg.Name)
		case cfg.Timeout < 0:
			return nil, nil, configErrorf("provider %q: timeout must not be negative", cfg.Name)
		case cfg.MaxRetries != nil && *cfg.MaxRetries < 0:
			return nil, nil, configErrorf("provider %q: max retries must not be negative", cfg.Name)
		}
		seen[cfg.Name] = true

		cfg = applyDefaults(cfg, defaults)
		cfg, family, err := resolve(cfg)
		if err != nil {
			rejected[cfg.Name] = err
			continue
		}
		next = append(next, resolved{cfg: cfg, family: family})
	}

	if len(next) == 0 {
		return nil, nil, configErrorf("no usable providers (%d rejected)", len(rejected))
	}
	return next, rejected, nil
}

func applyDefaults(cfg Config, d Defaults) Config {
	if cfg.Weight == 0 {
		cfg.Weight = 1
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = d.Timeout
	}
	if cfg.MaxRetries == nil {
		cfg.MaxRetries = IntPtr(d.MaxRetries)
	} else {
		cfg.MaxRetries = IntPtr(*cfg.MaxRetries)
	}
	return cfg
}

// Client returns the client for a provider.
func (r *Registry) Client(name string) (*Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, name)
	}
	return c, nil
}

// Providers returns the normalized configs in registration order.
func (r *Registry) Providers() []Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Config, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.clients[name].cfg)
	}
	return out
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.clients[name]
	return ok
}

// Rejected returns the providers left out by the last update and why.
func (r *Registry) Rejected() map[string]error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]error, len(r.rejected))
	for k, v := range r.rejected {
		out[k] = v
	}
	return out
}

// Close releases idle connections of every client.
func (r *Registry) Close() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.clients {
		c.closeIdle()
	}
}
