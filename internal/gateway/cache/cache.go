// Package cache stores normalized responses keyed by the request that
// produced them.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/mrmushfiq/ai-gateway/internal/gateway/providers"
)

// DefaultTTL is used when the store is created with a non-positive TTL.
const DefaultTTL = time.Hour

// Entry is one cached response.
type Entry struct {
	Response  *providers.Response `json:"response"`
	WrittenAt time.Time           `json:"written_at"`
	Provider  string              `json:"provider"`
}

// Backend is the raw storage under a Store. Implementations must be safe
// for concurrent use.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, data []byte, writtenAt time.Time, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) (int, error)
	// Sweep drops entries written before cutoff.
	Sweep(ctx context.Context, cutoff time.Time) (int, error)
	Len(ctx context.Context) (int, error)
	Name() string
}

// Stats is a snapshot of cache activity.
type Stats struct {
	Backend   string        `json:"backend"`
	Entries   int           `json:"entries"`
	TTL       time.Duration `json:"ttl"`
	Hits      int64         `json:"hits"`
	Misses    int64         `json:"misses"`
	Writes    int64         `json:"writes"`
	Evictions int64         `json:"evictions"`
}

// Store applies the TTL policy on top of a Backend and runs the periodic
// sweep.
type Store struct {
	backend Backend
	logger  *slog.Logger
	now     func() time.Time

	ttl atomic.Int64

	hits      atomic.Int64
	misses    atomic.Int64
	writes    atomic.Int64
	evictions atomic.Int64

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
	retick  chan time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger used for sweep failures.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// NewStore wraps backend. A nil backend selects an in-memory one.
func NewStore(backend Backend, ttl time.Duration, opts ...Option) *Store {
	if backend == nil {
		backend = NewMemory()
	}
	s := &Store{
		backend: backend,
		logger:  slog.Default(),
		now:     time.Now,
		retick:  make(chan time.Duration, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.SetTTL(ttl)
	return s
}

// Key hashes the endpoint and request. The stream flag and custom headers
// do not take part in the key.
func Key(endpoint string, req providers.Request) (string, error) {
	req.Stream = false
	req.CustomHeaders = nil

	data, err := json.Marshal(struct {
		Endpoint string            `json:"endpoint"`
		Params   providers.Request `json:"params"`
	}{endpoint, req})
	if err != nil {
		return "", fmt.Errorf("encode cache key: %w", err)
	}

	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// TTL returns the current time to live.
func (s *Store) TTL() time.Duration { return time.Duration(s.ttl.Load()) }

// SetTTL changes the time to live and the sweep interval.
func (s *Store) SetTTL(ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if time.Duration(s.ttl.Swap(int64(ttl))) == ttl {
		return
	}
	// drop a pending value so the newest one wins
	select {
	case <-s.retick:
	default:
	}
	select {
	case s.retick <- ttl:
	default:
	}
}

// Get returns the entry for key. Entries at or past the TTL are a miss and
// are removed.
func (s *Store) Get(ctx context.Context, key string) (Entry, bool) {
	data, ok, err := s.backend.Get(ctx, key)
	if err != nil {
		s.logger.Warn("cache read failed", "backend", s.backend.Name(), "error", err)
	}
	if err != nil || !ok {
		s.misses.Add(1)
		return Entry{}, false
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil || e.Response == nil {
		s.logger.Warn("dropping undecodable cache entry", "backend", s.backend.Name(), "error", err)
		s.evict(ctx, key)
		s.misses.Add(1)
		return Entry{}, false
	}

	if s.now().Sub(e.WrittenAt) >= s.TTL() {
		s.evict(ctx, key)
		s.misses.Add(1)
		return Entry{}, false
	}

	s.hits.Add(1)
	e.Response.Cached = true
	return e, true
}

func (s *Store) evict(ctx context.Context, key string) {
	if err := s.backend.Delete(ctx, key); err != nil {
		s.logger.Warn("cache delete failed", "backend", s.backend.Name(), "error", err)
		return
	}
	s.evictions.Add(1)
}

// Put stores resp as answered by provider.
func (s *Store) Put(ctx context.Context, key string, resp *providers.Response, provider string) error {
	stored := *resp
	stored.Cached = false
	e := Entry{Response: &stored, WrittenAt: s.now(), Provider: provider}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	if err := s.backend.Set(ctx, key, data, e.WrittenAt, s.TTL()); err != nil {
		return fmt.Errorf("cache write: %w", err)
	}
	s.writes.Add(1)
	return nil
}

// Clear removes every entry.
func (s *Store) Clear(ctx context.Context) (int, error) {
	return s.backend.Clear(ctx)
}

// Sweep removes expired entries.
func (s *Store) Sweep(ctx context.Context) (int, error) {
	n, err := s.backend.Sweep(ctx, s.now().Add(-s.TTL()))
	s.evictions.Add(int64(n))
	return n, err
}

// Stats returns a snapshot of the counters.
func (s *Store) Stats(ctx context.Context) Stats {
	n, err := s.backend.Len(ctx)
	if err != nil {
		s.logger.Warn("cache size failed", "backend", s.backend.Name(), "error", err)
	}
	return Stats{
		Backend:   s.backend.Name(),
		Entries:   n,
		TTL:       s.TTL(),
		Hits:      s.hits.Load(),
		Misses:    s.misses.Load(),
		Writes:    s.writes.Load(),
		Evictions: s.evictions.Load(),
	}
}

// Start runs the sweep every TTL/2 until Stop. Calling Start twice is a
// no-op.
func (s *Store) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.loop(s.stop, s.done)
}

// Stop ends the sweep loop and waits for it to exit.
func (s *Store) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stop)
	done := s.done
	s.mu.Unlock()
	<-done
}

func (s *Store) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(sweepInterval(s.TTL()))
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case ttl := <-s.retick:
			ticker.Reset(sweepInterval(ttl))
		case <-ticker.C:
			n, err := s.Sweep(context.Background())
			if err != nil {
				s.logger.Warn("cache sweep failed", "backend", s.backend.Name(), "error", err)
				continue
			}
			if n > 0 {
				s.logger.Debug("cache sweep", "backend", s.backend.Name(), "evicted", n)
			}
		}
	}
}

func sweepInterval(ttl time.Duration) time.Duration {
	if d := ttl / 2; d > 0 {
		return d
	}
	return time.Millisecond
}
