package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

type memItem struct {
	data      []byte
	writtenAt time.Time
}

// Memory keeps entries in process. Expiry is driven by the Store, so the
// go-cache janitor is disabled.
type Memory struct {
	c *gocache.Cache
}

// NewMemory returns an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{c: gocache.New(gocache.NoExpiration, 0)}
}

func (m *Memory) Name() string { return "memory" }

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := m.c.Get(key)
	if !ok {
		return nil, false, nil
	}
	return v.(memItem).data, true, nil
}

func (m *Memory) Set(_ context.Context, key string, data []byte, writtenAt time.Time, _ time.Duration) error {
	m.c.Set(key, memItem{data: data, writtenAt: writtenAt}, gocache.NoExpiration)
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.c.Delete(key)
	return nil
}

func (m *Memory) Clear(_ context.Context) (int, error) {
	n := m.c.ItemCount()
	m.c.Flush()
	return n, nil
}

func (m *Memory) Sweep(_ context.Context, cutoff time.Time) (int, error) {
	removed := 0
	for key, item := range m.c.Items() {
		it, ok := item.Object.(memItem)
		if !ok || !it.writtenAt.After(cutoff) {
			m.c.Delete(key)
			removed++
		}
	}
	return removed, nil
}

func (m *Memory) Len(_ context.Context) (int, error) {
	return m.c.ItemCount(), nil
}
