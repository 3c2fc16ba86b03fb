package meta

import (
	"context"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
)

// InMemory is the default, single-process Store backend. It follows the
// teacher's app/cache.InMemory wrapper around ristretto almost exactly
// (SetWithTTL for expiry), adding a small guarded key-set purely so Keys()
// can enumerate — ristretto itself has no iteration API.
type InMemory struct {
	cache *ristretto.Cache

	mu   sync.Mutex
	keys map[string]struct{}
}

const (
	numCounters = 1e5
	maxCost     = 1 << 24 // every Set costs 1, so this caps the store at ~16.7M entries
	bufferItems = 64
)

// NewInMemory constructs an InMemory meta store.
func NewInMemory() (*InMemory, error) {
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: numCounters,
		MaxCost:     maxCost,
		BufferItems: bufferItems,
	})
	if err != nil {
		return nil, err
	}

	return &InMemory{cache: c, keys: make(map[string]struct{})}, nil
}

func (m *InMemory) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := m.cache.Get(key)
	if !ok {
		return "", false, nil
	}

	s, ok := v.(string)
	if !ok {
		return "", false, nil
	}

	return s, true, nil
}

func (m *InMemory) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	m.keys[key] = struct{}{}
	m.mu.Unlock()

	m.cache.SetWithTTL(key, value, 1, ttl)
	m.cache.Wait()

	return nil
}

func (m *InMemory) Delete(_ context.Context, key string) (bool, error) {
	_, existed := m.cache.Get(key)

	m.cache.Del(key)

	m.mu.Lock()
	delete(m.keys, key)
	m.mu.Unlock()

	return existed, nil
}

func (m *InMemory) Has(_ context.Context, key string) (bool, error) {
	_, ok := m.cache.Get(key)
	return ok, nil
}

func (m *InMemory) Keys(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.keys))
	for k := range m.keys {
		// Drop keys ristretto has already expired/evicted from the
		// enumeration set, so they don't stay in it forever.
		if _, ok := m.cache.Get(k); ok {
			out = append(out, k)
		} else {
			delete(m.keys, k)
		}
	}

	return out, nil
}

// Close releases the underlying cache's background goroutines.
func (m *InMemory) Close() { m.cache.Close() }
