package ratelimit

import (
	"context"
	"sync"
	"time"
)

// InMemory is the single-instance Strategy backend: a mutex-guarded sliding
// window per key, mirroring SortedSetCounter's semantics without a Redis
// dependency. The teacher has no in-memory rate-limit strategy of its own;
// this adapts SortedSetCounter's windowing logic to a plain slice per key.
type InMemory struct {
	mu     sync.Mutex
	counts map[string][]time.Time
}

var _ Strategy = (*InMemory)(nil)

// NewInMemoryStrategy builds an in-process sliding-window Strategy.
func NewInMemoryStrategy() *InMemory {
	return &InMemory{counts: make(map[string][]time.Time)}
}

func (m *InMemory) prune(key string, minimum time.Time) []time.Time {
	window := m.counts[key]

	i := 0
	for i < len(window) && window[i].Before(minimum) {
		i++
	}

	if i > 0 {
		window = append([]time.Time(nil), window[i:]...)
	}

	m.counts[key] = window

	return window
}

// Run records a fresh hit for r.Key and reports the window's new count; a
// window already at r.Limit is denied without recording the hit.
func (m *InMemory) Run(_ context.Context, r Request) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	minimum := now.Add(-r.Duration)

	window := m.prune(r.Key, minimum)
	if uint64(len(window)) >= r.Limit {
		return Result{ExpiresAt: now.Add(r.Duration), TotalRequests: uint64(len(window))}, nil
	}

	window = append(window, now)
	m.counts[r.Key] = window

	res := Result{
		ExpiresAt:     now.Add(r.Duration),
		TotalRequests: uint64(len(window)),
	}

	if res.TotalRequests <= r.Limit {
		res.State = Allow
	}

	return res, nil
}

// Peek reports r.Key's current window count without recording a hit.
func (m *InMemory) Peek(_ context.Context, r Request) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	window := m.prune(r.Key, now.Add(-r.Duration))

	res := Result{
		ExpiresAt:     now.Add(r.Duration),
		TotalRequests: uint64(len(window)),
	}

	if res.TotalRequests < r.Limit {
		res.State = Allow
	}

	return res, nil
}
