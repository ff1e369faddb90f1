package ratelimit

import (
	"context"
	"sync"
	"time"
)

// StatsEvent describes one limiter decision. Scope is a low-cardinality label
// such as "profile.update"; Key is the raw limiter key and should only be
// tracked when the store is told to.
type StatsEvent struct {
	Key     string
	Scope   string
	Allowed bool
	At      time.Time
}

// StatsStore persists decision counters. Callers treat it as best-effort and
// never fail a request because Record failed.
type StatsStore interface {
	Record(ctx context.Context, ev StatsEvent) error
}

type Counters struct {
	Allowed int64
	Denied  int64
}

// MemoryStatsStore keeps counters for the lifetime of the process.
type MemoryStatsStore struct {
	mu      sync.Mutex
	total   Counters
	byScope map[string]Counters
	byKey   map[string]Counters

	trackKeys bool
}

type MemoryStatsOption func(*MemoryStatsStore)

func WithTrackKeys(track bool) MemoryStatsOption {
	return func(s *MemoryStatsStore) { s.trackKeys = track }
}

func NewMemoryStatsStore(opts ...MemoryStatsOption) *MemoryStatsStore {
	s := &MemoryStatsStore{
		byScope: make(map[string]Counters),
		byKey:   make(map[string]Counters),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStatsStore) Record(_ context.Context, ev StatsEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.total = bump(s.total, ev.Allowed)
	s.byScope[ev.Scope] = bump(s.byScope[ev.Scope], ev.Allowed)
	if s.trackKeys && ev.Key != "" {
		s.byKey[ev.Key] = bump(s.byKey[ev.Key], ev.Allowed)
	}
	return nil
}

func bump(c Counters, allowed bool) Counters {
	if allowed {
		c.Allowed++
	} else {
		c.Denied++
	}
	return c
}

func (s *MemoryStatsStore) Total() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

func (s *MemoryStatsStore) ByScope() map[string]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Counters, len(s.byScope))
	for k, v := range s.byScope {
		out[k] = v
	}
	return out
}

func (s *MemoryStatsStore) ByKey() map[string]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Counters, len(s.byKey))
	for k, v := range s.byKey {
		out[k] = v
	}
	return out
}
