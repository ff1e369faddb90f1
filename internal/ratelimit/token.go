package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// TokenStore hands out one token bucket per client key. It protects the HTTP
// edge from request floods before any guarded boundary runs, and is unrelated
// to the per-action sliding windows in Limiter.
type TokenStore struct {
	mu           sync.Mutex
	entries      map[string]*tokenEntry
	rps          rate.Limit
	burst        int
	idleTTL      time.Duration
	cleanupEvery time.Duration
}

type tokenEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

type TokenOption func(*TokenStore)

func WithIdleTTL(d time.Duration) TokenOption {
	return func(s *TokenStore) { s.idleTTL = d }
}

func WithCleanupEvery(d time.Duration) TokenOption {
	return func(s *TokenStore) { s.cleanupEvery = d }
}

func NewTokenStore(rps float64, burst int, opts ...TokenOption) *TokenStore {
	s := &TokenStore{
		entries:      make(map[string]*tokenEntry),
		rps:          rate.Limit(rps),
		burst:        burst,
		idleTTL:      15 * time.Minute,
		cleanupEvery: 2 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Allow consumes one token from key's bucket.
func (s *TokenStore) Allow(key string) bool {
	return s.get(key).Allow()
}

func (s *TokenStore) get(key string) *rate.Limiter {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if ent, ok := s.entries[key]; ok {
		ent.lastSeen = now
		return ent.lim
	}
	lim := rate.NewLimiter(s.rps, s.burst)
	s.entries[key] = &tokenEntry{lim: lim, lastSeen: now}
	return lim
}

func (s *TokenStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Cleanup drops buckets idle for longer than the idle TTL.
func (s *TokenStore) Cleanup() {
	cutoff := time.Now().Add(-s.idleTTL)

	s.mu.Lock()
	defer s.mu.Unlock()
	for k, ent := range s.entries {
		if ent.lastSeen.Before(cutoff) {
			delete(s.entries, k)
		}
	}
}

// StartJanitor runs Cleanup periodically until ctx is done.
func (s *TokenStore) StartJanitor(ctx context.Context) {
	if s.cleanupEvery <= 0 {
		return
	}
	t := time.NewTicker(s.cleanupEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.Cleanup()
			}
		}
	}()
}
