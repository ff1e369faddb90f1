// Package ratelimit holds the sliding-window attempt limiter that guards
// outbound calls, plus the token-bucket throttle used at the HTTP edge.
//
// Limiter state lives in process memory only. It is a client-side mitigation;
// the backend must still enforce its own limits.
package ratelimit

import (
	"sync"
	"time"
)

const (
	DefaultMaxAttempts = 5
	DefaultWindow      = time.Minute
)

type Decision struct {
	Allowed   bool
	Count     int
	Limit     int
	Remaining int
	// RetryAfter is how long until the oldest counted attempt leaves the
	// window. Zero when allowed.
	RetryAfter time.Duration
}

// Limiter is a sliding-window counter keyed by an opaque string. Each key
// holds the instants of its accepted attempts; entries older than the window
// are pruned lazily when the key is next touched.
type Limiter struct {
	maxAttempts int
	window      time.Duration
	nowFunc     func() time.Time

	mu      sync.Mutex
	windows map[string][]time.Time
}

type Option func(*Limiter)

func WithDefaults(maxAttempts int, window time.Duration) Option {
	return func(l *Limiter) {
		l.maxAttempts = maxAttempts
		if window > 0 {
			l.window = window
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.nowFunc = now
		}
	}
}

func NewLimiter(opts ...Option) *Limiter {
	l := &Limiter{
		maxAttempts: DefaultMaxAttempts,
		window:      DefaultWindow,
		nowFunc:     time.Now,
		windows:     make(map[string][]time.Time),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Limiter) MaxAttempts() int      { return l.maxAttempts }
func (l *Limiter) Window() time.Duration { return l.window }

// Allow checks key against the limiter's default limits.
func (l *Limiter) Allow(key string) bool {
	return l.Check(key, l.maxAttempts, l.window).Allowed
}

func (l *Limiter) IsAllowed(key string, maxAttempts int, window time.Duration) bool {
	return l.Check(key, maxAttempts, window).Allowed
}

// Check prunes the key's window, then records an attempt if fewer than
// maxAttempts remain inside it. A denied attempt is not recorded.
func (l *Limiter) Check(key string, maxAttempts int, window time.Duration) Decision {
	if window <= 0 {
		window = l.window
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFunc()
	windowStart := now.Add(-window)
	kept := prune(l.windows[key], windowStart)
	if maxAttempts <= 0 || len(kept) >= maxAttempts {
		l.store(key, kept)
		dec := Decision{Allowed: false, Count: len(kept), Limit: maxAttempts}
		if len(kept) > 0 {
			dec.RetryAfter = kept[0].Sub(windowStart)
		}
		return dec
	}

	kept = append(kept, now)
	l.windows[key] = kept
	return Decision{
		Allowed:   true,
		Count:     len(kept),
		Limit:     maxAttempts,
		Remaining: maxAttempts - len(kept),
	}
}

// Reset forgets every recorded attempt for key.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, key)
}

// Attempts returns how many attempts for key are still inside window.
func (l *Limiter) Attempts(key string, window time.Duration) int {
	if window <= 0 {
		window = l.window
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	kept := prune(l.windows[key], l.nowFunc().Add(-window))
	l.store(key, kept)
	return len(kept)
}

func (l *Limiter) store(key string, kept []time.Time) {
	if len(kept) == 0 {
		delete(l.windows, key)
		return
	}
	l.windows[key] = kept
}

// prune keeps timestamps strictly after windowStart. Timestamps are appended
// in order, so the survivors are a suffix.
func prune(ts []time.Time, windowStart time.Time) []time.Time {
	i := 0
	for i < len(ts) && !ts[i].After(windowStart) {
		i++
	}
	if i == 0 {
		return ts
	}
	out := make([]time.Time, len(ts)-i)
	copy(out, ts[i:])
	return out
}
