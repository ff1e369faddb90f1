package auth

import (
	"strings"
	"sync"
)

// SessionProvider exposes the externally issued session and notifies
// subscribers whenever it changes.
type SessionProvider interface {
	Current() (Session, bool)
	// Subscribe registers fn and returns a function that removes it.
	Subscribe(fn func(s Session, ok bool)) func()
}

// LocalSessionProvider holds a single session in process memory.
// Subscribers are called synchronously and in change order; they must not
// call Set or Clear.
type LocalSessionProvider struct {
	notifyMu sync.Mutex

	mu      sync.Mutex
	session Session
	ok      bool
	subs    map[int]func(Session, bool)
	nextSub int
}

func NewLocalSessionProvider() *LocalSessionProvider {
	return &LocalSessionProvider{subs: make(map[int]func(Session, bool))}
}

func (p *LocalSessionProvider) Current() (Session, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session, p.ok
}

func (p *LocalSessionProvider) Set(s Session) error {
	s.UserID = strings.TrimSpace(s.UserID)
	if s.UserID == "" {
		return ErrUserIDRequired
	}
	p.update(s, true)
	return nil
}

func (p *LocalSessionProvider) Clear() {
	p.update(Session{}, false)
}

func (p *LocalSessionProvider) Subscribe(fn func(Session, bool)) func() {
	p.mu.Lock()
	id := p.nextSub
	p.nextSub++
	p.subs[id] = fn
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.subs, id)
		p.mu.Unlock()
	}
}

func (p *LocalSessionProvider) update(s Session, ok bool) {
	p.notifyMu.Lock()
	defer p.notifyMu.Unlock()

	p.mu.Lock()
	p.session, p.ok = s, ok
	subs := make([]func(Session, bool), 0, len(p.subs))
	for _, fn := range p.subs {
		subs = append(subs, fn)
	}
	p.mu.Unlock()

	for _, fn := range subs {
		fn(s, ok)
	}
}
