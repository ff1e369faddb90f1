package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

var ErrInvalidSession = errors.New("invalid or expired session")

// SessionResolver validates an access token with the identity provider that
// issued it.
type SessionResolver interface {
	ResolveSession(ctx context.Context, accessToken string) (Session, error)
}

// SessionRevoker is implemented by resolvers that can end a session early.
type SessionRevoker interface {
	RevokeSession(ctx context.Context, accessToken string) error
}

// InMemorySessionResolver keeps issued sessions keyed by access token.
type InMemorySessionResolver struct {
	mu       sync.RWMutex
	sessions map[string]Session
	nowFunc  func() time.Time
}

func NewInMemorySessionResolver() *InMemorySessionResolver {
	return &InMemorySessionResolver{
		sessions: make(map[string]Session),
		nowFunc:  time.Now,
	}
}

func (r *InMemorySessionResolver) Put(s Session) error {
	s.UserID = strings.TrimSpace(s.UserID)
	s.AccessToken = strings.TrimSpace(s.AccessToken)
	if s.UserID == "" {
		return ErrUserIDRequired
	}
	if s.AccessToken == "" {
		return errors.New("access token is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.AccessToken] = s
	return nil
}

func (r *InMemorySessionResolver) ResolveSession(ctx context.Context, accessToken string) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}
	r.mu.RLock()
	s, ok := r.sessions[strings.TrimSpace(accessToken)]
	r.mu.RUnlock()
	if !ok || s.Expired(r.nowFunc()) {
		return Session{}, ErrInvalidSession
	}
	return s, nil
}

func (r *InMemorySessionResolver) RevokeSession(_ context.Context, accessToken string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, strings.TrimSpace(accessToken))
	return nil
}
