package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
)

var ErrUserIDRequired = errors.New("user id is required")

// RoleStore is the authoritative source for a user's role. Users without an
// entry are plain users.
type RoleStore interface {
	LookupRole(ctx context.Context, userID string) (Role, error)
}

type InMemoryRoleStore struct {
	mu    sync.RWMutex
	roles map[string]Role
}

func NewInMemoryRoleStore() *InMemoryRoleStore {
	return &InMemoryRoleStore{roles: make(map[string]Role)}
}

func (s *InMemoryRoleStore) LookupRole(ctx context.Context, userID string) (Role, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", ErrUserIDRequired
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.roles[userID]
	if !ok {
		return RoleUser, nil
	}
	return r, nil
}

func (s *InMemoryRoleStore) Put(userID string, role Role) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ErrUserIDRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roles[userID] = role
	return nil
}
