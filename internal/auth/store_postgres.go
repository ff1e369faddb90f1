package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

type PostgresRoleStore struct {
	db *sql.DB
}

func NewPostgresRoleStore(db *sql.DB) (*PostgresRoleStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	s := &PostgresRoleStore{db: db}
	if err := s.ensureSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresRoleStore) ensureSchema() error {
	const q = `
CREATE TABLE IF NOT EXISTS user_roles (
	user_id TEXT PRIMARY KEY,
	role TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
	if _, err := s.db.Exec(q); err != nil {
		return fmt.Errorf("ensure user_roles schema: %w", err)
	}
	return nil
}

func (s *PostgresRoleStore) LookupRole(ctx context.Context, userID string) (Role, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", ErrUserIDRequired
	}

	var role string
	const q = `SELECT role FROM user_roles WHERE user_id = $1`
	if err := s.db.QueryRowContext(ctx, q, userID).Scan(&role); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return RoleUser, nil
		}
		return "", fmt.Errorf("query user role: %w", err)
	}
	return ParseRole(role), nil
}

func (s *PostgresRoleStore) Put(ctx context.Context, userID string, role Role) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ErrUserIDRequired
	}

	const q = `
INSERT INTO user_roles (user_id, role, updated_at)
VALUES ($1, $2, NOW())
ON CONFLICT (user_id) DO UPDATE
SET role = EXCLUDED.role,
	updated_at = NOW()`
	if _, err := s.db.ExecContext(ctx, q, userID, string(role)); err != nil {
		return fmt.Errorf("upsert user role: %w", err)
	}
	return nil
}
