package auth

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func newMockRoleStore(t *testing.T) (*PostgresRoleStore, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error: %v", err)
	}
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS user_roles").WillReturnResult(sqlmock.NewResult(0, 0))
	store, err := NewPostgresRoleStore(db)
	if err != nil {
		t.Fatalf("NewPostgresRoleStore() error: %v", err)
	}
	return store, mock, func() { db.Close() }
}

func TestNewPostgresRoleStore(t *testing.T) {
	_, mock, done := newMockRoleStore(t)
	defer done()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations not met: %v", err)
	}
}

func TestPostgresRoleStoreLookupRole(t *testing.T) {
	store, mock, done := newMockRoleStore(t)
	defer done()

	mock.ExpectQuery("SELECT role FROM user_roles WHERE user_id = \\$1").
		WithArgs("u-admin").
		WillReturnRows(sqlmock.NewRows([]string{"role"}).AddRow("super_admin"))

	role, err := store.LookupRole(context.Background(), "u-admin")
	if err != nil {
		t.Fatalf("LookupRole() error: %v", err)
	}
	if role != RoleSuperAdmin {
		t.Fatalf("expected super_admin, got %q", role)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations not met: %v", err)
	}
}

func TestPostgresRoleStoreLookupMissingIsUser(t *testing.T) {
	store, mock, done := newMockRoleStore(t)
	defer done()

	mock.ExpectQuery("SELECT role FROM user_roles WHERE user_id = \\$1").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	role, err := store.LookupRole(context.Background(), "missing")
	if err != nil || role != RoleUser {
		t.Fatalf("expected user role, got %q err=%v", role, err)
	}
}

func TestPostgresRoleStoreLookupError(t *testing.T) {
	store, mock, done := newMockRoleStore(t)
	defer done()

	mock.ExpectQuery("SELECT role FROM user_roles").
		WithArgs("u1").
		WillReturnError(errors.New("connection reset"))

	if _, err := store.LookupRole(context.Background(), "u1"); err == nil {
		t.Fatalf("expected lookup error")
	}
	if _, err := store.LookupRole(context.Background(), "  "); !errors.Is(err, ErrUserIDRequired) {
		t.Fatalf("expected ErrUserIDRequired, got %v", err)
	}
}

func TestPostgresRoleStorePut(t *testing.T) {
	store, mock, done := newMockRoleStore(t)
	defer done()

	mock.ExpectExec("INSERT INTO user_roles").
		WithArgs("u1", "super_admin").
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := store.Put(context.Background(), "u1", RoleSuperAdmin); err != nil {
		t.Fatalf("Put() error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations not met: %v", err)
	}
}
