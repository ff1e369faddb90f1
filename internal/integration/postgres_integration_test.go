package integration

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"

	"imprintr/guard/internal/audit"
	"imprintr/guard/internal/auth"
)

func openTestPostgres(t *testing.T) *sql.DB {
	t.Helper()

	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping Postgres integration tests")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("sql.Open() error: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})

	if err := db.Ping(); err != nil {
		t.Fatalf("db.Ping() error: %v", err)
	}
	return db
}

func TestPostgresRoleStoreDrivesGate(t *testing.T) {
	db := openTestPostgres(t)
	ctx := context.Background()

	roles, err := auth.NewPostgresRoleStore(db)
	if err != nil {
		t.Fatalf("NewPostgresRoleStore() error: %v", err)
	}

	adminID := fmt.Sprintf("itest-admin-%d", time.Now().UnixNano())
	userID := fmt.Sprintf("itest-user-%d", time.Now().UnixNano())
	if err := roles.Put(ctx, adminID, auth.RoleSuperAdmin); err != nil {
		t.Fatalf("Put() error: %v", err)
	}
	t.Cleanup(func() {
		_, _ = db.Exec("DELETE FROM user_roles WHERE user_id = $1", adminID)
	})

	if r, err := roles.LookupRole(ctx, userID); err != nil || r != auth.RoleUser {
		t.Fatalf("expected missing user to be a plain user, got %q err=%v", r, err)
	}

	events := audit.NewLogger(audit.Config{})
	defer func() { _ = events.Close(ctx) }()
	sessions := auth.NewLocalSessionProvider()
	gate := auth.NewGate(sessions, roles, events)
	defer gate.Close()

	if err := sessions.Set(auth.Session{UserID: adminID}); err != nil {
		t.Fatalf("Set() error: %v", err)
	}
	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := gate.WaitResolved(waitCtx); err != nil {
		t.Fatalf("WaitResolved() error: %v", err)
	}
	if gate.Status() != auth.StatusAdmin {
		t.Fatalf("expected admin, got %s", gate.Status())
	}

	if err := roles.Put(ctx, adminID, auth.RoleUser); err != nil {
		t.Fatalf("Put() error: %v", err)
	}
	// Re-adopting the session re-reads the role.
	_ = sessions.Set(auth.Session{UserID: adminID})
	if err := gate.WaitResolved(waitCtx); err != nil {
		t.Fatalf("WaitResolved() error: %v", err)
	}
	if gate.Status() != auth.StatusAuthenticated {
		t.Fatalf("expected demoted user, got %s", gate.Status())
	}
}

func TestPostgresAuditSinkRoundTrip(t *testing.T) {
	db := openTestPostgres(t)
	ctx := context.Background()

	sink, err := audit.NewPostgresSink(db)
	if err != nil {
		t.Fatalf("NewPostgresSink() error: %v", err)
	}

	logger := audit.NewLogger(audit.Config{
		Client: audit.ClientContext{Service: "guard-itest"},
		Sinks:  []audit.Sink{sink},
	})
	logger.Emit(audit.EventUnauthorizedAdminAccess, map[string]any{"user_id": "itest", "token": "secret"}, audit.RiskHigh)
	closeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := logger.Close(closeCtx); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	id := logger.Recent(1)[0].ID
	t.Cleanup(func() {
		_, _ = db.Exec("DELETE FROM security_events WHERE id = $1", id)
	})

	var eventType, risk, token string
	const q = `SELECT event_type, risk_level, details->>'token' FROM security_events WHERE id = $1`
	if err := db.QueryRowContext(ctx, q, id).Scan(&eventType, &risk, &token); err != nil {
		t.Fatalf("query security event: %v", err)
	}
	if eventType != audit.EventUnauthorizedAdminAccess || risk != "high" {
		t.Fatalf("unexpected stored event: %s %s", eventType, risk)
	}
	if token != "<redacted>" {
		t.Fatalf("expected redacted token in stored details, got %q", token)
	}
}
