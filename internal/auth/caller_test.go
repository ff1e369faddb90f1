package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"imprintr/guard/internal/audit"
)

type fakeSessionResolver struct {
	resolve func(ctx context.Context, token string) (Session, error)
}

func (f fakeSessionResolver) ResolveSession(ctx context.Context, token string) (Session, error) {
	return f.resolve(ctx, token)
}

func quietLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newResolver(t *testing.T, sessions ...Session) *InMemorySessionResolver {
	t.Helper()
	r := NewInMemorySessionResolver()
	for _, s := range sessions {
		if err := r.Put(s); err != nil {
			t.Fatalf("Put() error: %v", err)
		}
	}
	return r
}

func TestAuthenticateWithoutTokenIsAnonymous(t *testing.T) {
	events := &recordingEmitter{}
	a := NewAuthenticator(newResolver(t), staticRoles(nil), events)

	c := a.Authenticate(context.Background(), "")
	if c.Identity().Status != StatusAnonymous || c.AccessToken() != "" {
		t.Fatalf("unexpected caller: %+v", c.Identity())
	}
	if len(events.Events()) != 0 {
		t.Fatalf("expected no events for a missing token, got %+v", events.Events())
	}
	if c.RequireAuth() {
		t.Fatalf("expected RequireAuth to fail")
	}
}

func TestAuthenticateResolvesUserAndAdmin(t *testing.T) {
	events := &recordingEmitter{}
	resolver := newResolver(t,
		Session{UserID: "u1", AccessToken: "tok-u1"},
		Session{UserID: "root", AccessToken: "tok-root"},
	)
	a := NewAuthenticator(resolver, staticRoles(map[string]Role{"root": RoleSuperAdmin}), events)

	user := a.Authenticate(context.Background(), "tok-u1")
	if id := user.Identity(); id.Status != StatusAuthenticated || id.UserID != "u1" || id.Role != RoleUser {
		t.Fatalf("unexpected user identity: %+v", id)
	}
	if user.AccessToken() != "tok-u1" {
		t.Fatalf("expected token kept for forwarding, got %q", user.AccessToken())
	}
	if user.RequireAdmin() {
		t.Fatalf("plain user must not pass RequireAdmin")
	}

	admin := a.Authenticate(context.Background(), " tok-root ")
	if !admin.RequireAdmin() {
		t.Fatalf("expected admin to pass RequireAdmin")
	}

	got := events.Events()
	if len(got) != 2 || got[0].Type != audit.EventUnauthorizedAdminAccess || got[1].Type != audit.EventAdminAccess {
		t.Fatalf("unexpected events: %+v", got)
	}
}

func TestAuthenticateIgnoresClaimedIdentity(t *testing.T) {
	events := &recordingEmitter{}
	a := NewAuthenticator(newResolver(t, Session{UserID: "u1", AccessToken: "tok-u1"}),
		staticRoles(map[string]Role{"root": RoleSuperAdmin}), events)

	// A token nobody issued must not reach the role store.
	c := a.Authenticate(context.Background(), "root")
	if c.Identity().Status != StatusAnonymous || c.RequireAdmin() {
		t.Fatalf("unknown token must be anonymous, got %+v", c.Identity())
	}
	got := events.Events()
	if len(got) != 2 || got[0].Type != audit.EventSessionRejected || got[0].Details["reason"] != "invalid" {
		t.Fatalf("unexpected events: %+v", got)
	}
}

func TestAuthenticateLookupFailuresAreAnonymous(t *testing.T) {
	events := &recordingEmitter{}
	brokenSessions := fakeSessionResolver{resolve: func(context.Context, string) (Session, error) {
		return Session{}, errors.New("idp down")
	}}
	a := NewAuthenticator(brokenSessions, staticRoles(nil), events, WithAuthLogger(quietLog()))
	if c := a.Authenticate(context.Background(), "tok"); c.Identity().Status != StatusAnonymous {
		t.Fatalf("expected anonymous on session lookup failure")
	}
	if got := events.Events(); len(got) != 1 || got[0].Details["reason"] != "lookup_failed" {
		t.Fatalf("unexpected events: %+v", got)
	}

	events.Reset()
	brokenRoles := fakeRoleStore{lookup: func(context.Context, string) (Role, error) {
		return "", errors.New("db down")
	}}
	a = NewAuthenticator(newResolver(t, Session{UserID: "root", AccessToken: "tok"}), brokenRoles, events, WithAuthLogger(quietLog()))
	if c := a.Authenticate(context.Background(), "tok"); c.Identity().Status != StatusAnonymous || c.AccessToken() != "" {
		t.Fatalf("expected anonymous on role lookup failure")
	}
	if got := events.Events(); len(got) != 1 || got[0].Type != audit.EventRoleLookupFailed {
		t.Fatalf("unexpected events: %+v", got)
	}
}

func TestAuthenticateTimesOutSlowLookups(t *testing.T) {
	events := &recordingEmitter{}
	slow := fakeSessionResolver{resolve: func(ctx context.Context, _ string) (Session, error) {
		<-ctx.Done()
		return Session{}, ctx.Err()
	}}
	a := NewAuthenticator(slow, staticRoles(nil), events, WithAuthTimeout(20*time.Millisecond), WithAuthLogger(quietLog()))

	start := time.Now()
	c := a.Authenticate(context.Background(), "tok")
	if c.Identity().Status != StatusAnonymous {
		t.Fatalf("expected anonymous after timeout")
	}
	if time.Since(start) > time.Second {
		t.Fatalf("lookup was not bounded by the timeout")
	}
}

func TestCallerExpiresWithSession(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	resolver := newResolver(t, Session{UserID: "u1", AccessToken: "tok", ExpiresAt: now.Add(time.Minute)})
	resolver.nowFunc = func() time.Time { return now }
	a := NewAuthenticator(resolver, staticRoles(nil), &recordingEmitter{}, WithAuthClock(func() time.Time { return now }))

	c := a.Authenticate(context.Background(), "tok")
	if c.Identity().Status != StatusAuthenticated {
		t.Fatalf("expected authenticated, got %s", c.Identity().Status)
	}
	now = now.Add(2 * time.Minute)
	if c.Identity().Status != StatusAnonymous {
		t.Fatalf("expected anonymous once the session expired")
	}
	if a.Authenticate(context.Background(), "tok").Identity().Status != StatusAnonymous {
		t.Fatalf("expired token must not authenticate")
	}
}

func TestInMemorySessionResolverRevoke(t *testing.T) {
	r := newResolver(t, Session{UserID: "u1", AccessToken: "tok"})
	if err := r.Put(Session{UserID: "u2"}); err == nil {
		t.Fatalf("expected error for a session without a token")
	}
	if _, err := r.ResolveSession(context.Background(), "tok"); err != nil {
		t.Fatalf("ResolveSession() error: %v", err)
	}
	if err := r.RevokeSession(context.Background(), "tok"); err != nil {
		t.Fatalf("RevokeSession() error: %v", err)
	}
	if _, err := r.ResolveSession(context.Background(), "tok"); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("expected ErrInvalidSession after revoke, got %v", err)
	}
}

func TestAnonymousCallerRecordsDenial(t *testing.T) {
	events := &recordingEmitter{}
	if Anonymous(events).RequireAdmin() {
		t.Fatalf("anonymous caller must not pass RequireAdmin")
	}
	if got := events.Events(); len(got) != 1 || got[0].Type != audit.EventUnauthorizedAccess {
		t.Fatalf("unexpected events: %+v", got)
	}
}
