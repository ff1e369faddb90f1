package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"imprintr/guard/internal/audit"
)

// Caller is the authorization state of one request. It is resolved from the
// request's own access token and never shared between requests.
type Caller struct {
	identity  Identity
	token     string
	expiresAt time.Time
	nowFunc   func() time.Time
	events    audit.Emitter
}

// Anonymous returns a caller without a session. Its checks still record
// denials on events.
func Anonymous(events audit.Emitter) *Caller {
	if events == nil {
		events = nopEmitter{}
	}
	return &Caller{
		identity: Identity{Role: RoleAnonymous, Status: StatusAnonymous},
		nowFunc:  time.Now,
		events:   events,
	}
}

func (c *Caller) Identity() Identity {
	return currentIdentity(c.identity, c.expiresAt, c.nowFunc())
}

// AccessToken is empty unless the token resolved to a session.
func (c *Caller) AccessToken() string { return c.token }

func (c *Caller) RequireAuth() bool {
	return requireAuth(c.events, c.Identity())
}

func (c *Caller) RequireAdmin() bool {
	return requireAdmin(c.events, c.Identity())
}

type AuthenticatorOption func(*Authenticator)

// WithAuthTimeout bounds session resolution and role lookup together.
func WithAuthTimeout(d time.Duration) AuthenticatorOption {
	return func(a *Authenticator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

func WithAuthLogger(log *slog.Logger) AuthenticatorOption {
	return func(a *Authenticator) {
		if log != nil {
			a.log = log
		}
	}
}

func WithAuthClock(now func() time.Time) AuthenticatorOption {
	return func(a *Authenticator) {
		if now != nil {
			a.nowFunc = now
		}
	}
}

// Authenticator turns an access token into a Caller: the token is checked
// with the identity provider and the role is read from the role store.
// Nothing the client sends besides the token is trusted.
type Authenticator struct {
	sessions SessionResolver
	roles    RoleStore
	events   audit.Emitter
	log      *slog.Logger
	timeout  time.Duration
	nowFunc  func() time.Time
}

func NewAuthenticator(sessions SessionResolver, roles RoleStore, events audit.Emitter, opts ...AuthenticatorOption) *Authenticator {
	a := &Authenticator{
		sessions: sessions,
		roles:    roles,
		events:   events,
		log:      slog.Default(),
		timeout:  defaultLookupTimeout,
		nowFunc:  time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.events == nil {
		a.events = nopEmitter{}
	}
	return a
}

// Authenticate never fails: any problem with the token or the lookups yields
// an anonymous caller.
func (a *Authenticator) Authenticate(ctx context.Context, accessToken string) *Caller {
	anon := &Caller{
		identity: Identity{Role: RoleAnonymous, Status: StatusAnonymous},
		nowFunc:  a.nowFunc,
		events:   a.events,
	}
	token := strings.TrimSpace(accessToken)
	if token == "" {
		return anon
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	s, err := a.sessions.ResolveSession(ctx, token)
	switch {
	case err != nil && errors.Is(err, ErrInvalidSession):
		a.reject("invalid")
		return anon
	case err != nil:
		a.log.Warn("session lookup failed", "error", err)
		a.reject("lookup_failed")
		return anon
	case strings.TrimSpace(s.UserID) == "" || s.Expired(a.nowFunc()):
		a.reject("expired")
		return anon
	}

	role, err := a.roles.LookupRole(ctx, s.UserID)
	recordResolution(a.events, a.log, s.UserID, role, err)
	id := identityFor(s.UserID, role, err)
	if id.Status == StatusAnonymous {
		return anon
	}
	return &Caller{
		identity:  id,
		token:     token,
		expiresAt: s.ExpiresAt,
		nowFunc:   a.nowFunc,
		events:    a.events,
	}
}

func (a *Authenticator) reject(reason string) {
	a.events.Emit(audit.EventSessionRejected, map[string]any{"reason": reason}, audit.RiskMedium)
}
