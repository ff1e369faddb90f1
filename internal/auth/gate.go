package auth

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"imprintr/guard/internal/audit"
)

const defaultLookupTimeout = 5 * time.Second

type GateOption func(*Gate)

func WithLookupTimeout(d time.Duration) GateOption {
	return func(g *Gate) {
		if d > 0 {
			g.lookupTimeout = d
		}
	}
}

func WithGateLogger(log *slog.Logger) GateOption {
	return func(g *Gate) {
		if log != nil {
			g.log = log
		}
	}
}

func WithGateClock(now func() time.Time) GateOption {
	return func(g *Gate) {
		if now != nil {
			g.nowFunc = now
		}
	}
}

// Gate derives the caller's authorization state from the current session and
// the authoritative role store. Every session change bumps a generation
// counter; a lookup whose generation is no longer current is discarded.
type Gate struct {
	roles         RoleStore
	events        audit.Emitter
	log           *slog.Logger
	lookupTimeout time.Duration
	nowFunc       func() time.Time

	mu        sync.Mutex
	gen       uint64
	status    Status
	userID    string
	role      Role
	expiresAt time.Time
	cancel    context.CancelFunc
	ready     chan struct{}
	readyDone bool
	closed    bool

	lookups     sync.WaitGroup
	unsubscribe func()
}

func NewGate(provider SessionProvider, roles RoleStore, events audit.Emitter, opts ...GateOption) *Gate {
	g := &Gate{
		roles:         roles,
		events:        events,
		log:           slog.Default(),
		lookupTimeout: defaultLookupTimeout,
		nowFunc:       time.Now,
		status:        StatusResolving,
		role:          RoleAnonymous,
		ready:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.events == nil {
		g.events = nopEmitter{}
	}

	g.unsubscribe = provider.Subscribe(g.onSession)
	s, ok := provider.Current()
	g.apply(s, ok, true)
	return g
}

func (g *Gate) onSession(s Session, ok bool) {
	g.apply(s, ok, false)
}

// apply adopts a session. The initial value read after subscribing is
// dropped if a notification has already been applied, since that one is newer.
func (g *Gate) apply(s Session, ok bool, initial bool) {
	g.mu.Lock()
	if g.closed || (initial && g.gen > 0) {
		g.mu.Unlock()
		return
	}
	g.gen++
	gen := g.gen
	if g.cancel != nil {
		g.cancel()
		g.cancel = nil
	}

	if !ok || s.UserID == "" || s.Expired(g.nowFunc()) {
		g.setLocked(StatusAnonymous, "", RoleAnonymous, time.Time{})
		g.markReadyLocked()
		g.mu.Unlock()
		return
	}

	g.status = StatusResolving
	g.userID = s.UserID
	g.role = RoleAnonymous
	g.expiresAt = s.ExpiresAt
	if g.readyDone {
		g.ready = make(chan struct{})
		g.readyDone = false
	}
	ctx, cancel := context.WithTimeout(context.Background(), g.lookupTimeout)
	g.cancel = cancel
	g.lookups.Add(1)
	g.mu.Unlock()

	go g.resolve(ctx, gen, s)
}

func (g *Gate) resolve(ctx context.Context, gen uint64, s Session) {
	defer g.lookups.Done()

	role, err := g.roles.LookupRole(ctx, s.UserID)

	g.mu.Lock()
	if gen != g.gen || g.closed {
		g.mu.Unlock()
		return
	}
	if g.cancel != nil {
		g.cancel()
		g.cancel = nil
	}
	id := identityFor(s.UserID, role, err)
	g.setLocked(id.Status, id.UserID, id.Role, s.ExpiresAt)
	g.mu.Unlock()

	recordResolution(g.events, g.log, s.UserID, role, err)

	// Waiters are released only once the resolution's events are recorded.
	g.mu.Lock()
	if gen == g.gen {
		g.markReadyLocked()
	}
	g.mu.Unlock()
}

func (g *Gate) setLocked(status Status, userID string, role Role, expiresAt time.Time) {
	g.status = status
	g.userID = userID
	g.role = role
	g.expiresAt = expiresAt
}

func (g *Gate) markReadyLocked() {
	if !g.readyDone {
		close(g.ready)
		g.readyDone = true
	}
}

func (g *Gate) Status() Status {
	return g.Identity().Status
}

// Identity returns a consistent snapshot of the gate's state. A session that
// expired after it was resolved reads as anonymous.
func (g *Gate) Identity() Identity {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.status == StatusResolving {
		return Identity{UserID: g.userID, Role: RoleAnonymous, Status: StatusResolving, Loading: true}
	}
	return currentIdentity(Identity{UserID: g.userID, Role: g.role, Status: g.status}, g.expiresAt, g.nowFunc())
}

// RequireAuth reports whether a signed-in user has been resolved. A false
// result is recorded as an unauthorized access attempt.
func (g *Gate) RequireAuth() bool {
	return requireAuth(g.events, g.Identity())
}

// RequireAdmin reports whether the resolved user is an admin. Exactly one
// event is recorded on failure: medium when unauthenticated, high when an
// authenticated user lacks the admin role.
func (g *Gate) RequireAdmin() bool {
	return requireAdmin(g.events, g.Identity())
}

// WaitResolved blocks until the current session's role is resolved, or the
// gate is closed, or ctx ends.
func (g *Gate) WaitResolved(ctx context.Context) error {
	for {
		g.mu.Lock()
		if g.readyDone {
			g.mu.Unlock()
			return nil
		}
		ready := g.ready
		g.mu.Unlock()

		select {
		case <-ready:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close stops following session changes, cancels any in-flight lookup and
// waits for it to return.
func (g *Gate) Close() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = true
	if g.cancel != nil {
		g.cancel()
		g.cancel = nil
	}
	g.markReadyLocked()
	g.mu.Unlock()

	if g.unsubscribe != nil {
		g.unsubscribe()
	}
	g.lookups.Wait()
}

// identityFor maps a role lookup result onto an identity. A failed lookup
// never grants access.
func identityFor(userID string, role Role, err error) Identity {
	switch {
	case err != nil:
		return Identity{Role: RoleAnonymous, Status: StatusAnonymous}
	case role == RoleSuperAdmin:
		return Identity{UserID: userID, Role: RoleSuperAdmin, Status: StatusAdmin}
	default:
		return Identity{UserID: userID, Role: RoleUser, Status: StatusAuthenticated}
	}
}

// currentIdentity reads a resolved identity whose session expired as
// anonymous.
func currentIdentity(id Identity, expiresAt, now time.Time) Identity {
	if id.Status != StatusAuthenticated && id.Status != StatusAdmin {
		return id
	}
	if !expiresAt.IsZero() && !now.Before(expiresAt) {
		return Identity{Role: RoleAnonymous, Status: StatusAnonymous}
	}
	return id
}

func recordResolution(events audit.Emitter, log *slog.Logger, userID string, role Role, err error) {
	switch {
	case err != nil:
		log.Warn("role lookup failed", "user_id", userID, "error", err)
		events.Emit(audit.EventRoleLookupFailed, map[string]any{
			"user_id": userID,
			"error":   err,
		}, audit.RiskMedium)
	case role == RoleSuperAdmin:
		events.Emit(audit.EventAdminAccess, map[string]any{"user_id": userID}, audit.RiskMedium)
	}
}

func requireAuth(events audit.Emitter, id Identity) bool {
	if id.Status == StatusAuthenticated || id.Status == StatusAdmin {
		return true
	}
	events.Emit(audit.EventUnauthorizedAccess, map[string]any{
		"status": id.Status.String(),
	}, audit.RiskMedium)
	return false
}

func requireAdmin(events audit.Emitter, id Identity) bool {
	if !requireAuth(events, id) {
		return false
	}
	if id.Status == StatusAdmin {
		return true
	}
	events.Emit(audit.EventUnauthorizedAdminAccess, map[string]any{
		"user_id": id.UserID,
		"role":    string(id.Role),
	}, audit.RiskHigh)
	return false
}

type nopEmitter struct{}

func (nopEmitter) Emit(string, map[string]any, audit.RiskLevel) {}
