// Package guard wraps sensitive operations in the fixed check sequence: rate
// limit, then authorization, then the operation, then failure logging.
package guard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"imprintr/guard/internal/audit"
	"imprintr/guard/internal/auth"
	"imprintr/guard/internal/metrics"
	"imprintr/guard/internal/ratelimit"
)

const statsTimeout = time.Second

// Authorizer is the slice of auth.Gate and auth.Caller that guarded calls
// depend on.
type Authorizer interface {
	Identity() auth.Identity
	RequireAuth() bool
	RequireAdmin() bool
}

type Config struct {
	Limiter *ratelimit.Limiter
	// Gate authorizes calls made without WithAuthorizer. Without it such
	// calls are treated as anonymous.
	Gate    Authorizer
	Events  audit.Emitter
	// Stats and Metrics are optional.
	Stats   ratelimit.StatsStore
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

type Guard struct {
	limiter *ratelimit.Limiter
	gate    Authorizer
	events  audit.Emitter
	stats   ratelimit.StatsStore
	metrics *metrics.Metrics
	log     *slog.Logger
}

func New(cfg Config) (*Guard, error) {
	if cfg.Limiter == nil {
		return nil, fmt.Errorf("rate limiter is required")
	}
	if cfg.Events == nil {
		return nil, fmt.Errorf("security event log is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Guard{
		limiter: cfg.Limiter,
		gate:    cfg.Gate,
		events:  cfg.Events,
		stats:   cfg.Stats,
		metrics: cfg.Metrics,
		log:     cfg.Logger,
	}, nil
}

func (g *Guard) Limiter() *ratelimit.Limiter { return g.limiter }

type CallOption func(*callOptions)

type callOptions struct {
	key            string
	scope          string
	maxAttempts    int
	window         time.Duration
	resetOnSuccess bool
	authorizer     Authorizer
}

// WithAuthorizer authorizes this call against a, typically the caller of a
// single request, instead of the guard's shared gate.
func WithAuthorizer(a Authorizer) CallOption {
	return func(o *callOptions) { o.authorizer = a }
}

// WithRateLimitKey enables the rate-limit step for key. Without it the call
// skips straight to authorization.
func WithRateLimitKey(key string) CallOption {
	return func(o *callOptions) { o.key = strings.TrimSpace(key) }
}

// WithScope sets the low-cardinality label used for stats and metrics. It
// defaults to the part of the rate-limit key before the first colon.
func WithScope(scope string) CallOption {
	return func(o *callOptions) { o.scope = strings.TrimSpace(scope) }
}

// WithLimit overrides the limiter's default attempts and window for this call.
// maxAttempts <= 0 denies every call.
func WithLimit(maxAttempts int, window time.Duration) CallOption {
	return func(o *callOptions) {
		o.maxAttempts = maxAttempts
		o.window = window
	}
}

// WithResetOnSuccess clears the key's history once the operation succeeds.
func WithResetOnSuccess() CallOption {
	return func(o *callOptions) { o.resetOnSuccess = true }
}

// Call runs op for any authenticated caller.
func Call[T any](ctx context.Context, g *Guard, op func(context.Context) (T, error), opts ...CallOption) (T, error) {
	return run(ctx, g, false, op, opts)
}

// AdminCall runs op only for a resolved admin.
func AdminCall[T any](ctx context.Context, g *Guard, op func(context.Context) (T, error), opts ...CallOption) (T, error) {
	return run(ctx, g, true, op, opts)
}

func run[T any](ctx context.Context, g *Guard, admin bool, op func(context.Context) (T, error), opts []CallOption) (T, error) {
	var zero T
	o := g.options(opts)

	if err := g.limit(ctx, o); err != nil {
		g.metrics.ObserveCall(o.scope, "rate_limited")
		return zero, err
	}

	az := g.authorizerFor(o)
	if err := authorize(az, admin); err != nil {
		g.metrics.ObserveCall(o.scope, resultFor(err))
		return zero, err
	}
	userID := az.Identity().UserID

	res, err := op(ctx)
	if err != nil {
		details := map[string]any{
			"error":   err.Error(),
			"user_id": userID,
			"scope":   o.scope,
		}
		result := "error"
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			details["canceled"] = true
			result = "canceled"
		}
		g.events.Emit(audit.EventAPICallError, details, audit.RiskLow)
		g.metrics.ObserveCall(o.scope, result)
		return zero, err
	}

	if o.resetOnSuccess && o.key != "" {
		g.limiter.Reset(o.key)
	}
	g.metrics.ObserveCall(o.scope, "ok")
	return res, nil
}

// Limit runs only the rate-limit step. Boundaries that admit callers before
// they have a session, such as sign-in, use it in place of Call. It is a no-op
// without WithRateLimitKey.
func (g *Guard) Limit(ctx context.Context, opts ...CallOption) error {
	return g.limit(ctx, g.options(opts))
}

// ResetLimit clears the history of a rate-limit key.
func (g *Guard) ResetLimit(key string) {
	g.limiter.Reset(strings.TrimSpace(key))
}

func (g *Guard) limit(ctx context.Context, o callOptions) error {
	if o.key == "" {
		return nil
	}
	d := g.limiter.Check(o.key, o.maxAttempts, o.window)
	g.recordDecision(ctx, o, d.Allowed)
	if d.Allowed {
		return nil
	}
	g.events.Emit(audit.EventRateLimitExceeded, map[string]any{
		"key":         o.key,
		"scope":       o.scope,
		"limit":       d.Limit,
		"retry_after": d.RetryAfter,
	}, audit.RiskMedium)
	return &RateLimitError{Key: o.key, RetryAfter: d.RetryAfter}
}

func (g *Guard) authorizerFor(o callOptions) Authorizer {
	switch {
	case o.authorizer != nil:
		return o.authorizer
	case g.gate != nil:
		return g.gate
	default:
		return auth.Anonymous(g.events)
	}
}

// authorize asks az once, so exactly one event is recorded on denial.
func authorize(az Authorizer, admin bool) error {
	if !admin {
		if az.RequireAuth() {
			return nil
		}
		return ErrUnauthorized
	}
	if az.RequireAdmin() {
		return nil
	}
	switch az.Identity().Status {
	case auth.StatusAuthenticated, auth.StatusAdmin:
		return ErrForbidden
	default:
		return ErrUnauthorized
	}
}

func (g *Guard) options(opts []CallOption) callOptions {
	o := callOptions{
		maxAttempts: g.limiter.MaxAttempts(),
		window:      g.limiter.Window(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.scope == "" {
		o.scope = scopeOf(o.key)
	}
	return o
}

func (g *Guard) recordDecision(ctx context.Context, o callOptions, allowed bool) {
	g.metrics.ObserveDecision(o.scope, allowed)
	if g.stats == nil {
		return
	}
	// The attempt happened even if the caller has gone away.
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statsTimeout)
	defer cancel()
	err := g.stats.Record(sctx, ratelimit.StatsEvent{
		Key:     o.key,
		Scope:   o.scope,
		Allowed: allowed,
		At:      time.Now().UTC(),
	})
	if err != nil {
		g.log.Warn("rate limit stats record failed", "scope", o.scope, "error", err)
	}
}

func scopeOf(key string) string {
	if key == "" {
		return "call"
	}
	if i := strings.IndexByte(key, ':'); i > 0 {
		return key[:i]
	}
	return key
}

func resultFor(err error) string {
	switch {
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	default:
		return "error"
	}
}
