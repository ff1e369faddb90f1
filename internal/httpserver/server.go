package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"net/netip"
	"strconv"
	"time"

	"imprintr/guard/internal/audit"
	"imprintr/guard/internal/auth"
	"imprintr/guard/internal/backend"
	"imprintr/guard/internal/config"
	"imprintr/guard/internal/guard"
	"imprintr/guard/internal/metrics"
	"imprintr/guard/internal/ratelimit"
)

// Authenticator resolves the caller of a single request from its access
// token.
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) *auth.Caller
}

type EventLog interface {
	audit.Emitter
	Filter(eventType string, minRisk audit.RiskLevel) []audit.Event
}

type ProfileBackend interface {
	UpdateProfile(ctx context.Context, accessToken string, p backend.Profile) (backend.Profile, error)
}

type Deps struct {
	Service string
	Version string
	Guard   *guard.Guard
	Auth    Authenticator
	Events  EventLog
	// Revoker, Profiles, Throttle, Metrics and Ready are optional.
	Revoker  auth.SessionRevoker
	Profiles ProfileBackend
	Throttle *ratelimit.TokenStore
	Metrics  *metrics.Metrics
	Ready    func(ctx context.Context) error
	Logger   *slog.Logger
	// TrustedProxies may set the client address through forwarding headers.
	TrustedProxies []netip.Prefix
}

type Server struct {
	httpServer *http.Server
}

func New(cfg config.HTTPConfig, deps Deps) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         cfg.Addr,
			Handler:      Wrap(NewHandler(deps), deps),
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  60 * time.Second,
		},
	}
}

func NewHandler(deps Deps) http.Handler {
	if deps.Service == "" {
		deps.Service = "guard"
	}
	if deps.Version == "" {
		deps.Version = "0.1.0"
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if deps.Ready != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := deps.Ready(ctx); err != nil {
				deps.Logger.Warn("readiness check failed", "error", err)
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})
	mux.HandleFunc("/v1/info", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"service": deps.Service,
			"version": deps.Version,
		})
	})
	if deps.Metrics != nil {
		mux.Handle("/metrics", deps.Metrics.Handler())
	}

	registerSessionHandlers(mux, deps)
	registerProfileHandlers(mux, deps)
	registerAdminHandlers(mux, deps)
	registerLinkHandlers(mux, deps)

	return mux
}

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeGuardError maps a guarded call failure onto a response. Guard errors
// get their own status codes; anything else came from the operation.
func writeGuardError(w http.ResponseWriter, err error) {
	var rl *guard.RateLimitError
	switch {
	case errors.As(err, &rl):
		setRetryAfter(w, rl.RetryAfter)
		writeError(w, http.StatusTooManyRequests, "too many attempts, try again later")
	case errors.Is(err, guard.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "too many attempts, try again later")
	case errors.Is(err, guard.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "please sign in")
	case errors.Is(err, guard.ErrForbidden):
		writeError(w, http.StatusForbidden, "you do not have access to this resource")
	default:
		writeError(w, http.StatusBadGateway, "request failed")
	}
}

func setRetryAfter(w http.ResponseWriter, d time.Duration) {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
}
