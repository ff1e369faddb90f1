package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"imprintr/guard/internal/audit"
	"imprintr/guard/internal/auth"
	"imprintr/guard/internal/backend"
	"imprintr/guard/internal/guard"
	"imprintr/guard/internal/sanitize"
)

const (
	defaultEventLimit = 100
	maxEventLimit     = 500
	maxBodyBytes      = 64 << 10
)

var profileForm = sanitize.Form{
	{Name: "display_name", Policy: sanitize.PolicyText, MaxLength: 80},
	{Name: "email", Policy: sanitize.PolicyEmail},
	{Name: "bio", Policy: sanitize.PolicyHTML},
	{Name: "website", Policy: sanitize.PolicyNone},
}

func registerSessionHandlers(mux *http.ServeMux, deps Deps) {
	mux.HandleFunc("/v1/session", func(w http.ResponseWriter, r *http.Request) {
		if deps.Auth == nil || deps.Guard == nil {
			writeError(w, http.StatusServiceUnavailable, "session service unavailable")
			return
		}
		switch r.Method {
		case http.MethodPost:
			startSession(w, r, deps)
		case http.MethodDelete:
			endSession(w, r, deps)
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	})

	mux.HandleFunc("/v1/auth/status", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if deps.Auth == nil {
			writeError(w, http.StatusServiceUnavailable, "auth service unavailable")
			return
		}
		writeJSON(w, http.StatusOK, callerFor(r, deps).Identity())
	})
}

// startSession checks a token issued by the identity provider and reports who
// it belongs to. Attempts are limited per client address, so guessing tokens
// is throttled like guessing passwords.
func startSession(w http.ResponseWriter, r *http.Request, deps Deps) {
	ip := clientIP(r)
	key := "session:" + ip
	if err := deps.Guard.Limit(r.Context(), guard.WithRateLimitKey(key)); err != nil {
		writeGuardError(w, err)
		return
	}

	token := bearerToken(r)
	if token == "" {
		var req struct {
			AccessToken string `json:"access_token"`
		}
		err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req)
		if err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		token = strings.TrimSpace(req.AccessToken)
	}
	if token == "" {
		writeError(w, http.StatusBadRequest, "access_token is required")
		return
	}

	caller := deps.Auth.Authenticate(r.Context(), token)
	if !caller.RequireAuth() {
		writeGuardError(w, guard.ErrUnauthorized)
		return
	}
	deps.Guard.ResetLimit(key)
	id := caller.Identity()
	emit(deps.Events, audit.EventSessionStarted, map[string]any{
		"user_id":    id.UserID,
		"ip":         ip,
		"request_id": requestIDFromContext(r.Context()),
	}, audit.RiskLow)
	writeJSON(w, http.StatusOK, id)
}

func endSession(w http.ResponseWriter, r *http.Request, deps Deps) {
	caller := callerFor(r, deps)
	if !caller.RequireAuth() {
		writeGuardError(w, guard.ErrUnauthorized)
		return
	}
	if deps.Revoker != nil {
		if err := deps.Revoker.RevokeSession(r.Context(), caller.AccessToken()); err != nil {
			deps.Logger.Warn("session revoke failed", "error", err)
			writeError(w, http.StatusBadGateway, "could not end session")
			return
		}
	}
	emit(deps.Events, audit.EventSessionEnded, map[string]any{
		"user_id":    caller.Identity().UserID,
		"ip":         clientIP(r),
		"request_id": requestIDFromContext(r.Context()),
	}, audit.RiskLow)
	w.WriteHeader(http.StatusNoContent)
}

func registerProfileHandlers(mux *http.ServeMux, deps Deps) {
	mux.HandleFunc("/v1/profile", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if deps.Guard == nil || deps.Auth == nil || deps.Profiles == nil {
			writeError(w, http.StatusServiceUnavailable, "profile service unavailable")
			return
		}

		var raw map[string]string
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&raw); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		values := profileForm.Apply(raw)
		website := strings.TrimSpace(values["website"])
		if website != "" && !sanitize.IsSafeURL(website) {
			emit(deps.Events, audit.EventUnsafeLinkRejected, map[string]any{
				"field": "website",
				"value": website,
			}, audit.RiskLow)
			writeError(w, http.StatusBadRequest, "website must be an http, https or mailto link")
			return
		}

		caller := callerFor(r, deps)
		key := "profile:" + clientIP(r)
		if id := caller.Identity(); id.UserID != "" {
			key = "profile:" + id.UserID
		}
		token := caller.AccessToken()
		profile := backend.Profile{
			DisplayName: values["display_name"],
			Email:       values["email"],
			Bio:         values["bio"],
			Website:     website,
		}
		saved, err := guard.Call(r.Context(), deps.Guard, func(ctx context.Context) (backend.Profile, error) {
			return deps.Profiles.UpdateProfile(ctx, token, profile)
		}, guard.WithAuthorizer(caller), guard.WithRateLimitKey(key), guard.WithScope("profile"))
		if err != nil {
			writeGuardError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, saved)
	})
}

func registerAdminHandlers(mux *http.ServeMux, deps Deps) {
	mux.HandleFunc("/v1/admin/events", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if deps.Guard == nil || deps.Auth == nil || deps.Events == nil {
			writeError(w, http.StatusServiceUnavailable, "admin service unavailable")
			return
		}

		q := r.URL.Query()
		limit := defaultEventLimit
		if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				writeError(w, http.StatusBadRequest, "limit must be a positive integer")
				return
			}
			limit = min(n, maxEventLimit)
		}
		var minRisk audit.RiskLevel
		if raw := strings.TrimSpace(q.Get("min_risk")); raw != "" {
			rl, err := audit.ParseRiskLevel(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "min_risk must be low, medium, high or critical")
				return
			}
			minRisk = rl
		}
		eventType := sanitize.FormInput(q.Get("type"), 64)

		events, err := guard.AdminCall(r.Context(), deps.Guard, func(context.Context) ([]audit.Event, error) {
			out := deps.Events.Filter(eventType, minRisk)
			if len(out) > limit {
				out = out[len(out)-limit:]
			}
			return out, nil
		}, guard.WithAuthorizer(callerFor(r, deps)), guard.WithScope("admin.events"))
		if err != nil {
			writeGuardError(w, err)
			return
		}
		if events == nil {
			events = []audit.Event{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"events": events})
	})
}

// registerLinkHandlers renders user-supplied links: safe ones as links,
// anything else as inert text.
func registerLinkHandlers(mux *http.ServeMux, deps Deps) {
	mux.HandleFunc("/v1/links/preview", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		raw := r.URL.Query().Get("url")
		if raw == "" {
			writeError(w, http.StatusBadRequest, "url is required")
			return
		}
		text := sanitize.Text(raw)
		if sanitize.IsSafeURL(raw) {
			writeJSON(w, http.StatusOK, map[string]any{"safe": true, "href": raw, "text": text})
			return
		}
		emit(deps.Events, audit.EventUnsafeLinkRejected, map[string]any{
			"field": "url",
			"value": raw,
		}, audit.RiskLow)
		writeJSON(w, http.StatusOK, map[string]any{"safe": false, "text": text})
	})
}

// callerFor authenticates the request's own bearer token. Requests never
// inherit another client's session.
func callerFor(r *http.Request, deps Deps) *auth.Caller {
	return deps.Auth.Authenticate(r.Context(), bearerToken(r))
}

func bearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) < len("Bearer ") || !strings.EqualFold(h[:len("Bearer ")], "Bearer ") {
		return ""
	}
	return strings.TrimSpace(h[len("Bearer "):])
}

func emit(e audit.Emitter, eventType string, details map[string]any, risk audit.RiskLevel) {
	if e == nil {
		return
	}
	e.Emit(eventType, details, risk)
}
