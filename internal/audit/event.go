package audit

import (
	"fmt"
	"strings"
	"time"
)

type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

func ParseRiskLevel(s string) (RiskLevel, error) {
	switch r := RiskLevel(strings.ToLower(strings.TrimSpace(s))); r {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return r, nil
	default:
		return "", fmt.Errorf("unknown risk level %q", s)
	}
}

// Valid reports whether r is one of the four declared levels.
func (r RiskLevel) Valid() bool {
	_, err := ParseRiskLevel(string(r))
	return err == nil
}

// Rank orders levels from low (1) to critical (4); unknown levels rank 0.
func (r RiskLevel) Rank() int {
	switch r {
	case RiskLow:
		return 1
	case RiskMedium:
		return 2
	case RiskHigh:
		return 3
	case RiskCritical:
		return 4
	default:
		return 0
	}
}

// Well-known event types.
const (
	EventUnauthorizedAccess      = "unauthorized_access_attempt"
	EventUnauthorizedAdminAccess = "unauthorized_admin_access_attempt"
	EventAdminAccess             = "admin_access"
	EventRoleLookupFailed        = "role_lookup_failed"
	EventRateLimitExceeded       = "rate_limit_exceeded"
	EventAPICallError            = "api_call_error"
	EventSessionStarted          = "session_started"
	EventSessionEnded            = "session_ended"
	EventSessionRejected         = "session_rejected"
	EventUnsafeLinkRejected      = "unsafe_link_rejected"
)

// ClientContext identifies the process that observed the event.
type ClientContext struct {
	Service string `json:"service"`
	Version string `json:"version,omitempty"`
	Host    string `json:"host,omitempty"`
}

// Event is an immutable security record. Details are sanitized before the
// event is built and must not be modified afterwards.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"event_type"`
	Details   map[string]any `json:"details"`
	Risk      RiskLevel      `json:"risk_level"`
	Timestamp time.Time      `json:"timestamp"`
	Client    ClientContext  `json:"client"`
}
