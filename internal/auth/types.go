package auth

import (
	"strings"
	"time"
)

type Role string

const (
	RoleAnonymous  Role = "anonymous"
	RoleUser       Role = "user"
	RoleSuperAdmin Role = "super_admin"
)

// ParseRole maps a stored role label onto a Role. Labels other than
// super_admin never grant elevation, so anything unrecognised is a plain user.
func ParseRole(s string) Role {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleSuperAdmin:
		return RoleSuperAdmin
	case RoleAnonymous:
		return RoleAnonymous
	default:
		return RoleUser
	}
}

type Status int

const (
	StatusResolving Status = iota
	StatusAnonymous
	StatusAuthenticated
	StatusAdmin
)

func (s Status) String() string {
	switch s {
	case StatusResolving:
		return "resolving"
	case StatusAnonymous:
		return "anonymous"
	case StatusAuthenticated:
		return "authenticated"
	case StatusAdmin:
		return "admin"
	default:
		return "unknown"
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Session is issued by an external identity provider. Only UserID is used for
// authorization; role data is always re-read from a RoleStore.
type Session struct {
	UserID      string
	AccessToken string
	Email       string
	ExpiresAt   time.Time
}

// Expired reports whether the session carries an expiry that has passed.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

type Identity struct {
	UserID  string `json:"user_id,omitempty"`
	Role    Role   `json:"role"`
	Status  Status `json:"status"`
	Loading bool   `json:"loading"`
}
