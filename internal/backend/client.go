// Package backend talks to the remote profile service. It validates access
// tokens and is the authoritative source of roles when no database is
// configured.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"imprintr/guard/internal/auth"
)

const maxErrorBody = 4 << 10

type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("backend %s %s: status %d", e.Method, e.Path, e.Code)
	}
	return fmt.Sprintf("backend %s %s: status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

type Profile struct {
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
	Bio         string `json:"bio"`
	Website     string `json:"website,omitempty"`
}

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, timeout time.Duration) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("backend url must be absolute: %q", baseURL)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{baseURL: baseURL, httpClient: &http.Client{Timeout: timeout}}, nil
}

// LookupRole implements auth.RoleStore.
func (c *Client) LookupRole(ctx context.Context, userID string) (auth.Role, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", auth.ErrUserIDRequired
	}
	var out struct {
		Role string `json:"role"`
	}
	path := "/v1/users/" + url.PathEscape(userID) + "/role"
	if err := c.do(ctx, http.MethodGet, path, "", nil, &out); err != nil {
		return "", err
	}
	return auth.ParseRole(out.Role), nil
}

// ResolveSession implements auth.SessionResolver. A token the backend refuses
// is reported as auth.ErrInvalidSession.
func (c *Client) ResolveSession(ctx context.Context, accessToken string) (auth.Session, error) {
	token := strings.TrimSpace(accessToken)
	if token == "" {
		return auth.Session{}, auth.ErrInvalidSession
	}
	var out struct {
		UserID    string    `json:"user_id"`
		Email     string    `json:"email"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/session", token, nil, &out); err != nil {
		if isAuthRejection(err) {
			return auth.Session{}, auth.ErrInvalidSession
		}
		return auth.Session{}, err
	}
	userID := strings.TrimSpace(out.UserID)
	if userID == "" {
		return auth.Session{}, auth.ErrInvalidSession
	}
	return auth.Session{UserID: userID, AccessToken: token, Email: out.Email, ExpiresAt: out.ExpiresAt}, nil
}

// RevokeSession implements auth.SessionRevoker. Revoking a token the backend
// no longer accepts is not an error.
func (c *Client) RevokeSession(ctx context.Context, accessToken string) error {
	err := c.do(ctx, http.MethodDelete, "/v1/session", strings.TrimSpace(accessToken), nil, nil)
	if err != nil && !isAuthRejection(err) {
		return err
	}
	return nil
}

func isAuthRejection(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && (se.Code == http.StatusUnauthorized || se.Code == http.StatusForbidden)
}

func (c *Client) UpdateProfile(ctx context.Context, accessToken string, p Profile) (Profile, error) {
	var out Profile
	if err := c.do(ctx, http.MethodPut, "/v1/profile", accessToken, p, &out); err != nil {
		return Profile{}, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path, token string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build backend request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("backend %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode backend response: %w", err)
	}
	return nil
}
