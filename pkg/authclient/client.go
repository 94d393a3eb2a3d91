// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MedAuth Contributors

// Package authclient is a Go client for the MedAuth HTTP API. It keeps the
// current token pair, refreshes it ahead of expiry, and lets concurrent
// callers share a single in-flight refresh.
package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/samber/oops"
	"golang.org/x/sync/singleflight"
)

// DefaultRefreshSkew is how long before access-token expiry a refresh is
// started.
const DefaultRefreshSkew = time.Minute

// ErrNotLoggedIn is returned when an operation needs tokens the client
// does not hold.
var ErrNotLoggedIn = errors.New("not logged in")

// Tokens is the pair handed out by login and refresh.
type Tokens struct {
	AccessToken            string    `json:"accessToken"`
	RefreshToken           string    `json:"refreshToken"`
	ExpiresAt              time.Time `json:"expiresAt"`
	RefreshExpiresAt       time.Time `json:"refreshExpiresAt"`
	SessionID              string    `json:"sessionId"`
	PasswordChangeRequired bool      `json:"passwordChangeRequired"`
}

// User is an account as returned by the API.
type User struct {
	ID                     int64           `json:"id"`
	Email                  string          `json:"email"`
	Username               string          `json:"username"`
	FirstName              string          `json:"firstName"`
	LastName               string          `json:"lastName"`
	Role                   string          `json:"role"`
	PasswordChangeRequired bool            `json:"passwordChangeRequired"`
	EmailPreferences       map[string]bool `json:"emailPreferences"`
	CreatedAt              time.Time       `json:"createdAt"`
	UpdatedAt              time.Time       `json:"updatedAt"`
	DeletedAt              *time.Time      `json:"deletedAt,omitempty"`
}

// Session is one login of the current user.
type Session struct {
	ID           string    `json:"id"`
	UserAgent    string    `json:"userAgent"`
	IPAddress    string    `json:"ipAddress"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
	ExpiresAt    time.Time `json:"expiresAt"`
	Current      bool      `json:"current"`
}

// PasswordPolicy is the published password policy.
type PasswordPolicy struct {
	Rules             []string `json:"rules"`
	MinLength         int      `json:"minLength"`
	SpecialCharacters string   `json:"specialCharacters"`
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRefreshSkew sets how early before expiry tokens are refreshed.
func WithRefreshSkew(d time.Duration) Option {
	return func(c *Client) { c.skew = d }
}

// WithClock replaces the time source used to judge token expiry.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// WithLogger sets the logger used by the background refresher.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithUserAgent sets the User-Agent header, which the server records on
// the session.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// Client talks to one MedAuth server. It is safe for concurrent use.
type Client struct {
	baseURL   string
	http      *http.Client
	skew      time.Duration
	now       func() time.Time
	logger    *slog.Logger
	userAgent string

	mu     sync.RWMutex
	tokens *Tokens

	refreshes singleflight.Group
}

// New creates a Client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		http:      &http.Client{Timeout: 30 * time.Second},
		skew:      DefaultRefreshSkew,
		now:       time.Now,
		userAgent: "medauth-go-client",
	}
	for _, o := range opts {
		o(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// Tokens returns a copy of the held token pair.
func (c *Client) Tokens() (Tokens, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.tokens == nil {
		return Tokens{}, false
	}
	return *c.tokens, true
}

// SetTokens installs a token pair obtained elsewhere.
func (c *Client) SetTokens(t Tokens) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens = &t
}

func (c *Client) clearTokens() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens = nil
}

// needsRefresh reports whether the access token expires within the skew.
func (c *Client) needsRefresh() bool {
	t, ok := c.Tokens()
	return ok && !c.now().Add(c.skew).Before(t.ExpiresAt)
}

// Login exchanges credentials for a token pair and keeps it.
func (c *Client) Login(ctx context.Context, identifier, password string) (*Tokens, error) {
	var t Tokens
	err := c.send(ctx, http.MethodPost, "/api/login", "", map[string]string{
		"identifier": identifier,
		"password":   password,
	}, &t)
	if err != nil {
		return nil, err
	}
	c.SetTokens(t)
	return &t, nil
}

// Logout ends the current session and forgets the tokens.
func (c *Client) Logout(ctx context.Context) error {
	token, err := c.AccessToken(ctx)
	if err != nil {
		return err
	}
	err = c.send(ctx, http.MethodPost, "/api/logout", token, nil, nil)
	c.clearTokens()
	return err
}

// AccessToken returns a usable access token, refreshing first when the
// current one is close to expiry.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	if c.needsRefresh() {
		if _, err := c.Refresh(ctx); err != nil {
			return "", err
		}
	}
	t, ok := c.Tokens()
	if !ok {
		return "", ErrNotLoggedIn
	}
	return t.AccessToken, nil
}

// Refresh rotates the refresh token. Concurrent callers share one
// request; each waits for it or for its own ctx.
func (c *Client) Refresh(ctx context.Context) (*Tokens, error) {
	ch := c.refreshes.DoChan("refresh", func() (any, error) {
		// The shared call must outlive any single waiter.
		return c.rotate(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		t := res.Val.(Tokens)
		return &t, nil
	}
}

func (c *Client) rotate(ctx context.Context) (Tokens, error) {
	current, ok := c.Tokens()
	if !ok {
		return Tokens{}, ErrNotLoggedIn
	}

	var next Tokens
	err := c.send(ctx, http.MethodPost, "/api/refresh", "", map[string]string{
		"refreshToken": current.RefreshToken,
	}, &next)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
			// The session is gone; the pair can never be used again.
			c.clearTokens()
		}
		return Tokens{}, err
	}
	c.SetTokens(next)
	return next, nil
}

// Do performs an authenticated request, decoding a JSON response into out
// when it is non-nil. A 401 triggers one refresh and retry.
func (c *Client) Do(ctx context.Context, method, path string, in, out any) error {
	token, err := c.AccessToken(ctx)
	if err != nil {
		return err
	}
	err = c.send(ctx, method, path, token, in, out)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized {
		return err
	}

	if _, rerr := c.Refresh(ctx); rerr != nil {
		return err
	}
	token, terr := c.AccessToken(ctx)
	if terr != nil {
		return terr
	}
	return c.send(ctx, method, path, token, in, out)
}

// Me returns the logged-in account.
func (c *Client) Me(ctx context.Context) (*User, error) {
	var u User
	if err := c.Do(ctx, http.MethodGet, "/api/me", nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// Sessions lists the account's live sessions.
func (c *Client) Sessions(ctx context.Context) ([]Session, error) {
	var out []Session
	if err := c.Do(ctx, http.MethodGet, "/api/sessions", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ChangePassword changes the password. The server ends every session, so
// the client forgets its tokens on success.
func (c *Client) ChangePassword(ctx context.Context, current, next string) error {
	err := c.Do(ctx, http.MethodPost, "/api/change-password", map[string]string{
		"currentPassword": current,
		"newPassword":     next,
	}, nil)
	if err == nil {
		c.clearTokens()
	}
	return err
}

// PasswordPolicy fetches the published password rules.
func (c *Client) PasswordPolicy(ctx context.Context) (*PasswordPolicy, error) {
	var p PasswordPolicy
	if err := c.send(ctx, http.MethodGet, "/api/password-policy", "", nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// send performs one HTTP round trip.
func (c *Client) send(ctx context.Context, method, path, token string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return oops.Code("CLIENT_ENCODE_FAILED").With("path", path).Wrap(err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return oops.Code("CLIENT_REQUEST_INVALID").With("path", path).Wrap(err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return oops.Code("CLIENT_REQUEST_FAILED").With("method", method).With("path", path).Wrap(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeAPIError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return oops.Code("CLIENT_DECODE_FAILED").With("path", path).Wrap(err)
	}
	return nil
}
