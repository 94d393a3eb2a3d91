// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MedAuth Contributors

package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/medauth/medauth/internal/auth"
	"github.com/medauth/medauth/internal/auth/memory"
	"github.com/medauth/medauth/internal/observability"
	"github.com/medauth/medauth/internal/web"
)

const (
	testSecret   = "0123456789abcdef0123456789abcdef"
	goodPassword = "Clinic-Pass-2026!"
	newPassword  = "Ward-Rounds-9am?"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type captureNotifier struct {
	mu     sync.Mutex
	tokens map[string]string
}

func (n *captureNotifier) NotifyPasswordReset(_ context.Context, user *auth.User, token string, _ time.Time) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.tokens[user.Email] = token
	return nil
}

func (n *captureNotifier) tokenFor(email string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.tokens[email]
}

type harness struct {
	srv      *httptest.Server
	creds    *auth.CredentialStore
	clock    *fakeClock
	notifier *captureNotifier
	metrics  *observability.Metrics
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	store := memory.NewStore()
	tx := memory.NewTransactor(store)
	users, patients, doctors, sessionRepo, resets := memory.Repositories(store)
	clock := &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}

	creds, err := auth.NewCredentialStore(auth.StoreDeps{
		Users: users, Patients: patients, Doctors: doctors, Tx: tx,
		Hasher: auth.NewArgon2idHasherWithParams(auth.HasherParams{Time: 1, Memory: 8, Threads: 1, SaltLen: 8, KeyLen: 16}),
	})
	require.NoError(t, err)
	creds.SetClock(clock.Now)

	sessions, err := auth.NewSessionRegistry(sessionRepo, tx, auth.SessionConfig{TTL: auth.DefaultRefreshTTL})
	require.NoError(t, err)
	sessions.SetClock(clock.Now)

	tokens, err := auth.NewTokenService(auth.TokenConfig{Secret: []byte(testSecret)}, users, sessionRepo, tx)
	require.NoError(t, err)
	tokens.SetClock(clock.Now)

	limiter := auth.NewLoginLimiter(auth.LimiterConfig{LockoutThreshold: 3}, nil)
	limiter.SetClock(clock.Now)
	t.Cleanup(limiter.Close)

	notifier := &captureNotifier{tokens: map[string]string{}}
	svc, err := auth.NewService(auth.Deps{
		Credentials: creds,
		Tokens:      tokens,
		Sessions:    sessions,
		Resets:      resets,
		Notifier:    notifier,
		Limiter:     limiter,
		Tx:          tx,
	})
	require.NoError(t, err)
	svc.SetClock(clock.Now)

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	handler := web.NewServer(svc, web.Options{Metrics: metrics}).Handler()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return &harness{srv: srv, creds: creds, clock: clock, notifier: notifier, metrics: metrics}
}

type response struct {
	status int
	header http.Header
	body   []byte
}

func (r response) decode(t *testing.T, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(r.body, v), "body: %s", r.body)
}

type errorPayload struct {
	Code       string   `json:"code"`
	Message    string   `json:"message"`
	Violations []string `json:"violations"`
}

func (r response) apiError(t *testing.T) errorPayload {
	t.Helper()
	var e errorPayload
	r.decode(t, &e)
	return e
}

// do sends body (marshalled unless it is a string) with an optional bearer token.
func (h *harness) do(t *testing.T, method, path, token string, body any) response {
	t.Helper()

	var rdr io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rdr = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rdr = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(context.Background(), method, h.srv.URL+path, rdr)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "web-test")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := h.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return response{status: resp.StatusCode, header: resp.Header, body: raw}
}

func (h *harness) createUser(t *testing.T, username string, role auth.Role) *auth.User {
	t.Helper()
	u, err := h.creds.Create(context.Background(), auth.NewUser{
		Email:     username + "@hospital.test",
		Username:  username,
		FirstName: username,
		LastName:  "Tester",
		Role:      role,
		Password:  goodPassword,
	})
	require.NoError(t, err)
	return u
}

type tokens struct {
	AccessToken            string `json:"accessToken"`
	RefreshToken           string `json:"refreshToken"`
	TokenType              string `json:"tokenType"`
	SessionID              string `json:"sessionId"`
	PasswordChangeRequired bool   `json:"passwordChangeRequired"`
	User                   struct {
		ID       int64  `json:"id"`
		Username string `json:"username"`
	} `json:"user"`
}

func (h *harness) login(t *testing.T, identifier, password string) tokens {
	t.Helper()
	resp := h.do(t, http.MethodPost, "/api/login", "", map[string]string{
		"identifier": identifier,
		"password":   password,
	})
	require.Equal(t, http.StatusOK, resp.status, "body: %s", resp.body)
	var tk tokens
	resp.decode(t, &tk)
	return tk
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
