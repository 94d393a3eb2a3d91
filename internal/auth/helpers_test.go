// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MedAuth Contributors

package auth_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/medauth/medauth/internal/auth"
	"github.com/medauth/medauth/internal/auth/memory"
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

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
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

type sentReset struct {
	user  *auth.User
	token string
}

type captureNotifier struct {
	mu   sync.Mutex
	sent []sentReset
}

func (n *captureNotifier) NotifyPasswordReset(_ context.Context, user *auth.User, token string, _ time.Time) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentReset{user: user, token: token})
	return nil
}

func (n *captureNotifier) last(t *testing.T) sentReset {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	require.NotEmpty(t, n.sent, "no reset notification sent")
	return n.sent[len(n.sent)-1]
}

type harness struct {
	svc      *auth.Service
	creds    *auth.CredentialStore
	tokens   *auth.TokenService
	sessions *auth.SessionRegistry
	limiter  *auth.LoginLimiter
	notifier *captureNotifier
	clock    *fakeClock
	tx       auth.Transactor
}

type harnessOption func(*auth.SessionConfig)

func withMaxSessions(n int) harnessOption {
	return func(c *auth.SessionConfig) { c.MaxPerUser = n }
}

func cheapHasher() *auth.Argon2idHasher {
	return auth.NewArgon2idHasherWithParams(auth.HasherParams{Time: 1, Memory: 8, Threads: 1, SaltLen: 8, KeyLen: 16})
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	store := memory.NewStore()
	tx := memory.NewTransactor(store)
	users, patients, doctors, sessionRepo, resets := memory.Repositories(store)
	clock := newFakeClock()

	creds, err := auth.NewCredentialStore(auth.StoreDeps{
		Users: users, Patients: patients, Doctors: doctors, Tx: tx, Hasher: cheapHasher(),
	})
	require.NoError(t, err)
	creds.SetClock(clock.Now)

	sessCfg := auth.SessionConfig{TTL: auth.DefaultRefreshTTL}
	for _, o := range opts {
		o(&sessCfg)
	}
	sessions, err := auth.NewSessionRegistry(sessionRepo, tx, sessCfg)
	require.NoError(t, err)
	sessions.SetClock(clock.Now)

	tokens, err := auth.NewTokenService(auth.TokenConfig{Secret: []byte(testSecret)}, users, sessionRepo, tx)
	require.NoError(t, err)
	tokens.SetClock(clock.Now)

	limiter := auth.NewLoginLimiter(auth.LimiterConfig{}, nil)
	limiter.SetClock(clock.Now)
	t.Cleanup(limiter.Close)

	notifier := &captureNotifier{}
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

	return &harness{
		svc:      svc,
		creds:    creds,
		tokens:   tokens,
		sessions: sessions,
		limiter:  limiter,
		notifier: notifier,
		clock:    clock,
		tx:       tx,
	}
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

func (h *harness) login(t *testing.T, identifier, password, device string) *auth.TokenPair {
	t.Helper()
	pair, err := h.svc.Login(context.Background(), auth.LoginRequest{
		Identifier: identifier,
		Password:   password,
		UserAgent:  device,
		IPAddress:  "10.0.0.1",
	})
	require.NoError(t, err)
	return pair
}

func (h *harness) principal(t *testing.T, pair *auth.TokenPair) *auth.Principal {
	t.Helper()
	p, err := h.svc.Authenticate(context.Background(), pair.AccessToken)
	require.NoError(t, err)
	return p
}

func adminPrincipal(id int64) *auth.Principal {
	return &auth.Principal{UserID: id, Role: auth.RoleAdmin}
}

// counterValue returns the value of the counter family name whose single
// label equals label, or zero when it has not been incremented.
func counterValue(t *testing.T, reg *prometheus.Registry, name, label string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetValue() == label {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}
