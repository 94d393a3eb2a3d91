// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MedAuth Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Session is one active login on one device.
type Session struct {
	ID           ulid.ULID
	UserID       int64
	RefreshID    string
	UserAgent    string
	IPAddress    string
	CreatedAt    time.Time
	LastActivity time.Time
	ExpiresAt    time.Time
}

// IsExpiredAt reports whether the session is expired at t.
func (s *Session) IsExpiredAt(t time.Time) bool {
	return !t.Before(s.ExpiresAt)
}

// SessionRepository manages session persistence. Revoked sessions are
// deleted outright.
type SessionRepository interface {
	// Create stores a new session.
	Create(ctx context.Context, s *Session) error

	// Get retrieves a session by ID.
	Get(ctx context.Context, id ulid.ULID) (*Session, error)

	// GetForUpdate retrieves a session and locks it until the surrounding
	// transaction ends.
	GetForUpdate(ctx context.Context, id ulid.ULID) (*Session, error)

	// ListByUser returns the user's sessions that are unexpired at now,
	// most recent activity first.
	ListByUser(ctx context.Context, userID int64, now time.Time) ([]*Session, error)

	// Touch sets last_activity. Returns ErrNotFound if the session is gone
	// or expired at the given time.
	Touch(ctx context.Context, id ulid.ULID, at time.Time) error

	// Rotate replaces the refresh identifier and extends the session.
	Rotate(ctx context.Context, id ulid.ULID, refreshID string, lastActivity, expiresAt time.Time) error

	// Delete removes a session. Returns the number of rows removed.
	Delete(ctx context.Context, id ulid.ULID) (int64, error)

	// DeleteForUser removes a session only if it belongs to userID.
	DeleteForUser(ctx context.Context, userID int64, id ulid.ULID) (int64, error)

	// DeleteByUser removes every session of a user.
	DeleteByUser(ctx context.Context, userID int64) (int64, error)

	// DeleteExpired removes sessions expired before now.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// SessionConfig configures the SessionRegistry.
type SessionConfig struct {
	// TTL is the refresh window; a session expires TTL after its last refresh.
	TTL time.Duration
	// MaxPerUser caps live sessions per user. Zero means unlimited.
	MaxPerUser int
}

// DefaultSessionTTL matches the refresh token lifetime.
const DefaultSessionTTL = 7 * 24 * time.Hour

// SessionRegistry tracks active logins and revokes them.
type SessionRegistry struct {
	repo    SessionRepository
	tx      Transactor
	cfg     SessionConfig
	now     Clock
	metrics *Metrics
}

// NewSessionRegistry creates a SessionRegistry.
func NewSessionRegistry(repo SessionRepository, tx Transactor, cfg SessionConfig) (*SessionRegistry, error) {
	if repo == nil {
		return nil, oops.Code("SESSION_REGISTRY_INVALID").Errorf("session repository is required")
	}
	if tx == nil {
		return nil, oops.Code("SESSION_REGISTRY_INVALID").Errorf("transactor is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultSessionTTL
	}
	if cfg.MaxPerUser < 0 {
		cfg.MaxPerUser = 0
	}
	return &SessionRegistry{repo: repo, tx: tx, cfg: cfg, now: systemClock}, nil
}

// SetClock replaces the registry's time source.
func (r *SessionRegistry) SetClock(c Clock) { r.now = c }

// SetMetrics attaches counters for revocations.
func (r *SessionRegistry) SetMetrics(m *Metrics) { r.metrics = m }

// Open records a new login. When MaxPerUser is reached the least recently
// active sessions are evicted to make room.
func (r *SessionRegistry) Open(ctx context.Context, userID int64, userAgent, ipAddress string) (*Session, error) {
	if userID <= 0 {
		return nil, oops.Code("SESSION_INVALID_USER").With("user_id", userID).
			Wrap(NewValidationError("invalid session owner", "user ID must be positive"))
	}

	now := r.now()
	s := &Session{
		ID:           ulid.Make(),
		UserID:       userID,
		RefreshID:    uuid.NewString(),
		UserAgent:    userAgent,
		IPAddress:    ipAddress,
		CreatedAt:    now,
		LastActivity: now,
		ExpiresAt:    now.Add(r.cfg.TTL),
	}

	err := r.tx.InTransaction(ctx, func(ctx context.Context) error {
		if r.cfg.MaxPerUser > 0 {
			live, err := r.repo.ListByUser(ctx, userID, now)
			if err != nil {
				return err
			}
			for i := r.cfg.MaxPerUser - 1; i < len(live); i++ {
				if _, err := r.repo.Delete(ctx, live[i].ID); err != nil {
					return err
				}
				r.metrics.revoked("evicted", 1)
			}
		}
		return r.repo.Create(ctx, s)
	})
	if err != nil {
		return nil, oops.Code("SESSION_OPEN_FAILED").With("user_id", userID).Wrap(err)
	}
	return s, nil
}

// List returns the user's live sessions, most recent activity first.
func (r *SessionRegistry) List(ctx context.Context, userID int64) ([]*Session, error) {
	sessions, err := r.repo.ListByUser(ctx, userID, r.now())
	if err != nil {
		return nil, oops.Code("SESSION_LIST_FAILED").With("user_id", userID).Wrap(err)
	}
	return sessions, nil
}

// Touch records activity on a session. Returns ErrNotFound once revoked.
func (r *SessionRegistry) Touch(ctx context.Context, id ulid.ULID) error {
	if err := r.repo.Touch(ctx, id, r.now()); err != nil {
		if errors.Is(err, ErrNotFound) {
			return oops.Code("SESSION_NOT_FOUND").With("session_id", id.String()).Wrap(err)
		}
		return oops.Code("SESSION_TOUCH_FAILED").With("session_id", id.String()).Wrap(err)
	}
	return nil
}

// Revoke deletes a session. Revoking an unknown session is not an error.
func (r *SessionRegistry) Revoke(ctx context.Context, id ulid.ULID) error {
	n, err := r.repo.Delete(ctx, id)
	if err != nil {
		return oops.Code("SESSION_REVOKE_FAILED").With("session_id", id.String()).Wrap(err)
	}
	r.metrics.revoked("single", n)
	return nil
}

// RevokeForUser deletes one of the user's own sessions.
func (r *SessionRegistry) RevokeForUser(ctx context.Context, userID int64, id ulid.ULID) error {
	n, err := r.repo.DeleteForUser(ctx, userID, id)
	if err != nil {
		return oops.Code("SESSION_REVOKE_FAILED").
			With("user_id", userID).
			With("session_id", id.String()).
			Wrap(err)
	}
	r.metrics.revoked("single", n)
	return nil
}

// RevokeAll deletes every session of the user and returns how many existed.
func (r *SessionRegistry) RevokeAll(ctx context.Context, userID int64) (int64, error) {
	n, err := r.repo.DeleteByUser(ctx, userID)
	if err != nil {
		return 0, oops.Code("SESSION_REVOKE_ALL_FAILED").With("user_id", userID).Wrap(err)
	}
	r.metrics.revoked("all", n)
	return n, nil
}

// PurgeExpired deletes expired sessions.
func (r *SessionRegistry) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := r.repo.DeleteExpired(ctx, r.now())
	if err != nil {
		return 0, oops.Code("SESSION_PURGE_FAILED").Wrap(err)
	}
	r.metrics.revoked("expired", n)
	return n, nil
}

// RunJanitor purges expired sessions every interval until ctx is done.
func (r *SessionRegistry) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := r.PurgeExpired(ctx)
			if err != nil {
				if ctx.Err() == nil {
					slog.ErrorContext(ctx, "session purge failed", "error", err)
				}
				continue
			}
			if n > 0 {
				slog.DebugContext(ctx, "purged expired sessions", "count", n)
			}
		}
	}
}
