// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MedAuth Contributors

package memory

import (
	"context"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/medauth/medauth/internal/auth"
)

// SessionRepository implements auth.SessionRepository.
type SessionRepository struct {
	s *Store
}

// Create stores a session.
func (r *SessionRepository) Create(ctx context.Context, sess *auth.Session) error {
	defer r.s.lock(ctx)()

	if _, ok := r.s.users[sess.UserID]; !ok {
		return oops.Code("SESSION_CREATE_FAILED").With("user_id", sess.UserID).Wrap(auth.ErrNotFound)
	}
	c := *sess
	r.s.sessions[sess.ID] = &c
	return nil
}

// Get returns a session by ID.
func (r *SessionRepository) Get(ctx context.Context, id ulid.ULID) (*auth.Session, error) {
	defer r.s.lock(ctx)()
	return r.getLocked(id)
}

// GetForUpdate is Get; the store is already exclusive inside a transaction.
func (r *SessionRepository) GetForUpdate(ctx context.Context, id ulid.ULID) (*auth.Session, error) {
	defer r.s.lock(ctx)()
	return r.getLocked(id)
}

func (r *SessionRepository) getLocked(id ulid.ULID) (*auth.Session, error) {
	sess, ok := r.s.sessions[id]
	if !ok {
		return nil, oops.Code("SESSION_NOT_FOUND").With("session_id", id.String()).Wrap(auth.ErrNotFound)
	}
	c := *sess
	return &c, nil
}

// ListByUser returns unexpired sessions, most recent activity first.
func (r *SessionRepository) ListByUser(ctx context.Context, userID int64, now time.Time) ([]*auth.Session, error) {
	defer r.s.lock(ctx)()

	var out []*auth.Session
	for _, sess := range r.s.sessions {
		if sess.UserID == userID && !sess.IsExpiredAt(now) {
			c := *sess
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastActivity.Equal(out[j].LastActivity) {
			return out[i].ID.Compare(out[j].ID) > 0
		}
		return out[i].LastActivity.After(out[j].LastActivity)
	})
	return out, nil
}

// Touch updates last activity of an unexpired session.
func (r *SessionRepository) Touch(ctx context.Context, id ulid.ULID, at time.Time) error {
	defer r.s.lock(ctx)()

	sess, ok := r.s.sessions[id]
	if !ok || sess.IsExpiredAt(at) {
		return oops.Code("SESSION_NOT_FOUND").With("session_id", id.String()).Wrap(auth.ErrNotFound)
	}
	sess.LastActivity = at
	return nil
}

// Rotate replaces the refresh identifier and extends the session.
func (r *SessionRepository) Rotate(ctx context.Context, id ulid.ULID, refreshID string, lastActivity, expiresAt time.Time) error {
	defer r.s.lock(ctx)()

	sess, ok := r.s.sessions[id]
	if !ok {
		return oops.Code("SESSION_NOT_FOUND").With("session_id", id.String()).Wrap(auth.ErrNotFound)
	}
	sess.RefreshID = refreshID
	sess.LastActivity = lastActivity
	sess.ExpiresAt = expiresAt
	return nil
}

// Delete removes a session.
func (r *SessionRepository) Delete(ctx context.Context, id ulid.ULID) (int64, error) {
	defer r.s.lock(ctx)()

	if _, ok := r.s.sessions[id]; !ok {
		return 0, nil
	}
	delete(r.s.sessions, id)
	return 1, nil
}

// DeleteForUser removes a session owned by userID.
func (r *SessionRepository) DeleteForUser(ctx context.Context, userID int64, id ulid.ULID) (int64, error) {
	defer r.s.lock(ctx)()

	sess, ok := r.s.sessions[id]
	if !ok || sess.UserID != userID {
		return 0, nil
	}
	delete(r.s.sessions, id)
	return 1, nil
}

// DeleteByUser removes all sessions of userID.
func (r *SessionRepository) DeleteByUser(ctx context.Context, userID int64) (int64, error) {
	defer r.s.lock(ctx)()

	var n int64
	for id, sess := range r.s.sessions {
		if sess.UserID == userID {
			delete(r.s.sessions, id)
			n++
		}
	}
	return n, nil
}

// DeleteExpired removes sessions expired at now.
func (r *SessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	defer r.s.lock(ctx)()

	var n int64
	for id, sess := range r.s.sessions {
		if sess.IsExpiredAt(now) {
			delete(r.s.sessions, id)
			n++
		}
	}
	return n, nil
}

var _ auth.SessionRepository = (*SessionRepository)(nil)
