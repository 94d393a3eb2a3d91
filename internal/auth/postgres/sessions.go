// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MedAuth Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/medauth/medauth/internal/auth"
)

const sessionColumns = `id, user_id, refresh_id, user_agent, ip_address, created_at, last_activity, expires_at`

// SessionRepository implements auth.SessionRepository using PostgreSQL.
type SessionRepository struct {
	db DB
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(db DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create stores a new session.
func (r *SessionRepository) Create(ctx context.Context, sess *auth.Session) error {
	_, err := conn(ctx, r.db).Exec(ctx, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		sess.ID.String(), sess.UserID, sess.RefreshID, sess.UserAgent, sess.IPAddress,
		sess.CreatedAt, sess.LastActivity, sess.ExpiresAt,
	)
	if err != nil {
		if cerr := conflictError(err); cerr != nil {
			return oops.Code("SESSION_CREATE_FAILED").With("user_id", sess.UserID).Wrap(cerr)
		}
		return oops.Code("SESSION_CREATE_FAILED").
			With("operation", "insert session").
			With("user_id", sess.UserID).
			Wrap(err)
	}
	return nil
}

// Get retrieves a session by ID.
func (r *SessionRepository) Get(ctx context.Context, id ulid.ULID) (*auth.Session, error) {
	return r.get(ctx, id, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`)
}

// GetForUpdate retrieves a session and holds a row lock until the
// surrounding transaction ends.
func (r *SessionRepository) GetForUpdate(ctx context.Context, id ulid.ULID) (*auth.Session, error) {
	return r.get(ctx, id, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1 FOR UPDATE`)
}

func (r *SessionRepository) get(ctx context.Context, id ulid.ULID, query string) (*auth.Session, error) {
	sess, err := scanSession(conn(ctx, r.db).QueryRow(ctx, query, id.String()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("SESSION_NOT_FOUND").With("session_id", id.String()).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("SESSION_GET_FAILED").With("session_id", id.String()).Wrap(err)
	}
	return sess, nil
}

// ListByUser returns sessions unexpired at now, most recent activity first.
func (r *SessionRepository) ListByUser(ctx context.Context, userID int64, now time.Time) ([]*auth.Session, error) {
	rows, err := conn(ctx, r.db).Query(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE user_id = $1 AND expires_at > $2
		ORDER BY last_activity DESC, id DESC
	`, userID, now)
	if err != nil {
		return nil, oops.Code("SESSION_LIST_FAILED").With("user_id", userID).Wrap(err)
	}
	defer rows.Close()

	var out []*auth.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, oops.Code("SESSION_LIST_FAILED").With("operation", "scan session").Wrap(err)
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("SESSION_LIST_FAILED").With("operation", "iterate sessions").Wrap(err)
	}
	return out, nil
}

// Touch sets last_activity on a session unexpired at at.
func (r *SessionRepository) Touch(ctx context.Context, id ulid.ULID, at time.Time) error {
	tag, err := conn(ctx, r.db).Exec(ctx, `
		UPDATE sessions SET last_activity = $2
		WHERE id = $1 AND expires_at > $2
	`, id.String(), at)
	if err != nil {
		return oops.Code("SESSION_TOUCH_FAILED").With("session_id", id.String()).Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("SESSION_NOT_FOUND").With("session_id", id.String()).Wrap(auth.ErrNotFound)
	}
	return nil
}

// Rotate replaces the refresh identifier and extends the session.
func (r *SessionRepository) Rotate(ctx context.Context, id ulid.ULID, refreshID string, lastActivity, expiresAt time.Time) error {
	tag, err := conn(ctx, r.db).Exec(ctx, `
		UPDATE sessions SET refresh_id = $2, last_activity = $3, expires_at = $4
		WHERE id = $1
	`, id.String(), refreshID, lastActivity, expiresAt)
	if err != nil {
		return oops.Code("SESSION_ROTATE_FAILED").With("session_id", id.String()).Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("SESSION_NOT_FOUND").With("session_id", id.String()).Wrap(auth.ErrNotFound)
	}
	return nil
}

// Delete removes a session.
func (r *SessionRepository) Delete(ctx context.Context, id ulid.ULID) (int64, error) {
	tag, err := conn(ctx, r.db).Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id.String())
	if err != nil {
		return 0, oops.Code("SESSION_DELETE_FAILED").With("session_id", id.String()).Wrap(err)
	}
	return tag.RowsAffected(), nil
}

// DeleteForUser removes a session only if userID owns it.
func (r *SessionRepository) DeleteForUser(ctx context.Context, userID int64, id ulid.ULID) (int64, error) {
	tag, err := conn(ctx, r.db).Exec(ctx,
		`DELETE FROM sessions WHERE id = $1 AND user_id = $2`, id.String(), userID)
	if err != nil {
		return 0, oops.Code("SESSION_DELETE_FAILED").
			With("session_id", id.String()).
			With("user_id", userID).
			Wrap(err)
	}
	return tag.RowsAffected(), nil
}

// DeleteByUser removes every session of userID.
func (r *SessionRepository) DeleteByUser(ctx context.Context, userID int64) (int64, error) {
	tag, err := conn(ctx, r.db).Exec(ctx, `DELETE FROM sessions WHERE user_id = $1`, userID)
	if err != nil {
		return 0, oops.Code("SESSION_DELETE_FAILED").With("user_id", userID).Wrap(err)
	}
	return tag.RowsAffected(), nil
}

// DeleteExpired removes sessions expired at now.
func (r *SessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := conn(ctx, r.db).Exec(ctx, `DELETE FROM sessions WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, oops.Code("SESSION_PURGE_FAILED").Wrap(err)
	}
	return tag.RowsAffected(), nil
}

func scanSession(row pgx.Row) (*auth.Session, error) {
	var (
		sess auth.Session
		id   string
	)
	err := row.Scan(&id, &sess.UserID, &sess.RefreshID, &sess.UserAgent, &sess.IPAddress,
		&sess.CreatedAt, &sess.LastActivity, &sess.ExpiresAt)
	if err != nil {
		return nil, err
	}
	sess.ID, err = ulid.Parse(id)
	if err != nil {
		return nil, oops.With("operation", "parse session id").With("session_id", id).Wrap(err)
	}
	return &sess, nil
}

var _ auth.SessionRepository = (*SessionRepository)(nil)
