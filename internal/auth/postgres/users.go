// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MedAuth Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"

	"github.com/medauth/medauth/internal/auth"
)

const userColumns = `id, email, username, first_name, last_name, password_hash, role,
	password_change_required, email_preferences, created_at, updated_at, deleted_at`

// UserRepository implements auth.UserRepository using PostgreSQL.
// Uniqueness of email and username among live rows is enforced by the
// partial indexes users_email_live_key and users_username_live_key.
type UserRepository struct {
	db DB
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(db DB) *UserRepository {
	return &UserRepository{db: db}
}

func orNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}

// Create inserts u and assigns its ID.
func (r *UserRepository) Create(ctx context.Context, u *auth.User) error {
	prefs := u.EmailPreferences
	if prefs == nil {
		prefs = auth.DefaultEmailPreferences()
	}
	u.CreatedAt = orNow(u.CreatedAt)
	if u.UpdatedAt.IsZero() {
		u.UpdatedAt = u.CreatedAt
	}

	err := conn(ctx, r.db).QueryRow(ctx, `
		INSERT INTO users (email, username, first_name, last_name, password_hash, role,
			password_change_required, email_preferences, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`,
		u.Email, u.Username, u.FirstName, u.LastName, u.PasswordHash, string(u.Role),
		u.PasswordChangeRequired, prefs, u.CreatedAt, u.UpdatedAt,
	).Scan(&u.ID)
	if err != nil {
		if cerr := conflictError(err); cerr != nil {
			return cerr
		}
		return oops.Code("USER_CREATE_FAILED").With("operation", "insert user").Wrap(err)
	}
	u.EmailPreferences = prefs
	return nil
}

// Get returns the user with id.
func (r *UserRepository) Get(ctx context.Context, id int64, vis auth.Visibility) (*auth.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	if vis == auth.LiveOnly {
		query += ` AND deleted_at IS NULL`
	}
	u, err := scanUser(conn(ctx, r.db).QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").With("user_id", id).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_FAILED").With("user_id", id).Wrap(err)
	}
	return u, nil
}

// GetByIdentifier matches username or email case-insensitively among live users.
func (r *UserRepository) GetByIdentifier(ctx context.Context, identifier string) (*auth.User, error) {
	u, err := scanUser(conn(ctx, r.db).QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE deleted_at IS NULL AND (LOWER(username) = LOWER($1) OR LOWER(email) = LOWER($1))
		ORDER BY LOWER(username) = LOWER($1) DESC
		LIMIT 1
	`, identifier))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_FAILED").With("operation", "get by identifier").Wrap(err)
	}
	return u, nil
}

// GetByEmail matches email case-insensitively among live users.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*auth.User, error) {
	u, err := scanUser(conn(ctx, r.db).QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE deleted_at IS NULL AND LOWER(email) = LOWER($1)
	`, email))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_FAILED").With("operation", "get by email").Wrap(err)
	}
	return u, nil
}

// Update writes every mutable field of a live user.
func (r *UserRepository) Update(ctx context.Context, u *auth.User) error {
	u.UpdatedAt = orNow(u.UpdatedAt)
	tag, err := conn(ctx, r.db).Exec(ctx, `
		UPDATE users
		SET email = $2, username = $3, first_name = $4, last_name = $5, password_hash = $6,
			role = $7, password_change_required = $8, email_preferences = $9, updated_at = $10
		WHERE id = $1 AND deleted_at IS NULL
	`,
		u.ID, u.Email, u.Username, u.FirstName, u.LastName, u.PasswordHash,
		string(u.Role), u.PasswordChangeRequired, u.EmailPreferences, u.UpdatedAt,
	)
	if err != nil {
		if cerr := conflictError(err); cerr != nil {
			return cerr
		}
		return oops.Code("USER_UPDATE_FAILED").With("user_id", u.ID).Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").With("user_id", u.ID).Wrap(auth.ErrNotFound)
	}
	return nil
}

// SoftDelete stamps deleted_at on a live user.
func (r *UserRepository) SoftDelete(ctx context.Context, id int64, at time.Time) error {
	tag, err := conn(ctx, r.db).Exec(ctx, `
		UPDATE users SET deleted_at = $2, updated_at = $2
		WHERE id = $1 AND deleted_at IS NULL
	`, id, at)
	if err != nil {
		return oops.Code("USER_DELETE_FAILED").With("user_id", id).Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").With("user_id", id).Wrap(auth.ErrNotFound)
	}
	return nil
}

// Restore clears deleted_at. It fails with ErrConflict when a live account
// has taken the email or username in the meantime.
func (r *UserRepository) Restore(ctx context.Context, id int64) error {
	tag, err := conn(ctx, r.db).Exec(ctx, `
		UPDATE users SET deleted_at = NULL, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NOT NULL
	`, id)
	if err != nil {
		if cerr := conflictError(err); cerr != nil {
			return cerr
		}
		return oops.Code("USER_RESTORE_FAILED").With("user_id", id).Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").With("user_id", id).Wrap(auth.ErrNotFound)
	}
	return nil
}

func scanUser(row pgx.Row) (*auth.User, error) {
	var (
		u    auth.User
		role string
	)
	err := row.Scan(
		&u.ID, &u.Email, &u.Username, &u.FirstName, &u.LastName, &u.PasswordHash, &role,
		&u.PasswordChangeRequired, &u.EmailPreferences, &u.CreatedAt, &u.UpdatedAt, &u.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	u.Role = auth.Role(role)
	return &u, nil
}

var _ auth.UserRepository = (*UserRepository)(nil)
