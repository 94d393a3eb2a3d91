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

// PasswordResetRepository implements auth.PasswordResetRepository using PostgreSQL.
type PasswordResetRepository struct {
	db DB
}

// NewPasswordResetRepository creates a new PasswordResetRepository.
func NewPasswordResetRepository(db DB) *PasswordResetRepository {
	return &PasswordResetRepository{db: db}
}

// Create stores a new reset request.
func (r *PasswordResetRepository) Create(ctx context.Context, reset *auth.PasswordReset) error {
	_, err := conn(ctx, r.db).Exec(ctx, `
		INSERT INTO password_resets (id, user_id, token_hash, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, reset.ID.String(), reset.UserID, reset.TokenHash, reset.ExpiresAt, reset.CreatedAt)
	if err != nil {
		return oops.Code("RESET_CREATE_FAILED").
			With("operation", "insert password reset").
			With("user_id", reset.UserID).
			Wrap(err)
	}
	return nil
}

// GetByTokenHash retrieves a reset request by its token digest.
func (r *PasswordResetRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*auth.PasswordReset, error) {
	row := conn(ctx, r.db).QueryRow(ctx, `
		SELECT id, user_id, token_hash, expires_at, created_at
		FROM password_resets
		WHERE token_hash = $1
	`, tokenHash)
	return scanReset(row, "RESET_GET_FAILED")
}

// Consume deletes the reset request with tokenHash and returns it. The
// DELETE takes the row lock, so a concurrent consumer blocks until this
// transaction ends and then matches nothing.
func (r *PasswordResetRepository) Consume(ctx context.Context, tokenHash string) (*auth.PasswordReset, error) {
	row := conn(ctx, r.db).QueryRow(ctx, `
		DELETE FROM password_resets
		WHERE token_hash = $1
		RETURNING id, user_id, token_hash, expires_at, created_at
	`, tokenHash)
	return scanReset(row, "RESET_CONSUME_FAILED")
}

func scanReset(row pgx.Row, code string) (*auth.PasswordReset, error) {
	var (
		reset auth.PasswordReset
		id    string
	)
	err := row.Scan(&id, &reset.UserID, &reset.TokenHash, &reset.ExpiresAt, &reset.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("RESET_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code(code).With("operation", "scan password reset").Wrap(err)
	}
	reset.ID, err = ulid.Parse(id)
	if err != nil {
		return nil, oops.Code(code).With("operation", "parse reset id").With("id", id).Wrap(err)
	}
	return &reset, nil
}

// DeleteByUser removes every reset request of userID.
func (r *PasswordResetRepository) DeleteByUser(ctx context.Context, userID int64) error {
	_, err := conn(ctx, r.db).Exec(ctx, `DELETE FROM password_resets WHERE user_id = $1`, userID)
	if err != nil {
		return oops.Code("RESET_DELETE_FAILED").With("user_id", userID).Wrap(err)
	}
	return nil
}

// DeleteExpired removes reset requests expired at now.
func (r *PasswordResetRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := conn(ctx, r.db).Exec(ctx, `DELETE FROM password_resets WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, oops.Code("RESET_PURGE_FAILED").Wrap(err)
	}
	return tag.RowsAffected(), nil
}

var _ auth.PasswordResetRepository = (*PasswordResetRepository)(nil)
