// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MedAuth Contributors

package memory

import (
	"context"
	"time"

	"github.com/samber/oops"

	"github.com/medauth/medauth/internal/auth"
)

// PasswordResetRepository implements auth.PasswordResetRepository.
type PasswordResetRepository struct {
	s *Store
}

// Create stores a reset request.
func (r *PasswordResetRepository) Create(ctx context.Context, reset *auth.PasswordReset) error {
	defer r.s.lock(ctx)()

	c := *reset
	r.s.resets[reset.ID] = &c
	return nil
}

// GetByTokenHash finds a reset request by digest.
func (r *PasswordResetRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*auth.PasswordReset, error) {
	defer r.s.lock(ctx)()

	for _, reset := range r.s.resets {
		if reset.TokenHash == tokenHash {
			c := *reset
			return &c, nil
		}
	}
	return nil, oops.Code("RESET_NOT_FOUND").Wrap(auth.ErrNotFound)
}

// Consume removes and returns the reset request with tokenHash.
func (r *PasswordResetRepository) Consume(ctx context.Context, tokenHash string) (*auth.PasswordReset, error) {
	defer r.s.lock(ctx)()

	for id, reset := range r.s.resets {
		if reset.TokenHash == tokenHash {
			delete(r.s.resets, id)
			c := *reset
			return &c, nil
		}
	}
	return nil, oops.Code("RESET_NOT_FOUND").Wrap(auth.ErrNotFound)
}

// DeleteByUser removes all reset requests of userID.
func (r *PasswordResetRepository) DeleteByUser(ctx context.Context, userID int64) error {
	defer r.s.lock(ctx)()

	for id, reset := range r.s.resets {
		if reset.UserID == userID {
			delete(r.s.resets, id)
		}
	}
	return nil
}

// DeleteExpired removes reset requests expired at now.
func (r *PasswordResetRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	defer r.s.lock(ctx)()

	var n int64
	for id, reset := range r.s.resets {
		if reset.IsExpiredAt(now) {
			delete(r.s.resets, id)
			n++
		}
	}
	return n, nil
}

var _ auth.PasswordResetRepository = (*PasswordResetRepository)(nil)
