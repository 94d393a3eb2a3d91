// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MedAuth Contributors

package auth

import (
	"context"
	"errors"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// RequestPasswordReset issues a single-use reset token for the account
// with email and hands it to the notifier. The outcome is identical
// whether or not the email belongs to an account.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	user, err := s.creds.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.logger.DebugContext(ctx, "password reset requested for unknown email")
			return nil
		}
		return oops.Code("RESET_REQUEST_FAILED").With("operation", "lookup user").Wrap(err)
	}

	token, hash, err := GenerateResetToken()
	if err != nil {
		return oops.Code("RESET_REQUEST_FAILED").With("operation", "generate token").Wrap(err)
	}

	now := s.now()
	reset := &PasswordReset{
		ID:        ulid.Make(),
		UserID:    user.ID,
		TokenHash: hash,
		ExpiresAt: now.Add(s.resetTTL),
		CreatedAt: now,
	}
	err = s.tx.InTransaction(ctx, func(ctx context.Context) error {
		// Only the newest request stays valid.
		if err := s.resets.DeleteByUser(ctx, user.ID); err != nil {
			return err
		}
		return s.resets.Create(ctx, reset)
	})
	if err != nil {
		return oops.Code("RESET_REQUEST_FAILED").With("operation", "store reset").Wrap(err)
	}

	if err := s.notifier.NotifyPasswordReset(ctx, user, token, reset.ExpiresAt); err != nil {
		s.logger.ErrorContext(ctx, "password reset notification failed", "user_id", user.ID, "error", err)
	}
	return nil
}

// VerifyResetToken reports whether token is usable and returns a masked
// hint of the account's email.
func (s *Service) VerifyResetToken(ctx context.Context, token string) (string, error) {
	reset, err := s.lookupReset(ctx, token)
	if err != nil {
		return "", err
	}
	user, err := s.creds.Get(ctx, reset.UserID, LiveOnly)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", oops.Code("RESET_TOKEN_INVALID").Wrap(ErrTokenInvalid)
		}
		return "", err
	}
	return MaskEmail(user.Email), nil
}

// ResetPassword consumes token, stores the new password, clears the
// forced-change flag, and revokes every session of the account. The token
// row is deleted before anything else, so of two concurrent calls with one
// token only the first can proceed. A failure rolls the deletion back.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	var userID int64
	err := s.tx.InTransaction(ctx, func(ctx context.Context) error {
		reset, err := s.findReset(ctx, token, s.resets.Consume)
		if err != nil {
			return err
		}
		userID = reset.UserID
		if err := s.creds.SetPassword(ctx, reset.UserID, newPassword, false); err != nil {
			if errors.Is(err, ErrNotFound) {
				return oops.Code("RESET_TOKEN_INVALID").Wrap(ErrTokenInvalid)
			}
			return err
		}
		if err := s.resets.DeleteByUser(ctx, reset.UserID); err != nil {
			return err
		}
		_, err = s.sessions.RevokeAll(ctx, reset.UserID)
		return err
	})
	if err != nil {
		return oops.Code("RESET_PASSWORD_FAILED").Wrap(err)
	}

	s.metrics.passwordChanged("reset")
	s.logger.InfoContext(ctx, "password reset completed", "user_id", userID)
	return nil
}

// PurgeExpiredResets deletes expired reset requests.
func (s *Service) PurgeExpiredResets(ctx context.Context) (int64, error) {
	n, err := s.resets.DeleteExpired(ctx, s.now())
	if err != nil {
		return 0, oops.Code("RESET_PURGE_FAILED").Wrap(err)
	}
	return n, nil
}

func (s *Service) lookupReset(ctx context.Context, token string) (*PasswordReset, error) {
	return s.findReset(ctx, token, s.resets.GetByTokenHash)
}

// findReset resolves token through fetch and rejects unknown or expired
// requests.
func (s *Service) findReset(
	ctx context.Context,
	token string,
	fetch func(ctx context.Context, tokenHash string) (*PasswordReset, error),
) (*PasswordReset, error) {
	if token == "" {
		return nil, oops.Code("RESET_TOKEN_EMPTY").Wrap(ErrTokenInvalid)
	}
	reset, err := fetch(ctx, HashResetToken(token))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code("RESET_TOKEN_INVALID").Wrap(ErrTokenInvalid)
		}
		return nil, oops.Code("RESET_VALIDATE_FAILED").With("operation", "lookup token").Wrap(err)
	}
	if reset.IsExpiredAt(s.now()) {
		return nil, oops.Code("RESET_TOKEN_EXPIRED").Wrap(ErrTokenExpired)
	}
	return reset, nil
}
