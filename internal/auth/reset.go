// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MedAuth Contributors

package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Reset token configuration.
const (
	ResetTokenBytes         = 32 // 32 bytes = 64 hex chars
	DefaultResetTokenExpiry = time.Hour
)

// PasswordReset is a pending single-use reset request.
type PasswordReset struct {
	ID        ulid.ULID
	UserID    int64
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// IsExpiredAt reports whether the request is expired at t.
func (r *PasswordReset) IsExpiredAt(t time.Time) bool {
	return !t.Before(r.ExpiresAt)
}

// GenerateResetToken creates a random token and the digest stored for it.
// Only the digest is persisted; the token goes to the notifier.
func GenerateResetToken() (token, hash string, err error) {
	buf := make([]byte, ResetTokenBytes)
	if _, err = rand.Read(buf); err != nil {
		return "", "", oops.Code("RESET_TOKEN_GENERATE_FAILED").Wrap(err)
	}
	token = hex.EncodeToString(buf)
	return token, HashResetToken(token), nil
}

// HashResetToken computes the stored digest of a reset token.
func HashResetToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// PasswordResetRepository manages reset request persistence.
type PasswordResetRepository interface {
	// Create stores a new reset request.
	Create(ctx context.Context, reset *PasswordReset) error

	// GetByTokenHash retrieves a reset request by its token digest.
	GetByTokenHash(ctx context.Context, tokenHash string) (*PasswordReset, error)

	// Consume deletes the reset request with tokenHash and returns it.
	// Inside a transaction, a second consumer of the same digest waits for
	// the first to commit and then gets ErrNotFound.
	Consume(ctx context.Context, tokenHash string) (*PasswordReset, error)

	// DeleteByUser removes every reset request for a user.
	DeleteByUser(ctx context.Context, userID int64) error

	// DeleteExpired removes reset requests expired before now.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// ResetNotifier delivers a reset token to the account holder. Delivery
// mechanics are outside this package.
type ResetNotifier interface {
	NotifyPasswordReset(ctx context.Context, user *User, token string, expiresAt time.Time) error
}

// LogNotifier records that a reset was issued without revealing the token.
// It stands in until a mail transport is configured.
type LogNotifier struct {
	Logger *slog.Logger
}

// NotifyPasswordReset implements ResetNotifier.
func (n LogNotifier) NotifyPasswordReset(ctx context.Context, user *User, _ string, expiresAt time.Time) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "password reset issued",
		"user_id", user.ID,
		"email", MaskEmail(user.Email),
		"expires_at", expiresAt)
	return nil
}

// MaskEmail hides most of the local part: "alice@example.com" -> "a***e@example.com".
func MaskEmail(email string) string {
	local, domain, ok := strings.Cut(email, "@")
	if !ok {
		return "***"
	}
	switch len(local) {
	case 0:
		return "***@" + domain
	case 1, 2:
		return local[:1] + "***@" + domain
	default:
		return local[:1] + "***" + local[len(local)-1:] + "@" + domain
	}
}
