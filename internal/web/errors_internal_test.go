// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MedAuth Contributors

package web

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"

	"github.com/medauth/medauth/internal/auth"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", auth.NewValidationError("bad"), http.StatusUnprocessableEntity},
		{"wrapped validation", oops.Code("X").Wrap(auth.NewValidationError("bad")), http.StatusUnprocessableEntity},
		{"malformed", oops.Code(CodeMalformedRequest).Wrap(errMalformedBody), http.StatusBadRequest},
		{"incorrect password", oops.Code("X").Wrap(auth.ErrIncorrectPassword), http.StatusBadRequest},
		{"rate limited", auth.ErrRateLimited, http.StatusTooManyRequests},
		{"auth failed", auth.ErrAuthFailed, http.StatusUnauthorized},
		{"token expired", auth.ErrTokenExpired, http.StatusUnauthorized},
		{"token invalid", auth.ErrTokenInvalid, http.StatusUnauthorized},
		{"password change", auth.ErrPasswordChangeRequired, http.StatusForbidden},
		{"forbidden", auth.ErrForbidden, http.StatusForbidden},
		{"not found", auth.ErrNotFound, http.StatusNotFound},
		{"conflict", auth.ErrConflict, http.StatusConflict},
		{"invalid state", auth.ErrInvalidState, http.StatusConflict},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StatusFor(tt.err))
		})
	}
}

func TestBodyFor(t *testing.T) {
	t.Run("internal errors hide details", func(t *testing.T) {
		err := oops.Code("DB_DOWN").With("dsn", "postgres://secret").Errorf("connection refused")
		body := bodyFor(err, http.StatusInternalServerError)
		assert.Equal(t, errorBody{Code: CodeInternal, Message: "internal server error"}, body)
	})

	t.Run("kind message, deepest code", func(t *testing.T) {
		err := oops.Code("OUTER").With("user_id", 7).Wrap(
			oops.Code("USER_NOT_FOUND").With("user_id", 7).Wrap(auth.ErrNotFound))
		body := bodyFor(err, http.StatusNotFound)
		assert.Equal(t, "USER_NOT_FOUND", body.Code)
		assert.Equal(t, "not found", body.Message)
	})

	t.Run("validation carries violations", func(t *testing.T) {
		err := oops.Code("PASSWORD_POLICY_VIOLATION").Wrap(
			auth.NewValidationError("Password does not meet requirements", "a", "b"))
		body := bodyFor(err, http.StatusUnprocessableEntity)
		assert.Equal(t, "Password does not meet requirements", body.Message)
		assert.Equal(t, []string{"a", "b"}, body.Violations)
	})

	t.Run("unauthorized never names the cause", func(t *testing.T) {
		causes := []error{
			oops.Code("AUTH_INVALID_CREDENTIALS").Wrap(auth.ErrAuthFailed),
			oops.Code("TOKEN_EXPIRED").Wrap(auth.ErrTokenExpired),
			oops.Code("TOKEN_REUSED").With("session_id", "01J").Wrap(auth.ErrTokenInvalid),
			oops.Code("SESSION_REVOKED").Wrap(auth.ErrTokenInvalid),
		}
		for _, err := range causes {
			body := bodyFor(err, StatusFor(err))
			assert.Equal(t, errorBody{Code: CodeUnauthenticated, Message: "authentication failed"}, body)
		}
	})

	t.Run("uncoded error falls back to status text", func(t *testing.T) {
		body := bodyFor(auth.ErrForbidden, http.StatusForbidden)
		assert.Equal(t, "Forbidden", body.Code)
		assert.Equal(t, "forbidden", body.Message)
	})
}

func TestRetryAfter(t *testing.T) {
	err := oops.Code("AUTH_RATE_LIMITED").With("retry_after", (1500 * time.Millisecond).String()).Wrap(auth.ErrRateLimited)
	d, ok := retryAfter(err)
	assert.True(t, ok)
	assert.Equal(t, 1500*time.Millisecond, d)

	_, ok = retryAfter(auth.ErrRateLimited)
	assert.False(t, ok)
}
