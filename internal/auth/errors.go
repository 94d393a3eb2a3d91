// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MedAuth Contributors

package auth

import (
	"errors"
	"strings"
)

// Error kinds. Every error returned by this package wraps exactly one of
// these so callers can classify with errors.Is without parsing codes.
var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrValidation is returned when input fails a rule, including the
	// password policy.
	ErrValidation = errors.New("validation failed")

	// ErrConflict is returned when a uniqueness constraint would be broken.
	ErrConflict = errors.New("conflict")

	// ErrAuthFailed is the single externally visible login failure. It
	// never distinguishes unknown user, wrong password, or deleted account.
	ErrAuthFailed = errors.New("invalid credentials")

	// ErrForbidden is returned when the caller's role does not permit the action.
	ErrForbidden = errors.New("forbidden")

	// ErrInvalidState is returned when an operation does not apply to the
	// entity's current state.
	ErrInvalidState = errors.New("invalid state")

	// ErrRateLimited is returned while an identifier is cooling down or locked out.
	ErrRateLimited = errors.New("too many attempts")

	// ErrTokenExpired is returned for a well-formed token past its expiry.
	ErrTokenExpired = errors.New("token expired")

	// ErrTokenInvalid is returned for a token that fails verification or
	// refers to a revoked session.
	ErrTokenInvalid = errors.New("token invalid")

	// ErrIncorrectPassword is returned when a re-entered current password
	// does not match.
	ErrIncorrectPassword = errors.New("current password is incorrect")

	// ErrPasswordChangeRequired is returned when the account must change its
	// password before doing anything else.
	ErrPasswordChangeRequired = errors.New("password change required")
)

// ValidationError carries the list of violated rules.
type ValidationError struct {
	Message    string
	Violations []string
}

// NewValidationError builds a ValidationError.
func NewValidationError(message string, violations ...string) *ValidationError {
	return &ValidationError{Message: message, Violations: violations}
}

func (e *ValidationError) Error() string {
	if len(e.Violations) == 0 {
		return e.Message
	}
	return e.Message + ": " + strings.Join(e.Violations, "; ")
}

// Is makes errors.Is(err, ErrValidation) hold for every ValidationError.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
