// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MedAuth Contributors

package auth

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/samber/oops"
)

// Role is the single role an account holds.
type Role string

// Known roles.
const (
	RoleAdmin        Role = "admin"
	RoleDoctor       Role = "doctor"
	RoleReceptionist Role = "receptionist"
	RoleMedicalStaff Role = "medical_staff"
	RolePatient      Role = "patient"
	RoleUndefined    Role = "undefined"
)

var allRoles = []Role{RoleAdmin, RoleDoctor, RoleReceptionist, RoleMedicalStaff, RolePatient, RoleUndefined}

// Roles returns every known role.
func Roles() []Role {
	out := make([]Role, len(allRoles))
	copy(out, allRoles)
	return out
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	for _, known := range allRoles {
		if r == known {
			return true
		}
	}
	return false
}

// ParseRole converts s into a Role.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", oops.Code("USER_INVALID_ROLE").With("role", s).
			Wrap(NewValidationError("invalid role", "unknown role "+s))
	}
	return r, nil
}

// Email notification preference keys.
const (
	PrefAppointmentUpdates  = "appointment_updates"
	PrefBloodPressureAlerts = "blood_pressure_alerts"
)

// EmailPreferences holds named notification toggles.
type EmailPreferences map[string]bool

// DefaultEmailPreferences returns the preferences new accounts start with.
func DefaultEmailPreferences() EmailPreferences {
	return EmailPreferences{
		PrefAppointmentUpdates:  true,
		PrefBloodPressureAlerts: true,
	}
}

// Clone returns an independent copy.
func (p EmailPreferences) Clone() EmailPreferences {
	if p == nil {
		return nil
	}
	out := make(EmailPreferences, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// User is an account of any role.
type User struct {
	ID                     int64
	Email                  string
	Username               string
	FirstName              string
	LastName               string
	PasswordHash           string
	Role                   Role
	PasswordChangeRequired bool
	EmailPreferences       EmailPreferences
	CreatedAt              time.Time
	UpdatedAt              time.Time
	DeletedAt              *time.Time
}

// IsDeleted reports whether the account has been soft-deleted.
func (u *User) IsDeleted() bool {
	return u.DeletedAt != nil
}

// Clone returns a deep copy so callers cannot mutate repository state.
func (u *User) Clone() *User {
	c := *u
	c.EmailPreferences = u.EmailPreferences.Clone()
	if u.DeletedAt != nil {
		t := *u.DeletedAt
		c.DeletedAt = &t
	}
	return &c
}

// NewUser holds the fields needed to create an account.
type NewUser struct {
	Email                  string
	Username               string
	FirstName              string
	LastName               string
	Role                   Role
	Password               string
	PasswordChangeRequired bool
	EmailPreferences       EmailPreferences
}

// UserUpdate is a partial update; nil fields are left unchanged.
type UserUpdate struct {
	Email            *string
	Username         *string
	FirstName        *string
	LastName         *string
	Password         *string
	Role             *Role
	EmailPreferences EmailPreferences
}

// Visibility selects whether soft-deleted rows are returned.
type Visibility int

// Visibility values.
const (
	LiveOnly Visibility = iota
	IncludeDeleted
)

// UserRepository persists users. Implementations must enforce
// case-insensitive uniqueness of email and username among live rows and
// report violations as ErrConflict.
type UserRepository interface {
	// Create inserts u and assigns ID and timestamps.
	Create(ctx context.Context, u *User) error

	// Get returns the user with the given ID.
	Get(ctx context.Context, id int64, vis Visibility) (*User, error)

	// GetByIdentifier returns the live user whose username or email matches
	// identifier case-insensitively.
	GetByIdentifier(ctx context.Context, identifier string) (*User, error)

	// GetByEmail returns the live user with the given email.
	GetByEmail(ctx context.Context, email string) (*User, error)

	// Update writes every mutable field of u and refreshes UpdatedAt.
	Update(ctx context.Context, u *User) error

	// SoftDelete stamps deleted_at on a live user.
	SoftDelete(ctx context.Context, id int64, at time.Time) error

	// Restore clears deleted_at on a deleted user.
	Restore(ctx context.Context, id int64) error
}

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{3,150}$`)

// fields applies the same email rule as request validation in the HTTP
// layer.
var fields = validator.New(validator.WithRequiredStructEnabled())

// NormalizeEmail lowercases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// validateIdentity checks the non-password fields of an account.
func validateIdentity(email, username string) error {
	var violations []string
	if err := fields.Var(email, "required,email,max=254"); err != nil {
		violations = append(violations, "Enter a valid email address")
	}
	if !usernamePattern.MatchString(username) {
		violations = append(violations, "Username must be 3-150 characters of letters, digits, '.', '_' or '-'")
	}
	if len(violations) > 0 {
		return NewValidationError("invalid account details", violations...)
	}
	return nil
}
