// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MedAuth Contributors

package memory

import (
	"context"
	"strings"
	"time"

	"github.com/samber/oops"

	"github.com/medauth/medauth/internal/auth"
)

// UserRepository implements auth.UserRepository.
type UserRepository struct {
	s *Store
}

// conflictLocked reports a live user other than id sharing u's email or username.
func (r *UserRepository) conflictLocked(u *auth.User) error {
	for id, other := range r.s.users {
		if id == u.ID || other.IsDeleted() {
			continue
		}
		if strings.EqualFold(other.Email, u.Email) {
			return oops.Code("USER_EMAIL_TAKEN").With("field", "email").Wrap(auth.ErrConflict)
		}
		if strings.EqualFold(other.Username, u.Username) {
			return oops.Code("USER_USERNAME_TAKEN").With("field", "username").Wrap(auth.ErrConflict)
		}
	}
	return nil
}

// Create inserts u and assigns its ID.
func (r *UserRepository) Create(ctx context.Context, u *auth.User) error {
	defer r.s.lock(ctx)()

	if err := r.conflictLocked(u); err != nil {
		return err
	}
	r.s.nextUserID++
	u.ID = r.s.nextUserID
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	if u.UpdatedAt.IsZero() {
		u.UpdatedAt = u.CreatedAt
	}
	r.s.users[u.ID] = u.Clone()
	return nil
}

// Get returns the user with id.
func (r *UserRepository) Get(ctx context.Context, id int64, vis auth.Visibility) (*auth.User, error) {
	defer r.s.lock(ctx)()

	u, ok := r.s.users[id]
	if !ok || (vis == auth.LiveOnly && u.IsDeleted()) {
		return nil, oops.Code("USER_NOT_FOUND").With("user_id", id).Wrap(auth.ErrNotFound)
	}
	return u.Clone(), nil
}

// GetByIdentifier matches username or email among live users.
func (r *UserRepository) GetByIdentifier(ctx context.Context, identifier string) (*auth.User, error) {
	defer r.s.lock(ctx)()

	for _, u := range r.s.users {
		if u.IsDeleted() {
			continue
		}
		if strings.EqualFold(u.Username, identifier) || strings.EqualFold(u.Email, identifier) {
			return u.Clone(), nil
		}
	}
	return nil, oops.Code("USER_NOT_FOUND").Wrap(auth.ErrNotFound)
}

// GetByEmail matches email among live users.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*auth.User, error) {
	defer r.s.lock(ctx)()

	for _, u := range r.s.users {
		if !u.IsDeleted() && strings.EqualFold(u.Email, email) {
			return u.Clone(), nil
		}
	}
	return nil, oops.Code("USER_NOT_FOUND").Wrap(auth.ErrNotFound)
}

// Update overwrites the stored user.
func (r *UserRepository) Update(ctx context.Context, u *auth.User) error {
	defer r.s.lock(ctx)()

	existing, ok := r.s.users[u.ID]
	if !ok || existing.IsDeleted() {
		return oops.Code("USER_NOT_FOUND").With("user_id", u.ID).Wrap(auth.ErrNotFound)
	}
	if err := r.conflictLocked(u); err != nil {
		return err
	}
	c := u.Clone()
	c.CreatedAt = existing.CreatedAt
	c.DeletedAt = nil
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now()
	}
	r.s.users[u.ID] = c
	return nil
}

// SoftDelete stamps deleted_at on a live user.
func (r *UserRepository) SoftDelete(ctx context.Context, id int64, at time.Time) error {
	defer r.s.lock(ctx)()

	u, ok := r.s.users[id]
	if !ok || u.IsDeleted() {
		return oops.Code("USER_NOT_FOUND").With("user_id", id).Wrap(auth.ErrNotFound)
	}
	u.DeletedAt = &at
	u.UpdatedAt = at
	return nil
}

// Restore clears deleted_at.
func (r *UserRepository) Restore(ctx context.Context, id int64) error {
	defer r.s.lock(ctx)()

	u, ok := r.s.users[id]
	if !ok || !u.IsDeleted() {
		return oops.Code("USER_NOT_FOUND").With("user_id", id).Wrap(auth.ErrNotFound)
	}
	if err := r.conflictLocked(u); err != nil {
		return err
	}
	u.DeletedAt = nil
	u.UpdatedAt = time.Now()
	return nil
}

var _ auth.UserRepository = (*UserRepository)(nil)
