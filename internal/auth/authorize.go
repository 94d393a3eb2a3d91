// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MedAuth Contributors

package auth

import (
	"github.com/gobwas/glob"
	"github.com/samber/oops"
)

// Authorizer answers role-based permission questions. The tables are
// immutable after construction so Can needs no locking.
type Authorizer struct {
	roles map[Role][]glob.Glob
}

// NewAuthorizer compiles DefaultRoles. It panics on an invalid built-in
// pattern since that is a programming error.
func NewAuthorizer() *Authorizer {
	a, err := NewAuthorizerWithRoles(DefaultRoles())
	if err != nil {
		panic("invalid permission pattern in DefaultRoles: " + err.Error())
	}
	return a
}

// NewAuthorizerWithRoles compiles a custom role table using ':' as the
// segment separator.
func NewAuthorizerWithRoles(roles map[Role][]string) (*Authorizer, error) {
	compiled := make(map[Role][]glob.Glob, len(roles))
	for role, perms := range roles {
		globs := make([]glob.Glob, 0, len(perms))
		for _, p := range perms {
			g, err := glob.Compile(p, ':')
			if err != nil {
				return nil, oops.In("auth").
					Code("INVALID_PERMISSION_PATTERN").
					With("role", string(role)).
					With("pattern", p).
					Wrap(err)
			}
			globs = append(globs, g)
		}
		compiled[role] = globs
	}
	return &Authorizer{roles: compiled}, nil
}

// Can reports whether role may perform action. Admin may do anything;
// unknown roles and unlisted actions are denied.
func (a *Authorizer) Can(role Role, action string) bool {
	if role == RoleAdmin {
		return true
	}
	if action == "" {
		return false
	}
	for _, g := range a.roles[role] {
		if g.Match(action) {
			return true
		}
	}
	return false
}

// Require returns ErrForbidden when role may not perform action.
func (a *Authorizer) Require(role Role, action string) error {
	if a.Can(role, action) {
		return nil
	}
	return oops.Code("FORBIDDEN").
		With("role", string(role)).
		With("action", action).
		Wrap(ErrForbidden)
}
