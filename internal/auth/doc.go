// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MedAuth Contributors

// Package auth implements identity, authentication, and session lifecycle.
//
// # Components
//
//   - CredentialStore - users and their patient or doctor specialization rows
//   - TokenService - signed access and refresh tokens, refresh rotation
//   - SessionRegistry - one row per login, listing and revocation
//   - LoginLimiter - per-identifier failure throttling
//   - Authorizer - role to permission-pattern checks
//   - Service - the orchestrator tying the above together
//
// Persistence is behind the repository interfaces in this package; see
// the postgres and memory subpackages.
//
// # Errors
//
// Every returned error wraps one of the kind sentinels (ErrNotFound,
// ErrValidation, ErrConflict, ErrAuthFailed, ...) inside an oops error
// carrying a code and context.
package auth
