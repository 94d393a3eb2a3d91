// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MedAuth Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Principal is the authenticated caller of a request.
type Principal struct {
	UserID                 int64
	Role                   Role
	SessionID              ulid.ULID
	PasswordChangeRequired bool
}

// LoginRequest carries credentials and the device they came from.
type LoginRequest struct {
	Identifier string
	Password   string
	UserAgent  string
	IPAddress  string
}

// Deps are the collaborators of the orchestrator.
type Deps struct {
	Credentials *CredentialStore
	Tokens      *TokenService
	Sessions    *SessionRegistry
	Resets      PasswordResetRepository
	Notifier    ResetNotifier
	Limiter     *LoginLimiter
	Authorizer  *Authorizer
	Tx          Transactor
	Logger      *slog.Logger
	Metrics     *Metrics
	// ResetTTL defaults to DefaultResetTokenExpiry.
	ResetTTL time.Duration
}

// Service coordinates login, refresh, logout, registration, password
// changes and resets, and account administration.
type Service struct {
	creds    *CredentialStore
	tokens   *TokenService
	sessions *SessionRegistry
	resets   PasswordResetRepository
	notifier ResetNotifier
	limiter  *LoginLimiter
	authz    *Authorizer
	tx       Transactor
	logger   *slog.Logger
	metrics  *Metrics
	resetTTL time.Duration
	now      Clock
}

// NewService validates deps and creates a Service.
func NewService(d Deps) (*Service, error) {
	switch {
	case d.Credentials == nil:
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("credential store is required")
	case d.Tokens == nil:
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("token service is required")
	case d.Sessions == nil:
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("session registry is required")
	case d.Resets == nil:
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("reset repository is required")
	case d.Limiter == nil:
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("login limiter is required")
	case d.Tx == nil:
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("transactor is required")
	}

	s := &Service{
		creds:    d.Credentials,
		tokens:   d.Tokens,
		sessions: d.Sessions,
		resets:   d.Resets,
		notifier: d.Notifier,
		limiter:  d.Limiter,
		authz:    d.Authorizer,
		tx:       d.Tx,
		logger:   d.Logger,
		metrics:  d.Metrics,
		resetTTL: d.ResetTTL,
		now:      systemClock,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.authz == nil {
		s.authz = NewAuthorizer()
	}
	if s.notifier == nil {
		s.notifier = LogNotifier{Logger: s.logger}
	}
	if s.resetTTL <= 0 {
		s.resetTTL = DefaultResetTokenExpiry
	}
	return s, nil
}

// SetClock replaces the time source used for reset expiry.
func (s *Service) SetClock(c Clock) { s.now = c }

// Can reports whether role may perform action.
func (s *Service) Can(role Role, action string) bool {
	return s.authz.Can(role, action)
}

// Login verifies credentials, opens a session, and issues a token pair.
// Unknown user, wrong password, and deleted account are indistinguishable.
func (s *Service) Login(ctx context.Context, req LoginRequest) (*TokenPair, error) {
	if rl := s.limiter.Check(req.Identifier); !rl.Allowed() {
		s.metrics.login("throttled")
		return nil, oops.Code("AUTH_RATE_LIMITED").
			With("retry_after", rl.RetryAfter.String()).
			With("locked_out", rl.IsLockedOut).
			Wrap(ErrRateLimited)
	}

	user, err := s.creds.Verify(ctx, req.Identifier, req.Password)
	if err != nil {
		if errors.Is(err, ErrAuthFailed) {
			rl := s.limiter.RecordFailure(req.Identifier)
			s.metrics.login("denied")
			if rl.IsLockedOut {
				s.logger.WarnContext(ctx, "login locked out after repeated failures",
					"ip_address", req.IPAddress)
			}
			return nil, err
		}
		s.metrics.login("error")
		return nil, err
	}
	s.limiter.Reset(req.Identifier)

	session, err := s.sessions.Open(ctx, user.ID, req.UserAgent, req.IPAddress)
	if err != nil {
		s.metrics.login("error")
		return nil, oops.Code("AUTH_LOGIN_FAILED").With("user_id", user.ID).Wrap(err)
	}
	pair, err := s.tokens.IssuePair(user, session)
	if err != nil {
		s.metrics.login("error")
		return nil, oops.Code("AUTH_LOGIN_FAILED").With("user_id", user.ID).Wrap(err)
	}

	s.metrics.login("ok")
	s.logger.InfoContext(ctx, "login succeeded",
		"user_id", user.ID,
		"session_id", session.ID.String(),
		"password_change_required", user.PasswordChangeRequired)
	return pair, nil
}

// Refresh rotates a refresh token.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	return s.tokens.RotateRefresh(ctx, refreshToken)
}

// Logout revokes the session. Logging out twice is not an error.
func (s *Service) Logout(ctx context.Context, sessionID ulid.ULID) error {
	if err := s.sessions.Revoke(ctx, sessionID); err != nil {
		return oops.Code("AUTH_LOGOUT_FAILED").With("session_id", sessionID.String()).Wrap(err)
	}
	return nil
}

// Authenticate verifies an access token and confirms its session is still
// live, so revocation takes effect on the next request.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (*Principal, error) {
	claims, err := s.tokens.VerifyAccessToken(accessToken)
	if err != nil {
		return nil, err
	}
	sid, err := claims.Session()
	if err != nil {
		return nil, err
	}
	if err := s.sessions.Touch(ctx, sid); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code("SESSION_REVOKED").With("session_id", sid.String()).Wrap(ErrTokenInvalid)
		}
		return nil, err
	}
	return &Principal{
		UserID:                 claims.UserID(),
		Role:                   claims.Role,
		SessionID:              sid,
		PasswordChangeRequired: claims.PasswordChange,
	}, nil
}

// Register creates a self-service account. Only patient and undefined
// roles may be self-assigned; patient is the default.
func (s *Service) Register(ctx context.Context, in NewUser) (*User, error) {
	if in.Role == "" {
		in.Role = RolePatient
	}
	if in.Role != RolePatient && in.Role != RoleUndefined {
		return nil, oops.Code("REGISTER_ROLE_FORBIDDEN").With("role", string(in.Role)).Wrap(ErrForbidden)
	}
	in.PasswordChangeRequired = false
	u, err := s.creds.Create(ctx, in)
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "user registered", "user_id", u.ID, "role", string(u.Role))
	return u, nil
}

// CreateUser creates an account on behalf of an administrator. The new
// account must change its password at first login.
func (s *Service) CreateUser(ctx context.Context, actor *Principal, in NewUser) (*User, error) {
	if err := s.authz.Require(actor.Role, ActionCreateUser); err != nil {
		return nil, err
	}
	in.PasswordChangeRequired = true
	u, err := s.creds.Create(ctx, in)
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "user created by administrator",
		"user_id", u.ID, "role", string(u.Role), "actor_id", actor.UserID)
	return u, nil
}

// Me returns the caller's account.
func (s *Service) Me(ctx context.Context, actor *Principal) (*User, error) {
	return s.creds.Get(ctx, actor.UserID, LiveOnly)
}

// GetUser returns any account, including deleted ones, for administrators.
func (s *Service) GetUser(ctx context.Context, actor *Principal, id int64) (*User, error) {
	if actor.UserID != id {
		if err := s.authz.Require(actor.Role, ActionReadAnyUser); err != nil {
			return nil, err
		}
		return s.creds.Get(ctx, id, IncludeDeleted)
	}
	return s.creds.Get(ctx, id, LiveOnly)
}

// Profile returns the account and its specialization state.
func (s *Service) Profile(ctx context.Context, actor *Principal, id int64) (*Profile, error) {
	if actor.UserID != id {
		if err := s.authz.Require(actor.Role, ActionReadAnyUser); err != nil {
			return nil, err
		}
	}
	return s.creds.Profile(ctx, id)
}

// UpdateMe applies a partial update to the caller's own account. Role
// changes go through ChangeRole and passwords through ChangePassword.
func (s *Service) UpdateMe(ctx context.Context, actor *Principal, upd UserUpdate) (*User, error) {
	if upd.Role != nil {
		return nil, oops.Code("ROLE_CHANGE_FORBIDDEN").With("user_id", actor.UserID).Wrap(ErrForbidden)
	}
	if upd.Password != nil {
		return nil, oops.Code("PASSWORD_UPDATE_NOT_ALLOWED").With("user_id", actor.UserID).
			Wrap(NewValidationError("use the change password operation"))
	}
	return s.creds.UpdateProfile(ctx, actor.UserID, upd)
}

// ChangeRole changes a user's role. Existing specialization rows are kept.
func (s *Service) ChangeRole(ctx context.Context, actor *Principal, userID int64, role Role) (*User, error) {
	if err := s.authz.Require(actor.Role, ActionChangeRole); err != nil {
		return nil, err
	}
	u, err := s.creds.UpdateProfile(ctx, userID, UserUpdate{Role: &role})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "role changed",
		"user_id", userID, "role", string(role), "actor_id", actor.UserID)
	return u, nil
}

// CompleteProfile creates the caller's (or, for administrators, any
// user's) specialization row.
func (s *Service) CompleteProfile(ctx context.Context, actor *Principal, userID int64, in ProfileInput) (Specialization, error) {
	if actor.UserID != userID {
		if err := s.authz.Require(actor.Role, ActionCompleteAnyProfile); err != nil {
			return nil, err
		}
	}
	return s.creds.CompleteProfile(ctx, userID, in)
}

// ChangePassword re-verifies the current password, stores the new one,
// clears the forced-change flag, and revokes every session of the user,
// including the caller's.
func (s *Service) ChangePassword(ctx context.Context, actor *Principal, current, next string) error {
	user, err := s.creds.CheckCurrentPassword(ctx, actor.UserID, current)
	if err != nil {
		return err
	}
	if current == next {
		return oops.Code("PASSWORD_UNCHANGED").With("user_id", actor.UserID).
			Wrap(NewValidationError("Password does not meet requirements",
				"New password must be different from the current password"))
	}
	if err := CheckPassword(next, user.Username); err != nil {
		return err
	}

	var revoked int64
	err = s.tx.InTransaction(ctx, func(ctx context.Context) error {
		if err := s.creds.SetPassword(ctx, actor.UserID, next, false); err != nil {
			return err
		}
		n, err := s.sessions.RevokeAll(ctx, actor.UserID)
		revoked = n
		return err
	})
	if err != nil {
		return oops.Code("PASSWORD_CHANGE_FAILED").With("user_id", actor.UserID).Wrap(err)
	}

	s.metrics.passwordChanged("change")
	s.logger.InfoContext(ctx, "password changed", "user_id", actor.UserID, "sessions_revoked", revoked)
	return nil
}

// ForcePasswordChange flags an account so it must change its password and
// signs it out everywhere.
func (s *Service) ForcePasswordChange(ctx context.Context, actor *Principal, userID int64) error {
	if err := s.authz.Require(actor.Role, ActionForcePasswordChange); err != nil {
		return err
	}
	err := s.tx.InTransaction(ctx, func(ctx context.Context) error {
		if err := s.creds.SetPasswordChangeRequired(ctx, userID, true); err != nil {
			return err
		}
		_, err := s.sessions.RevokeAll(ctx, userID)
		return err
	})
	if err != nil {
		return oops.Code("FORCE_PASSWORD_CHANGE_FAILED").With("user_id", userID).Wrap(err)
	}
	s.logger.InfoContext(ctx, "password change forced", "user_id", userID, "actor_id", actor.UserID)
	return nil
}

// DeleteUser soft-deletes an account with its specialization rows and
// revokes its sessions. Users may delete themselves.
func (s *Service) DeleteUser(ctx context.Context, actor *Principal, userID int64) error {
	if actor.UserID != userID {
		if err := s.authz.Require(actor.Role, ActionDeleteUser); err != nil {
			return err
		}
	}
	err := s.tx.InTransaction(ctx, func(ctx context.Context) error {
		if err := s.creds.SoftDelete(ctx, userID); err != nil {
			return err
		}
		_, err := s.sessions.RevokeAll(ctx, userID)
		return err
	})
	if err != nil {
		return oops.Code("USER_DELETE_FAILED").With("user_id", userID).Wrap(err)
	}
	s.logger.InfoContext(ctx, "user deleted", "user_id", userID, "actor_id", actor.UserID)
	return nil
}

// RestoreUser undeletes an account.
func (s *Service) RestoreUser(ctx context.Context, actor *Principal, userID int64) (*User, error) {
	if err := s.authz.Require(actor.Role, ActionRestoreUser); err != nil {
		return nil, err
	}
	u, err := s.creds.Restore(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "user restored", "user_id", userID, "actor_id", actor.UserID)
	return u, nil
}

// ListSessions returns the caller's live sessions.
func (s *Service) ListSessions(ctx context.Context, actor *Principal) ([]*Session, error) {
	return s.sessions.List(ctx, actor.UserID)
}

// RevokeSession revokes one of the caller's sessions.
func (s *Service) RevokeSession(ctx context.Context, actor *Principal, sessionID ulid.ULID) error {
	return s.sessions.RevokeForUser(ctx, actor.UserID, sessionID)
}

// RevokeAllSessions revokes every session of the caller.
func (s *Service) RevokeAllSessions(ctx context.Context, actor *Principal) (int64, error) {
	return s.sessions.RevokeAll(ctx, actor.UserID)
}
