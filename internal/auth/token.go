// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MedAuth Contributors

package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Token lifetimes.
const (
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = DefaultSessionTTL
	minSecretLen      = 32
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

// TokenConfig configures token signing.
type TokenConfig struct {
	Secret     []byte
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// AccessClaims are carried by an access token.
type AccessClaims struct {
	jwt.RegisteredClaims
	Role           Role   `json:"role"`
	SessionID      string `json:"sid"`
	PasswordChange bool   `json:"pwd_change,omitempty"`
	Type           string `json:"typ"`
}

// UserID returns the numeric subject.
func (c *AccessClaims) UserID() int64 {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// Session returns the session the token was issued for.
func (c *AccessClaims) Session() (ulid.ULID, error) {
	id, err := ulid.Parse(c.SessionID)
	if err != nil {
		return ulid.ULID{}, oops.Code("TOKEN_INVALID").Wrap(ErrTokenInvalid)
	}
	return id, nil
}

type refreshClaims struct {
	jwt.RegisteredClaims
	SessionID string `json:"sid"`
	Type      string `json:"typ"`
}

// TokenPair is handed to a client after login or refresh.
type TokenPair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	SessionID        ulid.ULID
	User             *User
}

// TokenService issues, verifies, and rotates signed tokens. It owns no
// persisted state; rotation goes through the session repository.
type TokenService struct {
	cfg      TokenConfig
	users    UserRepository
	sessions SessionRepository
	tx       Transactor
	now      Clock
	metrics  *Metrics
	logger   *slog.Logger
}

// NewTokenService creates a TokenService.
func NewTokenService(cfg TokenConfig, users UserRepository, sessions SessionRepository, tx Transactor) (*TokenService, error) {
	if len(cfg.Secret) < minSecretLen {
		return nil, oops.Code("TOKEN_CONFIG_INVALID").Errorf("token secret must be at least %d bytes", minSecretLen)
	}
	if users == nil || sessions == nil || tx == nil {
		return nil, oops.Code("TOKEN_CONFIG_INVALID").Errorf("users, sessions and transactor are required")
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = DefaultRefreshTTL
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "medauth"
	}
	return &TokenService{
		cfg:      cfg,
		users:    users,
		sessions: sessions,
		tx:       tx,
		now:      systemClock,
		logger:   slog.Default(),
	}, nil
}

// SetClock replaces the time source used for issuing and verifying.
func (s *TokenService) SetClock(c Clock) { s.now = c }

// SetMetrics attaches refresh counters.
func (s *TokenService) SetMetrics(m *Metrics) { s.metrics = m }

// SetLogger replaces the logger used for security events.
func (s *TokenService) SetLogger(l *slog.Logger) {
	if l != nil {
		s.logger = l
	}
}

// RefreshTTL returns the configured refresh window.
func (s *TokenService) RefreshTTL() time.Duration { return s.cfg.RefreshTTL }

// IssueAccessToken signs a short-lived token for user bound to sessionID.
func (s *TokenService) IssueAccessToken(user *User, sessionID ulid.ULID) (string, time.Time, error) {
	now := s.now()
	exp := now.Add(s.cfg.AccessTTL)
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.cfg.Issuer,
			Subject:   strconv.FormatInt(user.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
		Role:           user.Role,
		SessionID:      sessionID.String(),
		PasswordChange: user.PasswordChangeRequired,
		Type:           tokenTypeAccess,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.cfg.Secret)
	if err != nil {
		return "", time.Time{}, oops.Code("TOKEN_SIGN_FAILED").With("user_id", user.ID).Wrap(err)
	}
	return signed, exp, nil
}

// IssueRefreshToken signs a refresh token for the session's current
// refresh identifier. It expires with the session.
func (s *TokenService) IssueRefreshToken(session *Session) (string, time.Time, error) {
	claims := refreshClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.cfg.Issuer,
			Subject:   strconv.FormatInt(session.UserID, 10),
			IssuedAt:  jwt.NewNumericDate(s.now()),
			ExpiresAt: jwt.NewNumericDate(session.ExpiresAt),
			ID:        session.RefreshID,
		},
		SessionID: session.ID.String(),
		Type:      tokenTypeRefresh,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.cfg.Secret)
	if err != nil {
		return "", time.Time{}, oops.Code("TOKEN_SIGN_FAILED").With("session_id", session.ID.String()).Wrap(err)
	}
	return signed, session.ExpiresAt, nil
}

// IssuePair signs an access and a refresh token for session.
func (s *TokenService) IssuePair(user *User, session *Session) (*TokenPair, error) {
	access, accessExp, err := s.IssueAccessToken(user, session.ID)
	if err != nil {
		return nil, err
	}
	refresh, refreshExp, err := s.IssueRefreshToken(session)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExp,
		SessionID:        session.ID,
		User:             user,
	}, nil
}

// VerifyAccessToken checks signature, algorithm, type, and expiry. It does
// not consult storage.
func (s *TokenService) VerifyAccessToken(token string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := s.parse(token, claims); err != nil {
		return nil, err
	}
	if claims.Type != tokenTypeAccess || claims.UserID() <= 0 {
		return nil, oops.Code("TOKEN_INVALID").With("reason", "wrong type").Wrap(ErrTokenInvalid)
	}
	return claims, nil
}

func (s *TokenService) verifyRefreshToken(token string) (*refreshClaims, ulid.ULID, error) {
	claims := &refreshClaims{}
	if err := s.parse(token, claims); err != nil {
		return nil, ulid.ULID{}, err
	}
	if claims.Type != tokenTypeRefresh || claims.ID == "" {
		return nil, ulid.ULID{}, oops.Code("TOKEN_INVALID").With("reason", "wrong type").Wrap(ErrTokenInvalid)
	}
	sid, err := ulid.Parse(claims.SessionID)
	if err != nil {
		return nil, ulid.ULID{}, oops.Code("TOKEN_INVALID").With("reason", "bad session id").Wrap(ErrTokenInvalid)
	}
	return claims, sid, nil
}

func (s *TokenService) parse(token string, claims jwt.Claims) error {
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.cfg.Secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, jwt.ErrTokenExpired):
		return oops.Code("TOKEN_EXPIRED").Wrap(ErrTokenExpired)
	default:
		return oops.Code("TOKEN_INVALID").With("reason", err.Error()).Wrap(ErrTokenInvalid)
	}
}

// RotateRefresh exchanges a refresh token for a new pair. The session row
// is locked for the duration so concurrent rotations serialize; a token
// whose identifier no longer matches is treated as stolen and the session
// is revoked. Every other failure leaves the session as it was.
func (s *TokenService) RotateRefresh(ctx context.Context, token string) (*TokenPair, error) {
	claims, sid, err := s.verifyRefreshToken(token)
	if err != nil {
		s.metrics.refresh("invalid")
		return nil, err
	}

	var (
		pair   *TokenPair
		reason string
	)
	err = s.tx.InTransaction(ctx, func(ctx context.Context) error {
		sess, err := s.sessions.GetForUpdate(ctx, sid)
		if errors.Is(err, ErrNotFound) {
			reason = "revoked"
			return nil
		}
		if err != nil {
			return err
		}

		now := s.now()
		if subtle.ConstantTimeCompare([]byte(sess.RefreshID), []byte(claims.ID)) != 1 {
			reason = "reused"
			_, err := s.sessions.Delete(ctx, sid)
			return err
		}
		// Expired and orphaned rows are left for PurgeExpired.
		if sess.IsExpiredAt(now) {
			reason = "expired"
			return nil
		}

		user, err := s.users.Get(ctx, sess.UserID, LiveOnly)
		if errors.Is(err, ErrNotFound) {
			reason = "user_gone"
			return nil
		}
		if err != nil {
			return err
		}

		sess.RefreshID = uuid.NewString()
		sess.LastActivity = now
		sess.ExpiresAt = now.Add(s.cfg.RefreshTTL)
		if err := s.sessions.Rotate(ctx, sess.ID, sess.RefreshID, sess.LastActivity, sess.ExpiresAt); err != nil {
			return err
		}
		pair, err = s.IssuePair(user, sess)
		return err
	})
	if err != nil {
		s.metrics.refresh("error")
		return nil, oops.Code("TOKEN_ROTATE_FAILED").With("session_id", sid.String()).Wrap(err)
	}

	switch reason {
	case "":
		s.metrics.refresh("ok")
		return pair, nil
	case "reused":
		s.metrics.refresh("reused")
		s.metrics.revoked("reuse", 1)
		s.logger.WarnContext(ctx, "refresh token reuse detected, session revoked",
			"session_id", sid.String(), "user_id", claims.Subject)
		return nil, oops.Code("TOKEN_REUSED").With("session_id", sid.String()).Wrap(ErrTokenInvalid)
	case "expired":
		s.metrics.refresh("expired")
		return nil, oops.Code("SESSION_EXPIRED").With("session_id", sid.String()).Wrap(ErrTokenExpired)
	default:
		s.metrics.refresh(reason)
		return nil, oops.Code("TOKEN_INVALID").With("reason", reason).With("session_id", sid.String()).Wrap(ErrTokenInvalid)
	}
}
