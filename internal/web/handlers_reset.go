// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MedAuth Contributors

package web

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/medauth/medauth/internal/auth"
	"github.com/medauth/medauth/pkg/errutil"
)

// handleResetRequest always answers 202 so the response does not reveal
// whether the email has an account.
func (s *Server) handleResetRequest(w http.ResponseWriter, r *http.Request) {
	var req resetRequestRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	if req.Email != "" {
		if err := s.svc.RequestPasswordReset(r.Context(), req.Email); err != nil {
			errutil.LogErrorContext(r.Context(), s.logger, slog.LevelError, "password reset request failed", err)
		}
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"message": "If the email belongs to an account, a reset link has been sent.",
	})
}

func (s *Server) handleResetVerify(w http.ResponseWriter, r *http.Request) {
	var req resetVerifyRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	hint, err := s.svc.VerifyResetToken(r.Context(), req.Token)
	if err != nil {
		s.writeResetError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, verifyResponse{Valid: true, EmailHint: hint})
}

func (s *Server) handleResetComplete(w http.ResponseWriter, r *http.Request) {
	var req resetCompleteRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.svc.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		s.writeResetError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeResetError reports unusable reset tokens as 400 rather than 401:
// the caller is not authenticating, the link is just dead.
func (s *Server) writeResetError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, auth.ErrTokenInvalid) || errors.Is(err, auth.ErrTokenExpired) {
		body := bodyFor(err, http.StatusBadRequest)
		writeJSON(w, http.StatusBadRequest, struct {
			Valid bool `json:"valid"`
			errorBody
		}{Valid: false, errorBody: body})
		return
	}
	s.writeError(w, r, err)
}
