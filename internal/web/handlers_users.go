// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MedAuth Contributors

package web

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/medauth/medauth/internal/auth"
)

// userID parses the {id} path parameter, writing a 400 when it is not a
// positive integer.
func userID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeCodedError(w, http.StatusBadRequest, CodeInvalidID, "invalid user id")
		return 0, false
	}
	return id, true
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	var req createUserRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	in, err := req.toNewUser()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if in.Role, err = auth.ParseRole(req.Role); err != nil {
		s.writeError(w, r, err)
		return
	}

	u, err := s.svc.CreateUser(r.Context(), p, in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newUserResponse(u))
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	id, ok := userID(w, r)
	if !ok {
		return
	}
	u, err := s.svc.GetUser(r.Context(), p, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newUserResponse(u))
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	id, ok := userID(w, r)
	if !ok {
		return
	}
	if err := s.svc.DeleteUser(r.Context(), p, id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRestoreUser(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	id, ok := userID(w, r)
	if !ok {
		return
	}
	u, err := s.svc.RestoreUser(r.Context(), p, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newUserResponse(u))
}

func (s *Server) handleChangeRole(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	id, ok := userID(w, r)
	if !ok {
		return
	}
	var req changeRoleRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	role, err := auth.ParseRole(req.Role)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	u, err := s.svc.ChangeRole(r.Context(), p, id, role)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newUserResponse(u))
}

func (s *Server) handleForcePasswordChange(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	id, ok := userID(w, r)
	if !ok {
		return
	}
	if err := s.svc.ForcePasswordChange(r.Context(), p, id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUserProfile(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	id, ok := userID(w, r)
	if !ok {
		return
	}
	prof, err := s.svc.Profile(r.Context(), p, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newProfileResponse(prof))
}

// handleCompleteProfile creates the specialization named by the body's
// kind.
func (s *Server) handleCompleteProfile(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	id, ok := userID(w, r)
	if !ok {
		return
	}
	var req completeProfileRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	if _, err := s.svc.CompleteProfile(r.Context(), p, id, req.input()); err != nil {
		s.writeError(w, r, err)
		return
	}
	prof, err := s.svc.Profile(r.Context(), p, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newProfileResponse(prof))
}
