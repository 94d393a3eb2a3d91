// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MedAuth Contributors

// Package web exposes the auth service over HTTP/JSON.
package web

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/medauth/medauth/internal/auth"
	"github.com/medauth/medauth/internal/observability"
)

// TracerName identifies spans created by this package.
const TracerName = "github.com/medauth/medauth/internal/web"

// Options configures optional collaborators of a Server.
type Options struct {
	Logger  *slog.Logger
	Metrics *observability.Metrics
	// Tracer defaults to the global otel tracer provider.
	Tracer trace.Tracer
}

// Server routes HTTP requests to the auth service.
type Server struct {
	svc      *auth.Service
	logger   *slog.Logger
	metrics  *observability.Metrics
	tracer   trace.Tracer
	validate *validator.Validate
}

// NewServer creates a Server for svc.
func NewServer(svc *auth.Service, opts Options) *Server {
	s := &Server{
		svc:      svc,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		tracer:   opts.Tracer,
		validate: newValidator(),
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer(TracerName)
	}
	return s
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogging)
	r.Use(s.instrument)
	r.Use(middleware.Recoverer)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeCodedError(w, http.StatusNotFound, "ROUTE_NOT_FOUND", "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeCodedError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/login", s.handleLogin)
		r.Post("/refresh", s.handleRefresh)
		r.Post("/register", s.handleRegister)

		r.Route("/password-reset", func(r chi.Router) {
			r.Post("/request", s.handleResetRequest)
			r.Post("/verify", s.handleResetVerify)
			r.Post("/complete", s.handleResetComplete)
		})

		r.Get("/password-policy", s.handlePolicy)
		r.Post("/password-policy/evaluate", s.handleEvaluate)

		r.Group(func(r chi.Router) {
			r.Use(s.authenticate)

			// Reachable while a password change is pending.
			r.Post("/logout", s.handleLogout)
			r.Post("/change-password", s.handleChangePassword)
			r.Get("/me", s.handleGetMe)

			r.Group(func(r chi.Router) {
				r.Use(s.requirePasswordChanged)

				r.Put("/me", s.handleUpdateMe)
				r.Delete("/me", s.handleDeleteMe)
				r.Get("/me/profile", s.handleMyProfile)

				r.Get("/sessions", s.handleListSessions)
				r.Delete("/sessions", s.handleRevokeAllSessions)
				r.Delete("/sessions/{id}", s.handleRevokeSession)

				r.Route("/users", func(r chi.Router) {
					r.Post("/", s.handleCreateUser)
					r.Get("/{id}", s.handleGetUser)
					r.Delete("/{id}", s.handleDeleteUser)
					r.Put("/{id}/role", s.handleChangeRole)
					r.Get("/{id}/profile", s.handleUserProfile)
					r.Post("/{id}/profile", s.handleCompleteProfile)
					r.Post("/{id}/force-password-change", s.handleForcePasswordChange)
					r.Post("/{id}/restore", s.handleRestoreUser)
				})
			})
		})
	})

	return r
}
