// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MedAuth Contributors

package web

import (
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/samber/oops"

	"github.com/medauth/medauth/internal/auth"
	"github.com/medauth/medauth/pkg/errutil"
)

// Error codes produced by the HTTP layer itself.
const (
	CodeMalformedRequest = "MALFORMED_REQUEST"
	CodeUnauthenticated  = "UNAUTHENTICATED"
	CodeInternal         = "INTERNAL"
	CodeInvalidID        = "INVALID_ID"
)

// unauthenticatedMessage is the only message any 401 carries. The cause
// (expired, reused, revoked, unknown user) goes to the log.
const unauthenticatedMessage = "authentication failed"

var errMalformedBody = errors.New("request body is not valid JSON")

// errorBody is the JSON payload of every non-2xx response.
type errorBody struct {
	Code       string   `json:"code"`
	Message    string   `json:"message"`
	Violations []string `json:"violations,omitempty"`
}

// kindStatus maps error kinds to HTTP statuses. Order matters: the first
// match wins.
var kindStatus = []struct {
	kind   error
	status int
}{
	{errMalformedBody, http.StatusBadRequest},
	{auth.ErrValidation, http.StatusUnprocessableEntity},
	{auth.ErrIncorrectPassword, http.StatusBadRequest},
	{auth.ErrRateLimited, http.StatusTooManyRequests},
	{auth.ErrAuthFailed, http.StatusUnauthorized},
	{auth.ErrTokenExpired, http.StatusUnauthorized},
	{auth.ErrTokenInvalid, http.StatusUnauthorized},
	{auth.ErrPasswordChangeRequired, http.StatusForbidden},
	{auth.ErrForbidden, http.StatusForbidden},
	{auth.ErrNotFound, http.StatusNotFound},
	{auth.ErrConflict, http.StatusConflict},
	{auth.ErrInvalidState, http.StatusConflict},
}

// StatusFor returns the HTTP status for err.
func StatusFor(err error) int {
	for _, ks := range kindStatus {
		if errors.Is(err, ks.kind) {
			return ks.status
		}
	}
	return http.StatusInternalServerError
}

// bodyFor builds the payload for err. Messages come from the kind
// sentinel, never from the wrapped chain, so internal context stays out of
// responses. Every 401 gets the same body.
func bodyFor(err error, status int) errorBody {
	switch status {
	case http.StatusInternalServerError:
		return errorBody{Code: CodeInternal, Message: "internal server error"}
	case http.StatusUnauthorized:
		return errorBody{Code: CodeUnauthenticated, Message: unauthenticatedMessage}
	}

	body := errorBody{Code: errutil.Code(err)}
	var verr *auth.ValidationError
	if errors.As(err, &verr) {
		body.Message = verr.Message
		body.Violations = verr.Violations
	}
	if body.Message == "" {
		for _, ks := range kindStatus {
			if errors.Is(err, ks.kind) {
				body.Message = ks.kind.Error()
				break
			}
		}
	}
	if body.Code == "" {
		body.Code = http.StatusText(status)
	}
	return body
}

// retryAfter extracts the cooldown recorded by the login limiter.
func retryAfter(err error) (time.Duration, bool) {
	oerr, ok := oops.AsOops(err)
	if !ok {
		return 0, false
	}
	raw, ok := oerr.Context()["retry_after"].(string)
	if !ok {
		return 0, false
	}
	d, perr := time.ParseDuration(raw)
	if perr != nil {
		return 0, false
	}
	return d, true
}

// writeError logs err when it is unexpected and renders it.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		errutil.LogErrorContext(r.Context(), s.logger, slog.LevelError, "request failed", err)
	} else {
		s.logger.DebugContext(r.Context(), "request rejected",
			"status", status, "code", errutil.Code(err))
	}

	if status == http.StatusTooManyRequests {
		if d, ok := retryAfter(err); ok {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(d.Seconds()))))
		}
	}
	writeJSON(w, status, bodyFor(err, status))
}

// writeCodedError renders an error produced by the HTTP layer.
func writeCodedError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Code: code, Message: message})
}
