// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MedAuth Contributors

package web

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/samber/oops"

	"github.com/medauth/medauth/internal/auth"
	"github.com/medauth/medauth/internal/policy"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// loginRequest accepts the account as either identifier (username or
// email) or username.
type loginRequest struct {
	Identifier string `json:"identifier" validate:"required_without=Username"`
	Username   string `json:"username"`
	Password   string `json:"password" validate:"required"`
}

func (r loginRequest) account() string {
	if r.Identifier != "" {
		return r.Identifier
	}
	return r.Username
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

type registerRequest struct {
	Email            string          `json:"email" validate:"required,email,max=254"`
	Username         string          `json:"username" validate:"required,min=3,max=150"`
	FirstName        string          `json:"firstName" validate:"max=150"`
	LastName         string          `json:"lastName" validate:"max=150"`
	Password         string          `json:"password" validate:"required"`
	Role             string          `json:"role"`
	EmailPreferences map[string]bool `json:"emailPreferences"`
}

func (r registerRequest) toNewUser() (auth.NewUser, error) {
	in := auth.NewUser{
		Email:            r.Email,
		Username:         r.Username,
		FirstName:        r.FirstName,
		LastName:         r.LastName,
		Password:         r.Password,
		EmailPreferences: r.EmailPreferences,
	}
	if r.Role != "" {
		role, err := auth.ParseRole(r.Role)
		if err != nil {
			return auth.NewUser{}, err
		}
		in.Role = role
	}
	return in, nil
}

type createUserRequest struct {
	registerRequest
	Role string `json:"role" validate:"required"`
}

type updateMeRequest struct {
	Email            *string         `json:"email" validate:"omitempty,email,max=254"`
	Username         *string         `json:"username" validate:"omitempty,min=3,max=150"`
	FirstName        *string         `json:"firstName" validate:"omitempty,max=150"`
	LastName         *string         `json:"lastName" validate:"omitempty,max=150"`
	Role             *string         `json:"role"`
	Password         *string         `json:"password"`
	EmailPreferences map[string]bool `json:"emailPreferences"`
}

func (r updateMeRequest) toUpdate() auth.UserUpdate {
	upd := auth.UserUpdate{
		Email:            r.Email,
		Username:         r.Username,
		FirstName:        r.FirstName,
		LastName:         r.LastName,
		Password:         r.Password,
		EmailPreferences: r.EmailPreferences,
	}
	if r.Role != nil {
		role := auth.Role(*r.Role)
		upd.Role = &role
	}
	return upd
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required"`
	ConfirmPassword string `json:"confirmPassword" validate:"omitempty,eqfield=NewPassword"`
}

type resetRequestRequest struct {
	Email string `json:"email"`
}

type resetVerifyRequest struct {
	Token string `json:"token" validate:"required"`
}

type resetCompleteRequest struct {
	Token           string `json:"token" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required"`
	ConfirmPassword string `json:"confirmPassword" validate:"omitempty,eqfield=NewPassword"`
}

type changeRoleRequest struct {
	Role string `json:"role" validate:"required"`
}

type evaluateRequest struct {
	Password string `json:"password"`
	Username string `json:"username"`
}

// completeProfileRequest carries patient or doctor fields. Kind selects
// the variant; the store rejects a kind that does not match the user's
// role.
type completeProfileRequest struct {
	Kind auth.Role `json:"kind" validate:"required,oneof=patient doctor"`

	MedicalRecordNumber *string `json:"medicalRecordNumber" validate:"omitempty,max=64"`
	EmergencyContact    string  `json:"emergencyContact" validate:"max=500"`
	InsuranceInfo       string  `json:"insuranceInfo" validate:"max=500"`

	DoctorID       string   `json:"doctorId" validate:"max=64"`
	Qualifications []string `json:"qualifications" validate:"dive,max=200"`
	Department     string   `json:"department" validate:"max=150"`
	Specialization string   `json:"specialization" validate:"max=150"`
	LicenseNumber  string   `json:"licenseNumber" validate:"max=64"`
}

func (r completeProfileRequest) input() auth.ProfileInput {
	if r.Kind == auth.RoleDoctor {
		return auth.DoctorProfileInput{
			DoctorID:       r.DoctorID,
			Qualifications: r.Qualifications,
			Department:     r.Department,
			Specialization: r.Specialization,
			LicenseNumber:  r.LicenseNumber,
		}
	}
	return auth.PatientProfileInput{
		MedicalRecordNumber: r.MedicalRecordNumber,
		EmergencyContact:    r.EmergencyContact,
		InsuranceInfo:       r.InsuranceInfo,
	}
}

type userResponse struct {
	ID                     int64           `json:"id"`
	Email                  string          `json:"email"`
	Username               string          `json:"username"`
	FirstName              string          `json:"firstName"`
	LastName               string          `json:"lastName"`
	Role                   auth.Role       `json:"role"`
	PasswordChangeRequired bool            `json:"passwordChangeRequired"`
	EmailPreferences       map[string]bool `json:"emailPreferences"`
	CreatedAt              time.Time       `json:"createdAt"`
	UpdatedAt              time.Time       `json:"updatedAt"`
	DeletedAt              *time.Time      `json:"deletedAt,omitempty"`
}

func newUserResponse(u *auth.User) userResponse {
	return userResponse{
		ID:                     u.ID,
		Email:                  u.Email,
		Username:               u.Username,
		FirstName:              u.FirstName,
		LastName:               u.LastName,
		Role:                   u.Role,
		PasswordChangeRequired: u.PasswordChangeRequired,
		EmailPreferences:       u.EmailPreferences,
		CreatedAt:              u.CreatedAt,
		UpdatedAt:              u.UpdatedAt,
		DeletedAt:              u.DeletedAt,
	}
}

type tokenResponse struct {
	AccessToken            string       `json:"accessToken"`
	RefreshToken           string       `json:"refreshToken"`
	TokenType              string       `json:"tokenType"`
	ExpiresAt              time.Time    `json:"expiresAt"`
	RefreshExpiresAt       time.Time    `json:"refreshExpiresAt"`
	SessionID              string       `json:"sessionId"`
	PasswordChangeRequired bool         `json:"passwordChangeRequired"`
	User                   userResponse `json:"user"`
}

func newTokenResponse(p *auth.TokenPair) tokenResponse {
	return tokenResponse{
		AccessToken:            p.AccessToken,
		RefreshToken:           p.RefreshToken,
		TokenType:              "Bearer",
		ExpiresAt:              p.AccessExpiresAt,
		RefreshExpiresAt:       p.RefreshExpiresAt,
		SessionID:              p.SessionID.String(),
		PasswordChangeRequired: p.User.PasswordChangeRequired,
		User:                   newUserResponse(p.User),
	}
}

type sessionResponse struct {
	ID           string    `json:"id"`
	UserAgent    string    `json:"userAgent"`
	IPAddress    string    `json:"ipAddress"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
	ExpiresAt    time.Time `json:"expiresAt"`
	Current      bool      `json:"current"`
}

type patientResponse struct {
	ID                  int64   `json:"id"`
	MedicalRecordNumber *string `json:"medicalRecordNumber"`
	EmergencyContact    string  `json:"emergencyContact"`
	InsuranceInfo       string  `json:"insuranceInfo"`
}

type doctorResponse struct {
	ID             int64    `json:"id"`
	DoctorID       string   `json:"doctorId"`
	Qualifications []string `json:"qualifications"`
	Department     string   `json:"department"`
	Specialization string   `json:"specialization"`
	LicenseNumber  string   `json:"licenseNumber"`
}

type profileResponse struct {
	User    userResponse      `json:"user"`
	State   auth.ProfileState `json:"state"`
	Patient *patientResponse  `json:"patient,omitempty"`
	Doctor  *doctorResponse   `json:"doctor,omitempty"`
}

func newProfileResponse(p *auth.Profile) profileResponse {
	resp := profileResponse{User: newUserResponse(p.User), State: p.State}
	setSpecialization(&resp, p.Specialization)
	return resp
}

func setSpecialization(resp *profileResponse, spec auth.Specialization) {
	switch v := spec.(type) {
	case *auth.Patient:
		resp.Patient = &patientResponse{
			ID:                  v.ID,
			MedicalRecordNumber: v.MedicalRecordNumber,
			EmergencyContact:    v.EmergencyContact,
			InsuranceInfo:       v.InsuranceInfo,
		}
	case *auth.Doctor:
		quals := v.Qualifications
		if quals == nil {
			quals = []string{}
		}
		resp.Doctor = &doctorResponse{
			ID:             v.ID,
			DoctorID:       v.DoctorID,
			Qualifications: quals,
			Department:     v.Department,
			Specialization: v.Specialization,
			LicenseNumber:  v.LicenseNumber,
		}
	}
}

type policyRuleResponse struct {
	Code        string `json:"code"`
	Requirement string `json:"requirement"`
}

// policyResponse lists the rules as plain requirement strings, in order.
// RuleDetails pairs each with its stable code.
type policyResponse struct {
	Rules             []string             `json:"rules"`
	RuleDetails       []policyRuleResponse `json:"ruleDetails"`
	MinLength         int                  `json:"minLength"`
	SpecialCharacters string               `json:"specialCharacters"`
}

type evaluateResponse struct {
	Score      int          `json:"score"`
	Label      policy.Label `json:"label"`
	Valid      bool         `json:"valid"`
	Violations []string     `json:"violations"`
	Warnings   []string     `json:"warnings"`
}

type verifyResponse struct {
	Valid     bool   `json:"valid"`
	EmailHint string `json:"emailHint,omitempty"`
}

// newValidator returns a validator that reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// violationMessage renders one field failure.
func violationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_without":
		return fe.Field() + " is required"
	case "email":
		return fe.Field() + " must be a valid email address"
	case "min":
		return fe.Field() + " must be at least " + fe.Param() + " characters"
	case "max":
		return fe.Field() + " must be at most " + fe.Param() + " characters"
	case "oneof":
		return fe.Field() + " must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "eqfield":
		return fe.Field() + " must match " + lowerFirst(fe.Param())
	default:
		return fe.Field() + " is invalid"
	}
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

// decode reads a JSON body into dst and validates it.
func (s *Server) decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return oops.Code(CodeMalformedRequest).With("eof", errors.Is(err, io.EOF)).Wrap(errMalformedBody)
	}

	err := s.validate.Struct(dst)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return oops.Code("REQUEST_INVALID").Wrap(err)
	}
	violations := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		violations = append(violations, violationMessage(fe))
	}
	return oops.Code("REQUEST_INVALID").Wrap(auth.NewValidationError("invalid request", violations...))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
