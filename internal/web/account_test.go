// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MedAuth Contributors

package web_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medauth/medauth/internal/auth"
)

func registration(username, password string) map[string]any {
	return map[string]any{
		"email":     username + "@hospital.test",
		"username":  username,
		"firstName": "Test",
		"lastName":  "Patient",
		"password":  password,
	}
}

func TestRegister(t *testing.T) {
	h := newHarness(t)

	t.Run("defaults to patient", func(t *testing.T) {
		resp := h.do(t, http.MethodPost, "/api/register", "", registration("alice", goodPassword))
		require.Equal(t, http.StatusCreated, resp.status, "body: %s", resp.body)
		var u struct {
			ID                     int64  `json:"id"`
			Role                   string `json:"role"`
			PasswordChangeRequired bool   `json:"passwordChangeRequired"`
		}
		resp.decode(t, &u)
		assert.Positive(t, u.ID)
		assert.Equal(t, "patient", u.Role)
		assert.False(t, u.PasswordChangeRequired)
		assert.NotContains(t, string(resp.body), "argon2id")
	})

	t.Run("duplicate email is a conflict", func(t *testing.T) {
		body := registration("alice2", goodPassword)
		body["email"] = "ALICE@hospital.test"
		resp := h.do(t, http.MethodPost, "/api/register", "", body)
		require.Equal(t, http.StatusConflict, resp.status)
		assert.Equal(t, "USER_EMAIL_TAKEN", resp.apiError(t).Code)
	})

	t.Run("weak password lists violations", func(t *testing.T) {
		resp := h.do(t, http.MethodPost, "/api/register", "", registration("bob", "short"))
		require.Equal(t, http.StatusUnprocessableEntity, resp.status)
		e := resp.apiError(t)
		assert.Equal(t, "PASSWORD_POLICY_VIOLATION", e.Code)
		assert.Contains(t, e.Violations, "Password must be at least 12 characters long")
		assert.Contains(t, e.Violations, "Password must contain at least one uppercase letter")
	})

	t.Run("invalid email", func(t *testing.T) {
		body := registration("carol", goodPassword)
		body["email"] = "not-an-email"
		resp := h.do(t, http.MethodPost, "/api/register", "", body)
		require.Equal(t, http.StatusUnprocessableEntity, resp.status)
		assert.Contains(t, resp.apiError(t).Violations, "email must be a valid email address")
	})

	t.Run("privileged role refused", func(t *testing.T) {
		body := registration("mallory", goodPassword)
		body["role"] = "admin"
		resp := h.do(t, http.MethodPost, "/api/register", "", body)
		require.Equal(t, http.StatusForbidden, resp.status)
		assert.Equal(t, "REGISTER_ROLE_FORBIDDEN", resp.apiError(t).Code)
	})

	t.Run("unknown role", func(t *testing.T) {
		body := registration("trent", goodPassword)
		body["role"] = "janitor"
		resp := h.do(t, http.MethodPost, "/api/register", "", body)
		require.Equal(t, http.StatusUnprocessableEntity, resp.status)
		assert.Equal(t, "USER_INVALID_ROLE", resp.apiError(t).Code)
	})
}

func TestUpdateMe(t *testing.T) {
	h := newHarness(t)
	h.createUser(t, "dana", auth.RolePatient)
	h.createUser(t, "eddie", auth.RolePatient)
	tk := h.login(t, "dana", goodPassword)

	t.Run("partial update", func(t *testing.T) {
		resp := h.do(t, http.MethodPut, "/api/me", tk.AccessToken, map[string]any{
			"firstName":        "Dana",
			"emailPreferences": map[string]bool{auth.PrefBloodPressureAlerts: false},
		})
		require.Equal(t, http.StatusOK, resp.status, "body: %s", resp.body)
		var u struct {
			FirstName        string          `json:"firstName"`
			LastName         string          `json:"lastName"`
			EmailPreferences map[string]bool `json:"emailPreferences"`
		}
		resp.decode(t, &u)
		assert.Equal(t, "Dana", u.FirstName)
		assert.Equal(t, "Tester", u.LastName)
		assert.False(t, u.EmailPreferences[auth.PrefBloodPressureAlerts])
	})

	t.Run("taken username", func(t *testing.T) {
		resp := h.do(t, http.MethodPut, "/api/me", tk.AccessToken, map[string]any{"username": "EDDIE"})
		require.Equal(t, http.StatusConflict, resp.status)
		assert.Equal(t, "USER_USERNAME_TAKEN", resp.apiError(t).Code)
	})

	t.Run("role cannot be self-assigned", func(t *testing.T) {
		resp := h.do(t, http.MethodPut, "/api/me", tk.AccessToken, map[string]any{"role": "admin"})
		assert.Equal(t, http.StatusForbidden, resp.status)
	})

	t.Run("password goes through change-password", func(t *testing.T) {
		resp := h.do(t, http.MethodPut, "/api/me", tk.AccessToken, map[string]any{"password": newPassword})
		require.Equal(t, http.StatusUnprocessableEntity, resp.status)
		assert.Equal(t, "PASSWORD_UPDATE_NOT_ALLOWED", resp.apiError(t).Code)
	})
}

func TestChangePassword(t *testing.T) {
	h := newHarness(t)
	h.createUser(t, "alice", auth.RolePatient)
	laptop := h.login(t, "alice", goodPassword)
	phone := h.login(t, "alice", goodPassword)

	t.Run("wrong current password", func(t *testing.T) {
		resp := h.do(t, http.MethodPost, "/api/change-password", laptop.AccessToken, map[string]string{
			"currentPassword": "Not-My-Pass-1!",
			"newPassword":     newPassword,
		})
		require.Equal(t, http.StatusBadRequest, resp.status)
		assert.Equal(t, "PASSWORD_CURRENT_INCORRECT", resp.apiError(t).Code)
	})

	t.Run("confirmation mismatch", func(t *testing.T) {
		resp := h.do(t, http.MethodPost, "/api/change-password", laptop.AccessToken, map[string]string{
			"currentPassword": goodPassword,
			"newPassword":     newPassword,
			"confirmPassword": "something else",
		})
		require.Equal(t, http.StatusUnprocessableEntity, resp.status)
		assert.Contains(t, resp.apiError(t).Violations, "confirmPassword must match newPassword")
	})

	t.Run("weak new password", func(t *testing.T) {
		resp := h.do(t, http.MethodPost, "/api/change-password", laptop.AccessToken, map[string]string{
			"currentPassword": goodPassword,
			"newPassword":     "alllowercase",
		})
		require.Equal(t, http.StatusUnprocessableEntity, resp.status)
		assert.NotEmpty(t, resp.apiError(t).Violations)
	})

	t.Run("success revokes every session", func(t *testing.T) {
		resp := h.do(t, http.MethodPost, "/api/change-password", laptop.AccessToken, map[string]string{
			"currentPassword": goodPassword,
			"newPassword":     newPassword,
			"confirmPassword": newPassword,
		})
		require.Equal(t, http.StatusNoContent, resp.status, "body: %s", resp.body)

		assert.Equal(t, http.StatusUnauthorized, h.do(t, http.MethodGet, "/api/me", laptop.AccessToken, nil).status)
		assert.Equal(t, http.StatusUnauthorized, h.do(t, http.MethodGet, "/api/me", phone.AccessToken, nil).status)

		h.login(t, "alice", newPassword)
	})
}

func TestPasswordChangeGate(t *testing.T) {
	h := newHarness(t)
	h.createUser(t, "root", auth.RoleAdmin)
	admin := h.login(t, "root", goodPassword)

	resp := h.do(t, http.MethodPost, "/api/users", admin.AccessToken, map[string]any{
		"email":    "nurse@hospital.test",
		"username": "nurse",
		"password": goodPassword,
		"role":     "medical_staff",
	})
	require.Equal(t, http.StatusCreated, resp.status, "body: %s", resp.body)

	nurse := h.login(t, "nurse", goodPassword)
	require.True(t, nurse.PasswordChangeRequired)

	assert.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/api/me", nurse.AccessToken, nil).status)

	blocked := h.do(t, http.MethodGet, "/api/sessions", nurse.AccessToken, nil)
	require.Equal(t, http.StatusForbidden, blocked.status)
	assert.Equal(t, "PASSWORD_CHANGE_REQUIRED", blocked.apiError(t).Code)

	changed := h.do(t, http.MethodPost, "/api/change-password", nurse.AccessToken, map[string]string{
		"currentPassword": goodPassword,
		"newPassword":     newPassword,
	})
	require.Equal(t, http.StatusNoContent, changed.status, "body: %s", changed.body)

	nurse = h.login(t, "nurse", newPassword)
	assert.False(t, nurse.PasswordChangeRequired)
	assert.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/api/sessions", nurse.AccessToken, nil).status)
}

func TestDeleteMe(t *testing.T) {
	h := newHarness(t)
	h.createUser(t, "quinn", auth.RolePatient)
	tk := h.login(t, "quinn", goodPassword)

	require.Equal(t, http.StatusNoContent, h.do(t, http.MethodDelete, "/api/me", tk.AccessToken, nil).status)
	assert.Equal(t, http.StatusUnauthorized, h.do(t, http.MethodGet, "/api/me", tk.AccessToken, nil).status)

	resp := h.do(t, http.MethodPost, "/api/login", "", map[string]string{
		"identifier": "quinn", "password": goodPassword,
	})
	require.Equal(t, http.StatusUnauthorized, resp.status)
	assert.Equal(t, "UNAUTHENTICATED", resp.apiError(t).Code)
}

func TestMyProfile(t *testing.T) {
	h := newHarness(t)
	patient := h.createUser(t, "paula", auth.RolePatient)
	h.createUser(t, "rita", auth.RoleReceptionist)

	tk := h.login(t, "paula", goodPassword)
	var prof struct {
		State   string `json:"state"`
		Patient *struct {
			MedicalRecordNumber *string `json:"medicalRecordNumber"`
			EmergencyContact    string  `json:"emergencyContact"`
		} `json:"patient"`
	}

	resp := h.do(t, http.MethodGet, "/api/me/profile", tk.AccessToken, nil)
	require.Equal(t, http.StatusOK, resp.status)
	resp.decode(t, &prof)
	assert.Equal(t, "pending", prof.State)
	assert.Nil(t, prof.Patient)

	path := "/api/users/" + itoa(patient.ID) + "/profile"
	resp = h.do(t, http.MethodPost, path, tk.AccessToken, map[string]any{
		"kind":                "patient",
		"medicalRecordNumber": "MRN-0001",
		"emergencyContact":    "Sam, 555-0100",
	})
	require.Equal(t, http.StatusCreated, resp.status, "body: %s", resp.body)

	resp = h.do(t, http.MethodGet, "/api/me/profile", tk.AccessToken, nil)
	require.Equal(t, http.StatusOK, resp.status)
	resp.decode(t, &prof)
	assert.Equal(t, "complete", prof.State)
	require.NotNil(t, prof.Patient)
	require.NotNil(t, prof.Patient.MedicalRecordNumber)
	assert.Equal(t, "MRN-0001", *prof.Patient.MedicalRecordNumber)

	t.Run("second completion conflicts", func(t *testing.T) {
		resp := h.do(t, http.MethodPost, path, tk.AccessToken, map[string]any{"kind": "patient", "emergencyContact": "x"})
		require.Equal(t, http.StatusConflict, resp.status)
		assert.Equal(t, "PATIENT_PROFILE_EXISTS", resp.apiError(t).Code)
	})

	t.Run("role without a profile", func(t *testing.T) {
		rita := h.login(t, "rita", goodPassword)
		resp := h.do(t, http.MethodGet, "/api/me/profile", rita.AccessToken, nil)
		require.Equal(t, http.StatusOK, resp.status)
		resp.decode(t, &prof)
		assert.Equal(t, "none", prof.State)
	})
}
