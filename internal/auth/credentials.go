// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MedAuth Contributors

package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"strings"

	"github.com/samber/oops"

	"github.com/medauth/medauth/internal/policy"
)

// StoreDeps are the collaborators of a CredentialStore.
type StoreDeps struct {
	Users    UserRepository
	Patients PatientRepository
	Doctors  DoctorRepository
	Tx       Transactor
	Hasher   PasswordHasher
	Logger   *slog.Logger
}

// CredentialStore owns users and their specialization rows. It never
// returns or logs plaintext secrets.
type CredentialStore struct {
	users     UserRepository
	patients  PatientRepository
	doctors   DoctorRepository
	tx        Transactor
	hasher    PasswordHasher
	logger    *slog.Logger
	now       Clock
	dummyHash string
}

// NewCredentialStore validates deps and creates a CredentialStore.
func NewCredentialStore(d StoreDeps) (*CredentialStore, error) {
	switch {
	case d.Users == nil:
		return nil, oops.Code("CREDENTIALS_INVALID").Errorf("users repository is required")
	case d.Patients == nil:
		return nil, oops.Code("CREDENTIALS_INVALID").Errorf("patients repository is required")
	case d.Doctors == nil:
		return nil, oops.Code("CREDENTIALS_INVALID").Errorf("doctors repository is required")
	case d.Tx == nil:
		return nil, oops.Code("CREDENTIALS_INVALID").Errorf("transactor is required")
	case d.Hasher == nil:
		return nil, oops.Code("CREDENTIALS_INVALID").Errorf("password hasher is required")
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	// Verify against a hash with the live parameters so a missing account
	// costs the same as a wrong password.
	dummy := dummyPasswordHash
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err == nil {
		if h, err := d.Hasher.Hash(hex.EncodeToString(buf)); err == nil {
			dummy = h
		}
	}

	return &CredentialStore{
		users:     d.Users,
		patients:  d.Patients,
		doctors:   d.Doctors,
		tx:        d.Tx,
		hasher:    d.Hasher,
		logger:    logger,
		now:       systemClock,
		dummyHash: dummy,
	}, nil
}

// SetClock replaces the store's time source.
func (c *CredentialStore) SetClock(clock Clock) { c.now = clock }

// CheckPassword applies the password policy and returns a ValidationError
// listing every violated rule.
func CheckPassword(password, username string) error {
	res := policy.Evaluate(password, username)
	if res.Valid() {
		return nil
	}
	return oops.Code("PASSWORD_POLICY_VIOLATION").
		Wrap(NewValidationError("Password does not meet requirements", res.Violations...))
}

// Create validates, hashes, and inserts a new account.
func (c *CredentialStore) Create(ctx context.Context, in NewUser) (*User, error) {
	in.Email = NormalizeEmail(in.Email)
	in.Username = strings.TrimSpace(in.Username)
	if in.Role == "" {
		in.Role = RoleUndefined
	}

	if err := validateIdentity(in.Email, in.Username); err != nil {
		return nil, oops.Code("USER_INVALID").Wrap(err)
	}
	if !in.Role.Valid() {
		return nil, oops.Code("USER_INVALID_ROLE").With("role", string(in.Role)).
			Wrap(NewValidationError("invalid role", "unknown role "+string(in.Role)))
	}
	if err := CheckPassword(in.Password, in.Username); err != nil {
		return nil, err
	}

	hash, err := c.hasher.Hash(in.Password)
	if err != nil {
		return nil, oops.Code("USER_CREATE_FAILED").With("operation", "hash password").Wrap(err)
	}

	prefs := in.EmailPreferences.Clone()
	if prefs == nil {
		prefs = DefaultEmailPreferences()
	}

	now := c.now()
	u := &User{
		Email:                  in.Email,
		Username:               in.Username,
		FirstName:              strings.TrimSpace(in.FirstName),
		LastName:               strings.TrimSpace(in.LastName),
		PasswordHash:           hash,
		Role:                   in.Role,
		PasswordChangeRequired: in.PasswordChangeRequired,
		EmailPreferences:       prefs,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	if err := c.users.Create(ctx, u); err != nil {
		return nil, oops.Code("USER_CREATE_FAILED").
			With("username", u.Username).
			Wrap(err)
	}
	return u, nil
}

// Verify checks credentials for a username or email. Every failure cause
// yields the same ErrAuthFailed.
func (c *CredentialStore) Verify(ctx context.Context, identifier, password string) (*User, error) {
	user, lookupErr := c.users.GetByIdentifier(ctx, strings.TrimSpace(identifier))

	targetHash := c.dummyHash
	exists := false
	switch {
	case lookupErr == nil:
		targetHash = user.PasswordHash
		exists = true
	case !errors.Is(lookupErr, ErrNotFound):
		return nil, oops.Code("AUTH_LOGIN_FAILED").With("operation", "lookup user").Wrap(lookupErr)
	}

	valid, verifyErr := c.hasher.Verify(password, targetHash)
	if verifyErr != nil && exists {
		c.logger.ErrorContext(ctx, "stored password hash unreadable", "user_id", user.ID, "error", verifyErr)
	}
	if !exists || !valid || verifyErr != nil {
		return nil, oops.Code("AUTH_INVALID_CREDENTIALS").Wrap(ErrAuthFailed)
	}

	if c.hasher.NeedsUpgrade(user.PasswordHash) {
		if newHash, err := c.hasher.Hash(password); err == nil {
			user.PasswordHash = newHash
			if err := c.users.Update(ctx, user); err != nil {
				c.logger.WarnContext(ctx, "password hash upgrade failed", "user_id", user.ID, "error", err)
			}
		}
	}
	return user, nil
}

// Get returns a user by ID.
func (c *CredentialStore) Get(ctx context.Context, id int64, vis Visibility) (*User, error) {
	u, err := c.users.Get(ctx, id, vis)
	if err != nil {
		return nil, oops.Code("USER_GET_FAILED").With("user_id", id).Wrap(err)
	}
	return u, nil
}

// GetByEmail returns the live user with the given email.
func (c *CredentialStore) GetByEmail(ctx context.Context, email string) (*User, error) {
	u, err := c.users.GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		return nil, oops.Code("USER_GET_FAILED").Wrap(err)
	}
	return u, nil
}

// UpdateProfile applies a partial update. A new password is re-validated
// and re-hashed. Changing the role leaves specialization rows untouched.
func (c *CredentialStore) UpdateProfile(ctx context.Context, id int64, upd UserUpdate) (*User, error) {
	u, err := c.users.Get(ctx, id, LiveOnly)
	if err != nil {
		return nil, oops.Code("USER_UPDATE_FAILED").With("user_id", id).Wrap(err)
	}

	if upd.Email != nil {
		u.Email = NormalizeEmail(*upd.Email)
	}
	if upd.Username != nil {
		u.Username = strings.TrimSpace(*upd.Username)
	}
	if upd.FirstName != nil {
		u.FirstName = strings.TrimSpace(*upd.FirstName)
	}
	if upd.LastName != nil {
		u.LastName = strings.TrimSpace(*upd.LastName)
	}
	if upd.Role != nil {
		if !upd.Role.Valid() {
			return nil, oops.Code("USER_INVALID_ROLE").With("role", string(*upd.Role)).
				Wrap(NewValidationError("invalid role", "unknown role "+string(*upd.Role)))
		}
		u.Role = *upd.Role
	}
	if upd.EmailPreferences != nil {
		merged := u.EmailPreferences.Clone()
		if merged == nil {
			merged = DefaultEmailPreferences()
		}
		for k, v := range upd.EmailPreferences {
			merged[k] = v
		}
		u.EmailPreferences = merged
	}
	if err := validateIdentity(u.Email, u.Username); err != nil {
		return nil, oops.Code("USER_INVALID").With("user_id", id).Wrap(err)
	}
	if upd.Password != nil {
		if err := CheckPassword(*upd.Password, u.Username); err != nil {
			return nil, err
		}
		hash, err := c.hasher.Hash(*upd.Password)
		if err != nil {
			return nil, oops.Code("USER_UPDATE_FAILED").With("operation", "hash password").Wrap(err)
		}
		u.PasswordHash = hash
	}

	u.UpdatedAt = c.now()
	if err := c.users.Update(ctx, u); err != nil {
		return nil, oops.Code("USER_UPDATE_FAILED").With("user_id", id).Wrap(err)
	}
	return u, nil
}

// SetPassword validates and stores a new password and sets the
// password-change-required flag to changeRequired.
func (c *CredentialStore) SetPassword(ctx context.Context, id int64, password string, changeRequired bool) error {
	u, err := c.users.Get(ctx, id, LiveOnly)
	if err != nil {
		return oops.Code("PASSWORD_SET_FAILED").With("user_id", id).Wrap(err)
	}
	if err := CheckPassword(password, u.Username); err != nil {
		return err
	}
	hash, err := c.hasher.Hash(password)
	if err != nil {
		return oops.Code("PASSWORD_SET_FAILED").With("operation", "hash password").Wrap(err)
	}
	u.PasswordHash = hash
	u.PasswordChangeRequired = changeRequired
	u.UpdatedAt = c.now()
	if err := c.users.Update(ctx, u); err != nil {
		return oops.Code("PASSWORD_SET_FAILED").With("user_id", id).Wrap(err)
	}
	return nil
}

// CheckCurrentPassword verifies password against the stored hash of id.
func (c *CredentialStore) CheckCurrentPassword(ctx context.Context, id int64, password string) (*User, error) {
	u, err := c.users.Get(ctx, id, LiveOnly)
	if err != nil {
		return nil, oops.Code("PASSWORD_CHECK_FAILED").With("user_id", id).Wrap(err)
	}
	ok, err := c.hasher.Verify(password, u.PasswordHash)
	if err != nil {
		return nil, oops.Code("PASSWORD_CHECK_FAILED").With("user_id", id).Wrap(err)
	}
	if !ok {
		return nil, oops.Code("PASSWORD_CURRENT_INCORRECT").With("user_id", id).Wrap(ErrIncorrectPassword)
	}
	return u, nil
}

// SetPasswordChangeRequired sets or clears the forced-change flag.
func (c *CredentialStore) SetPasswordChangeRequired(ctx context.Context, id int64, required bool) error {
	u, err := c.users.Get(ctx, id, LiveOnly)
	if err != nil {
		return oops.Code("USER_UPDATE_FAILED").With("user_id", id).Wrap(err)
	}
	u.PasswordChangeRequired = required
	u.UpdatedAt = c.now()
	if err := c.users.Update(ctx, u); err != nil {
		return oops.Code("USER_UPDATE_FAILED").With("user_id", id).Wrap(err)
	}
	return nil
}

// CompletePatientProfile creates the patient row for a patient-role user.
func (c *CredentialStore) CompletePatientProfile(ctx context.Context, userID int64, in PatientProfileInput) (*Patient, error) {
	var created *Patient
	err := c.tx.InTransaction(ctx, func(ctx context.Context) error {
		if err := c.requireRole(ctx, userID, RolePatient); err != nil {
			return err
		}
		if _, err := c.patients.GetByUser(ctx, userID, LiveOnly); err == nil {
			return oops.Code("PATIENT_PROFILE_EXISTS").With("user_id", userID).Wrap(ErrConflict)
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}

		now := c.now()
		p := &Patient{
			UserID:              userID,
			MedicalRecordNumber: in.MedicalRecordNumber,
			EmergencyContact:    strings.TrimSpace(in.EmergencyContact),
			InsuranceInfo:       strings.TrimSpace(in.InsuranceInfo),
			CreatedAt:           now,
			UpdatedAt:           now,
		}
		if err := c.patients.Create(ctx, p); err != nil {
			return err
		}
		created = p
		return nil
	})
	if err != nil {
		return nil, oops.Code("PATIENT_PROFILE_FAILED").With("user_id", userID).Wrap(err)
	}
	return created, nil
}

// CompleteDoctorProfile creates the doctor row for a doctor-role user.
func (c *CredentialStore) CompleteDoctorProfile(ctx context.Context, userID int64, in DoctorProfileInput) (*Doctor, error) {
	if err := in.validate(); err != nil {
		return nil, oops.Code("DOCTOR_PROFILE_INVALID").With("user_id", userID).Wrap(err)
	}

	var created *Doctor
	err := c.tx.InTransaction(ctx, func(ctx context.Context) error {
		if err := c.requireRole(ctx, userID, RoleDoctor); err != nil {
			return err
		}
		if _, err := c.doctors.GetByUser(ctx, userID, LiveOnly); err == nil {
			return oops.Code("DOCTOR_PROFILE_EXISTS").With("user_id", userID).Wrap(ErrConflict)
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}

		now := c.now()
		quals := make([]string, len(in.Qualifications))
		copy(quals, in.Qualifications)
		d := &Doctor{
			UserID:         userID,
			DoctorID:       strings.TrimSpace(in.DoctorID),
			Qualifications: quals,
			Department:     strings.TrimSpace(in.Department),
			Specialization: strings.TrimSpace(in.Specialization),
			LicenseNumber:  strings.TrimSpace(in.LicenseNumber),
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := c.doctors.Create(ctx, d); err != nil {
			return err
		}
		created = d
		return nil
	})
	if err != nil {
		return nil, oops.Code("DOCTOR_PROFILE_FAILED").With("user_id", userID).Wrap(err)
	}
	return created, nil
}

// CompleteProfile dispatches on the input variant.
func (c *CredentialStore) CompleteProfile(ctx context.Context, userID int64, in ProfileInput) (Specialization, error) {
	switch v := in.(type) {
	case PatientProfileInput:
		return c.CompletePatientProfile(ctx, userID, v)
	case *PatientProfileInput:
		return c.CompletePatientProfile(ctx, userID, *v)
	case DoctorProfileInput:
		return c.CompleteDoctorProfile(ctx, userID, v)
	case *DoctorProfileInput:
		return c.CompleteDoctorProfile(ctx, userID, *v)
	default:
		return nil, oops.Code("PROFILE_INPUT_INVALID").Wrap(NewValidationError("unsupported profile type"))
	}
}

func (c *CredentialStore) requireRole(ctx context.Context, userID int64, role Role) error {
	u, err := c.users.Get(ctx, userID, LiveOnly)
	if err != nil {
		return err
	}
	if u.Role != role {
		return oops.Code("PROFILE_ROLE_MISMATCH").
			With("user_id", userID).
			With("role", string(u.Role)).
			With("expected_role", string(role)).
			Wrap(ErrInvalidState)
	}
	return nil
}

// Profile returns the user and the state of its specialization.
func (c *CredentialStore) Profile(ctx context.Context, userID int64) (*Profile, error) {
	u, err := c.users.Get(ctx, userID, LiveOnly)
	if err != nil {
		return nil, oops.Code("PROFILE_GET_FAILED").With("user_id", userID).Wrap(err)
	}

	p := &Profile{User: u, State: ProfileNotApplicable}
	var spec Specialization
	switch u.Role {
	case RolePatient:
		var patient *Patient
		patient, err = c.patients.GetByUser(ctx, userID, LiveOnly)
		if err == nil {
			spec = patient
		}
	case RoleDoctor:
		var doctor *Doctor
		doctor, err = c.doctors.GetByUser(ctx, userID, LiveOnly)
		if err == nil {
			spec = doctor
		}
	default:
		return p, nil
	}

	switch {
	case err == nil:
		p.State = ProfileComplete
		p.Specialization = spec
	case errors.Is(err, ErrNotFound):
		p.State = ProfilePending
	default:
		return nil, oops.Code("PROFILE_GET_FAILED").With("user_id", userID).Wrap(err)
	}
	return p, nil
}

// SoftDelete marks the user and any specialization rows deleted in one
// transaction.
func (c *CredentialStore) SoftDelete(ctx context.Context, userID int64) error {
	err := c.tx.InTransaction(ctx, func(ctx context.Context) error {
		at := c.now()
		if err := c.users.SoftDelete(ctx, userID, at); err != nil {
			return err
		}
		if err := c.patients.SoftDeleteByUser(ctx, userID, at); err != nil {
			return err
		}
		return c.doctors.SoftDeleteByUser(ctx, userID, at)
	})
	if err != nil {
		return oops.Code("USER_DELETE_FAILED").With("user_id", userID).Wrap(err)
	}
	return nil
}

// Restore undeletes a user and the specialization rows deleted with it.
// Returns ErrConflict if a live account took the email or username.
func (c *CredentialStore) Restore(ctx context.Context, userID int64) (*User, error) {
	var restored *User
	err := c.tx.InTransaction(ctx, func(ctx context.Context) error {
		u, err := c.users.Get(ctx, userID, IncludeDeleted)
		if err != nil {
			return err
		}
		if !u.IsDeleted() {
			return oops.Code("USER_NOT_DELETED").With("user_id", userID).Wrap(ErrInvalidState)
		}
		deletedAt := *u.DeletedAt
		if err := c.users.Restore(ctx, userID); err != nil {
			return err
		}
		if err := c.patients.RestoreByUser(ctx, userID, deletedAt); err != nil {
			return err
		}
		if err := c.doctors.RestoreByUser(ctx, userID, deletedAt); err != nil {
			return err
		}
		u.DeletedAt = nil
		restored = u
		return nil
	})
	if err != nil {
		return nil, oops.Code("USER_RESTORE_FAILED").With("user_id", userID).Wrap(err)
	}
	return restored, nil
}
