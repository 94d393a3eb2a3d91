// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MedAuth Contributors

package auth

import (
	"context"
	"time"
)

// ProfileState describes whether a user's role-specific profile exists.
type ProfileState string

// Profile states.
const (
	// ProfileNotApplicable means the role has no specialization table.
	ProfileNotApplicable ProfileState = "none"
	// ProfilePending means the role expects a profile that was not yet completed.
	ProfilePending ProfileState = "pending"
	// ProfileComplete means the profile row exists.
	ProfileComplete ProfileState = "complete"
)

// Specialization is one of *Patient or *Doctor.
type Specialization interface {
	OwnerID() int64
	Kind() Role
	isSpecialization()
}

// Patient is the patient-specific profile of a user.
type Patient struct {
	ID                  int64
	UserID              int64
	MedicalRecordNumber *string
	EmergencyContact    string
	InsuranceInfo       string
	CreatedAt           time.Time
	UpdatedAt           time.Time
	DeletedAt           *time.Time
}

// OwnerID returns the owning user's ID.
func (p *Patient) OwnerID() int64 { return p.UserID }

// Kind returns RolePatient.
func (p *Patient) Kind() Role { return RolePatient }

func (*Patient) isSpecialization() {}

// Doctor is the doctor-specific profile of a user.
type Doctor struct {
	ID             int64
	UserID         int64
	DoctorID       string
	Qualifications []string
	Department     string
	Specialization string
	LicenseNumber  string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	DeletedAt      *time.Time
}

// OwnerID returns the owning user's ID.
func (d *Doctor) OwnerID() int64 { return d.UserID }

// Kind returns RoleDoctor.
func (d *Doctor) Kind() Role { return RoleDoctor }

func (*Doctor) isSpecialization() {}

// ProfileInput is one of PatientProfileInput or DoctorProfileInput.
type ProfileInput interface {
	requiredRole() Role
}

// PatientProfileInput completes a patient profile.
type PatientProfileInput struct {
	MedicalRecordNumber *string
	EmergencyContact    string
	InsuranceInfo       string
}

func (PatientProfileInput) requiredRole() Role { return RolePatient }

// DoctorProfileInput completes a doctor profile.
type DoctorProfileInput struct {
	DoctorID       string
	Qualifications []string
	Department     string
	Specialization string
	LicenseNumber  string
}

func (DoctorProfileInput) requiredRole() Role { return RoleDoctor }

func (in DoctorProfileInput) validate() error {
	var violations []string
	if in.DoctorID == "" {
		violations = append(violations, "Doctor ID is required")
	}
	if in.LicenseNumber == "" {
		violations = append(violations, "License number is required")
	}
	if len(violations) > 0 {
		return NewValidationError("invalid doctor profile", violations...)
	}
	return nil
}

// Profile is a user together with its specialization, if any.
type Profile struct {
	User           *User
	State          ProfileState
	Specialization Specialization
}

// PatientRepository persists patient profiles. At most one live row per user.
type PatientRepository interface {
	Create(ctx context.Context, p *Patient) error
	GetByUser(ctx context.Context, userID int64, vis Visibility) (*Patient, error)
	SoftDeleteByUser(ctx context.Context, userID int64, at time.Time) error
	RestoreByUser(ctx context.Context, userID int64, deletedAt time.Time) error
}

// DoctorRepository persists doctor profiles. At most one live row per user.
type DoctorRepository interface {
	Create(ctx context.Context, d *Doctor) error
	GetByUser(ctx context.Context, userID int64, vis Visibility) (*Doctor, error)
	SoftDeleteByUser(ctx context.Context, userID int64, at time.Time) error
	RestoreByUser(ctx context.Context, userID int64, deletedAt time.Time) error
}
