// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MedAuth Contributors

package memory

import (
	"context"
	"time"

	"github.com/samber/oops"

	"github.com/medauth/medauth/internal/auth"
)

func clonePatient(p *auth.Patient) *auth.Patient {
	c := *p
	if p.MedicalRecordNumber != nil {
		mrn := *p.MedicalRecordNumber
		c.MedicalRecordNumber = &mrn
	}
	if p.DeletedAt != nil {
		t := *p.DeletedAt
		c.DeletedAt = &t
	}
	return &c
}

func cloneDoctor(d *auth.Doctor) *auth.Doctor {
	c := *d
	c.Qualifications = append([]string(nil), d.Qualifications...)
	if d.DeletedAt != nil {
		t := *d.DeletedAt
		c.DeletedAt = &t
	}
	return &c
}

// PatientRepository implements auth.PatientRepository.
type PatientRepository struct {
	s *Store
}

// Create inserts p. At most one live row per user; medical record numbers
// are unique across all rows.
func (r *PatientRepository) Create(ctx context.Context, p *auth.Patient) error {
	defer r.s.lock(ctx)()

	for _, other := range r.s.patients {
		if other.UserID == p.UserID && other.DeletedAt == nil {
			return oops.Code("PATIENT_PROFILE_EXISTS").With("user_id", p.UserID).Wrap(auth.ErrConflict)
		}
		if p.MedicalRecordNumber != nil && other.MedicalRecordNumber != nil &&
			*p.MedicalRecordNumber == *other.MedicalRecordNumber {
			return oops.Code("PATIENT_MRN_TAKEN").With("field", "medical_record_number").Wrap(auth.ErrConflict)
		}
	}
	r.s.nextPatient++
	p.ID = r.s.nextPatient
	r.s.patients[p.ID] = clonePatient(p)
	return nil
}

// GetByUser returns the user's patient row.
func (r *PatientRepository) GetByUser(ctx context.Context, userID int64, vis auth.Visibility) (*auth.Patient, error) {
	defer r.s.lock(ctx)()

	var found *auth.Patient
	for _, p := range r.s.patients {
		if p.UserID != userID {
			continue
		}
		if p.DeletedAt == nil {
			return clonePatient(p), nil
		}
		if vis == auth.IncludeDeleted && (found == nil || p.DeletedAt.After(*found.DeletedAt)) {
			found = p
		}
	}
	if found != nil {
		return clonePatient(found), nil
	}
	return nil, oops.Code("PATIENT_NOT_FOUND").With("user_id", userID).Wrap(auth.ErrNotFound)
}

// SoftDeleteByUser stamps deleted_at on the user's live row, if any.
func (r *PatientRepository) SoftDeleteByUser(ctx context.Context, userID int64, at time.Time) error {
	defer r.s.lock(ctx)()

	for _, p := range r.s.patients {
		if p.UserID == userID && p.DeletedAt == nil {
			p.DeletedAt = &at
			p.UpdatedAt = at
		}
	}
	return nil
}

// RestoreByUser clears deleted_at on rows deleted at deletedAt.
func (r *PatientRepository) RestoreByUser(ctx context.Context, userID int64, deletedAt time.Time) error {
	defer r.s.lock(ctx)()

	for _, p := range r.s.patients {
		if p.UserID == userID && p.DeletedAt != nil && p.DeletedAt.Equal(deletedAt) {
			p.DeletedAt = nil
			p.UpdatedAt = time.Now()
		}
	}
	return nil
}

// DoctorRepository implements auth.DoctorRepository.
type DoctorRepository struct {
	s *Store
}

// Create inserts d. Doctor IDs and license numbers are unique across all rows.
func (r *DoctorRepository) Create(ctx context.Context, d *auth.Doctor) error {
	defer r.s.lock(ctx)()

	for _, other := range r.s.doctors {
		if other.UserID == d.UserID && other.DeletedAt == nil {
			return oops.Code("DOCTOR_PROFILE_EXISTS").With("user_id", d.UserID).Wrap(auth.ErrConflict)
		}
		if other.DoctorID == d.DoctorID {
			return oops.Code("DOCTOR_ID_TAKEN").With("field", "doctor_id").Wrap(auth.ErrConflict)
		}
		if other.LicenseNumber == d.LicenseNumber {
			return oops.Code("DOCTOR_LICENSE_TAKEN").With("field", "license_number").Wrap(auth.ErrConflict)
		}
	}
	r.s.nextDoctorID++
	d.ID = r.s.nextDoctorID
	r.s.doctors[d.ID] = cloneDoctor(d)
	return nil
}

// GetByUser returns the user's doctor row.
func (r *DoctorRepository) GetByUser(ctx context.Context, userID int64, vis auth.Visibility) (*auth.Doctor, error) {
	defer r.s.lock(ctx)()

	var found *auth.Doctor
	for _, d := range r.s.doctors {
		if d.UserID != userID {
			continue
		}
		if d.DeletedAt == nil {
			return cloneDoctor(d), nil
		}
		if vis == auth.IncludeDeleted && (found == nil || d.DeletedAt.After(*found.DeletedAt)) {
			found = d
		}
	}
	if found != nil {
		return cloneDoctor(found), nil
	}
	return nil, oops.Code("DOCTOR_NOT_FOUND").With("user_id", userID).Wrap(auth.ErrNotFound)
}

// SoftDeleteByUser stamps deleted_at on the user's live row, if any.
func (r *DoctorRepository) SoftDeleteByUser(ctx context.Context, userID int64, at time.Time) error {
	defer r.s.lock(ctx)()

	for _, d := range r.s.doctors {
		if d.UserID == userID && d.DeletedAt == nil {
			d.DeletedAt = &at
			d.UpdatedAt = at
		}
	}
	return nil
}

// RestoreByUser clears deleted_at on rows deleted at deletedAt.
func (r *DoctorRepository) RestoreByUser(ctx context.Context, userID int64, deletedAt time.Time) error {
	defer r.s.lock(ctx)()

	for _, d := range r.s.doctors {
		if d.UserID == userID && d.DeletedAt != nil && d.DeletedAt.Equal(deletedAt) {
			d.DeletedAt = nil
			d.UpdatedAt = time.Now()
		}
	}
	return nil
}

var (
	_ auth.PatientRepository = (*PatientRepository)(nil)
	_ auth.DoctorRepository  = (*DoctorRepository)(nil)
)
