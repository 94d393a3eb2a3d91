// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MedAuth Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"

	"github.com/medauth/medauth/internal/auth"
)

// PatientRepository implements auth.PatientRepository using PostgreSQL.
type PatientRepository struct {
	db DB
}

// NewPatientRepository creates a new PatientRepository.
func NewPatientRepository(db DB) *PatientRepository {
	return &PatientRepository{db: db}
}

// Create inserts p and assigns its ID.
func (r *PatientRepository) Create(ctx context.Context, p *auth.Patient) error {
	p.CreatedAt = orNow(p.CreatedAt)
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = p.CreatedAt
	}
	err := conn(ctx, r.db).QueryRow(ctx, `
		INSERT INTO patients (user_id, medical_record_number, emergency_contact, insurance_info, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, p.UserID, p.MedicalRecordNumber, p.EmergencyContact, p.InsuranceInfo, p.CreatedAt, p.UpdatedAt).Scan(&p.ID)
	if err != nil {
		if cerr := conflictError(err); cerr != nil {
			return cerr
		}
		return oops.Code("PATIENT_CREATE_FAILED").With("user_id", p.UserID).Wrap(err)
	}
	return nil
}

// GetByUser returns the user's live patient row or, with IncludeDeleted,
// the most recently deleted one when no live row exists.
func (r *PatientRepository) GetByUser(ctx context.Context, userID int64, vis auth.Visibility) (*auth.Patient, error) {
	query := `
		SELECT id, user_id, medical_record_number, emergency_contact, insurance_info, created_at, updated_at, deleted_at
		FROM patients
		WHERE user_id = $1`
	if vis == auth.LiveOnly {
		query += ` AND deleted_at IS NULL`
	}
	query += ` ORDER BY deleted_at DESC NULLS FIRST LIMIT 1`

	var p auth.Patient
	err := conn(ctx, r.db).QueryRow(ctx, query, userID).Scan(
		&p.ID, &p.UserID, &p.MedicalRecordNumber, &p.EmergencyContact, &p.InsuranceInfo,
		&p.CreatedAt, &p.UpdatedAt, &p.DeletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("PATIENT_NOT_FOUND").With("user_id", userID).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("PATIENT_GET_FAILED").With("user_id", userID).Wrap(err)
	}
	return &p, nil
}

// SoftDeleteByUser stamps deleted_at on the user's live row, if any.
func (r *PatientRepository) SoftDeleteByUser(ctx context.Context, userID int64, at time.Time) error {
	_, err := conn(ctx, r.db).Exec(ctx, `
		UPDATE patients SET deleted_at = $2, updated_at = $2
		WHERE user_id = $1 AND deleted_at IS NULL
	`, userID, at)
	if err != nil {
		return oops.Code("PATIENT_DELETE_FAILED").With("user_id", userID).Wrap(err)
	}
	return nil
}

// RestoreByUser clears deleted_at on rows deleted at deletedAt.
func (r *PatientRepository) RestoreByUser(ctx context.Context, userID int64, deletedAt time.Time) error {
	_, err := conn(ctx, r.db).Exec(ctx, `
		UPDATE patients SET deleted_at = NULL, updated_at = NOW()
		WHERE user_id = $1 AND deleted_at = $2
	`, userID, deletedAt)
	if err != nil {
		if cerr := conflictError(err); cerr != nil {
			return cerr
		}
		return oops.Code("PATIENT_RESTORE_FAILED").With("user_id", userID).Wrap(err)
	}
	return nil
}

// DoctorRepository implements auth.DoctorRepository using PostgreSQL.
type DoctorRepository struct {
	db DB
}

// NewDoctorRepository creates a new DoctorRepository.
func NewDoctorRepository(db DB) *DoctorRepository {
	return &DoctorRepository{db: db}
}

// Create inserts d and assigns its ID.
func (r *DoctorRepository) Create(ctx context.Context, d *auth.Doctor) error {
	d.CreatedAt = orNow(d.CreatedAt)
	if d.UpdatedAt.IsZero() {
		d.UpdatedAt = d.CreatedAt
	}
	quals := d.Qualifications
	if quals == nil {
		quals = []string{}
	}
	err := conn(ctx, r.db).QueryRow(ctx, `
		INSERT INTO doctors (user_id, doctor_id, qualifications, department, specialization, license_number, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, d.UserID, d.DoctorID, quals, d.Department, d.Specialization, d.LicenseNumber, d.CreatedAt, d.UpdatedAt).Scan(&d.ID)
	if err != nil {
		if cerr := conflictError(err); cerr != nil {
			return cerr
		}
		return oops.Code("DOCTOR_CREATE_FAILED").With("user_id", d.UserID).Wrap(err)
	}
	return nil
}

// GetByUser returns the user's live doctor row or, with IncludeDeleted,
// the most recently deleted one when no live row exists.
func (r *DoctorRepository) GetByUser(ctx context.Context, userID int64, vis auth.Visibility) (*auth.Doctor, error) {
	query := `
		SELECT id, user_id, doctor_id, qualifications, department, specialization, license_number,
			created_at, updated_at, deleted_at
		FROM doctors
		WHERE user_id = $1`
	if vis == auth.LiveOnly {
		query += ` AND deleted_at IS NULL`
	}
	query += ` ORDER BY deleted_at DESC NULLS FIRST LIMIT 1`

	var d auth.Doctor
	err := conn(ctx, r.db).QueryRow(ctx, query, userID).Scan(
		&d.ID, &d.UserID, &d.DoctorID, &d.Qualifications, &d.Department, &d.Specialization,
		&d.LicenseNumber, &d.CreatedAt, &d.UpdatedAt, &d.DeletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("DOCTOR_NOT_FOUND").With("user_id", userID).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("DOCTOR_GET_FAILED").With("user_id", userID).Wrap(err)
	}
	return &d, nil
}

// SoftDeleteByUser stamps deleted_at on the user's live row, if any.
func (r *DoctorRepository) SoftDeleteByUser(ctx context.Context, userID int64, at time.Time) error {
	_, err := conn(ctx, r.db).Exec(ctx, `
		UPDATE doctors SET deleted_at = $2, updated_at = $2
		WHERE user_id = $1 AND deleted_at IS NULL
	`, userID, at)
	if err != nil {
		return oops.Code("DOCTOR_DELETE_FAILED").With("user_id", userID).Wrap(err)
	}
	return nil
}

// RestoreByUser clears deleted_at on rows deleted at deletedAt.
func (r *DoctorRepository) RestoreByUser(ctx context.Context, userID int64, deletedAt time.Time) error {
	_, err := conn(ctx, r.db).Exec(ctx, `
		UPDATE doctors SET deleted_at = NULL, updated_at = NOW()
		WHERE user_id = $1 AND deleted_at = $2
	`, userID, deletedAt)
	if err != nil {
		if cerr := conflictError(err); cerr != nil {
			return cerr
		}
		return oops.Code("DOCTOR_RESTORE_FAILED").With("user_id", userID).Wrap(err)
	}
	return nil
}

var (
	_ auth.PatientRepository = (*PatientRepository)(nil)
	_ auth.DoctorRepository  = (*DoctorRepository)(nil)
)
