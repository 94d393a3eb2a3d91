// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MedAuth Contributors

package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medauth/medauth/internal/auth"
	"github.com/medauth/medauth/internal/auth/postgres"
	"github.com/medauth/medauth/pkg/errutil"
)

func TestPatientRepository_Create(t *testing.T) {
	mrn := "MRN-0001"

	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{name: "inserts row"},
		{name: "second live profile", err: uniqueViolation("patients_user_live_key"), wantCode: "PATIENT_PROFILE_EXISTS"},
		{name: "duplicate record number", err: uniqueViolation("patients_mrn_key"), wantCode: "PATIENT_MRN_TAKEN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := newMock(t)
			q := mock.ExpectQuery(`INSERT INTO patients`).
				WithArgs(int64(4), &mrn, "Jo Lee 555-0100", "", pgxmock.AnyArg(), pgxmock.AnyArg())
			if tt.err != nil {
				q.WillReturnError(tt.err)
			} else {
				q.WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(11)))
			}

			p := &auth.Patient{UserID: 4, MedicalRecordNumber: &mrn, EmergencyContact: "Jo Lee 555-0100"}
			err := postgres.NewPatientRepository(mock).Create(context.Background(), p)
			if tt.wantCode != "" {
				require.ErrorIs(t, err, auth.ErrConflict)
				errutil.AssertErrorCode(t, err, tt.wantCode)
			} else {
				require.NoError(t, err)
				assert.Equal(t, int64(11), p.ID)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPatientRepository_GetByUser(t *testing.T) {
	cols := []string{"id", "user_id", "medical_record_number", "emergency_contact", "insurance_info", "created_at", "updated_at", "deleted_at"}
	created := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	t.Run("live only filters deleted rows", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectQuery(`WHERE user_id = \$1 AND deleted_at IS NULL ORDER BY deleted_at DESC NULLS FIRST LIMIT 1`).
			WithArgs(int64(4)).
			WillReturnRows(pgxmock.NewRows(cols).AddRow(int64(11), int64(4), (*string)(nil), "", "Acme Health", created, created, (*time.Time)(nil)))

		p, err := postgres.NewPatientRepository(mock).GetByUser(context.Background(), 4, auth.LiveOnly)
		require.NoError(t, err)
		assert.Nil(t, p.MedicalRecordNumber)
		assert.Equal(t, "Acme Health", p.InsuranceInfo)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing profile", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectQuery(`FROM patients`).WithArgs(int64(4)).WillReturnError(pgx.ErrNoRows)

		_, err := postgres.NewPatientRepository(mock).GetByUser(context.Background(), 4, auth.IncludeDeleted)
		require.ErrorIs(t, err, auth.ErrNotFound)
		errutil.AssertErrorCode(t, err, "PATIENT_NOT_FOUND")
	})
}

func TestPatientRepository_SoftDeleteAndRestore(t *testing.T) {
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	mock := newMock(t)
	mock.ExpectExec(`UPDATE patients SET deleted_at = \$2`).WithArgs(int64(4), at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE patients SET deleted_at = NULL`).WithArgs(int64(4), at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	repo := postgres.NewPatientRepository(mock)
	require.NoError(t, repo.SoftDeleteByUser(context.Background(), 4, at))
	require.NoError(t, repo.RestoreByUser(context.Background(), 4, at))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDoctorRepository_Create(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{name: "inserts row"},
		{name: "doctor id taken", err: uniqueViolation("doctors_doctor_id_key"), wantCode: "DOCTOR_ID_TAKEN"},
		{name: "license taken", err: uniqueViolation("doctors_license_number_key"), wantCode: "DOCTOR_LICENSE_TAKEN"},
		{name: "second live profile", err: uniqueViolation("doctors_user_live_key"), wantCode: "DOCTOR_PROFILE_EXISTS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := newMock(t)
			q := mock.ExpectQuery(`INSERT INTO doctors`).
				WithArgs(int64(8), "D-100", []string{}, "Cardiology", "Electrophysiology", "LIC-77",
					pgxmock.AnyArg(), pgxmock.AnyArg())
			if tt.err != nil {
				q.WillReturnError(tt.err)
			} else {
				q.WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(2)))
			}

			d := &auth.Doctor{
				UserID: 8, DoctorID: "D-100", Department: "Cardiology",
				Specialization: "Electrophysiology", LicenseNumber: "LIC-77",
			}
			err := postgres.NewDoctorRepository(mock).Create(context.Background(), d)
			if tt.wantCode != "" {
				require.ErrorIs(t, err, auth.ErrConflict)
				errutil.AssertErrorCode(t, err, tt.wantCode)
			} else {
				require.NoError(t, err)
				assert.Equal(t, int64(2), d.ID)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestDoctorRepository_GetByUser(t *testing.T) {
	cols := []string{"id", "user_id", "doctor_id", "qualifications", "department", "specialization",
		"license_number", "created_at", "updated_at", "deleted_at"}
	created := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	deleted := created.Add(24 * time.Hour)

	mock := newMock(t)
	mock.ExpectQuery(`FROM doctors\s+WHERE user_id = \$1 ORDER BY deleted_at DESC NULLS FIRST LIMIT 1`).
		WithArgs(int64(8)).
		WillReturnRows(pgxmock.NewRows(cols).AddRow(int64(2), int64(8), "D-100", []string{"MBBS", "FRCP"},
			"Cardiology", "", "LIC-77", created, deleted, &deleted))

	d, err := postgres.NewDoctorRepository(mock).GetByUser(context.Background(), 8, auth.IncludeDeleted)
	require.NoError(t, err)
	assert.Equal(t, []string{"MBBS", "FRCP"}, d.Qualifications)
	require.NotNil(t, d.DeletedAt)
	assert.True(t, d.DeletedAt.Equal(deleted))
	assert.NoError(t, mock.ExpectationsWereMet())
}
