// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MedAuth Contributors

package postgres

import (
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"

	"github.com/medauth/medauth/internal/auth"
)

// uniqueConflicts maps unique index names to the error code and field
// reported when the index rejects a write.
var uniqueConflicts = map[string]struct{ code, field string }{
	"users_email_live_key":       {"USER_EMAIL_TAKEN", "email"},
	"users_username_live_key":    {"USER_USERNAME_TAKEN", "username"},
	"patients_user_live_key":     {"PATIENT_PROFILE_EXISTS", "user_id"},
	"patients_mrn_key":           {"PATIENT_MRN_TAKEN", "medical_record_number"},
	"doctors_user_live_key":      {"DOCTOR_PROFILE_EXISTS", "user_id"},
	"doctors_doctor_id_key":      {"DOCTOR_ID_TAKEN", "doctor_id"},
	"doctors_license_number_key": {"DOCTOR_LICENSE_TAKEN", "license_number"},
}

// conflictError converts a unique violation into auth.ErrConflict and a
// foreign key violation into auth.ErrNotFound. Other errors yield nil.
func conflictError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return nil
	}
	switch pgErr.Code {
	case pgerrcode.UniqueViolation:
		if c, ok := uniqueConflicts[pgErr.ConstraintName]; ok {
			return oops.Code(c.code).With("field", c.field).Wrap(auth.ErrConflict)
		}
		return oops.Code("UNIQUE_VIOLATION").With("constraint", pgErr.ConstraintName).Wrap(auth.ErrConflict)
	case pgerrcode.ForeignKeyViolation:
		return oops.Code("REFERENCE_NOT_FOUND").With("constraint", pgErr.ConstraintName).Wrap(auth.ErrNotFound)
	}
	return nil
}
