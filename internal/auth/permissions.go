// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MedAuth Contributors

package auth

// Actions checked by the orchestrator itself. Collaborators may check any
// other "verb:resource[:scope]" string against the same tables.
const (
	ActionCreateUser          = "create:user:any"
	ActionChangeRole          = "write:user:role"
	ActionDeleteUser          = "delete:user:any"
	ActionRestoreUser         = "restore:user:any"
	ActionForcePasswordChange = "write:user:password_flag"
	ActionCompleteAnyProfile  = "write:profile:any"
	ActionReadAnyUser         = "read:user:any"
)

// Permission groups are composed into roles; roles never inherit.

var selfServicePowers = []string{
	"read:self",
	"write:self",
	"delete:self",
	"read:session:self",
	"revoke:session:self",
	"write:password:self",
	"write:profile:self",
	"read:password_policy",
}

var clinicalReadPowers = []string{
	"read:patient:*",
	"read:doctor:*",
	"read:appointment:*",
	"read:prescription:*",
	"read:hospitalization:*",
	"read:medical_record:*",
}

var clinicalWritePowers = []string{
	"write:prescription:*",
	"write:hospitalization:*",
	"write:medical_record:*",
	"write:appointment:*",
}

var frontDeskPowers = []string{
	"read:patient:*",
	"read:doctor:*",
	"read:appointment:*",
	"write:appointment:*",
	"write:patient:demographics",
}

var wardPowers = []string{
	"read:patient:*",
	"read:appointment:*",
	"read:hospitalization:*",
	"write:vitals:*",
	"write:hospitalization:notes",
}

var patientPowers = []string{
	"read:appointment:self",
	"write:appointment:self",
	"read:prescription:self",
	"read:medical_record:self",
	"read:doctor:*",
}

var adminPowers = []string{
	"**",
}

// DefaultRoles returns the role to permission-pattern table.
func DefaultRoles() map[Role][]string {
	return map[Role][]string{
		RoleAdmin:        compose(selfServicePowers, adminPowers),
		RoleDoctor:       compose(selfServicePowers, clinicalReadPowers, clinicalWritePowers),
		RoleReceptionist: compose(selfServicePowers, frontDeskPowers),
		RoleMedicalStaff: compose(selfServicePowers, wardPowers),
		RolePatient:      compose(selfServicePowers, patientPowers),
		RoleUndefined:    selfServicePowers,
	}
}

func compose(groups ...[]string) []string {
	total := 0
	for _, g := range groups {
		total += len(g)
	}
	result := make([]string, 0, total)
	for _, g := range groups {
		result = append(result, g...)
	}
	return result
}
