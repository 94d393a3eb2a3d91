// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MedAuth Contributors

// Package memory provides in-process implementations of the auth
// repositories for development mode and tests. All operations are
// serialized; transactions snapshot state and restore it on error.
package memory

import (
	"context"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/medauth/medauth/internal/auth"
)

type txKey struct{}

// Store holds every table. Create one per process or per test.
type Store struct {
	mu sync.Mutex

	users        map[int64]*auth.User
	patients     map[int64]*auth.Patient
	doctors      map[int64]*auth.Doctor
	sessions     map[ulid.ULID]*auth.Session
	resets       map[ulid.ULID]*auth.PasswordReset
	nextUserID   int64
	nextPatient  int64
	nextDoctorID int64
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		users:    make(map[int64]*auth.User),
		patients: make(map[int64]*auth.Patient),
		doctors:  make(map[int64]*auth.Doctor),
		sessions: make(map[ulid.ULID]*auth.Session),
		resets:   make(map[ulid.ULID]*auth.PasswordReset),
	}
}

// lock acquires the store unless ctx already belongs to a transaction on it.
func (s *Store) lock(ctx context.Context) func() {
	if owner, ok := ctx.Value(txKey{}).(*Store); ok && owner == s {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

type snapshot struct {
	users        map[int64]*auth.User
	patients     map[int64]*auth.Patient
	doctors      map[int64]*auth.Doctor
	sessions     map[ulid.ULID]*auth.Session
	resets       map[ulid.ULID]*auth.PasswordReset
	nextUserID   int64
	nextPatient  int64
	nextDoctorID int64
}

func (s *Store) snapshot() snapshot {
	snap := snapshot{
		users:        make(map[int64]*auth.User, len(s.users)),
		patients:     make(map[int64]*auth.Patient, len(s.patients)),
		doctors:      make(map[int64]*auth.Doctor, len(s.doctors)),
		sessions:     make(map[ulid.ULID]*auth.Session, len(s.sessions)),
		resets:       make(map[ulid.ULID]*auth.PasswordReset, len(s.resets)),
		nextUserID:   s.nextUserID,
		nextPatient:  s.nextPatient,
		nextDoctorID: s.nextDoctorID,
	}
	for k, v := range s.users {
		snap.users[k] = v.Clone()
	}
	for k, v := range s.patients {
		snap.patients[k] = clonePatient(v)
	}
	for k, v := range s.doctors {
		snap.doctors[k] = cloneDoctor(v)
	}
	for k, v := range s.sessions {
		c := *v
		snap.sessions[k] = &c
	}
	for k, v := range s.resets {
		c := *v
		snap.resets[k] = &c
	}
	return snap
}

func (s *Store) restore(snap snapshot) {
	s.users = snap.users
	s.patients = snap.patients
	s.doctors = snap.doctors
	s.sessions = snap.sessions
	s.resets = snap.resets
	s.nextUserID = snap.nextUserID
	s.nextPatient = snap.nextPatient
	s.nextDoctorID = snap.nextDoctorID
}

// Transactor implements auth.Transactor over a Store.
type Transactor struct {
	store *Store
}

// NewTransactor creates a Transactor for store.
func NewTransactor(store *Store) *Transactor {
	return &Transactor{store: store}
}

// InTransaction runs fn with exclusive access to the store. Nested calls
// join the outer transaction.
func (t *Transactor) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if owner, ok := ctx.Value(txKey{}).(*Store); ok && owner == t.store {
		return fn(ctx)
	}

	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	snap := t.store.snapshot()
	txCtx := context.WithValue(ctx, txKey{}, t.store)
	if err := fn(txCtx); err != nil {
		t.store.restore(snap)
		return err
	}
	if err := ctx.Err(); err != nil {
		t.store.restore(snap)
		return oops.Code("TX_COMMIT_FAILED").Wrap(err)
	}
	return nil
}

// Repositories returns every repository backed by store.
func Repositories(store *Store) (*UserRepository, *PatientRepository, *DoctorRepository, *SessionRepository, *PasswordResetRepository) {
	return &UserRepository{store}, &PatientRepository{store}, &DoctorRepository{store},
		&SessionRepository{store}, &PasswordResetRepository{store}
}

var _ auth.Transactor = (*Transactor)(nil)
