//go:build integration

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MedAuth Contributors

package store_test

import (
	"context"
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
)

func insertUser(ctx context.Context, email, username string) (int64, error) {
	var id int64
	err := suitePool.QueryRow(ctx, `
		INSERT INTO users (email, username, first_name, last_name, password_hash, role)
		VALUES ($1, $2, 'Test', 'User', 'x', 'patient')
		RETURNING id`, email, username).Scan(&id)
	return id, err
}

func violatedConstraint(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		return pgErr.ConstraintName
	}
	return ""
}

var _ = Describe("identity schema", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
		_, err := suitePool.Exec(ctx, `TRUNCATE users RESTART IDENTITY CASCADE`)
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("users", func() {
		It("rejects a live duplicate email regardless of case", func() {
			_, err := insertUser(ctx, "nurse@hospital.test", "nurse")
			Expect(err).NotTo(HaveOccurred())

			_, err = insertUser(ctx, "NURSE@hospital.test", "nurse2")
			Expect(violatedConstraint(err)).To(Equal("users_email_live_key"))
		})

		It("rejects a live duplicate username", func() {
			_, err := insertUser(ctx, "a@hospital.test", "ward7")
			Expect(err).NotTo(HaveOccurred())

			_, err = insertUser(ctx, "b@hospital.test", "Ward7")
			Expect(violatedConstraint(err)).To(Equal("users_username_live_key"))
		})

		It("frees email and username once the owner is soft deleted", func() {
			id, err := insertUser(ctx, "gone@hospital.test", "gone")
			Expect(err).NotTo(HaveOccurred())

			_, err = suitePool.Exec(ctx, `UPDATE users SET deleted_at = now() WHERE id = $1`, id)
			Expect(err).NotTo(HaveOccurred())

			_, err = insertUser(ctx, "gone@hospital.test", "gone")
			Expect(err).NotTo(HaveOccurred())
		})

		It("rejects unknown roles", func() {
			_, err := suitePool.Exec(ctx, `
				INSERT INTO users (email, username, first_name, last_name, password_hash, role)
				VALUES ('r@hospital.test', 'r', 'R', 'R', 'x', 'janitor')`)
			var pgErr *pgconn.PgError
			Expect(errors.As(err, &pgErr)).To(BeTrue())
			Expect(pgErr.Code).To(Equal(pgerrcode.CheckViolation))
		})
	})

	Describe("sessions", func() {
		It("are removed with their user", func() {
			id, err := insertUser(ctx, "s@hospital.test", "s")
			Expect(err).NotTo(HaveOccurred())

			_, err = suitePool.Exec(ctx, `
				INSERT INTO sessions (id, user_id, refresh_id, created_at, last_activity, expires_at)
				VALUES ('sess-1', $1, 'r1', now(), now(), now() + interval '1 day')`, id)
			Expect(err).NotTo(HaveOccurred())

			_, err = suitePool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
			Expect(err).NotTo(HaveOccurred())

			var n int
			Expect(suitePool.QueryRow(ctx, `SELECT count(*) FROM sessions`).Scan(&n)).To(Succeed())
			Expect(n).To(BeZero())
		})
	})
})
