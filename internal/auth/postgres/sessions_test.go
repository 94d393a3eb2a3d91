// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MedAuth Contributors

package postgres_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medauth/medauth/internal/auth"
	"github.com/medauth/medauth/internal/auth/postgres"
	"github.com/medauth/medauth/pkg/errutil"
)

var sessionCols = []string{"id", "user_id", "refresh_id", "user_agent", "ip_address", "created_at", "last_activity", "expires_at"}

func TestSessionRepository_Create(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	sess := &auth.Session{
		ID: ulid.Make(), UserID: 3, RefreshID: "r1", UserAgent: "Firefox", IPAddress: "10.0.0.1",
		CreatedAt: now, LastActivity: now, ExpiresAt: now.Add(auth.DefaultSessionTTL),
	}

	t.Run("inserts row", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectExec(`INSERT INTO sessions`).
			WithArgs(sess.ID.String(), int64(3), "r1", "Firefox", "10.0.0.1", now, now, sess.ExpiresAt).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, postgres.NewSessionRepository(mock).Create(context.Background(), sess))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown user", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectExec(`INSERT INTO sessions`).
			WithArgs(sess.ID.String(), int64(3), "r1", "Firefox", "10.0.0.1", now, now, sess.ExpiresAt).
			WillReturnError(&pgconn.PgError{Code: pgerrcode.ForeignKeyViolation, ConstraintName: "sessions_user_id_fkey"})

		err := postgres.NewSessionRepository(mock).Create(context.Background(), sess)
		assert.ErrorIs(t, err, auth.ErrNotFound)
	})
}

func TestSessionRepository_Get(t *testing.T) {
	id := ulid.Make()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		forUpdate bool
		pattern   string
	}{
		{name: "plain read", pattern: `FROM sessions WHERE id = \$1$`},
		{name: "locking read", forUpdate: true, pattern: `FROM sessions WHERE id = \$1 FOR UPDATE`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := newMock(t)
			mock.ExpectQuery(tt.pattern).
				WithArgs(id.String()).
				WillReturnRows(pgxmock.NewRows(sessionCols).AddRow(id.String(), int64(3), "r1", "", "", now, now, now.Add(time.Hour)))

			repo := postgres.NewSessionRepository(mock)
			get := repo.Get
			if tt.forUpdate {
				get = repo.GetForUpdate
			}
			sess, err := get(context.Background(), id)
			require.NoError(t, err)
			assert.Equal(t, id, sess.ID)
			assert.Equal(t, "r1", sess.RefreshID)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}

	t.Run("missing", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectQuery(`FROM sessions`).WithArgs(id.String()).WillReturnError(pgx.ErrNoRows)

		_, err := postgres.NewSessionRepository(mock).Get(context.Background(), id)
		require.ErrorIs(t, err, auth.ErrNotFound)
		errutil.AssertErrorCode(t, err, "SESSION_NOT_FOUND")
	})

	t.Run("corrupt id", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectQuery(`FROM sessions`).WithArgs(id.String()).
			WillReturnRows(pgxmock.NewRows(sessionCols).AddRow("not-a-ulid", int64(3), "r1", "", "", now, now, now))

		_, err := postgres.NewSessionRepository(mock).Get(context.Background(), id)
		require.Error(t, err)
		assert.NotErrorIs(t, err, auth.ErrNotFound)
	})
}

func TestSessionRepository_ListByUser(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	a, b := ulid.Make(), ulid.Make()

	mock := newMock(t)
	mock.ExpectQuery(`WHERE user_id = \$1 AND expires_at > \$2\s+ORDER BY last_activity DESC, id DESC`).
		WithArgs(int64(3), now).
		WillReturnRows(pgxmock.NewRows(sessionCols).
			AddRow(b.String(), int64(3), "rb", "Phone", "", now, now, now.Add(time.Hour)).
			AddRow(a.String(), int64(3), "ra", "Laptop", "", now, now.Add(-time.Minute), now.Add(time.Hour)))

	list, err := postgres.NewSessionRepository(mock).ListByUser(context.Background(), 3, now)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, b, list[0].ID)
	assert.Equal(t, a, list[1].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepository_Mutations(t *testing.T) {
	id := ulid.Make()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	t.Run("touch expired session", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectExec(`UPDATE sessions SET last_activity = \$2`).
			WithArgs(id.String(), now).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		err := postgres.NewSessionRepository(mock).Touch(context.Background(), id, now)
		assert.ErrorIs(t, err, auth.ErrNotFound)
	})

	t.Run("rotate", func(t *testing.T) {
		mock := newMock(t)
		exp := now.Add(auth.DefaultSessionTTL)
		mock.ExpectExec(`UPDATE sessions SET refresh_id = \$2`).
			WithArgs(id.String(), "r2", now, exp).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		require.NoError(t, postgres.NewSessionRepository(mock).Rotate(context.Background(), id, "r2", now, exp))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("delete for other owner removes nothing", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectExec(`DELETE FROM sessions WHERE id = \$1 AND user_id = \$2`).
			WithArgs(id.String(), int64(99)).
			WillReturnResult(pgxmock.NewResult("DELETE", 0))

		n, err := postgres.NewSessionRepository(mock).DeleteForUser(context.Background(), 99, id)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("delete by user counts rows", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectExec(`DELETE FROM sessions WHERE user_id = \$1`).
			WithArgs(int64(3)).
			WillReturnResult(pgxmock.NewResult("DELETE", 4))

		n, err := postgres.NewSessionRepository(mock).DeleteByUser(context.Background(), 3)
		require.NoError(t, err)
		assert.Equal(t, int64(4), n)
	})

	t.Run("purge failure", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectExec(`DELETE FROM sessions WHERE expires_at <= \$1`).
			WithArgs(now).
			WillReturnError(errors.New("disk full"))

		_, err := postgres.NewSessionRepository(mock).DeleteExpired(context.Background(), now)
		errutil.AssertErrorCode(t, err, "SESSION_PURGE_FAILED")
	})
}
