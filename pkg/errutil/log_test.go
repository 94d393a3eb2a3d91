// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MedAuth Contributors

package errutil_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medauth/medauth/pkg/errutil"
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestLogError_WithOopsError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	err := oops.Code("SESSION_ROTATE_FAILED").
		With("session_id", "01J").
		Errorf("row vanished")

	errutil.LogError(logger, "refresh failed", err)

	entry := decode(t, &buf)
	assert.Equal(t, "ERROR", entry["level"])
	assert.Equal(t, "refresh failed", entry["msg"])
	assert.Equal(t, "SESSION_ROTATE_FAILED", entry["code"])
	assert.Equal(t, map[string]any{"session_id": "01J"}, entry["context"])
}

func TestLogError_WithStandardError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	errutil.LogError(logger, "operation failed", errors.New("standard error"))

	entry := decode(t, &buf)
	assert.Equal(t, "standard error", entry["error"])
	assert.NotContains(t, entry, "code")
}

func TestLogErrorContext_Level(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	errutil.LogErrorContext(context.Background(), logger, slog.LevelWarn, "refresh token reused",
		oops.Code("TOKEN_REUSED").Errorf("reuse"))

	entry := decode(t, &buf)
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "TOKEN_REUSED", entry["code"])
}

func TestCode(t *testing.T) {
	inner := oops.Code("USER_EMAIL_TAKEN").Errorf("taken")
	outer := oops.Code("USER_CREATE_FAILED").Wrap(inner)

	assert.Equal(t, "USER_EMAIL_TAKEN", errutil.Code(outer))
	assert.Empty(t, errutil.Code(errors.New("plain")))
	assert.Empty(t, errutil.Code(oops.Errorf("no code")))
}
