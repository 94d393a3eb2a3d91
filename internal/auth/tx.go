// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MedAuth Contributors

package auth

import (
	"context"
	"time"
)

// Transactor runs fn inside a single storage transaction. Repositories
// called with the ctx passed to fn participate in that transaction. If fn
// returns an error every write made through ctx is rolled back.
type Transactor interface {
	InTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Clock returns the current time. Tests substitute a fixed clock.
type Clock func() time.Time

func systemClock() time.Time { return time.Now() }
