// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MedAuth Contributors

// Package store opens the PostgreSQL pool and owns the schema migrations.
package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// OpenOptions tunes how Open waits for the database.
type OpenOptions struct {
	// MaxRetries bounds connection attempts after the first. Default 5.
	MaxRetries uint64
	// InitialBackoff is the first retry delay, doubled each attempt.
	// Default 500ms.
	InitialBackoff time.Duration
	// MaxConns overrides the pool size when positive.
	MaxConns int32
	Logger   *slog.Logger
}

func (o *OpenOptions) defaults() {
	if o.MaxRetries == 0 {
		o.MaxRetries = 5
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = 500 * time.Millisecond
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Open creates a pool for dsn and pings it, retrying with exponential
// backoff so the service can start alongside its database.
func Open(ctx context.Context, dsn string, opts OpenOptions) (*pgxpool.Pool, error) {
	opts.defaults()

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, oops.Code("DB_CONFIG_INVALID").Wrap(err)
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}

	var pool *pgxpool.Pool
	backoff := retry.WithMaxRetries(opts.MaxRetries, retry.NewExponential(opts.InitialBackoff))
	attempt := 0
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		p, err := pgxpool.NewWithConfig(ctx, cfg)
		if err != nil {
			return oops.Code("DB_CONNECT_FAILED").Wrap(err)
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			opts.Logger.WarnContext(ctx, "database not ready", "attempt", attempt, "error", err)
			return retry.RetryableError(oops.Code("DB_PING_FAILED").Wrap(err))
		}
		pool = p
		return nil
	})
	if err != nil {
		return nil, oops.Code("DB_OPEN_FAILED").With("attempts", attempt).Wrap(err)
	}
	return pool, nil
}
