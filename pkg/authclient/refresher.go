// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MedAuth Contributors

package authclient

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"
)

// RefresherOptions tunes RunRefresher.
type RefresherOptions struct {
	// Interval between expiry checks. Defaults to 30s.
	Interval time.Duration
	// MaxRetries for transient refresh failures. Defaults to 3.
	MaxRetries uint64
	// InitialBackoff before the first retry. Defaults to 500ms.
	InitialBackoff time.Duration
}

func (o *RefresherOptions) applyDefaults() {
	if o.Interval <= 0 {
		o.Interval = 30 * time.Second
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = 3
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = 500 * time.Millisecond
	}
}

// RunRefresher refreshes the held tokens ahead of expiry until ctx is
// cancelled. It shares in-flight refreshes with AccessToken and Do, so a
// user request racing the loop never causes a second rotation.
func (c *Client) RunRefresher(ctx context.Context, opts RefresherOptions) {
	opts.applyDefaults()
	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if !c.needsRefresh() {
			continue
		}
		if err := c.refreshWithRetry(ctx, opts); err != nil && ctx.Err() == nil {
			c.logger.WarnContext(ctx, "background token refresh failed", "error", err)
		}
	}
}

// StartRefresher runs RunRefresher in a goroutine and returns a function
// that stops it and waits for it to exit.
func (c *Client) StartRefresher(ctx context.Context, opts RefresherOptions) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.RunRefresher(ctx, opts)
	}()
	return func() {
		cancel()
		<-done
	}
}

func (c *Client) refreshWithRetry(ctx context.Context, opts RefresherOptions) error {
	backoff := retry.WithMaxRetries(opts.MaxRetries, retry.NewExponential(opts.InitialBackoff))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		_, err := c.Refresh(ctx)
		if err == nil {
			return nil
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.Temporary() {
			return err
		}
		if errors.Is(err, ErrNotLoggedIn) {
			return err
		}
		return retry.RetryableError(err)
	})
}
