// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MedAuth Contributors

package auth

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Login throttling defaults.
const (
	// DefaultLockoutDuration is how long an identifier stays locked.
	DefaultLockoutDuration = 15 * time.Minute

	// DefaultLockoutThreshold is the number of consecutive failures that
	// triggers a lockout.
	DefaultLockoutThreshold = 7

	// maxDelay caps the progressive delay before lockout.
	maxDelay = 32 * time.Second

	defaultLimiterCleanup = 5 * time.Minute
)

// RateLimitResult contains the result of a rate limit check.
type RateLimitResult struct {
	// Delay is the cooldown imposed after the most recent failure.
	Delay time.Duration

	// IsLockedOut indicates the identifier is temporarily locked.
	IsLockedOut bool

	// RetryAfter is the time until another attempt is accepted.
	RetryAfter time.Duration
}

// Allowed reports whether an attempt may proceed.
func (r RateLimitResult) Allowed() bool {
	return r.RetryAfter <= 0
}

// CheckFailures computes the progressive delay for a failure count:
// 2^(failures-1) seconds capped at 32s, and lockout at threshold.
func CheckFailures(failures, threshold int, lockout time.Duration) RateLimitResult {
	result := RateLimitResult{}
	if failures >= threshold {
		result.IsLockedOut = true
		result.Delay = lockout
		return result
	}
	if failures > 0 {
		shift := min(failures-1, 5)
		result.Delay = min(time.Duration(1<<shift)*time.Second, maxDelay)
	}
	return result
}

// LimiterConfig configures a LoginLimiter.
type LimiterConfig struct {
	// LockoutThreshold defaults to DefaultLockoutThreshold.
	LockoutThreshold int
	// LockoutDuration defaults to DefaultLockoutDuration.
	LockoutDuration time.Duration
	// CleanupInterval is how often idle entries are dropped.
	CleanupInterval time.Duration
}

type failureEntry struct {
	failures    int
	lastFailure time.Time
	blockedTill time.Time
}

// LoginLimiter tracks consecutive login failures per identifier in memory.
// It is safe for concurrent use. Call Close to stop the cleanup goroutine.
type LoginLimiter struct {
	mu        sync.Mutex
	entries   map[string]*failureEntry
	threshold int
	lockout   time.Duration
	now       Clock

	stopChan  chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once

	trackedGauge prometheus.Gauge
}

// NewLoginLimiter creates a limiter. reg may be nil.
func NewLoginLimiter(cfg LimiterConfig, reg prometheus.Registerer) *LoginLimiter {
	if cfg.LockoutThreshold <= 0 {
		cfg.LockoutThreshold = DefaultLockoutThreshold
	}
	if cfg.LockoutDuration <= 0 {
		cfg.LockoutDuration = DefaultLockoutDuration
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = defaultLimiterCleanup
	}

	l := &LoginLimiter{
		entries:   make(map[string]*failureEntry),
		threshold: cfg.LockoutThreshold,
		lockout:   cfg.LockoutDuration,
		now:       systemClock,
		stopChan:  make(chan struct{}),
	}

	if reg != nil {
		l.trackedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "medauth_login_limiter_tracked",
			Help: "Identifiers with recent login failures",
		})
		reg.MustRegister(l.trackedGauge)
	}

	l.wg.Add(1)
	go l.cleanupLoop(cfg.CleanupInterval)

	return l
}

// SetClock replaces the limiter's time source.
func (l *LoginLimiter) SetClock(c Clock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = c
}

func limiterKey(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}

// Check reports whether identifier may attempt a login now.
func (l *LoginLimiter) Check(identifier string) RateLimitResult {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[limiterKey(identifier)]
	if !ok {
		return RateLimitResult{}
	}
	res := CheckFailures(e.failures, l.threshold, l.lockout)
	if wait := e.blockedTill.Sub(l.now()); wait > 0 {
		res.RetryAfter = wait
	}
	return res
}

// RecordFailure counts a failed attempt and returns the resulting state.
func (l *LoginLimiter) RecordFailure(identifier string) RateLimitResult {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := limiterKey(identifier)
	e, ok := l.entries[key]
	if !ok {
		e = &failureEntry{}
		l.entries[key] = e
	}
	now := l.now()
	e.failures++
	e.lastFailure = now

	res := CheckFailures(e.failures, l.threshold, l.lockout)
	e.blockedTill = now.Add(res.Delay)
	res.RetryAfter = res.Delay
	l.updateGauge()
	return res
}

// Reset forgets failures for identifier after a successful login.
func (l *LoginLimiter) Reset(identifier string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, limiterKey(identifier))
	l.updateGauge()
}

// Tracked returns the number of identifiers with recorded failures.
func (l *LoginLimiter) Tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Cleanup drops entries whose block has expired and whose last failure is
// older than the lockout duration.
func (l *LoginLimiter) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for key, e := range l.entries {
		if now.After(e.blockedTill) && now.Sub(e.lastFailure) > l.lockout {
			delete(l.entries, key)
		}
	}
	l.updateGauge()
}

func (l *LoginLimiter) updateGauge() {
	if l.trackedGauge != nil {
		l.trackedGauge.Set(float64(len(l.entries)))
	}
}

func (l *LoginLimiter) cleanupLoop(interval time.Duration) {
	defer l.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopChan:
			return
		case <-ticker.C:
			l.Cleanup()
		}
	}
}

// Close stops the cleanup goroutine. It is safe to call more than once.
func (l *LoginLimiter) Close() {
	l.closeOnce.Do(func() {
		close(l.stopChan)
	})
	l.wg.Wait()
}
