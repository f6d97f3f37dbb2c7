// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-mfa.
//
// go-mfa is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package ratelimit provides per-key rate limiting for sensitive MFA
// operations. The default Limiter is an in-process token bucket built on
// golang.org/x/time/rate; deployments spanning multiple instances can
// substitute any implementation of the Checker interface backed by a
// shared counter store.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Checker is the abuse-control capability consumed by the MFA workflows.
// Keys are caller-supplied identifiers, typically "operation:sourceIP".
type Checker interface {
	// Check reports whether a request for the given key is within the
	// limit of max requests per window. When denied, retryAfter is the
	// minimum duration the caller should wait before retrying.
	Check(key string, max int, window time.Duration) (allowed bool, retryAfter time.Duration)
}

// Limiter implements Checker with per-key token buckets. Each key refills
// at max tokens per window with a burst of max, so a quiet key can spend
// its full allowance immediately and is then throttled to the sustained
// rate. Idle keys are evicted by a background cleanup worker.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	lastSeen map[string]time.Time
	enabled  bool

	cleanupInterval time.Duration
	maxIdle         time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
}

// Config holds rate limiter configuration.
type Config struct {
	// Enabled controls whether rate limiting is active.
	// A disabled limiter allows every request.
	Enabled bool

	// CleanupInterval controls how often to remove idle keys.
	// Defaults to 10 minutes.
	CleanupInterval time.Duration

	// MaxIdle is how long a key can be idle before cleanup.
	// Defaults to 2 hours, which exceeds every window the MFA
	// workflows use.
	MaxIdle time.Duration
}

// New creates a new rate limiter with the given configuration.
func New(config *Config) *Limiter {
	if config == nil {
		config = &Config{Enabled: true}
	}

	cleanupInterval := config.CleanupInterval
	if cleanupInterval == 0 {
		cleanupInterval = 10 * time.Minute
	}

	maxIdle := config.MaxIdle
	if maxIdle == 0 {
		maxIdle = 2 * time.Hour
	}

	l := &Limiter{
		limiters:        make(map[string]*rate.Limiter),
		lastSeen:        make(map[string]time.Time),
		enabled:         config.Enabled,
		cleanupInterval: cleanupInterval,
		maxIdle:         maxIdle,
		stopCleanup:     make(chan struct{}),
	}

	if config.Enabled {
		go l.cleanupWorker()
	}

	return l
}

// Check reports whether a request for the given key is allowed under a
// limit of max requests per window.
func (l *Limiter) Check(key string, max int, window time.Duration) (bool, time.Duration) {
	if !l.enabled || max <= 0 || window <= 0 {
		return true, 0
	}

	l.mu.Lock()
	limiter, exists := l.limiters[key]
	if !exists {
		limiter = rate.NewLimiter(rate.Limit(float64(max)/window.Seconds()), max)
		l.limiters[key] = limiter
	}
	l.lastSeen[key] = time.Now()
	l.mu.Unlock()

	reservation := limiter.Reserve()
	if delay := reservation.Delay(); delay > 0 {
		// Over the limit; give the token back and tell the caller
		// how long until one is available.
		reservation.Cancel()
		return false, delay
	}
	return true, 0
}

// cleanupWorker periodically removes idle keys from memory.
func (l *Limiter) cleanupWorker() {
	ticker := time.NewTicker(l.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.cleanup()
		case <-l.stopCleanup:
			return
		}
	}
}

// cleanup removes keys that haven't been checked recently.
func (l *Limiter) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	for key, lastSeen := range l.lastSeen {
		if now.Sub(lastSeen) > l.maxIdle {
			delete(l.limiters, key)
			delete(l.lastSeen, key)
		}
	}
}

// Stop stops the cleanup worker.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() {
		close(l.stopCleanup)
	})
}

// Stats returns current rate limiter statistics.
func (l *Limiter) Stats() map[string]interface{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	return map[string]interface{}{
		"enabled":     l.enabled,
		"active_keys": len(l.limiters),
	}
}
