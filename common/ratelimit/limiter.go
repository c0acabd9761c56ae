/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

// Package ratelimit implements a sliding-window request limiter keyed by
// client identity. Each identity owns a queue of admission timestamps that
// is locked independently of every other identity.
package ratelimit

import (
	"strings"
	"sync"
	"time"

	"github.com/UnifyEM/diragent/common/clock"
)

// Limiter admits at most max requests per identity within any rolling window
type Limiter struct {
	max     int
	window  time.Duration
	clock   clock.Clock
	mu      sync.RWMutex // guards buckets map membership only
	buckets map[string]*bucket
}

type bucket struct {
	mu    sync.Mutex
	times []time.Time // oldest first
}

// Option configures a Limiter
type Option func(*Limiter)

// WithClock replaces the real clock, primarily for tests
func WithClock(c clock.Clock) Option {
	return func(l *Limiter) {
		if c != nil {
			l.clock = c
		}
	}
}

// New returns a Limiter. A max of zero or less disables limiting.
func New(max int, window time.Duration, options ...Option) *Limiter {
	l := &Limiter{
		max:     max,
		window:  window,
		clock:   clock.Real(),
		buckets: make(map[string]*bucket),
	}
	for _, option := range options {
		option(l)
	}
	return l
}

// PerMinute is a convenience wrapper for the common one-minute window
func PerMinute(max int, options ...Option) *Limiter {
	return New(max, time.Minute, options...)
}

// Max returns the configured limit
func (l *Limiter) Max() int {
	return l.max
}

// TryAcquire records an admission for identity and returns true, or returns
// false without recording anything if the identity is at its limit
func (l *Limiter) TryAcquire(identity string) bool {
	if l.max <= 0 {
		return true
	}

	b := l.bucketFor(strings.ToUpper(identity))
	now := l.clock.Now()
	cutoff := now.Add(-l.window)

	b.mu.Lock()
	defer b.mu.Unlock()

	// Drop timestamps that have left the window
	drop := 0
	for drop < len(b.times) && !b.times[drop].After(cutoff) {
		drop++
	}
	if drop > 0 {
		b.times = append(b.times[:0], b.times[drop:]...)
	}

	if len(b.times) >= l.max {
		return false
	}
	b.times = append(b.times, now)
	return true
}

// Identities returns the number of buckets created so far
func (l *Limiter) Identities() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.buckets)
}

func (l *Limiter) bucketFor(key string) *bucket {
	l.mu.RLock()
	b, ok := l.buckets[key]
	l.mu.RUnlock()
	if ok {
		return b
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok = l.buckets[key]; ok {
		return b
	}
	b = &bucket{times: make([]time.Time, 0, l.max)}
	l.buckets[key] = b
	return b
}
