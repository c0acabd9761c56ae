/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

// Package nonce implements the replay cache: a time-bounded set of nonces
// that have already been accepted. Entries expire once they are older than
// the replay window. Expired entries are removed by an opportunistic sweep
// that runs at most once per sweep interval, so the amortized cost of an
// insert stays constant.
package nonce

import (
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/UnifyEM/diragent/common/clock"
)

const (
	DefaultSweepInterval = time.Minute
	DefaultShards        = 16
)

// Cache is safe for concurrent use. Each shard has its own lock so that
// concurrent inserts of unrelated nonces rarely contend.
type Cache struct {
	window        atomic.Int64 // time.Duration
	sweepInterval time.Duration
	clock         clock.Clock
	shards        []*shard
	lastSweep     atomic.Int64 // unix nanoseconds
}

type shard struct {
	mu      sync.Mutex
	entries map[string]time.Time // nonce -> first seen
}

// Option configures a Cache
type Option func(*Cache)

// WithClock replaces the real clock, primarily for tests
func WithClock(c clock.Clock) Option {
	return func(n *Cache) {
		if c != nil {
			n.clock = c
		}
	}
}

// WithSweepInterval sets the minimum time between sweeps
func WithSweepInterval(d time.Duration) Option {
	return func(n *Cache) {
		if d > 0 {
			n.sweepInterval = d
		}
	}
}

// WithShards sets the number of independently locked shards
func WithShards(count int) Option {
	return func(n *Cache) {
		if count > 0 {
			n.shards = newShards(count)
		}
	}
}

// New returns a Cache that remembers nonces for the replay window
func New(window time.Duration, options ...Option) *Cache {
	c := &Cache{
		sweepInterval: DefaultSweepInterval,
		clock:         clock.Real(),
		shards:        newShards(DefaultShards),
	}

	for _, option := range options {
		option(c)
	}

	c.window.Store(int64(window))
	c.lastSweep.Store(c.clock.Now().UnixNano())
	return c
}

func newShards(count int) []*shard {
	s := make([]*shard, count)
	for i := range s {
		s[i] = &shard{entries: make(map[string]time.Time)}
	}
	return s
}

// Window returns the replay window
func (c *Cache) Window() time.Duration {
	return time.Duration(c.window.Load())
}

// SetWindow changes the replay window. Entries already swept under a
// shorter window are not restored.
func (c *Cache) SetWindow(window time.Duration) {
	c.window.Store(int64(window))
}

// TryAdd records the nonce as first seen at ts. It returns true if the nonce
// was not already present within the replay window, false for a replay.
// An empty nonce is never admitted.
func (c *Cache) TryAdd(nonce string, ts time.Time) bool {
	if nonce == "" {
		return false
	}

	now := c.clock.Now()
	s := c.shardFor(nonce)

	s.mu.Lock()
	firstSeen, exists := s.entries[nonce]
	if exists && !c.expired(now, firstSeen) {
		s.mu.Unlock()
		return false
	}
	s.entries[nonce] = ts
	s.mu.Unlock()

	c.maybeSweep(now)
	return true
}

// Len returns the number of entries currently held, including expired
// entries that have not been swept yet
func (c *Cache) Len() int {
	total := 0
	for _, s := range c.shards {
		s.mu.Lock()
		total += len(s.entries)
		s.mu.Unlock()
	}
	return total
}

// Sweep removes every expired entry and returns how many were removed
func (c *Cache) Sweep() int {
	now := c.clock.Now()
	c.lastSweep.Store(now.UnixNano())

	removed := 0
	for _, s := range c.shards {
		s.mu.Lock()
		for nonce, firstSeen := range s.entries {
			if c.expired(now, firstSeen) {
				delete(s.entries, nonce)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// maybeSweep runs Sweep if the sweep interval has elapsed. Only the caller
// that wins the compare-and-swap performs the sweep.
func (c *Cache) maybeSweep(now time.Time) {
	last := c.lastSweep.Load()
	if now.UnixNano()-last < int64(c.sweepInterval) {
		return
	}
	if !c.lastSweep.CompareAndSwap(last, now.UnixNano()) {
		return
	}
	c.Sweep()
}

func (c *Cache) expired(now, firstSeen time.Time) bool {
	return now.Sub(firstSeen) > c.Window()
}

func (c *Cache) shardFor(nonce string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(nonce))
	return c.shards[h.Sum32()%uint32(len(c.shards))]
}
