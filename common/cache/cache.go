/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package cache

import (
	"sync"
	"time"

	"github.com/UnifyEM/diragent/common/clock"
)

// Instance is a small in-memory cache for byte slices indexed by string keys.
// It is safe for concurrent use.
type Instance struct {
	mu    sync.Mutex
	cache map[string]cacheItem
	ttl   time.Duration
	clock clock.Clock
}

type cacheItem struct {
	bytes   []byte
	expires time.Time
}

// New returns a cache whose entries live for ttl. A nil clock means the
// system clock.
func New(ttl time.Duration, c clock.Clock) *Instance {
	if c == nil {
		c = clock.Real()
	}
	return &Instance{
		cache: make(map[string]cacheItem),
		ttl:   ttl,
		clock: c}
}

func (c *Instance) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache = make(map[string]cacheItem)
}

func (c *Instance) TTL(ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ttl = ttl
}

func (c *Instance) Set(key string, data []byte) {
	c.SetUntil(key, data, time.Time{})
}

// SetUntil stores data for the cache TTL, or until the given time if that
// comes first. A zero until is ignored.
func (c *Instance) SetUntil(key string, data []byte, until time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ttl <= 0 {
		return
	}
	expires := c.clock.Now().Add(c.ttl)
	if !until.IsZero() && until.Before(expires) {
		expires = until
	}
	c.cache[key] = cacheItem{bytes: data, expires: expires}
}

// Get returns nil on a miss or an expired entry
func (c *Instance) Get(key string) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.cache[key]
	if !ok {
		return nil
	}
	if !c.clock.Now().Before(v.expires) {
		delete(c.cache, key)
		return nil
	}
	return v.bytes
}

func (c *Instance) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cache)
}
