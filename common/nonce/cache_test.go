/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package nonce

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UnifyEM/diragent/common/clock"
)

var epoch = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

func TestTryAddRejectsReplayWithinWindow(t *testing.T) {
	fc := clock.NewFake(epoch)
	c := New(10*time.Minute, WithClock(fc))

	require.True(t, c.TryAdd("abc", fc.Now()))

	// A different claimed timestamp does not matter
	assert.False(t, c.TryAdd("abc", fc.Now().Add(time.Hour)))
	assert.False(t, c.TryAdd("abc", fc.Now().Add(-time.Hour)))

	fc.Advance(9 * time.Minute)
	assert.False(t, c.TryAdd("abc", fc.Now()))
}

func TestTryAddAdmitsAfterWindow(t *testing.T) {
	fc := clock.NewFake(epoch)
	c := New(10*time.Minute, WithClock(fc))

	require.True(t, c.TryAdd("abc", fc.Now()))
	fc.Advance(10*time.Minute + time.Second)
	assert.True(t, c.TryAdd("abc", fc.Now()))
	assert.False(t, c.TryAdd("abc", fc.Now()))
}

func TestTryAddRejectsEmptyNonce(t *testing.T) {
	c := New(time.Minute)
	assert.False(t, c.TryAdd("", time.Now()))
	assert.Equal(t, 0, c.Len())
}

func TestSweepRunsAtMostOncePerInterval(t *testing.T) {
	fc := clock.NewFake(epoch)
	c := New(time.Minute, WithClock(fc), WithSweepInterval(5*time.Minute))

	for i := 0; i < 50; i++ {
		require.True(t, c.TryAdd(fmt.Sprintf("n-%d", i), fc.Now()))
	}

	// Entries are expired but the sweep interval has not elapsed
	fc.Advance(2 * time.Minute)
	require.True(t, c.TryAdd("fresh-1", fc.Now()))
	assert.Equal(t, 51, c.Len())

	// Interval elapsed: the next insert sweeps everything older than the window
	fc.Advance(3 * time.Minute)
	require.True(t, c.TryAdd("fresh-2", fc.Now()))
	assert.Equal(t, 1, c.Len())
}

func TestExplicitSweep(t *testing.T) {
	fc := clock.NewFake(epoch)
	c := New(time.Minute, WithClock(fc), WithShards(4))

	c.TryAdd("a", fc.Now())
	c.TryAdd("b", fc.Now())
	fc.Advance(30 * time.Second)
	c.TryAdd("c", fc.Now())
	fc.Advance(45 * time.Second)

	assert.Equal(t, 2, c.Sweep())
	assert.Equal(t, 1, c.Len())
}

func TestConcurrentTryAddAdmitsExactlyOnce(t *testing.T) {
	c := New(time.Minute)

	var admitted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.TryAdd("shared", time.Now()) {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), admitted.Load())
}

func TestSetWindowExtendsRetention(t *testing.T) {
	fc := clock.NewFake(time.Unix(1700000000, 0))
	c := New(time.Minute, WithClock(fc))

	assert.True(t, c.TryAdd("n", fc.Now()))
	c.SetWindow(10 * time.Minute)
	assert.Equal(t, 10*time.Minute, c.Window())

	fc.Advance(5 * time.Minute)
	assert.False(t, c.TryAdd("n", fc.Now()))
}
