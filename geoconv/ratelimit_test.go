// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package geoconv

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestWindow_Delay(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	w := newWindow(3, time.Second)

	for i := range 3 {
		now := start.Add(time.Duration(i) * 100 * time.Millisecond)
		require.Zero(t, w.delay(now))
		w.take(now)
	}

	// fourth token must wait for the first debit to expire
	assert.Equal(t, 800*time.Millisecond, w.delay(start.Add(200*time.Millisecond)))
	assert.Zero(t, w.delay(start.Add(time.Second)))
	assert.Len(t, w.debits, 2)
}

func TestWindow_RollingCeiling(t *testing.T) {
	// no interval of one period may hold more than capacity debits, even
	// across the boundary of a fixed window
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	w := newWindow(2, time.Second)

	w.take(start.Add(900 * time.Millisecond))
	w.take(start.Add(950 * time.Millisecond))

	now := start.Add(1100 * time.Millisecond)
	assert.Equal(t, 800*time.Millisecond, w.delay(now))
}

func TestWindow_MinimumCapacity(t *testing.T) {
	w := newWindow(0, time.Second)
	assert.Equal(t, 1, w.capacity)
}

func TestCallInterval(t *testing.T) {
	assert.Equal(t, 500*time.Millisecond, callInterval(2))
	assert.Equal(t, 333333334*time.Nanosecond, callInterval(3))
	assert.Equal(t, time.Second, callInterval(0))
}

func TestRateLimiter_Reserve(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := newRateLimiter(clock.now, 2, newWindow(5, 24*time.Hour))

	assert.Zero(t, l.reserve(clock.now()))
	assert.InDelta(t, float64(500*time.Millisecond), float64(l.reserve(clock.now())), float64(time.Millisecond),
		"calls are spaced within the second")

	for range 4 {
		clock.advance(500 * time.Millisecond)
		assert.Zero(t, l.reserve(clock.now()))
	}

	clock.advance(500 * time.Millisecond)
	wait := l.reserve(clock.now())
	assert.Equal(t, 24*time.Hour-2500*time.Millisecond, wait, "daily window dominates")
}

func TestRateLimiter_RollingSecondCeiling(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := newRateLimiter(clock.now, 3, newWindow(1000, 24*time.Hour))

	var grants []time.Time

	for range 300 {
		if l.reserve(clock.now()) == 0 {
			grants = append(grants, clock.now())
		}

		clock.advance(10 * time.Millisecond)
	}

	require.GreaterOrEqual(t, len(grants), 8)

	for i, from := range grants {
		n := 0
		for _, g := range grants[i:] {
			if g.Before(from.Add(time.Second)) {
				n++
			}
		}

		assert.LessOrEqual(t, n, 3, "calls in the second starting at %s", from.Format(time.StampMilli))
	}
}

func TestRateLimiter_ReserveIsAllOrNothing(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}

	t.Run("per second refusal keeps the daily slot", func(t *testing.T) {
		day := newWindow(10, 24*time.Hour)
		l := newRateLimiter(clock.now, 1, day)

		require.Zero(t, l.reserve(clock.now()))
		require.NotZero(t, l.reserve(clock.now()))

		assert.Len(t, day.debits, 1)
	})

	t.Run("daily refusal keeps the per second slot", func(t *testing.T) {
		l := newRateLimiter(clock.now, 1, newWindow(1, 24*time.Hour))

		require.Zero(t, l.reserve(clock.now()))
		clock.advance(time.Second)
		require.NotZero(t, l.reserve(clock.now()))

		assert.InDelta(t, 1.0, l.perSecond.TokensAt(clock.now()), 1e-6)
	})
}

func TestRateLimiter_Release(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := newRateLimiter(clock.now, 1000, newWindow(1, time.Hour))

	require.Zero(t, l.reserve(clock.now()))
	clock.advance(time.Millisecond)
	require.NotZero(t, l.reserve(clock.now()))

	l.Release()
	assert.Zero(t, l.reserve(clock.now()))

	l.Release()
	l.Release() // nothing left to give back
	clock.advance(time.Millisecond)
	assert.Zero(t, l.reserve(clock.now()))
}

func TestRateLimiter_ReleaseKeepsSpacing(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := newRateLimiter(clock.now, 1, newWindow(10, 24*time.Hour))

	require.Zero(t, l.reserve(clock.now()))
	l.Release()

	assert.NotZero(t, l.reserve(clock.now()), "a released call still counts against the second")
	assert.Empty(t, l.daily.debits)
}

func TestRateLimiter_Wait(t *testing.T) {
	l := newRateLimiter(time.Now, 40, newWindow(100, time.Hour))
	ctx := context.Background()

	start := time.Now()
	for range 3 {
		require.NoError(t, l.Wait(ctx))
	}

	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestRateLimiter_WaitCancelled(t *testing.T) {
	l := newRateLimiter(time.Now, 1000, newWindow(1, time.Hour))
	require.NoError(t, l.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := l.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewRateLimiter_Quota(t *testing.T) {
	l := NewRateLimiter(Quota{BatchSize: 40, PerSecond: 3, PerDay: 5000})

	assert.Equal(t, 5000, l.daily.capacity)
	assert.Equal(t, 24*time.Hour, l.daily.period)
	assert.InDelta(t, 3.0, float64(l.perSecond.Limit()), 1e-6)
	assert.Equal(t, 1, l.perSecond.Burst())
}
