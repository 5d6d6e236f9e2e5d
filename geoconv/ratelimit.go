// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package geoconv

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// window allows at most capacity debits within any period long interval.
// Debits are kept oldest first.
type window struct {
	capacity int
	period   time.Duration
	debits   []time.Time
}

func newWindow(capacity int, period time.Duration) *window {
	if capacity < 1 {
		capacity = 1
	}

	return &window{capacity: capacity, period: period}
}

// prune drops debits that no longer count at now.
func (w *window) prune(now time.Time) {
	i := 0
	for i < len(w.debits) && !now.Before(w.debits[i].Add(w.period)) {
		i++
	}

	if i > 0 {
		w.debits = append(w.debits[:0], w.debits[i:]...)
	}
}

// delay returns how long until a token is available, zero when one is.
func (w *window) delay(now time.Time) time.Duration {
	w.prune(now)

	if len(w.debits) < w.capacity {
		return 0
	}

	// the oldest debit that must expire to get under capacity
	oldest := w.debits[len(w.debits)-w.capacity]

	return oldest.Add(w.period).Sub(now)
}

func (w *window) take(now time.Time) {
	w.debits = append(w.debits, now)
}

func (w *window) untake() {
	if n := len(w.debits); n > 0 {
		w.debits = w.debits[:n-1]
	}
}

// RateLimiter enforces a per-second and a per-day ceiling at once. Calls are
// spaced evenly within the second, so no rolling second ever holds more than
// the quota. The daily quota is a rolling 24h window.
type RateLimiter struct {
	mu        sync.Mutex
	now       func() time.Time
	perSecond *rate.Limiter
	daily     *window
}

// NewRateLimiter creates a limiter for a platform quota.
func NewRateLimiter(q Quota) *RateLimiter {
	return newRateLimiter(time.Now, q.PerSecond, newWindow(q.PerDay, 24*time.Hour))
}

func newRateLimiter(now func() time.Time, perSecond int, daily *window) *RateLimiter {
	return &RateLimiter{
		now:       now,
		perSecond: rate.NewLimiter(rate.Every(callInterval(perSecond)), 1),
		daily:     daily,
	}
}

// callInterval is the spacing between calls for perSecond calls a second,
// rounded up so that perSecond+1 calls never fit in one second.
func callInterval(perSecond int) time.Duration {
	if perSecond < 1 {
		perSecond = 1
	}

	n := time.Duration(perSecond)

	return (time.Second + n - 1) / n
}

// reserve debits both ceilings when both have room, otherwise returns the
// longest wait and debits neither.
func (l *RateLimiter) reserve(now time.Time) time.Duration {
	if wait := l.daily.delay(now); wait > 0 {
		return wait
	}

	r := l.perSecond.ReserveN(now, 1)
	if wait := r.DelayFrom(now); wait > 0 {
		r.CancelAt(now)

		return wait
	}

	l.daily.take(now)

	return 0
}

// Wait blocks until both ceilings have room and consumes a call.
func (l *RateLimiter) Wait(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		l.mu.Lock()
		wait := l.reserve(l.now())
		l.mu.Unlock()

		if wait == 0 {
			return nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()

			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Release gives back the daily slot of the most recent Wait. It must only
// follow a Wait whose call was never sent. The per-second spacing stays
// consumed.
func (l *RateLimiter) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.daily.untake()
}
