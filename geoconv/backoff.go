// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package geoconv

import "time"

// backoff is a capped exponential delay between failed cycles.
type backoff struct {
	min, max time.Duration
	current  time.Duration
}

func newBackoff(minDelay, maxDelay time.Duration) *backoff {
	if minDelay <= 0 {
		minDelay = time.Second
	}

	if maxDelay < minDelay {
		maxDelay = minDelay
	}

	return &backoff{min: minDelay, max: maxDelay}
}

func (b *backoff) next() time.Duration {
	switch {
	case b.current == 0:
		b.current = b.min
	case b.current < b.max:
		b.current = min(b.current*2, b.max)
	}

	return b.current
}

func (b *backoff) reset() {
	b.current = 0
}
