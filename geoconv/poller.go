// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package geoconv

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	// DefaultIdleInterval is how long a poller parks when there is nothing to convert.
	DefaultIdleInterval = 30 * time.Second

	maxResponseSize = 1 << 20
)

// State of a poller.
type State int32

// Poller states.
const (
	StateIdle State = iota
	StateLimitWait
	StateFetching
	StateCalling
	StateStoring
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLimitWait:
		return "limit_wait"
	case StateFetching:
		return "fetching"
	case StateCalling:
		return "calling"
	case StateStoring:
		return "storing"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// PollerOptions tunes a poller. Zero values pick the defaults.
type PollerOptions struct {
	HTTPClient   *http.Client
	Logger       logrus.FieldLogger
	Limiter      *RateLimiter
	IdleInterval time.Duration
	BackoffMin   time.Duration
	BackoffMax   time.Duration
}

// CycleResult summarizes one poller iteration.
type CycleResult struct {
	Fetched int // positions sent to the provider
	Stored  int // converted positions persisted
}

// Poller converts the pending positions of one provider, one batch at a time.
type Poller struct {
	provider Provider
	store    Store
	client   *http.Client
	limiter  *RateLimiter
	log      logrus.FieldLogger
	idle     time.Duration
	backoff  *backoff
	wake     chan struct{}
	state    atomic.Int32

	quotaNotice rate.Sometimes
}

// NewPoller creates the poller of an enabled provider.
func NewPoller(provider Provider, store Store, opts PollerOptions) (*Poller, error) {
	if !provider.Enabled() {
		return nil, fmt.Errorf("%s: %w", provider.Platform(), ErrDisabled)
	}

	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}

	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}

	if opts.Limiter == nil {
		opts.Limiter = NewRateLimiter(provider.Config().Quota)
	}

	if opts.IdleInterval <= 0 {
		opts.IdleInterval = DefaultIdleInterval
	}

	if opts.BackoffMax <= 0 {
		opts.BackoffMax = time.Minute
	}

	p := &Poller{
		provider:    provider,
		store:       store,
		client:      opts.HTTPClient,
		limiter:     opts.Limiter,
		log:         opts.Logger.WithField("platform", provider.Platform()),
		idle:        opts.IdleInterval,
		backoff:     newBackoff(opts.BackoffMin, opts.BackoffMax),
		wake:        make(chan struct{}, 1),
		quotaNotice: rate.Sometimes{Interval: time.Minute},
	}
	p.setState(StateIdle)

	return p, nil
}

// Provider returns the provider the poller works for.
func (p *Poller) Provider() Provider {
	return p.provider
}

// State returns what the poller is doing right now.
func (p *Poller) State() State {
	return State(p.state.Load())
}

func (p *Poller) setState(s State) {
	p.state.Store(int32(s))
	pollerState.WithLabelValues(string(p.provider.Platform())).Set(float64(s))
}

// Wake interrupts an idle wait. Extra wakes are coalesced.
func (p *Poller) Wake() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Run converts batches until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	p.log.Info("Conversion poller started")

	defer func() {
		p.setState(StateStopped)
		p.log.Info("Conversion poller stopped")
	}()

	for {
		res, err := p.Cycle(ctx)
		if ctx.Err() != nil {
			return nil
		}

		if err != nil {
			delay := p.backoff.next()
			p.log.WithError(err).WithField("retry_in", delay).Warn("Conversion cycle failed")

			if !p.sleep(ctx, delay, false) {
				return nil
			}

			continue
		}

		p.backoff.reset()

		if res.Fetched == 0 {
			p.setState(StateIdle)

			if !p.sleep(ctx, p.idle, true) {
				return nil
			}
		}
	}
}

// sleep waits for d, or for a wake signal when wakeable. It returns false
// when ctx is done.
func (p *Poller) sleep(ctx context.Context, d time.Duration, wakeable bool) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	var wake <-chan struct{}
	if wakeable {
		wake = p.wake
	}

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
	case <-wake:
	}

	return true
}

// Cycle runs one iteration: quota, fetch, request and store. A cycle that
// finds nothing to convert returns a zero result and no error.
func (p *Poller) Cycle(ctx context.Context) (CycleResult, error) {
	var res CycleResult

	platform := p.provider.Platform()
	quota := p.provider.Config().Quota

	p.setState(StateLimitWait)

	start := time.Now()
	if err := p.limiter.Wait(ctx); err != nil {
		return res, err
	}

	observeSince(limiterWait, platform, start)

	if waited := time.Since(start); waited > time.Second {
		p.quotaNotice.Do(func() {
			p.log.WithField("waited", waited.Round(time.Millisecond)).Info("Provider quota exhausted, waited for a slot")
		})
	}

	p.setState(StateFetching)

	positions, err := p.store.FetchLatestUnconverted(ctx, platform, quota.BatchSize)
	if err != nil {
		p.limiter.Release()

		err = &ConversionError{
			Type:     ErrorTypeFetch,
			Platform: platform,
			Message:  "failed to get unconverted positions",
			Err:      err,
		}
		countFailure(platform, err)

		return res, err
	}

	if len(positions) == 0 {
		p.limiter.Release()

		return res, nil
	}

	if len(positions) > quota.BatchSize {
		positions = positions[:quota.BatchSize]
	}

	res.Fetched = len(positions)

	p.setState(StateCalling)

	converted, err := p.convert(ctx, positions)
	if err != nil {
		requestsTotal.WithLabelValues(string(platform), ErrorTypeOf(err).String()).Inc()
		countFailure(platform, err)

		return res, err
	}

	requestsTotal.WithLabelValues(string(platform), "ok").Inc()

	p.setState(StateStoring)

	// a batch that made it back from the provider is stored whole
	storeCtx := context.WithoutCancel(ctx)

	for _, c := range converted {
		if err := p.store.AppendConverted(storeCtx, c); err != nil {
			countFailure(platform, &ConversionError{Type: ErrorTypeStorageWrite, Platform: platform, Err: err})
			p.log.WithError(err).WithField("position_id", c.PositionID).Warn("Failed to store converted position")

			continue
		}

		res.Stored++
	}

	convertedTotal.WithLabelValues(string(platform)).Add(float64(res.Stored))

	p.log.WithFields(logrus.Fields{
		"fetched": res.Fetched,
		"stored":  res.Stored,
	}).Debug("Batch converted")

	return res, nil
}

func (p *Poller) convert(ctx context.Context, positions []RawPosition) ([]ConvertedPosition, error) {
	platform := p.provider.Platform()

	req, err := BuildRequest(ctx, p.provider, positions)
	if err != nil {
		return nil, &ConversionError{Type: ErrorTypeRequest, Platform: platform, Message: "building request", Err: err}
	}

	start := time.Now()
	resp, err := p.client.Do(req)

	observeSince(requestLatency, platform, start)

	if err != nil {
		return nil, &ConversionError{Type: ErrorTypeRequest, Platform: platform, Message: "sending request", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, ClassifyHTTPStatus(platform, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, &ConversionError{Type: ErrorTypeRequest, Platform: platform, Message: "reading response", Err: err}
	}

	points, err := p.provider.Decode(body)
	if err != nil {
		return nil, err
	}

	if err := checkCount(platform, points, len(positions)); err != nil {
		return nil, err
	}

	crs := p.provider.CRS()
	out := make([]ConvertedPosition, 0, len(points))

	for i, pt := range points {
		c, err := NewConvertedPosition(positions[i].ID, platform, crs, pt)
		if err != nil {
			return nil, parseError(platform, err)
		}

		out = append(out, c)
	}

	return out, nil
}
