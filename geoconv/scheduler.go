// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package geoconv

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jcodagnone/geoconv/spatial"
	"github.com/sirupsen/logrus"
)

// DefaultStartDelay is the pause between startup and the first poll.
const DefaultStartDelay = 5 * time.Second

// SchedulerOptions configures a Scheduler. StartDelay is used as is, zero
// starts the pollers right away.
type SchedulerOptions struct {
	PollerOptions
	StartDelay time.Duration
}

// ProviderStatus is a snapshot of one configured provider.
type ProviderStatus struct {
	Platform Platform `json:"platform"`
	CRS      CRS      `json:"crs"`
	Enabled  bool     `json:"enabled"`
	State    State    `json:"state"`
	Quota    Quota    `json:"quota"`
}

// Scheduler owns exactly one poller per enabled provider.
type Scheduler struct {
	providers  []Provider
	pollers    map[Platform]*Poller
	startDelay time.Duration
	log        logrus.FieldLogger
	started    atomic.Bool
	wg         sync.WaitGroup
}

// NewScheduler creates the pollers. Disabled providers are kept for status
// reporting but never scheduled.
func NewScheduler(providers []Provider, store Store, opts SchedulerOptions) (*Scheduler, error) {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}

	s := &Scheduler{
		pollers:    make(map[Platform]*Poller),
		startDelay: opts.StartDelay,
		log:        opts.Logger,
	}

	seen := make(map[Platform]bool)

	for _, provider := range providers {
		platform := provider.Platform()
		if seen[platform] {
			return nil, fmt.Errorf("provider %s configured twice", platform)
		}

		seen[platform] = true
		s.providers = append(s.providers, provider)

		if !provider.Enabled() {
			s.log.WithField("platform", platform).Info("Provider disabled, no api key configured")

			continue
		}

		pollerOpts := opts.PollerOptions
		pollerOpts.Limiter = nil // each provider owns its quota

		poller, err := NewPoller(provider, store, pollerOpts)
		if err != nil {
			return nil, err
		}

		s.pollers[platform] = poller
	}

	return s, nil
}

// Poller returns the poller of platform, if it is enabled.
func (s *Scheduler) Poller(platform Platform) (*Poller, bool) {
	p, ok := s.pollers[platform]

	return p, ok
}

// Enabled reports whether at least one provider is scheduled.
func (s *Scheduler) Enabled() bool {
	return len(s.pollers) > 0
}

// Start launches one goroutine per poller. They run until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("scheduler already started")
	}

	for _, provider := range s.providers {
		poller, ok := s.pollers[provider.Platform()]
		if !ok {
			continue
		}

		s.wg.Add(1)

		go func() {
			defer s.wg.Done()

			if s.startDelay > 0 {
				timer := time.NewTimer(s.startDelay)
				select {
				case <-ctx.Done():
					timer.Stop()

					return
				case <-timer.C:
				}
			}

			if err := poller.Run(ctx); err != nil {
				s.log.WithError(err).WithField("platform", provider.Platform()).Error("Poller exited")
			}
		}()
	}

	s.log.WithField("pollers", len(s.pollers)).Info("Conversion scheduler started")

	return nil
}

// Wait blocks until every poller has returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// HandlePosition is the hook for newly stored positions. It reports true when
// there is nothing to convert for the position, otherwise it wakes every
// poller and reports false.
func (s *Scheduler) HandlePosition(pos RawPosition) bool {
	if len(s.pollers) == 0 {
		return true
	}

	if spatial.OutOfChina(pos.Latitude, pos.Longitude) {
		return true
	}

	for _, p := range s.pollers {
		p.Wake()
	}

	return false
}

// Status returns the providers in configuration order.
func (s *Scheduler) Status() []ProviderStatus {
	out := make([]ProviderStatus, 0, len(s.providers))

	for _, provider := range s.providers {
		status := ProviderStatus{
			Platform: provider.Platform(),
			CRS:      provider.CRS(),
			Enabled:  provider.Enabled(),
			State:    StateStopped,
			Quota:    provider.Config().Quota,
		}

		if p, ok := s.pollers[provider.Platform()]; ok {
			status.State = p.State()
		}

		out = append(out, status)
	}

	return out
}
