// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

// Package ingest accepts raw positions from the outside world, stores them and
// notifies the conversion pollers.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jcodagnone/geoconv/geoconv"
	"github.com/sirupsen/logrus"
)

// ErrInvalidPosition is returned for positions that can't be stored.
var ErrInvalidPosition = errors.New("invalid position")

// PositionWriter persists raw positions.
type PositionWriter interface {
	AddPosition(ctx context.Context, pos *geoconv.RawPosition) error
}

// PositionHandler is notified of stored positions.
type PositionHandler interface {
	HandlePosition(pos geoconv.RawPosition) bool
}

// Hook runs after a position is stored.
type Hook func(ctx context.Context, pos geoconv.RawPosition)

// HandlerHook adapts a PositionHandler, usually the conversion scheduler.
func HandlerHook(h PositionHandler) Hook {
	return func(_ context.Context, pos geoconv.RawPosition) {
		h.HandlePosition(pos)
	}
}

// Pipeline validates, stores and fans out positions.
type Pipeline struct {
	store PositionWriter
	hooks []Hook
	log   logrus.FieldLogger
	now   func() time.Time
}

// NewPipeline creates a pipeline writing to store.
func NewPipeline(store PositionWriter, logger logrus.FieldLogger, hooks ...Hook) *Pipeline {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &Pipeline{store: store, hooks: hooks, log: logger, now: time.Now}
}

// AddHook registers a hook for the positions ingested from now on.
func (p *Pipeline) AddHook(h Hook) {
	p.hooks = append(p.hooks, h)
}

// Ingest stores pos and runs the hooks. A missing fix time defaults to now.
// On success pos.ID holds the assigned id.
func (p *Pipeline) Ingest(ctx context.Context, pos *geoconv.RawPosition) error {
	if err := pos.Point().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPosition, err)
	}

	if pos.FixTime.IsZero() {
		pos.FixTime = p.now().UTC()
	}

	if err := p.store.AddPosition(ctx, pos); err != nil {
		return fmt.Errorf("storing position: %w", err)
	}

	p.log.WithFields(logrus.Fields{
		"position_id": pos.ID,
		"device_id":   pos.DeviceID,
	}).Debug("Position stored")

	for _, h := range p.hooks {
		h(ctx, *pos)
	}

	return nil
}
