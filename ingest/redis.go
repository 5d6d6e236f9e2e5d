// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"context"
	"fmt"

	"github.com/jcodagnone/geoconv/geoconv"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// DefaultRedisChannel carries new position notifications between instances.
const DefaultRedisChannel = "geoconv:positions"

// RedisConfig locates the server used for notifications.
type RedisConfig struct {
	Addr    string
	DB      int
	Channel string
}

// RedisNotifier publishes stored positions so that pollers running in other
// processes wake up too.
type RedisNotifier struct {
	client  *redis.Client
	channel string
	log     logrus.FieldLogger
}

// NewRedisNotifier connects to cfg.Addr and checks the connection.
func NewRedisNotifier(ctx context.Context, cfg RedisConfig, logger logrus.FieldLogger) (*RedisNotifier, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	if cfg.Channel == "" {
		cfg.Channel = DefaultRedisChannel
	}

	client := redis.NewClient(&redis.Options{
		Addr: cfg.Addr,
		DB:   cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &RedisNotifier{client: client, channel: cfg.Channel, log: logger.WithField("channel", cfg.Channel)}, nil
}

// Publish announces a stored position.
func (n *RedisNotifier) Publish(ctx context.Context, pos geoconv.RawPosition) error {
	payload, err := encodePosition(pos)
	if err != nil {
		return err
	}

	return n.client.Publish(ctx, n.channel, payload).Err()
}

// Hook publishes every ingested position. Failures are logged only.
func (n *RedisNotifier) Hook() Hook {
	return func(ctx context.Context, pos geoconv.RawPosition) {
		if err := n.Publish(ctx, pos); err != nil {
			n.log.WithError(err).WithField("position_id", pos.ID).Warn("Failed to publish position")
		}
	}
}

// Subscribe hands every announced position to h until ctx is cancelled.
func (n *RedisNotifier) Subscribe(ctx context.Context, h PositionHandler) error {
	sub := n.client.Subscribe(ctx, n.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}

		return fmt.Errorf("subscribing to %s: %w", n.channel, err)
	}

	n.log.Info("Listening for position notifications")

	ch := sub.Channel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}

			pos, err := decodePosition([]byte(msg.Payload))
			if err != nil {
				n.log.WithError(err).Warn("Ignoring malformed notification")

				continue
			}

			h.HandlePosition(pos)
		}
	}
}

func (n *RedisNotifier) Close() error {
	return n.client.Close()
}
