// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// KafkaConfig selects the topic positions are consumed from.
type KafkaConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// Enabled reports whether a broker and a topic are configured.
func (c KafkaConfig) Enabled() bool {
	return len(c.Brokers) > 0 && c.Topic != ""
}

// MessageReader is the subset of *kafka.Reader the consumer needs.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConsumer feeds positions published on a topic into a pipeline.
type KafkaConsumer struct {
	reader   MessageReader
	pipeline *Pipeline
	log      logrus.FieldLogger
}

// NewKafkaConsumer creates a consumer group reader for cfg.
func NewKafkaConsumer(cfg KafkaConfig, pipeline *Pipeline, logger logrus.FieldLogger) (*KafkaConsumer, error) {
	if !cfg.Enabled() {
		return nil, errors.New("kafka: brokers and topic are required")
	}

	if logger == nil {
		logger = logrus.StandardLogger()
	}

	logger = logger.WithFields(logrus.Fields{"topic": cfg.Topic, "group_id": cfg.GroupID})

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		StartOffset:    kafka.FirstOffset,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        time.Second,
		ReadBackoffMin: 100 * time.Millisecond,
		ReadBackoffMax: time.Second,
		Dialer:         &kafka.Dialer{Timeout: 10 * time.Second, DualStack: true},
		Logger:         kafka.LoggerFunc(logger.Debugf),
		ErrorLogger:    kafka.LoggerFunc(logger.Errorf),
	})

	return newKafkaConsumer(reader, pipeline, logger), nil
}

func newKafkaConsumer(reader MessageReader, pipeline *Pipeline, logger logrus.FieldLogger) *KafkaConsumer {
	return &KafkaConsumer{reader: reader, pipeline: pipeline, log: logger}
}

// Run consumes until ctx is cancelled. Malformed messages are logged and
// committed, a storage failure stops the consumer without committing.
func (c *KafkaConsumer) Run(ctx context.Context) error {
	c.log.Info("Kafka consumer started")

	defer func() {
		if err := c.reader.Close(); err != nil {
			c.log.WithError(err).Warn("Failed to close kafka reader")
		}
	}()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			return fmt.Errorf("fetching message: %w", err)
		}

		log := c.log.WithFields(logrus.Fields{"partition": msg.Partition, "offset": msg.Offset})

		pos, err := decodePosition(msg.Value)
		if err == nil {
			err = c.pipeline.Ingest(ctx, &pos)
		}

		switch {
		case errors.Is(err, ErrInvalidPosition):
			log.WithError(err).Warn("Skipping malformed position")
		case err != nil:
			return fmt.Errorf("ingesting message at offset %d: %w", msg.Offset, err)
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}

			return fmt.Errorf("committing offset %d: %w", msg.Offset, err)
		}
	}
}
