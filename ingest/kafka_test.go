// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/segmentio/kafka-go"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeReader serves queued messages, then blocks until the context ends.
type fakeReader struct {
	mu        sync.Mutex
	messages  []kafka.Message
	committed []int64
	closed    bool
	drained   chan struct{}
}

func newFakeReader(values ...string) *fakeReader {
	r := &fakeReader{drained: make(chan struct{})}
	for i, v := range values {
		r.messages = append(r.messages, kafka.Message{Offset: int64(i), Value: []byte(v)})
	}

	return r
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.messages) > 0 {
		msg := r.messages[0]
		r.messages = r.messages[1:]
		r.mu.Unlock()

		return msg, nil
	}
	r.mu.Unlock()

	select {
	case <-r.drained:
	default:
		close(r.drained)
	}

	<-ctx.Done()

	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}

	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true

	return nil
}

func TestKafkaConsumer_Run(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	store := &memWriter{}
	handler := &recordingHandler{}
	pipeline := NewPipeline(store, logger, HandlerHook(handler))

	reader := newFakeReader(
		`{"device_id":1,"fix_time":"2025-05-01T10:00:00Z","latitude":39.9,"longitude":116.4}`,
		`{"device_id":1,"latitude":"north"}`,
		`{"device_id":2,"fix_time":"2025-05-01T10:00:05Z","latitude":-34.9,"longitude":-56.16}`,
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() { done <- newKafkaConsumer(reader, pipeline, logger).Run(ctx) }()

	<-reader.drained
	cancel()
	require.NoError(t, <-done)

	assert.Len(t, store.positions, 2)
	assert.Len(t, handler.seen, 2)
	assert.Equal(t, []int64{0, 1, 2}, reader.committed, "malformed messages are committed too")
	assert.True(t, reader.closed)

	var skipped int

	for _, e := range hook.AllEntries() {
		if e.Message == "Skipping malformed position" {
			skipped++
		}
	}

	assert.Equal(t, 1, skipped)
}

func TestKafkaConsumer_StoreFailureStops(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	store := &memWriter{err: errors.New("connection refused")}
	pipeline := NewPipeline(store, logger)

	reader := newFakeReader(`{"device_id":1,"latitude":39.9,"longitude":116.4}`)

	err := newKafkaConsumer(reader, pipeline, logger).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Empty(t, reader.committed)
}

func TestKafkaConfig_Enabled(t *testing.T) {
	assert.False(t, KafkaConfig{}.Enabled())
	assert.False(t, KafkaConfig{Brokers: []string{"localhost:9092"}}.Enabled())
	assert.True(t, KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "positions"}.Enabled())

	_, err := NewKafkaConsumer(KafkaConfig{}, nil, nil)
	assert.Error(t, err)
}
