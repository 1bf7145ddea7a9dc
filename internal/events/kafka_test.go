package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error { return nil }

func TestKafkaPublishEncodesEvent(t *testing.T) {
	w := &recordingWriter{}
	k := &Kafka{w: w}

	ev := New(TypePositionsReconciled, "positions:p1", time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))
	ev.PoolID = "p1"
	ev.Updated, ev.Added, ev.Removed = 3, 1, 2
	require.NoError(t, k.Publish(context.Background(), ev))

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "positions:p1", string(msg.Key))
	assert.Equal(t, "type", msg.Headers[0].Key)
	assert.Equal(t, TypePositionsReconciled, string(msg.Headers[0].Value))

	var decoded Event
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, ev.ID, decoded.ID)
	assert.Equal(t, 2, decoded.Removed)
	assert.NotEmpty(t, decoded.ID)
}

func TestKafkaPublishWrapsWriterError(t *testing.T) {
	boom := errors.New("broker down")
	k := &Kafka{w: &recordingWriter{err: boom}}
	err := k.Publish(context.Background(), New(TypePoolsReconciled, "pools:tapp", time.Now()))
	assert.ErrorIs(t, err, boom)
}

func TestNewKafkaRequiresConfig(t *testing.T) {
	_, err := NewKafka(KafkaConfig{Topic: "t"})
	assert.Error(t, err)
	_, err = NewKafka(KafkaConfig{Brokers: []string{"localhost:9092"}})
	assert.Error(t, err)
}
