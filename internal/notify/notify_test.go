package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { f.closed = true; return nil }

func TestNewWithoutBrokersIsNop(t *testing.T) {
	n := New(nil, "topic", nil)
	assert.IsType(t, Nop{}, n)
	assert.NoError(t, n.Publish(context.Background(), "t1", "plan.completed", "r1", nil))
}

func TestNewKafkaWriterSettings(t *testing.T) {
	w := NewKafkaWriter([]string{"k1:9092", "k2:9092"}, "events")
	assert.Equal(t, "events", w.Topic)
	assert.Equal(t, kafka.RequireOne, w.RequiredAcks)
	assert.Equal(t, "tcp,tcp", w.Addr.Network())
	assert.Equal(t, "k1:9092,k2:9092", w.Addr.String())
}

func TestKafkaPublish(t *testing.T) {
	fw := &fakeWriter{}
	k := &Kafka{w: fw, log: zap.NewNop()}
	require.NoError(t, k.Publish(context.Background(), "t1", "vehicle.shortage", "job7", map[string]string{"suggestedType": "HIAB"}))
	require.Len(t, fw.msgs, 1)
	m := fw.msgs[0]
	assert.Equal(t, "t1/job7", string(m.Key))
	assert.Equal(t, "vehicle.shortage", string(m.Headers[0].Value))

	var ev Event
	require.NoError(t, json.Unmarshal(m.Value, &ev))
	assert.Equal(t, "vehicle.shortage", ev.Type)
	assert.Equal(t, "t1", ev.TenantID)

	require.NoError(t, k.Close())
	assert.True(t, fw.closed)
}

func TestKafkaPublishError(t *testing.T) {
	k := &Kafka{w: &fakeWriter{err: errors.New("no leader")}, log: zap.NewNop()}
	err := k.Publish(context.Background(), "t1", "plan.completed", "r1", nil)
	assert.ErrorContains(t, err, "no leader")
}
