// Package notify mirrors dispatch events onto a Kafka topic for downstream
// consumers (fleet hire, reporting).
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Event is the message value written to the topic.
type Event struct {
	Type     string    `json:"type"`
	TenantID string    `json:"tenantId"`
	TS       time.Time `json:"ts"`
	Data     any       `json:"data"`
}

// Notifier publishes events. Publish never blocks the caller on delivery
// guarantees beyond the writer's own acks.
type Notifier interface {
	Publish(ctx context.Context, tenantID, eventType, key string, data any) error
	Close() error
}

// Nop discards events; used when no brokers are configured.
type Nop struct{}

func (Nop) Publish(context.Context, string, string, string, any) error { return nil }
func (Nop) Close() error                                               { return nil }

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka writes one message per event, keyed so that events for the same
// tenant and key land on the same partition.
type Kafka struct {
	w   messageWriter
	log *zap.Logger
}

func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
	}
}

// New returns a Kafka notifier, or Nop when brokers is empty.
func New(brokers []string, topic string, log *zap.Logger) Notifier {
	if len(brokers) == 0 {
		return Nop{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	log.Info("kafka notifier enabled", zap.Strings("brokers", brokers), zap.String("topic", topic))
	return &Kafka{w: NewKafkaWriter(brokers, topic), log: log}
}

func (k *Kafka) Publish(ctx context.Context, tenantID, eventType, key string, data any) error {
	payload, err := json.Marshal(Event{Type: eventType, TenantID: tenantID, TS: time.Now().UTC(), Data: data})
	if err != nil {
		return fmt.Errorf("encode %s event: %w", eventType, err)
	}
	msg := kafka.Message{
		Key:     []byte(tenantID + "/" + key),
		Value:   payload,
		Headers: []kafka.Header{{Key: "event-type", Value: []byte(eventType)}},
	}
	if err := k.w.WriteMessages(ctx, msg); err != nil {
		k.log.Warn("kafka publish failed", zap.String("event", eventType), zap.String("tenant", tenantID), zap.Error(err))
		return fmt.Errorf("publish %s: %w", eventType, err)
	}
	return nil
}

func (k *Kafka) Close() error { return k.w.Close() }
