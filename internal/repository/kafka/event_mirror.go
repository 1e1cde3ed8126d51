package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	kafkago "github.com/segmentio/kafka-go"

	"mint-gateway/internal/client"
	"mint-gateway/internal/models"
)

// EventMirror streams audit events onto the security-events topic for
// downstream consumers (alerting, SIEM). Delivery is best effort; the
// ClickHouse store is the durable copy.
type EventMirror struct {
	producer *client.KafkaProducer
	topic    string
}

func NewEventMirror(producer *client.KafkaProducer, topic string) *EventMirror {
	return &EventMirror{
		producer: producer,
		topic:    topic,
	}
}

func (m *EventMirror) PublishEvents(ctx context.Context, events []models.SecurityEvent) error {
	if len(events) == 0 {
		return nil
	}

	msgs := make([]kafkago.Message, 0, len(events))
	for _, e := range events {
		value, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to marshal security event: %w", err)
		}

		// Key by actor so one wallet's events stay in partition order.
		key := e.WalletAddress
		if key == "" {
			key = e.IPAddress
		}

		msgs = append(msgs, kafkago.Message{
			Key:   []byte(key),
			Value: value,
			Headers: []kafkago.Header{
				{Key: "event_type", Value: []byte(e.EventType)},
				{Key: "severity", Value: []byte(e.Severity)},
			},
		})
	}

	return m.producer.ProduceMessages(ctx, m.topic, msgs...)
}
