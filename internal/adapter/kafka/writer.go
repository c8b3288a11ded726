package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/fire-perimeter-service/internal/domain"
)

// Publisher produces perimeter events to a Kafka topic.
// It implements pipeline.EventPublisher.
type Publisher struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewPublisher creates a Kafka producer for the perimeter event topic.
func NewPublisher(brokers []string, topic string, logger *slog.Logger) *Publisher {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Publisher{writer: w, logger: logger}
}

// Publish serializes one perimeter event, keyed by fire number so every event
// for a fire lands on the same partition.
func (p *Publisher) Publish(ctx context.Context, event domain.PerimeterEvent) error {
	msg, err := serializeToMessage(event)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish perimeter event %s: %w", event.FireNumber, err)
	}
	p.logger.Debug("perimeter event published", "fire_number", event.FireNumber, "topic", p.writer.Topic)
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

// serializeToMessage marshals a PerimeterEvent into a Kafka message.
func serializeToMessage(event domain.PerimeterEvent) (kafkago.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize perimeter event: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(event.FireNumber),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "fire_number", Value: []byte(event.FireNumber)},
			{Key: "processed_at", Value: []byte(event.ProcessedAt.Format(time.RFC3339))},
		},
	}, nil
}
