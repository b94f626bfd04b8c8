package kafka

import (
	"context"
	"log/slog"

	"github.com/segmentio/kafka-go"
)

// EventProducer publishes domain events (ledger transactions, run lifecycle
// transitions) to the event stream.
type EventProducer interface {
	Send(ctx context.Context, key string, value []byte) error
	Close() error
}

type Producer struct {
	writer *kafka.Writer
	topic  string
}

func NewProducer(brokers []string, topic string) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.LeastBytes{},
		Async:        true,
		RequiredAcks: kafka.RequireOne,
	}
	return &Producer{writer: writer, topic: topic}
}

func (p *Producer) Send(ctx context.Context, key string, value []byte) error {
	msg := kafka.Message{
		Topic: p.topic,
		Key:   []byte(key),
		Value: value,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		slog.Error("failed to send Kafka message", "topic", p.topic, "key", key, "error", err)
		return err
	}
	slog.Info("Kafka message sent", "topic", p.topic, "key", key)
	return nil
}

func (p *Producer) Close() error {
	if err := p.writer.Close(); err != nil {
		slog.Error("failed to close Kafka writer", "error", err)
		return err
	}
	slog.Info("Kafka writer closed")
	return nil
}
