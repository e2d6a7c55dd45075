// Package events publishes integration events that leave the service.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// KafkaPublisher writes keyed messages to a single topic. Messages with the
// same key land on the same partition.
type KafkaPublisher struct {
	topic  string
	writer messageWriter
	source string
}

func NewKafkaPublisher(brokers []string, topic, source string) *KafkaPublisher {
	return &KafkaPublisher{
		topic:  topic,
		source: source,
		writer: &kafkago.Writer{
			Addr:                   kafkago.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafkago.Hash{},
			BatchTimeout:           10 * time.Millisecond,
			RequiredAcks:           kafkago.RequireAll,
			AllowAutoTopicCreation: true,
		},
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, key string, payload []byte) error {
	msg := kafkago.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafkago.Header{
			{Key: "source", Value: []byte(p.source)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka publish to %s: %w", p.topic, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// LogPublisher stands in for a broker in local setups.
type LogPublisher struct {
	topic  string
	logger *slog.Logger
}

func NewLogPublisher(topic string, logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{topic: topic, logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, key string, payload []byte) error {
	p.logger.Info("event published", "topic", p.topic, "key", key, "payload", string(payload))
	return nil
}

func (p *LogPublisher) Close() error { return nil }

type Publisher interface {
	Publish(ctx context.Context, key string, payload []byte) error
	Close() error
}

// New picks Kafka when brokers are configured and the log publisher otherwise.
func New(brokers []string, topic, source string, logger *slog.Logger) Publisher {
	if len(brokers) == 0 {
		return NewLogPublisher(topic, logger)
	}
	return NewKafkaPublisher(brokers, topic, source)
}
