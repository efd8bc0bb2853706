// Package kafka publishes tick events to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/andresmejia3/cymatic/internal/events"
)

// DefaultTopic is used when Config.Topic is empty.
const DefaultTopic = "cymatic.results"

// Config is the configuration for a Kafka publisher.
type Config struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
}

// messageWriter is the subset of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Publisher writes one message per tick event, keyed by identity id so all
// results for one face land on the same partition.
type Publisher struct {
	writer messageWriter
}

// NewPublisher creates a publisher backed by a kafka-go Writer.
func NewPublisher(c Config) (*Publisher, error) {
	if len(c.Brokers) == 0 {
		return nil, errors.New("kafka: at least one broker is required")
	}
	if c.Topic == "" {
		c.Topic = DefaultTopic
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}

	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(c.Brokers...),
		Topic:                  c.Topic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireOne,
		WriteTimeout:           c.WriteTimeout,
		AllowAutoTopicCreation: true,
	}
	return &Publisher{writer: w}, nil
}

// Message encodes event as a Kafka message.
func Message(event *events.TickEvent) (kafkago.Message, error) {
	value, err := json.Marshal(event)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("failed to encode tick event: %w", err)
	}
	msg := kafkago.Message{
		Value: value,
		Time:  event.EmittedAt,
		Headers: []kafkago.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
			{Key: "schema_version", Value: []byte(fmt.Sprint(event.SchemaVersion))},
		},
	}
	if key := event.Key(); key != "" {
		msg.Key = []byte(key)
	}
	return msg, nil
}

// PublishTick writes event to the topic.
func (p *Publisher) PublishTick(ctx context.Context, event *events.TickEvent) error {
	if event == nil {
		return events.ErrNilEvent
	}
	msg, err := Message(event)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write failed: %w", err)
	}
	return nil
}

// Close flushes pending writes and closes the writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
