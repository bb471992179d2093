// Package kafka forwards workflow events to a Kafka topic for the notification service.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/garyjia/bi-workflow/internal/application/dispatcher"
	"github.com/garyjia/bi-workflow/internal/application/port"
	"github.com/garyjia/bi-workflow/internal/domain/event"
)

// DefaultTopic receives workflow events when no topic is configured
const DefaultTopic = "workflow.events"

// Config holds the publisher settings
type Config struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
}

// messageWriter is the part of *kafkago.Writer the publisher uses
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Publisher writes events as JSON, keyed by instance so one instance's
// events land on one partition in order
type Publisher struct {
	writer  messageWriter
	topic   string
	timeout time.Duration
	logger  *zap.Logger
}

// NewPublisher returns a Kafka publisher, or a no-op one when no brokers are configured
func NewPublisher(cfg Config, logger *zap.Logger) port.EventPublisher {
	if len(cfg.Brokers) == 0 {
		logger.Info("Kafka publisher disabled, no brokers configured")
		return Noop{}
	}
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 2 * time.Second
	}

	// Writers are safe for concurrent use
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		RequiredAcks: kafkago.RequireOne,
		Balancer:     &kafkago.Hash{},
		BatchTimeout: 50 * time.Millisecond,
	}
	logger.Info("Kafka publisher enabled", zap.Strings("brokers", cfg.Brokers), zap.String("topic", cfg.Topic))
	return newPublisher(w, cfg.Topic, cfg.WriteTimeout, logger)
}

func newPublisher(w messageWriter, topic string, timeout time.Duration, logger *zap.Logger) *Publisher {
	return &Publisher{writer: w, topic: topic, timeout: timeout, logger: logger}
}

// Publish writes one event
func (p *Publisher) Publish(ctx context.Context, evt *event.Event) error {
	value, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal event %s: %w", evt.ID, err)
	}

	key := evt.InstanceID
	if key == "" {
		key = evt.CorrelationID
	}
	msg := kafkago.Message{
		Key:   []byte(key),
		Value: value,
		Time:  evt.Timestamp,
		Headers: []kafkago.Header{
			{Key: "event_type", Value: []byte(evt.Type)},
			{Key: "event_id", Value: []byte(evt.ID)},
		},
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("Failed to publish event",
			zap.String("topic", p.topic),
			zap.String("event_type", string(evt.Type)),
			zap.String("event_id", evt.ID),
			zap.Error(err))
		return fmt.Errorf("failed to publish event %s: %w", evt.ID, err)
	}
	return nil
}

// Close flushes and closes the writer
func (p *Publisher) Close() error {
	return p.writer.Close()
}

// Noop drops every event
type Noop struct{}

func (Noop) Publish(ctx context.Context, evt *event.Event) error { return nil }
func (Noop) Close() error                                        { return nil }

// Forward subscribes pub to every dispatched event
func Forward(d dispatcher.Dispatcher, pub port.EventPublisher) {
	d.SubscribeNamed(dispatcher.AnyType, "kafka-forwarder", func(ctx context.Context, evt *event.Event) error {
		return pub.Publish(ctx, evt)
	})
}
