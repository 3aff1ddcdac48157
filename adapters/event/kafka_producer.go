package event

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/khoahotran/profile-service/internal/application/service"
	"github.com/khoahotran/profile-service/internal/config"
	"github.com/khoahotran/profile-service/pkg/logger"
	"go.uber.org/zap"
)

const TopicProfileEvents = "profile.events"

// messageWriter is the part of *kafka.Writer the producer uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaProducerClient struct {
	ProfileEventsWriter messageWriter
	logger              logger.Logger
}

// NewProfileEventPublisher returns a Kafka producer when brokers are
// configured and a no-op publisher otherwise.
func NewProfileEventPublisher(cfg config.Config, log logger.Logger) service.EventPublisher {
	if len(cfg.Kafka.Brokers) == 0 {
		log.Warn("Kafka brokers not configured, profile events are disabled")
		return NoopPublisher{}
	}
	return NewKafkaProducerClient(cfg, log)
}

func NewKafkaProducerClient(cfg config.Config, log logger.Logger) *KafkaProducerClient {
	topic := cfg.Kafka.Topic
	if topic == "" {
		topic = TopicProfileEvents
	}

	// Hash balancing keeps every event of one email on one partition.
	writer := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Kafka.Brokers...),
		Topic:    topic,
		Balancer: &kafka.Hash{},
	}

	log.Info("Initialize Kafka producer successfully.", zap.String("topic", topic), zap.Strings("brokers", cfg.Kafka.Brokers))

	return &KafkaProducerClient{ProfileEventsWriter: writer, logger: log}
}

func (c *KafkaProducerClient) PublishProfileEvent(ctx context.Context, evt service.ProfileEvent) error {
	value, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal profile event: %w", err)
	}

	key := evt.Email
	if key == "" {
		key = evt.RecordID
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(evt.EventType)},
		},
	}
	if err := c.ProfileEventsWriter.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write profile event to kafka: %w", err)
	}
	return nil
}

func (c *KafkaProducerClient) Close() error {
	if c.ProfileEventsWriter == nil {
		return nil
	}
	err := c.ProfileEventsWriter.Close()
	c.logger.Info("Closed Kafka producer")
	return err
}

type NoopPublisher struct{}

func (NoopPublisher) PublishProfileEvent(context.Context, service.ProfileEvent) error { return nil }

func (NoopPublisher) Close() error { return nil }
