package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

type Producer struct {
	writer   *kafka.Writer
	observer MessageObserver
	logger   zerolog.Logger
}

func NewProducer(brokers []string, observer MessageObserver, logger zerolog.Logger) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: 50 * time.Millisecond,
		},
		observer: observer,
		logger:   logger.With().Str("component", "kafka-producer").Logger(),
	}
}

// Publish writes v as JSON to topic. Messages with the same key land on the
// same partition, so per-submission ordering is kept.
func (p *Producer) Publish(ctx context.Context, topic, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s message: %w", topic, err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: data,
	})

	status := "published"
	if err != nil {
		status = "publish_error"
		p.logger.Error().Err(err).Str("topic", topic).Str("key", key).Msg("Failed to publish message")
	}
	if p.observer != nil {
		p.observer.IncKafkaMessage(topic, status)
	}
	return err
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
