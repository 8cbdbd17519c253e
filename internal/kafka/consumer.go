package kafka

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

type MessageObserver interface {
	IncKafkaMessage(topic, status string)
}

type Consumer struct {
	readers     []*kafka.Reader
	handlers    map[string]EventHandler
	concurrency int
	observer    MessageObserver
	logger      zerolog.Logger
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

type EventHandler func(ctx context.Context, message kafka.Message) error

// NewConsumer creates one reader per topic. Each reader runs at most
// concurrency handlers at a time.
func NewConsumer(brokers []string, groupID string, topics []string, concurrency int, observer MessageObserver, logger zerolog.Logger) *Consumer {
	ctx, cancel := context.WithCancel(context.Background())
	if concurrency <= 0 {
		concurrency = 1
	}

	readers := make([]*kafka.Reader, 0, len(topics))
	for _, topic := range topics {
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers:        brokers,
			GroupID:        groupID,
			Topic:          topic,
			MinBytes:       10e3,
			MaxBytes:       10e6,
			MaxWait:        1 * time.Second,
			CommitInterval: 1 * time.Second,
			StartOffset:    kafka.FirstOffset,
		})
		readers = append(readers, reader)
	}

	return &Consumer{
		readers:     readers,
		handlers:    make(map[string]EventHandler),
		concurrency: concurrency,
		observer:    observer,
		logger:      logger.With().Str("component", "kafka").Logger(),
		ctx:         ctx,
		cancel:      cancel,
	}
}

func (c *Consumer) RegisterHandler(topic string, handler EventHandler) {
	c.handlers[topic] = handler
}

func (c *Consumer) Start() {
	for _, reader := range c.readers {
		c.wg.Add(1)
		go c.consumeFromReader(reader)
	}
	c.logger.Info().Int("topics", len(c.readers)).Int("concurrency", c.concurrency).Msg("Kafka consumer started")
}

func (c *Consumer) consumeFromReader(reader *kafka.Reader) {
	defer c.wg.Done()

	topic := reader.Config().Topic
	c.logger.Info().Str("topic", topic).Msg("Starting consumer for topic")

	sem := make(chan struct{}, c.concurrency)
	offsets := newOffsetTracker()
	var inflight sync.WaitGroup
	defer inflight.Wait()

	for {
		select {
		case <-c.ctx.Done():
			return
		case sem <- struct{}{}:
		}

		msg, err := reader.FetchMessage(c.ctx)
		if err != nil {
			<-sem
			if c.ctx.Err() != nil {
				return
			}
			c.logger.Error().Err(err).Str("topic", topic).Msg("Failed to fetch message")
			time.Sleep(1 * time.Second)
			continue
		}

		c.logger.Debug().
			Str("topic", topic).
			Int("partition", msg.Partition).
			Int64("offset", msg.Offset).
			Msg("Received message")

		offsets.track(msg)
		inflight.Add(1)
		go func(msg kafka.Message) {
			defer inflight.Done()
			defer func() { <-sem }()
			c.process(reader, offsets, topic, msg)
		}(msg)
	}
}

type committer interface {
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

func (c *Consumer) process(reader committer, offsets *offsetTracker, topic string, msg kafka.Message) {
	status, err := c.dispatch(topic, msg)
	if c.observer != nil {
		c.observer.IncKafkaMessage(topic, status)
	}

	// An interrupted handler is never completed, so neither its offset nor
	// any later one on the partition is committed and it is redelivered.
	if err != nil && (errors.Is(err, context.Canceled) || c.ctx.Err() != nil) {
		c.logger.Warn().
			Str("topic", topic).
			Int64("offset", msg.Offset).
			Msg("Handler interrupted, offset left uncommitted")
		return
	}

	ready, ok := offsets.complete(msg)
	if !ok {
		return
	}

	// Commit with a fresh context so a shutdown does not drop the offset of
	// a message that was already handled.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := reader.CommitMessages(ctx, ready); err != nil {
		c.logger.Error().Err(err).Str("topic", topic).Msg("Failed to commit message")
	}
}

func (c *Consumer) dispatch(topic string, msg kafka.Message) (string, error) {
	handler, ok := c.handlers[topic]
	if !ok {
		c.logger.Warn().Str("topic", topic).Msg("No handler registered for topic")
		return "unhandled", nil
	}

	if err := handler(c.ctx, msg); err != nil {
		c.logger.Error().Err(err).Str("topic", topic).Msg("Handler failed")
		if errors.Is(err, context.Canceled) {
			return "cancelled", err
		}
		return "error", err
	}
	return "ok", nil
}

func (c *Consumer) Stop() error {
	c.cancel()
	c.wg.Wait()

	var lastErr error
	for _, reader := range c.readers {
		if err := reader.Close(); err != nil {
			lastErr = err
			c.logger.Error().Err(err).Msg("Failed to close reader")
		}
	}

	c.logger.Info().Msg("Kafka consumer stopped")
	return lastErr
}
