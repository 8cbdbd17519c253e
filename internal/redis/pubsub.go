package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	ChannelChallenges = "judge:challenges"
	ChannelEventFmt   = "judge:event:%s"
)

// Envelope kinds.
const (
	KindChallengeUpdated = "challenge.updated"
	KindSubmissionJudged = "submission.judged"
)

type PubSubEnvelope struct {
	SourceInstance string          `json:"sourceInstance"`
	Kind           string          `json:"kind"`
	EventID        string          `json:"eventId"`
	ChallengeID    string          `json:"challengeId,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

type EnvelopeHandler func(envelope *PubSubEnvelope)

// PubSub exchanges envelopes between judge instances. Envelopes an instance
// published itself are never delivered back to it.
type PubSub struct {
	client     *Client
	instanceID string

	mu       sync.RWMutex
	handlers map[string][]EnvelopeHandler

	sub    *redis.PubSub
	cancel context.CancelFunc
	done   chan struct{}
	logger zerolog.Logger
}

func NewPubSub(client *Client, logger zerolog.Logger) *PubSub {
	return &PubSub{
		client:     client,
		instanceID: uuid.NewString(),
		handlers:   make(map[string][]EnvelopeHandler),
		logger:     logger.With().Str("component", "pubsub").Logger(),
	}
}

// Handle registers fn for envelopes of the given kind.
func (p *PubSub) Handle(kind string, fn EnvelopeHandler) {
	p.mu.Lock()
	p.handlers[kind] = append(p.handlers[kind], fn)
	p.mu.Unlock()
}

// Start subscribes to channels (ChannelChallenges when none are given) and
// dispatches until ctx is cancelled or Stop is called.
func (p *PubSub) Start(ctx context.Context, channels ...string) error {
	if len(channels) == 0 {
		channels = []string{ChannelChallenges}
	}

	ctx, cancel := context.WithCancel(ctx)
	sub := p.client.Subscribe(ctx, channels...)
	if _, err := sub.Receive(ctx); err != nil {
		cancel()
		sub.Close()
		return fmt.Errorf("failed to subscribe to %v: %w", channels, err)
	}

	p.sub, p.cancel = sub, cancel
	p.done = make(chan struct{})
	go p.listen(ctx)

	p.logger.Info().
		Str("instanceId", p.instanceID).
		Strs("channels", channels).
		Msg("PubSub started")
	return nil
}

func (p *PubSub) Stop() error {
	if p.cancel == nil {
		return nil
	}
	p.cancel()
	err := p.sub.Close()
	<-p.done
	return err
}

func (p *PubSub) GetInstanceID() string {
	return p.instanceID
}

func (p *PubSub) listen(ctx context.Context) {
	defer close(p.done)
	messages := p.sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			p.dispatch(msg.Channel, []byte(msg.Payload))
		}
	}
}

func (p *PubSub) dispatch(channel string, payload []byte) {
	var envelope PubSubEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		p.logger.Error().Err(err).Str("channel", channel).Msg("Dropping malformed envelope")
		return
	}
	if envelope.SourceInstance == p.instanceID {
		return
	}

	p.mu.RLock()
	handlers := p.handlers[envelope.Kind]
	p.mu.RUnlock()

	if len(handlers) == 0 {
		p.logger.Debug().Str("channel", channel).Str("kind", envelope.Kind).Msg("No handler for envelope kind")
		return
	}
	for _, fn := range handlers {
		fn(&envelope)
	}
}

// PublishChallengeUpdated tells other instances to drop their cached copy.
func (p *PubSub) PublishChallengeUpdated(ctx context.Context, eventID, challengeID string) error {
	return p.publish(ctx, ChannelChallenges, PubSubEnvelope{
		Kind:        KindChallengeUpdated,
		EventID:     eventID,
		ChallengeID: challengeID,
	})
}

// PublishToEvent sends payload on the per-event channel.
func (p *PubSub) PublishToEvent(ctx context.Context, eventID, kind string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", kind, err)
	}
	return p.publish(ctx, fmt.Sprintf(ChannelEventFmt, eventID), PubSubEnvelope{
		Kind:    kind,
		EventID: eventID,
		Payload: raw,
	})
}

func (p *PubSub) publish(ctx context.Context, channel string, envelope PubSubEnvelope) error {
	envelope.SourceInstance = p.instanceID
	body, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, channel, body)
}
