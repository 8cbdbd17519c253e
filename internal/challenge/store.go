package challenge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	redisclient "github.com/CDeX-Labs/CDeX-Judge-Service/internal/redis"
	"github.com/CDeX-Labs/CDeX-Judge-Service/pkg/judging"
	"github.com/rs/zerolog"
)

const challengeKeyFmt = "challenge:%s:%s"

var ErrChallengeNotFound = errors.New("challenge not found")

type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
}

type Notifier interface {
	PublishChallengeUpdated(ctx context.Context, eventID, challengeID string) error
}

type cachedChallenge struct {
	data     judging.ChallengeData
	loadedAt time.Time
}

// Store serves challenge data from Redis with a short-lived in-process cache.
// Writes publish an invalidation so other instances drop stale copies.
type Store struct {
	kv       KV
	notifier Notifier
	cacheTTL time.Duration
	now      func() time.Time

	mu    sync.RWMutex
	cache map[string]cachedChallenge

	logger zerolog.Logger
}

func NewStore(kv KV, notifier Notifier, cacheTTL time.Duration, logger zerolog.Logger) *Store {
	return &Store{
		kv:       kv,
		notifier: notifier,
		cacheTTL: cacheTTL,
		now:      time.Now,
		cache:    make(map[string]cachedChallenge),
		logger:   logger.With().Str("component", "challenge-store").Logger(),
	}
}

func key(eventID, challengeID string) string {
	return fmt.Sprintf(challengeKeyFmt, eventID, challengeID)
}

func (s *Store) Get(ctx context.Context, eventID, challengeID string) (*judging.ChallengeData, error) {
	k := key(eventID, challengeID)

	s.mu.RLock()
	entry, ok := s.cache[k]
	s.mu.RUnlock()
	if ok && s.now().Sub(entry.loadedAt) < s.cacheTTL {
		data := entry.data
		return &data, nil
	}

	raw, err := s.kv.Get(ctx, k)
	if err != nil {
		if errors.Is(err, redisclient.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s/%s", ErrChallengeNotFound, eventID, challengeID)
		}
		return nil, fmt.Errorf("failed to load challenge %s/%s: %w", eventID, challengeID, err)
	}

	var data judging.ChallengeData
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, fmt.Errorf("failed to decode challenge %s/%s: %w", eventID, challengeID, err)
	}

	if s.cacheTTL > 0 {
		s.mu.Lock()
		s.cache[k] = cachedChallenge{data: data, loadedAt: s.now()}
		s.mu.Unlock()
	}

	return &data, nil
}

func (s *Store) Put(ctx context.Context, eventID, challengeID string, data judging.ChallengeData) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}

	if err := s.kv.Set(ctx, key(eventID, challengeID), payload, 0); err != nil {
		return fmt.Errorf("failed to store challenge %s/%s: %w", eventID, challengeID, err)
	}

	s.Invalidate(eventID, challengeID)

	if s.notifier != nil {
		if err := s.notifier.PublishChallengeUpdated(ctx, eventID, challengeID); err != nil {
			s.logger.Error().Err(err).
				Str("eventId", eventID).
				Str("challengeId", challengeID).
				Msg("Failed to publish challenge invalidation")
		}
	}
	return nil
}

func (s *Store) Invalidate(eventID, challengeID string) {
	s.mu.Lock()
	delete(s.cache, key(eventID, challengeID))
	s.mu.Unlock()
}

// HandleEnvelope is a pubsub handler that applies remote invalidations.
func (s *Store) HandleEnvelope(envelope *redisclient.PubSubEnvelope) {
	if envelope.Kind != redisclient.KindChallengeUpdated {
		return
	}
	s.Invalidate(envelope.EventID, envelope.ChallengeID)
	s.logger.Debug().
		Str("eventId", envelope.EventID).
		Str("challengeId", envelope.ChallengeID).
		Msg("Challenge cache invalidated")
}
