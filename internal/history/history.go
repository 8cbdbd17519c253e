package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	redisclient "github.com/CDeX-Labs/CDeX-Judge-Service/internal/redis"
	"github.com/CDeX-Labs/CDeX-Judge-Service/pkg/judging"
	"github.com/rs/zerolog"
)

const (
	eventKeyFmt = "history:event:%s"
	defaultTTL  = 7 * 24 * time.Hour
)

type HashStore interface {
	HSet(ctx context.Context, key string, field string, value interface{}) error
	HGet(ctx context.Context, key, field string) (string, error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	Expire(ctx context.Context, key string, expiration time.Duration) error
}

// Store keeps every judged submission of an event, keyed by submission id.
// It is the prior set for fraud checks and the input set for winner selection.
type Store struct {
	redis  HashStore
	ttl    time.Duration
	logger zerolog.Logger
}

func NewStore(redis HashStore, ttl time.Duration, logger zerolog.Logger) *Store {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Store{
		redis:  redis,
		ttl:    ttl,
		logger: logger.With().Str("component", "history").Logger(),
	}
}

func (s *Store) Record(ctx context.Context, sub judging.Submission) error {
	data, err := json.Marshal(sub)
	if err != nil {
		return err
	}

	key := fmt.Sprintf(eventKeyFmt, sub.EventID)
	if err := s.redis.HSet(ctx, key, sub.ID, data); err != nil {
		return fmt.Errorf("failed to record submission %s: %w", sub.ID, err)
	}
	return s.redis.Expire(ctx, key, s.ttl)
}

// Lookup returns the stored copy of a submission, or nil when the event has
// no record of it.
func (s *Store) Lookup(ctx context.Context, eventID, submissionID string) (*judging.Submission, error) {
	payload, err := s.redis.HGet(ctx, fmt.Sprintf(eventKeyFmt, eventID), submissionID)
	if errors.Is(err, redisclient.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up submission %s: %w", submissionID, err)
	}

	var sub judging.Submission
	if err := json.Unmarshal([]byte(payload), &sub); err != nil {
		return nil, fmt.Errorf("failed to decode submission %s: %w", submissionID, err)
	}
	return &sub, nil
}

// EventSubmissions returns all stored submissions of an event ordered by id.
// Entries that fail to decode are skipped.
func (s *Store) EventSubmissions(ctx context.Context, eventID string) ([]judging.Submission, error) {
	raw, err := s.redis.HGetAll(ctx, fmt.Sprintf(eventKeyFmt, eventID))
	if err != nil {
		return nil, fmt.Errorf("failed to load history for event %s: %w", eventID, err)
	}

	subs := make([]judging.Submission, 0, len(raw))
	for id, payload := range raw {
		var sub judging.Submission
		if err := json.Unmarshal([]byte(payload), &sub); err != nil {
			s.logger.Warn().Err(err).Str("eventId", eventID).Str("submissionId", id).Msg("Skipping undecodable history entry")
			continue
		}
		subs = append(subs, sub)
	}

	sort.Slice(subs, func(i, j int) bool { return subs[i].ID < subs[j].ID })
	return subs, nil
}

// Priors returns the event's stored submissions other than sub itself.
func (s *Store) Priors(ctx context.Context, sub judging.Submission) ([]judging.Submission, error) {
	all, err := s.EventSubmissions(ctx, sub.EventID)
	if err != nil {
		return nil, err
	}

	priors := make([]judging.Submission, 0, len(all))
	for _, p := range all {
		if p.ID != sub.ID {
			priors = append(priors, p)
		}
	}
	return priors, nil
}
