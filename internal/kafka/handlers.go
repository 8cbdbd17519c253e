package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redisclient "github.com/CDeX-Labs/CDeX-Judge-Service/internal/redis"
	"github.com/CDeX-Labs/CDeX-Judge-Service/internal/verification"
	"github.com/CDeX-Labs/CDeX-Judge-Service/pkg/events"
	"github.com/CDeX-Labs/CDeX-Judge-Service/pkg/judging"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

type Verifier interface {
	Verify(ctx context.Context, data judging.ChallengeData, sub judging.Submission, challengeType judging.ChallengeType) (judging.Verdict, error)
	VerifyByReference(ctx context.Context, sub judging.Submission) (judging.Verdict, error)
}

type History interface {
	Lookup(ctx context.Context, eventID, submissionID string) (*judging.Submission, error)
	Record(ctx context.Context, sub judging.Submission) error
	Priors(ctx context.Context, sub judging.Submission) ([]judging.Submission, error)
	EventSubmissions(ctx context.Context, eventID string) ([]judging.Submission, error)
}

type Assessor interface {
	Assess(sub judging.Submission, priors []judging.Submission) judging.FraudAssessment
}

type WinnerSelector interface {
	DetermineWinners(submissions []judging.Submission, maxWinners int) judging.WinnerResult
}

type Publisher interface {
	Publish(ctx context.Context, topic, key string, v interface{}) error
}

type EventNotifier interface {
	PublishToEvent(ctx context.Context, eventID, kind string, payload interface{}) error
}

type Validator interface {
	Validate(s interface{}) error
}

type OutcomeObserver interface {
	ObserveFraud(recommendation string, riskScore int)
	AddWinners(n int)
}

type Dependencies struct {
	Verifier   Verifier
	History    History
	Detector   Assessor
	Selector   WinnerSelector
	Publisher  Publisher
	Notifier   EventNotifier
	Validator  Validator
	Observer   OutcomeObserver
	MaxWinners int
	Now        func() time.Time
}

type Handlers struct {
	deps   Dependencies
	logger zerolog.Logger
}

func NewHandlers(deps Dependencies, logger zerolog.Logger) *Handlers {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Handlers{
		deps:   deps,
		logger: logger.With().Str("component", "kafka-handlers").Logger(),
	}
}

// HandleSubmissionCreated runs a submission through verification and fraud
// checks. On a verification failure nothing is recorded or published and the
// submission stays pending_verification. Submissions already judged according
// to the history store are skipped.
func (h *Handlers) HandleSubmissionCreated(ctx context.Context, msg kafka.Message) error {
	var event events.SubmissionCreatedEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		h.logger.Error().Err(err).Msg("Failed to unmarshal submission.created event")
		return err
	}
	if err := h.deps.Validator.Validate(event); err != nil {
		h.logger.Warn().Err(err).Str("submissionId", event.ID).Msg("Dropping invalid submission.created event")
		return err
	}

	sub := event.Submission
	if sub.Status == "" {
		sub.Status = judging.StatusPendingVerification
	}
	if sub.Status != judging.StatusPendingVerification {
		h.logger.Info().
			Str("submissionId", sub.ID).
			Str("status", string(sub.Status)).
			Msg("Skipping already judged submission")
		return nil
	}

	// Redeliveries carry the original pending status; the stored copy is authoritative.
	stored, err := h.deps.History.Lookup(ctx, sub.EventID, sub.ID)
	if err != nil {
		return fmt.Errorf("submission %s left pending: %w", sub.ID, err)
	}
	if stored != nil && stored.Status != judging.StatusPendingVerification {
		h.logger.Info().
			Str("submissionId", sub.ID).
			Str("status", string(stored.Status)).
			Msg("Skipping redelivered submission")
		return nil
	}

	h.logger.Info().
		Str("submissionId", sub.ID).
		Str("eventId", sub.EventID).
		Str("challengeType", string(sub.ChallengeType)).
		Msg("Processing submission.created")

	var verdict judging.Verdict
	if event.ChallengeData != nil {
		verdict, err = h.deps.Verifier.Verify(ctx, *event.ChallengeData, sub, sub.ChallengeType)
	} else {
		verdict, err = h.deps.Verifier.VerifyByReference(ctx, sub)
	}
	if err != nil {
		return fmt.Errorf("submission %s left pending: %w", sub.ID, err)
	}

	if err := sub.ApplyVerdict(verdict); err != nil {
		return err
	}

	priors, err := h.deps.History.Priors(ctx, sub)
	if err != nil {
		h.logger.Warn().Err(err).Str("submissionId", sub.ID).Msg("Assessing without submission history")
		priors = nil
	}
	assessment := h.deps.Detector.Assess(sub, priors)
	if h.deps.Observer != nil {
		h.deps.Observer.ObserveFraud(string(assessment.Recommendation), assessment.RiskScore)
	}

	if err := h.deps.History.Record(ctx, sub); err != nil {
		return err
	}

	now := h.deps.Now().UTC().Format(time.RFC3339)
	judged := events.SubmissionJudgedEvent{
		MessageID:    uuid.New().String(),
		SubmissionID: sub.ID,
		EventID:      sub.EventID,
		ChallengeID:  sub.ChallengeID,
		Submitter:    sub.Submitter,
		Status:       sub.Status,
		Verdict:      verdict,
		Fraud:        assessment,
		Timestamp:    now,
	}
	if err := h.deps.Publisher.Publish(ctx, events.TopicSubmissionJudged, sub.ID, judged); err != nil {
		return err
	}

	if assessment.Recommendation != judging.RecommendApprove {
		h.logger.Warn().
			Str("submissionId", sub.ID).
			Int("riskScore", assessment.RiskScore).
			Str("recommendation", string(assessment.Recommendation)).
			Msg("Submission flagged")

		flagged := events.SubmissionFlaggedEvent{
			MessageID:    uuid.New().String(),
			SubmissionID: sub.ID,
			EventID:      sub.EventID,
			Submitter:    sub.Submitter,
			Assessment:   assessment,
			Timestamp:    now,
		}
		if err := h.deps.Publisher.Publish(ctx, events.TopicSubmissionFlagged, sub.ID, flagged); err != nil {
			return err
		}
	}

	if h.deps.Notifier != nil {
		if err := h.deps.Notifier.PublishToEvent(ctx, sub.EventID, redisclient.KindSubmissionJudged, judged); err != nil {
			h.logger.Error().Err(err).Str("eventId", sub.EventID).Msg("Failed to notify event channel")
		}
	}

	h.logger.Info().
		Str("submissionId", sub.ID).
		Str("status", string(sub.Status)).
		Int("score", verdict.Score).
		Msg("Submission judged")

	return nil
}

// HandleEventEnded ranks the event's recorded submissions and announces the winners.
func (h *Handlers) HandleEventEnded(ctx context.Context, msg kafka.Message) error {
	var event events.EventEndedEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		h.logger.Error().Err(err).Msg("Failed to unmarshal event.ended event")
		return err
	}
	if err := h.deps.Validator.Validate(event); err != nil {
		return err
	}

	maxWinners := event.MaxWinners
	if maxWinners == 0 {
		maxWinners = h.deps.MaxWinners
	}

	h.logger.Info().
		Str("eventId", event.EventID).
		Int("maxWinners", maxWinners).
		Msg("Processing event.ended")

	subs, err := h.deps.History.EventSubmissions(ctx, event.EventID)
	if err != nil {
		return err
	}

	result := h.deps.Selector.DetermineWinners(subs, maxWinners)
	if h.deps.Observer != nil {
		h.deps.Observer.AddWinners(len(result.Winners))
	}

	out := events.WinnersDeterminedEvent{
		MessageID:    uuid.New().String(),
		EventID:      event.EventID,
		WinnerResult: result,
		Timestamp:    h.deps.Now().UTC().Format(time.RFC3339),
	}
	if err := h.deps.Publisher.Publish(ctx, events.TopicWinnersDetermined, event.EventID, out); err != nil {
		return err
	}

	h.logger.Info().
		Str("eventId", event.EventID).
		Int("winners", len(result.Winners)).
		Int("validSubmissions", result.ValidSubmissions).
		Int("totalSubmissions", result.TotalSubmissions).
		Msg("Winners determined")

	return nil
}

func (h *Handlers) RegisterAll(consumer *Consumer) {
	consumer.RegisterHandler(events.TopicSubmissionCreated, h.HandleSubmissionCreated)
	consumer.RegisterHandler(events.TopicEventEnded, h.HandleEventEnded)
}

// Topics lists the topics RegisterAll subscribes to.
func Topics() []string {
	return []string{events.TopicSubmissionCreated, events.TopicEventEnded}
}

// compile-time check that the engine satisfies Verifier.
var _ Verifier = (*verification.Engine)(nil)
