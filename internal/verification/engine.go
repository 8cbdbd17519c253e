package verification

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/CDeX-Labs/CDeX-Judge-Service/pkg/judging"
	"github.com/rs/zerolog"
)

const (
	DefaultTemperature = 0.1
	DefaultMaxTokens   = 500
	DefaultTimeout     = 30 * time.Second
)

type JudgeRequest struct {
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Judge is the remote evaluator the engine delegates to.
type Judge interface {
	Evaluate(ctx context.Context, req JudgeRequest) (string, error)
	Model() string
}

type ChallengeDataProvider interface {
	Get(ctx context.Context, eventID, challengeID string) (*judging.ChallengeData, error)
}

// Observer receives per-verification outcomes. *metrics.Metrics satisfies it.
type Observer interface {
	ObserveVerification(challengeType, outcome string, seconds float64)
}

type Options struct {
	Timeout     time.Duration
	MaxTokens   int
	Temperature float64
	Builders    map[judging.ChallengeType]PromptBuilder
	Observer    Observer
	Now         func() time.Time
}

type Engine struct {
	judge    Judge
	provider ChallengeDataProvider
	builders map[judging.ChallengeType]PromptBuilder
	opts     Options
	logger   zerolog.Logger
}

func NewEngine(judge Judge, provider ChallengeDataProvider, opts Options, logger zerolog.Logger) *Engine {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultMaxTokens
	}
	if opts.Temperature <= 0 {
		opts.Temperature = DefaultTemperature
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	builders := DefaultBuilders()
	for t, b := range opts.Builders {
		builders[t] = b
	}

	return &Engine{
		judge:    judge,
		provider: provider,
		builders: builders,
		opts:     opts,
		logger:   logger.With().Str("component", "verification").Logger(),
	}
}

// BuildPrompt renders the prompt the judge would receive for sub.
func (e *Engine) BuildPrompt(data judging.ChallengeData, sub judging.Submission, challengeType judging.ChallengeType) string {
	builder, ok := e.builders[challengeType]
	if !ok {
		builder = buildGenericPrompt
	}
	return builder(data, sub)
}

// Verify judges a single submission. It never mutates sub; the caller attaches
// the returned verdict with Submission.ApplyVerdict.
func (e *Engine) Verify(ctx context.Context, data judging.ChallengeData, sub judging.Submission, challengeType judging.ChallengeType) (judging.Verdict, error) {
	start := e.opts.Now()
	verdict, err := e.verify(ctx, data, sub, challengeType)
	e.observe(challengeType, err, e.opts.Now().Sub(start))
	return verdict, err
}

func (e *Engine) verify(ctx context.Context, data judging.ChallengeData, sub judging.Submission, challengeType judging.ChallengeType) (judging.Verdict, error) {
	prompt := e.BuildPrompt(data, sub, challengeType)

	callCtx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	raw, err := e.judge.Evaluate(callCtx, JudgeRequest{
		Prompt:      prompt,
		MaxTokens:   e.opts.MaxTokens,
		Temperature: e.opts.Temperature,
	})
	if err != nil {
		e.logger.Error().Err(err).
			Str("submissionId", sub.ID).
			Str("kind", string(KindJudgeUnavailable)).
			Msg("Judge call failed")
		return judging.Verdict{}, newError(KindJudgeUnavailable, sub.ID, "", err)
	}

	fields, err := parseJudgeResponse(raw)
	if err != nil {
		var verr *Error
		if errors.As(err, &verr) {
			verr.SubmissionID = sub.ID
			e.logParseFailure(verr, sub)
		}
		return judging.Verdict{}, err
	}

	verdict := judging.Verdict{
		IsValid:    fields.IsValid,
		Score:      fields.Score,
		Reasoning:  fields.Reasoning,
		Confidence: fields.Confidence,
		JudgeModel: e.judge.Model(),
		Timestamp:  e.opts.Now().UTC().Format(time.RFC3339),
	}

	e.logger.Debug().
		Str("submissionId", sub.ID).
		Str("challengeType", string(challengeType)).
		Bool("isValid", verdict.IsValid).
		Int("score", verdict.Score).
		Msg("Submission verified")

	return verdict, nil
}

func (e *Engine) logParseFailure(verr *Error, sub judging.Submission) {
	// schema_violation logs at warn so it can be told apart from unparseable replies.
	ev := e.logger.Error()
	if verr.Kind == KindSchemaViolation {
		ev = e.logger.Warn()
	}
	ev.Err(verr).
		Str("submissionId", sub.ID).
		Str("kind", string(verr.Kind)).
		Msg("Judge response rejected")
}

// VerifyByReference loads the challenge data for sub before judging it.
func (e *Engine) VerifyByReference(ctx context.Context, sub judging.Submission) (judging.Verdict, error) {
	if e.provider == nil {
		return judging.Verdict{}, newError(KindChallengeDataUnavailable, sub.ID, "no challenge data provider configured", nil)
	}
	data, err := e.provider.Get(ctx, sub.EventID, sub.ChallengeID)
	if err != nil {
		e.logger.Error().Err(err).
			Str("eventId", sub.EventID).
			Str("challengeId", sub.ChallengeID).
			Msg("Failed to load challenge data")
		verr := newError(KindChallengeDataUnavailable, sub.ID, "", err)
		e.observe(sub.ChallengeType, verr, 0)
		return judging.Verdict{}, verr
	}
	if data == nil {
		err := newError(KindChallengeDataUnavailable, sub.ID, "challenge data not found", nil)
		e.observe(sub.ChallengeType, err, 0)
		return judging.Verdict{}, err
	}
	return e.Verify(ctx, *data, sub, sub.ChallengeType)
}

type BatchItem struct {
	// ChallengeData may be nil, in which case it is loaded by reference.
	ChallengeData *judging.ChallengeData
	Submission    judging.Submission
}

type BatchResult struct {
	SubmissionID string
	Verdict      judging.Verdict
	Err          error
}

// VerifyBatch judges items with at most limit judge calls in flight. Results
// are returned in input order; a failure only affects its own item.
func (e *Engine) VerifyBatch(ctx context.Context, items []BatchItem, limit int) []BatchResult {
	if limit <= 0 {
		limit = 1
	}

	results := make([]BatchResult, len(items))
	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup

	for i, item := range items {
		results[i].SubmissionID = item.Submission.ID

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			results[i].Err = newError(KindJudgeUnavailable, item.Submission.ID, "batch cancelled", ctx.Err())
			continue
		}

		wg.Add(1)
		go func(i int, item BatchItem) {
			defer wg.Done()
			defer func() { <-sem }()

			var (
				v   judging.Verdict
				err error
			)
			if item.ChallengeData != nil {
				v, err = e.Verify(ctx, *item.ChallengeData, item.Submission, item.Submission.ChallengeType)
			} else {
				v, err = e.VerifyByReference(ctx, item.Submission)
			}
			results[i].Verdict = v
			results[i].Err = err
		}(i, item)
	}

	wg.Wait()
	return results
}

func (e *Engine) observe(challengeType judging.ChallengeType, err error, d time.Duration) {
	if e.opts.Observer == nil {
		return
	}
	outcome := "ok"
	var verr *Error
	if errors.As(err, &verr) {
		outcome = string(verr.Kind)
	} else if err != nil {
		outcome = "error"
	}
	e.opts.Observer.ObserveVerification(string(challengeType), outcome, d.Seconds())
}
