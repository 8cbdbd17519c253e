package verification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/CDeX-Labs/CDeX-Judge-Service/pkg/judging"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubJudge struct {
	mu       sync.Mutex
	response string
	err      error
	requests []JudgeRequest
	respond  func(ctx context.Context, req JudgeRequest) (string, error)
}

func (s *stubJudge) Evaluate(ctx context.Context, req JudgeRequest) (string, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()
	if s.respond != nil {
		return s.respond(ctx, req)
	}
	return s.response, s.err
}

func (s *stubJudge) Model() string { return "stub-judge-1" }

func (s *stubJudge) lastPrompt() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.requests) == 0 {
		return ""
	}
	return s.requests[len(s.requests)-1].Prompt
}

type stubProvider struct {
	data *judging.ChallengeData
	err  error
}

func (p *stubProvider) Get(ctx context.Context, eventID, challengeID string) (*judging.ChallengeData, error) {
	return p.data, p.err
}

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []string
}

func (o *recordingObserver) ObserveVerification(challengeType, outcome string, seconds float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, challengeType+":"+outcome)
}

func newTestEngine(j Judge, p ChallengeDataProvider, opts Options) *Engine {
	return NewEngine(j, p, opts, zerolog.Nop())
}

func quizChallenge() judging.ChallengeData {
	return judging.ChallengeData{
		Title:           "Pub quiz",
		Description:     "Two questions about the venue",
		ScoringCriteria: "Valid when score > 0",
		Questions: []judging.QuizQuestion{
			{Question: "Which stage opens first?", CorrectAnswer: "A", Points: 50},
			{Question: "Who headlines?", CorrectAnswer: "C", Points: 50},
		},
	}
}

func quizSubmission() judging.Submission {
	return judging.Submission{
		ID:            "sub-1",
		EventID:       "evt-1",
		ChallengeID:   "ch-1",
		ChallengeType: judging.ChallengeQuiz,
		Submitter:     "0xabc",
		Timestamp:     "2024-01-01T00:00:00Z",
		Content:       map[string]any{"answers": []any{"A", "B"}},
		Status:        judging.StatusPendingVerification,
	}
}

func TestVerify_QuizEndToEnd(t *testing.T) {
	judge := &stubJudge{response: `{"isValid": true, "score": 50, "reasoning": "first answer correct", "confidence": 0.9}`}
	engine := newTestEngine(judge, nil, Options{})

	sub := quizSubmission()
	verdict, err := engine.Verify(context.Background(), quizChallenge(), sub, judging.ChallengeQuiz)
	require.NoError(t, err)

	prompt := judge.lastPrompt()
	assert.Contains(t, prompt, "Question 1: Which stage opens first?\n  Correct answer: A\n  Submitted answer: A\n  Points: 50")
	assert.Contains(t, prompt, "Question 2: Who headlines?\n  Correct answer: C\n  Submitted answer: B\n  Points: 50")
	assert.Contains(t, prompt, "Valid when score > 0")

	assert.True(t, verdict.IsValid)
	assert.Equal(t, 50, verdict.Score)
	assert.Equal(t, 0.9, verdict.Confidence)
	assert.Equal(t, "first answer correct", verdict.Reasoning)
	assert.Equal(t, "stub-judge-1", verdict.JudgeModel)
	assert.NotEmpty(t, verdict.Timestamp)

	assert.Nil(t, sub.Verification)
	assert.Equal(t, judging.StatusPendingVerification, sub.Status)
}

func TestVerify_RequestBounds(t *testing.T) {
	judge := &stubJudge{response: `{"isValid": true, "score": 10, "reasoning": "ok", "confidence": 0.5}`}
	engine := newTestEngine(judge, nil, Options{})

	_, err := engine.Verify(context.Background(), quizChallenge(), quizSubmission(), judging.ChallengeQuiz)
	require.NoError(t, err)
	require.Len(t, judge.requests, 1)
	assert.Equal(t, DefaultTemperature, judge.requests[0].Temperature)
	assert.Equal(t, DefaultMaxTokens, judge.requests[0].MaxTokens)
}

func TestVerify_ScoreClamping(t *testing.T) {
	tests := []struct {
		name  string
		score string
		want  int
	}{
		{"negative", "-20", 0},
		{"above range", "150", 100},
		{"in range", "73", 73},
		{"fractional", "72.6", 73},
		{"upper bound", "100", 100},
		{"lower bound", "0", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			judge := &stubJudge{response: fmt.Sprintf(`{"isValid": true, "score": %s, "reasoning": "r", "confidence": 0.7}`, tt.score)}
			engine := newTestEngine(judge, nil, Options{})

			verdict, err := engine.Verify(context.Background(), quizChallenge(), quizSubmission(), judging.ChallengeQuiz)
			require.NoError(t, err)
			assert.Equal(t, tt.want, verdict.Score)
		})
	}
}

func TestVerify_ResponseValidation(t *testing.T) {
	tests := []struct {
		name     string
		response string
		kind     Kind
	}{
		{"missing confidence", `{"isValid": true, "score": 80, "reasoning": "r"}`, KindSchemaViolation},
		{"confidence above one", `{"isValid": true, "score": 80, "reasoning": "r", "confidence": 1.5}`, KindSchemaViolation},
		{"negative confidence", `{"isValid": true, "score": 80, "reasoning": "r", "confidence": -0.1}`, KindSchemaViolation},
		{"string isValid", `{"isValid": "yes", "score": 80, "reasoning": "r", "confidence": 0.5}`, KindSchemaViolation},
		{"string score", `{"isValid": true, "score": "high", "reasoning": "r", "confidence": 0.5}`, KindSchemaViolation},
		{"missing reasoning", `{"isValid": true, "score": 80, "confidence": 0.5}`, KindSchemaViolation},
		{"not json", `The submission looks great!`, KindInvalidResponse},
		{"json array", `[true, 80]`, KindInvalidResponse},
		{"json null", `null`, KindInvalidResponse},
		{"empty", ``, KindInvalidResponse},
		{"trailing prose", `{"isValid": true, "score": 80, "reasoning": "r", "confidence": 0.5} Hope this helps!`, KindInvalidResponse},
		{"two objects", `{"isValid": true, "score": 80, "reasoning": "r", "confidence": 0.5} {}`, KindInvalidResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			judge := &stubJudge{response: tt.response}
			engine := newTestEngine(judge, nil, Options{})

			_, err := engine.Verify(context.Background(), quizChallenge(), quizSubmission(), judging.ChallengeQuiz)
			require.Error(t, err)
			assert.True(t, IsKind(err, tt.kind), "got %v", err)
			assert.True(t, Retryable(err))

			var verr *Error
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, "sub-1", verr.SubmissionID)
		})
	}
}

func TestVerify_FencedResponse(t *testing.T) {
	judge := &stubJudge{response: "```json\n{\"isValid\": false, \"score\": 12, \"reasoning\": \"wrong place\", \"confidence\": 0.8}\n```"}
	engine := newTestEngine(judge, nil, Options{})

	verdict, err := engine.Verify(context.Background(), quizChallenge(), quizSubmission(), judging.ChallengeQuiz)
	require.NoError(t, err)
	assert.False(t, verdict.IsValid)
	assert.Equal(t, 12, verdict.Score)
}

func TestVerify_JudgeFailure(t *testing.T) {
	judge := &stubJudge{err: errors.New("connection refused")}
	engine := newTestEngine(judge, nil, Options{})

	_, err := engine.Verify(context.Background(), quizChallenge(), quizSubmission(), judging.ChallengeQuiz)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindJudgeUnavailable))
	assert.Contains(t, err.Error(), "connection refused")
}

func TestVerify_Timeout(t *testing.T) {
	judge := &stubJudge{respond: func(ctx context.Context, req JudgeRequest) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	engine := newTestEngine(judge, nil, Options{Timeout: 20 * time.Millisecond})

	_, err := engine.Verify(context.Background(), quizChallenge(), quizSubmission(), judging.ChallengeQuiz)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindJudgeUnavailable))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestVerify_Cancelled(t *testing.T) {
	judge := &stubJudge{respond: func(ctx context.Context, req JudgeRequest) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	engine := newTestEngine(judge, nil, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	verdict, err := engine.Verify(ctx, quizChallenge(), quizSubmission(), judging.ChallengeQuiz)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, judging.Verdict{}, verdict)
}

func TestBuildPrompt_PerType(t *testing.T) {
	engine := newTestEngine(&stubJudge{}, nil, Options{})

	t.Run("location", func(t *testing.T) {
		data := judging.ChallengeData{
			Title:          "Find the statue",
			TargetLocation: &judging.Coordinates{Lat: 52.52, Lng: 13.405},
			RadiusMeters:   150,
		}
		sub := judging.Submission{
			ChallengeType: judging.ChallengeLocation,
			Timestamp:     "2024-01-01T10:00:00Z",
			Content:       map[string]any{"location": map[string]any{"lat": 52.5201, "lng": 13.4049}},
		}
		prompt := engine.BuildPrompt(data, sub, judging.ChallengeLocation)
		assert.Contains(t, prompt, "Target coordinates: 52.520000, 13.405000")
		assert.Contains(t, prompt, "Allowed radius: 150 meters")
		assert.Contains(t, prompt, `Submitted coordinates: {"lat":52.5201,"lng":13.4049}`)
		assert.Contains(t, prompt, "Submitted at: 2024-01-01T10:00:00Z")
	})

	t.Run("photo", func(t *testing.T) {
		data := judging.ChallengeData{Title: "Stage selfie", RequiredElements: []string{"main stage", "wristband"}}
		sub := judging.Submission{
			ChallengeType: judging.ChallengePhoto,
			Metadata:      map[string]any{"device": "pixel"},
			Content:       map[string]any{"location": "hall 2"},
		}
		prompt := engine.BuildPrompt(data, sub, judging.ChallengePhoto)
		assert.Contains(t, prompt, "Required elements: main stage, wristband")
		assert.Contains(t, prompt, `Photo metadata: {"device":"pixel"}`)
		assert.Contains(t, prompt, "Photo location: hall 2")
	})

	t.Run("creative", func(t *testing.T) {
		data := judging.ChallengeData{Title: "Poem", Medium: "text", Theme: "summer nights"}
		sub := judging.Submission{ChallengeType: judging.ChallengeCreative, Content: map[string]any{"work": "the bass drops low"}}
		prompt := engine.BuildPrompt(data, sub, judging.ChallengeCreative)
		assert.Contains(t, prompt, "Medium: text")
		assert.Contains(t, prompt, "Theme: summer nights")
		assert.Contains(t, prompt, "Submitted work: the bass drops low")
	})

	t.Run("skill", func(t *testing.T) {
		data := judging.ChallengeData{Title: "Juggle", SkillType: "juggling", Difficulty: "hard", SuccessCriteria: "5 balls for 10s"}
		sub := judging.Submission{ChallengeType: judging.ChallengeSkill, Content: map[string]any{"proof": "ipfs://video"}}
		prompt := engine.BuildPrompt(data, sub, judging.ChallengeSkill)
		assert.Contains(t, prompt, "Skill type: juggling")
		assert.Contains(t, prompt, "Difficulty: hard")
		assert.Contains(t, prompt, "Success criteria: 5 balls for 10s")
		assert.Contains(t, prompt, "Submitted proof: ipfs://video")
	})

	t.Run("unknown type falls back", func(t *testing.T) {
		sub := judging.Submission{ChallengeType: "trivia", Content: map[string]any{"answer": 42}}
		prompt := engine.BuildPrompt(judging.ChallengeData{Title: "Misc"}, sub, "trivia")
		assert.Contains(t, prompt, "Challenge type: trivia")
		assert.Contains(t, prompt, `Submission content: {"answer":42}`)
	})

	t.Run("quiz with missing answers", func(t *testing.T) {
		sub := judging.Submission{ChallengeType: judging.ChallengeQuiz}
		prompt := engine.BuildPrompt(quizChallenge(), sub, judging.ChallengeQuiz)
		assert.Contains(t, prompt, "Submitted answer: (no answer)")
		assert.Contains(t, prompt, "Total available points: 100")
	})

	t.Run("every prompt carries the response contract", func(t *testing.T) {
		for ct := range DefaultBuilders() {
			prompt := engine.BuildPrompt(judging.ChallengeData{Title: "x"}, judging.Submission{ChallengeType: ct}, ct)
			assert.True(t, strings.HasSuffix(prompt, responseInstructions), string(ct))
		}
	})
}

func TestBuildPrompt_CustomBuilder(t *testing.T) {
	custom := func(data judging.ChallengeData, sub judging.Submission) string { return "custom:" + data.Title }
	engine := newTestEngine(&stubJudge{}, nil, Options{Builders: map[judging.ChallengeType]PromptBuilder{"trivia": custom}})

	assert.Equal(t, "custom:T", engine.BuildPrompt(judging.ChallengeData{Title: "T"}, judging.Submission{}, "trivia"))
}

func TestVerifyByReference(t *testing.T) {
	okJudge := `{"isValid": true, "score": 100, "reasoning": "all correct", "confidence": 1}`

	t.Run("loads challenge data", func(t *testing.T) {
		data := quizChallenge()
		judge := &stubJudge{response: okJudge}
		engine := newTestEngine(judge, &stubProvider{data: &data}, Options{})

		verdict, err := engine.VerifyByReference(context.Background(), quizSubmission())
		require.NoError(t, err)
		assert.Equal(t, 100, verdict.Score)
		assert.Contains(t, judge.lastPrompt(), "Pub quiz")
	})

	t.Run("provider failure", func(t *testing.T) {
		judge := &stubJudge{response: okJudge}
		engine := newTestEngine(judge, &stubProvider{err: errors.New("redis down")}, Options{})

		_, err := engine.VerifyByReference(context.Background(), quizSubmission())
		assert.True(t, IsKind(err, KindChallengeDataUnavailable))
		assert.Empty(t, judge.requests)
	})

	t.Run("not found", func(t *testing.T) {
		engine := newTestEngine(&stubJudge{response: okJudge}, &stubProvider{}, Options{})
		_, err := engine.VerifyByReference(context.Background(), quizSubmission())
		assert.True(t, IsKind(err, KindChallengeDataUnavailable))
	})

	t.Run("no provider", func(t *testing.T) {
		engine := newTestEngine(&stubJudge{response: okJudge}, nil, Options{})
		_, err := engine.VerifyByReference(context.Background(), quizSubmission())
		assert.True(t, IsKind(err, KindChallengeDataUnavailable))
	})
}

func TestVerifyBatch(t *testing.T) {
	var inFlight, peak int32
	judge := &stubJudge{respond: func(ctx context.Context, req JudgeRequest) (string, error) {
		n := atomic.AddInt32(&inFlight, 1)
		defer atomic.AddInt32(&inFlight, -1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		if strings.Contains(req.Prompt, "broken") {
			return "not json", nil
		}
		return `{"isValid": true, "score": 60, "reasoning": "fine", "confidence": 0.6}`, nil
	}}
	observer := &recordingObserver{}
	engine := newTestEngine(judge, nil, Options{Observer: observer})

	data := quizChallenge()
	broken := judging.ChallengeData{Title: "broken"}
	items := make([]BatchItem, 0, 8)
	for i := 0; i < 8; i++ {
		sub := quizSubmission()
		sub.ID = fmt.Sprintf("sub-%d", i)
		cd := &data
		if i == 3 {
			cd = &broken
		}
		items = append(items, BatchItem{ChallengeData: cd, Submission: sub})
	}

	results := engine.VerifyBatch(context.Background(), items, 2)
	require.Len(t, results, 8)
	for i, r := range results {
		assert.Equal(t, fmt.Sprintf("sub-%d", i), r.SubmissionID)
		if i == 3 {
			assert.True(t, IsKind(r.Err, KindInvalidResponse))
			continue
		}
		require.NoError(t, r.Err)
		assert.Equal(t, 60, r.Verdict.Score)
	}
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
	assert.Len(t, observer.outcomes, 8)
	assert.Contains(t, observer.outcomes, "quiz:invalid_response")
}

func TestVerifyBatch_Empty(t *testing.T) {
	engine := newTestEngine(&stubJudge{}, nil, Options{})
	assert.Empty(t, engine.VerifyBatch(context.Background(), nil, 4))
}
