package events

import "github.com/CDeX-Labs/CDeX-Judge-Service/pkg/judging"

const (
	TopicSubmissionCreated = "submission.created"
	TopicSubmissionJudged  = "submission.judged"
	TopicSubmissionFlagged = "submission.flagged"
	TopicEventEnded        = "event.ended"
	TopicWinnersDetermined = "winners.determined"
)

type SubmissionCreatedEvent struct {
	judging.Submission
	// ChallengeData is optional; when absent it is loaded from the challenge store.
	ChallengeData *judging.ChallengeData `json:"challengeData,omitempty"`
}

type SubmissionJudgedEvent struct {
	MessageID    string                   `json:"messageId"`
	SubmissionID string                   `json:"submissionId"`
	EventID      string                   `json:"eventId"`
	ChallengeID  string                   `json:"challengeId"`
	Submitter    string                   `json:"submitter"`
	Status       judging.SubmissionStatus `json:"status"`
	Verdict      judging.Verdict          `json:"verdict"`
	Fraud        judging.FraudAssessment  `json:"fraud"`
	Timestamp    string                   `json:"timestamp"`
}

type SubmissionFlaggedEvent struct {
	MessageID    string                  `json:"messageId"`
	SubmissionID string                  `json:"submissionId"`
	EventID      string                  `json:"eventId"`
	Submitter    string                  `json:"submitter"`
	Assessment   judging.FraudAssessment `json:"assessment"`
	Timestamp    string                  `json:"timestamp"`
}

type EventEndedEvent struct {
	EventID    string `json:"eventId" validate:"required"`
	MaxWinners int    `json:"maxWinners,omitempty" validate:"gte=0"`
	Timestamp  string `json:"timestamp" validate:"omitempty,rfc3339"`
}

type WinnersDeterminedEvent struct {
	MessageID string `json:"messageId"`
	EventID   string `json:"eventId"`
	judging.WinnerResult
	Timestamp string `json:"timestamp"`
}
