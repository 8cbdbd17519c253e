package judging

import (
	"errors"
	"time"
)

var ErrStatusTransition = errors.New("submission is not pending verification")

type ChallengeType string

const (
	ChallengePhoto    ChallengeType = "photo"
	ChallengeQuiz     ChallengeType = "quiz"
	ChallengeLocation ChallengeType = "location"
	ChallengeCreative ChallengeType = "creative"
	ChallengeSkill    ChallengeType = "skill"
)

// Known reports whether t is one of the enumerated challenge types.
func (t ChallengeType) Known() bool {
	switch t {
	case ChallengePhoto, ChallengeQuiz, ChallengeLocation, ChallengeCreative, ChallengeSkill:
		return true
	}
	return false
}

type SubmissionStatus string

const (
	StatusPendingVerification SubmissionStatus = "pending_verification"
	StatusVerified            SubmissionStatus = "verified"
	StatusRejected            SubmissionStatus = "rejected"
)

type Submission struct {
	ID            string           `json:"id" validate:"required"`
	EventID       string           `json:"eventId" validate:"required"`
	ChallengeID   string           `json:"challengeId" validate:"required"`
	ChallengeType ChallengeType    `json:"challengeType" validate:"required"`
	Submitter     string           `json:"submitter" validate:"required"`
	Timestamp     string           `json:"timestamp" validate:"required,rfc3339"`
	Content       map[string]any   `json:"content,omitempty"`
	ProofHash     string           `json:"proofHash,omitempty"`
	Metadata      map[string]any   `json:"metadata,omitempty"`
	Verification  *Verdict         `json:"verification,omitempty"`
	Status        SubmissionStatus `json:"status" validate:"omitempty,oneof=pending_verification verified rejected"`
}

// Verified reports whether a verdict is attached and marks the submission valid.
func (s *Submission) Verified() bool {
	return s.Verification != nil && s.Verification.IsValid
}

// ParsedTimestamp returns the submission time, or false when it is absent or malformed.
func (s *Submission) ParsedTimestamp() (time.Time, bool) {
	return ParseTimestamp(s.Timestamp)
}

// ApplyVerdict attaches v and moves the submission out of pending_verification.
// It is the only status transition a submission goes through.
func (s *Submission) ApplyVerdict(v Verdict) error {
	if s.Status != "" && s.Status != StatusPendingVerification {
		return ErrStatusTransition
	}
	s.Verification = &v
	if v.IsValid {
		s.Status = StatusVerified
	} else {
		s.Status = StatusRejected
	}
	return nil
}

type Verdict struct {
	IsValid    bool    `json:"isValid"`
	Score      int     `json:"score"`
	Reasoning  string  `json:"reasoning"`
	Confidence float64 `json:"confidence"`
	JudgeModel string  `json:"judgeModel"`
	Timestamp  string  `json:"timestamp"`
}

type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type QuizQuestion struct {
	Question      string `json:"question"`
	CorrectAnswer string `json:"correctAnswer"`
	Points        int    `json:"points"`
}

type ChallengeData struct {
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	Requirements    []string `json:"requirements,omitempty"`
	ScoringCriteria string   `json:"scoringCriteria,omitempty"`

	// quiz
	Questions []QuizQuestion `json:"questions,omitempty"`

	// location
	TargetLocation *Coordinates `json:"targetLocation,omitempty"`
	RadiusMeters   float64      `json:"radiusMeters,omitempty"`

	// photo
	RequiredElements []string `json:"requiredElements,omitempty"`

	// creative
	Medium string `json:"medium,omitempty"`
	Theme  string `json:"theme,omitempty"`

	// skill
	SkillType       string `json:"skillType,omitempty"`
	Difficulty      string `json:"difficulty,omitempty"`
	SuccessCriteria string `json:"successCriteria,omitempty"`
}

type WinnerRecord struct {
	SubmissionID     string `json:"submissionId"`
	Submitter        string `json:"submitter"`
	Score            int    `json:"score"`
	Rank             int    `json:"rank"`
	RewardPercentage int    `json:"rewardPercentage"`
}

type WinnerResult struct {
	Winners          []WinnerRecord `json:"winners"`
	TotalSubmissions int            `json:"totalSubmissions"`
	ValidSubmissions int            `json:"validSubmissions"`
}

type Recommendation string

const (
	RecommendApprove Recommendation = "approve"
	RecommendReview  Recommendation = "review"
	RecommendReject  Recommendation = "reject"
)

type CheckResult struct {
	Suspicious bool   `json:"suspicious"`
	Reason     string `json:"reason"`
}

type FraudAssessment struct {
	RiskScore      int                    `json:"riskScore"`
	Checks         map[string]CheckResult `json:"checks"`
	Recommendation Recommendation         `json:"recommendation"`
}

// ParseTimestamp accepts RFC3339 with or without fractional seconds.
func ParseTimestamp(ts string) (time.Time, bool) {
	if ts == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
