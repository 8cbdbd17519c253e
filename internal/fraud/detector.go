package fraud

import (
	"fmt"
	"strings"
	"time"

	"github.com/CDeX-Labs/CDeX-Judge-Service/pkg/judging"
)

const (
	CheckDuplicateContent     = "duplicateContent"
	CheckUnusualTiming        = "unusualTiming"
	CheckMetadataCompleteness = "metadataCompleteness"
	CheckScoreAnomaly         = "scoreAnomaly"
)

const (
	futureTolerance     = 5 * time.Minute
	minPriorsForAnomaly = 3
	anomalyMargin       = 30.0
	anomalyFloor        = 80
	checkCount          = 4
)

var requiredMetadata = []string{"device", "timestamp", "location"}

// Detector scores submissions against simple fraud heuristics. Missing input
// never fails an assessment; the affected check reports not suspicious.
type Detector struct {
	now func() time.Time
}

func NewDetector(now func() time.Time) *Detector {
	if now == nil {
		now = time.Now
	}
	return &Detector{now: now}
}

func (d *Detector) Assess(sub judging.Submission, priors []judging.Submission) judging.FraudAssessment {
	checks := map[string]judging.CheckResult{
		CheckDuplicateContent:     checkDuplicate(sub, priors),
		CheckUnusualTiming:        checkTiming(sub, d.now()),
		CheckMetadataCompleteness: checkMetadata(sub),
		CheckScoreAnomaly:         checkScoreAnomaly(sub, priors),
	}

	suspicious := 0
	for _, c := range checks {
		if c.Suspicious {
			suspicious++
		}
	}
	risk := 100 * suspicious / checkCount

	return judging.FraudAssessment{
		RiskScore:      risk,
		Checks:         checks,
		Recommendation: Recommend(risk),
	}
}

// Recommend maps a risk score to an action. A single flagged check (25) is
// enough to ask for a review.
func Recommend(riskScore int) judging.Recommendation {
	switch {
	case riskScore > 50:
		return judging.RecommendReject
	case riskScore >= 25:
		return judging.RecommendReview
	default:
		return judging.RecommendApprove
	}
}

func checkDuplicate(sub judging.Submission, priors []judging.Submission) judging.CheckResult {
	if sub.ProofHash == "" {
		return judging.CheckResult{Reason: "no proof hash to compare"}
	}
	for _, p := range priors {
		if p.ID == sub.ID && p.ID != "" {
			continue
		}
		if p.ProofHash == sub.ProofHash {
			return judging.CheckResult{
				Suspicious: true,
				Reason:     fmt.Sprintf("proof hash already used by submission %s", p.ID),
			}
		}
	}
	return judging.CheckResult{Reason: "proof hash is unique"}
}

func checkTiming(sub judging.Submission, now time.Time) judging.CheckResult {
	ts, ok := sub.ParsedTimestamp()
	if !ok {
		return judging.CheckResult{Reason: "timestamp unavailable"}
	}
	if ahead := ts.Sub(now); ahead > futureTolerance {
		return judging.CheckResult{
			Suspicious: true,
			Reason:     fmt.Sprintf("timestamp is %s ahead of server time", ahead.Round(time.Second)),
		}
	}
	return judging.CheckResult{Reason: "timestamp within tolerance"}
}

func checkMetadata(sub judging.Submission) judging.CheckResult {
	if sub.Metadata == nil {
		return judging.CheckResult{Suspicious: true, Reason: "metadata missing"}
	}
	var missing []string
	for _, key := range requiredMetadata {
		if v, ok := sub.Metadata[key]; !ok || v == nil || v == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return judging.CheckResult{
			Suspicious: true,
			Reason:     "metadata missing " + strings.Join(missing, ", "),
		}
	}
	return judging.CheckResult{Reason: "metadata complete"}
}

func checkScoreAnomaly(sub judging.Submission, priors []judging.Submission) judging.CheckResult {
	var total, n int
	for _, p := range priors {
		if p.Verification == nil {
			continue
		}
		total += p.Verification.Score
		n++
	}
	if n < minPriorsForAnomaly {
		return judging.CheckResult{Reason: fmt.Sprintf("only %d prior verified submissions", n)}
	}
	if sub.Verification == nil {
		return judging.CheckResult{Reason: "submission not yet scored"}
	}

	mean := float64(total) / float64(n)
	score := sub.Verification.Score
	if float64(score)-mean > anomalyMargin && score > anomalyFloor {
		return judging.CheckResult{
			Suspicious: true,
			Reason:     fmt.Sprintf("score %d far above prior average %.1f", score, mean),
		}
	}
	return judging.CheckResult{Reason: "score consistent with history"}
}
