package verification

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindChallengeDataUnavailable Kind = "challenge_data_unavailable"
	KindInvalidResponse          Kind = "invalid_response"
	KindSchemaViolation          Kind = "schema_violation"
	KindJudgeUnavailable         Kind = "judge_unavailable"
)

// Error is returned by every failing verification. The submission it refers to
// stays pending_verification.
type Error struct {
	Kind         Kind
	SubmissionID string
	Detail       string
	Err          error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("verification %s", e.Kind)
	if e.SubmissionID != "" {
		msg += fmt.Sprintf(" (submission %s)", e.SubmissionID)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind reports whether err carries a verification error of the given kind.
func IsKind(err error, kind Kind) bool {
	var verr *Error
	if errors.As(err, &verr) {
		return verr.Kind == kind
	}
	return false
}

// Retryable reports whether retrying the verification later may succeed.
// Every engine failure is retryable; foreign errors and nil are not.
func Retryable(err error) bool {
	var verr *Error
	return errors.As(err, &verr)
}

func newError(kind Kind, submissionID, detail string, err error) *Error {
	return &Error{Kind: kind, SubmissionID: submissionID, Detail: detail, Err: err}
}
