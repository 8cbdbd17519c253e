package verification

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
)

const (
	minScore = 0
	maxScore = 100
)

type judgedFields struct {
	IsValid    bool
	Score      int
	Reasoning  string
	Confidence float64
}

// parseJudgeResponse decodes the judge output, which must be exactly one JSON
// object. The returned error is already classified as invalid_response or
// schema_violation.
func parseJudgeResponse(raw string) (judgedFields, error) {
	var out judgedFields

	var fields map[string]any
	dec := json.NewDecoder(strings.NewReader(stripFence(raw)))
	if err := dec.Decode(&fields); err != nil || fields == nil {
		if err == nil {
			err = fmt.Errorf("response is not a JSON object")
		}
		return out, &Error{Kind: KindInvalidResponse, Err: err}
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return out, &Error{Kind: KindInvalidResponse, Detail: "trailing content after JSON object"}
	}

	isValid, ok := fields["isValid"].(bool)
	if !ok {
		return out, schemaViolation("isValid", fields["isValid"], "boolean")
	}
	score, ok := fields["score"].(float64)
	if !ok {
		return out, schemaViolation("score", fields["score"], "number")
	}
	reasoning, ok := fields["reasoning"].(string)
	if !ok {
		return out, schemaViolation("reasoning", fields["reasoning"], "string")
	}
	confidence, ok := fields["confidence"].(float64)
	if !ok {
		return out, schemaViolation("confidence", fields["confidence"], "number")
	}
	if confidence < 0 || confidence > 1 {
		return out, &Error{Kind: KindSchemaViolation, Detail: fmt.Sprintf("confidence %v outside [0,1]", confidence)}
	}

	out.IsValid = isValid
	out.Score = ClampScore(score)
	out.Reasoning = reasoning
	out.Confidence = confidence
	return out, nil
}

// ClampScore rounds s to the nearest integer and bounds it to [0,100].
func ClampScore(s float64) int {
	if math.IsNaN(s) {
		return minScore
	}
	r := math.Round(s)
	if r < minScore {
		return minScore
	}
	if r > maxScore {
		return maxScore
	}
	return int(r)
}

func schemaViolation(field string, got any, want string) *Error {
	if got == nil {
		return &Error{Kind: KindSchemaViolation, Detail: fmt.Sprintf("missing field %q", field)}
	}
	return &Error{Kind: KindSchemaViolation, Detail: fmt.Sprintf("field %q is %T, want %s", field, got, want)}
}

// stripFence removes a surrounding markdown code fence.
func stripFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
