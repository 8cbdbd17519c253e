package verification

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/CDeX-Labs/CDeX-Judge-Service/pkg/judging"
)

// PromptBuilder renders the type-specific part of a judging prompt.
type PromptBuilder func(data judging.ChallengeData, sub judging.Submission) string

const responseInstructions = `Respond with a single JSON object and nothing else, using exactly these fields:
{"isValid": boolean, "score": number between 0 and 100, "reasoning": string, "confidence": number between 0 and 1}`

// DefaultBuilders returns one builder per known challenge type.
func DefaultBuilders() map[judging.ChallengeType]PromptBuilder {
	return map[judging.ChallengeType]PromptBuilder{
		judging.ChallengePhoto:    buildPhotoPrompt,
		judging.ChallengeQuiz:     buildQuizPrompt,
		judging.ChallengeLocation: buildLocationPrompt,
		judging.ChallengeCreative: buildCreativePrompt,
		judging.ChallengeSkill:    buildSkillPrompt,
	}
}

func assemblePrompt(data judging.ChallengeData, body string) string {
	var b strings.Builder
	b.WriteString("You are an impartial judge for an event challenge. Decide whether the submission satisfies the challenge and score it.\n\n")
	fmt.Fprintf(&b, "Challenge: %s\n", data.Title)
	if data.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", data.Description)
	}
	if len(data.Requirements) > 0 {
		b.WriteString("Requirements:\n")
		for _, r := range data.Requirements {
			fmt.Fprintf(&b, "- %s\n", r)
		}
	}
	if data.ScoringCriteria != "" {
		fmt.Fprintf(&b, "Scoring criteria: %s\n", data.ScoringCriteria)
	}
	b.WriteString("\n")
	b.WriteString(body)
	b.WriteString("\n\n")
	b.WriteString(responseInstructions)
	return b.String()
}

func buildQuizPrompt(data judging.ChallengeData, sub judging.Submission) string {
	answers := stringList(sub.Content["answers"])

	var b strings.Builder
	b.WriteString("Quiz answers to grade:\n")
	total := 0
	for i, q := range data.Questions {
		submitted := "(no answer)"
		if i < len(answers) {
			submitted = answers[i]
		}
		total += q.Points
		fmt.Fprintf(&b, "Question %d: %s\n", i+1, q.Question)
		fmt.Fprintf(&b, "  Correct answer: %s\n", q.CorrectAnswer)
		fmt.Fprintf(&b, "  Submitted answer: %s\n", submitted)
		fmt.Fprintf(&b, "  Points: %d\n", q.Points)
	}
	fmt.Fprintf(&b, "Total available points: %d\n", total)
	b.WriteString("Score is the sum of points for correctly answered questions, scaled to 0-100.")
	return assemblePrompt(data, b.String())
}

func buildLocationPrompt(data judging.ChallengeData, sub judging.Submission) string {
	var b strings.Builder
	b.WriteString("Location check-in to verify:\n")
	if data.TargetLocation != nil {
		fmt.Fprintf(&b, "Target coordinates: %.6f, %.6f\n", data.TargetLocation.Lat, data.TargetLocation.Lng)
	} else {
		b.WriteString("Target coordinates: (not provided)\n")
	}
	fmt.Fprintf(&b, "Allowed radius: %.0f meters\n", data.RadiusMeters)
	fmt.Fprintf(&b, "Submitted coordinates: %s\n", render(sub.Content["location"]))
	fmt.Fprintf(&b, "Submitted at: %s\n", firstNonEmpty(renderString(sub.Content["timestamp"]), sub.Timestamp))
	b.WriteString("The submission is valid only if the submitted coordinates fall inside the allowed radius.")
	return assemblePrompt(data, b.String())
}

func buildPhotoPrompt(data judging.ChallengeData, sub judging.Submission) string {
	var b strings.Builder
	b.WriteString("Photo submission to verify:\n")
	if len(data.RequiredElements) > 0 {
		fmt.Fprintf(&b, "Required elements: %s\n", strings.Join(data.RequiredElements, ", "))
	}
	if desc := renderString(sub.Content["description"]); desc != "" {
		fmt.Fprintf(&b, "Photo description: %s\n", desc)
	}
	if url := renderString(sub.Content["imageUrl"]); url != "" {
		fmt.Fprintf(&b, "Image reference: %s\n", url)
	}
	fmt.Fprintf(&b, "Photo metadata: %s\n", render(firstPresent(sub.Content["metadata"], sub.Metadata)))
	fmt.Fprintf(&b, "Photo location: %s\n", render(sub.Content["location"]))
	return assemblePrompt(data, b.String())
}

func buildCreativePrompt(data judging.ChallengeData, sub judging.Submission) string {
	var b strings.Builder
	b.WriteString("Creative work to evaluate:\n")
	fmt.Fprintf(&b, "Medium: %s\n", firstNonEmpty(data.Medium, "(any)"))
	fmt.Fprintf(&b, "Theme: %s\n", firstNonEmpty(data.Theme, "(open)"))
	fmt.Fprintf(&b, "Submitted work: %s\n", render(firstPresent(sub.Content["work"], sub.Content)))
	b.WriteString("Judge originality, adherence to the theme and execution quality.")
	return assemblePrompt(data, b.String())
}

func buildSkillPrompt(data judging.ChallengeData, sub judging.Submission) string {
	var b strings.Builder
	b.WriteString("Skill demonstration to verify:\n")
	fmt.Fprintf(&b, "Skill type: %s\n", data.SkillType)
	fmt.Fprintf(&b, "Difficulty: %s\n", data.Difficulty)
	fmt.Fprintf(&b, "Success criteria: %s\n", data.SuccessCriteria)
	fmt.Fprintf(&b, "Submitted proof: %s\n", render(firstPresent(sub.Content["proof"], sub.Content)))
	return assemblePrompt(data, b.String())
}

func buildGenericPrompt(data judging.ChallengeData, sub judging.Submission) string {
	body := fmt.Sprintf("Challenge type: %s\nSubmission content: %s", sub.ChallengeType, render(sub.Content))
	return assemblePrompt(data, body)
}

func render(v any) string {
	if v == nil {
		return "(not provided)"
	}
	if s, ok := v.(string); ok {
		return s
	}
	if m, ok := v.(map[string]any); ok && len(m) == 0 {
		return "(not provided)"
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

func renderString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func stringList(v any) []string {
	switch vals := v.(type) {
	case []string:
		return vals
	case []any:
		out := make([]string, len(vals))
		for i, item := range vals {
			if s, ok := item.(string); ok {
				out[i] = s
			} else if item != nil {
				out[i] = fmt.Sprintf("%v", item)
			}
		}
		return out
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstPresent(primary any, fallback any) any {
	if primary != nil {
		return primary
	}
	if m, ok := fallback.(map[string]any); ok && m == nil {
		return nil
	}
	return fallback
}
