package judge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/CDeX-Labs/CDeX-Judge-Service/internal/verification"
	"github.com/rs/zerolog"
)

const systemPrompt = "You evaluate challenge submissions for an event platform. Answer only with the requested JSON object."

var (
	ErrEmptyCompletion = errors.New("judge returned no choices")
	ErrUnauthorized    = errors.New("judge rejected credentials")
)

// CallObserver records the status of each remote call.
type CallObserver interface {
	IncJudgeCall(status string)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// HTTPJudge calls an OpenAI-compatible chat completions endpoint.
type HTTPJudge struct {
	url      string
	apiKey   string
	model    string
	client   *http.Client
	observer CallObserver
	logger   zerolog.Logger
}

func NewHTTPJudge(url, apiKey, model string, timeout time.Duration, observer CallObserver, logger zerolog.Logger) *HTTPJudge {
	return &HTTPJudge{
		url:      url,
		apiKey:   apiKey,
		model:    model,
		client:   &http.Client{Timeout: timeout},
		observer: observer,
		logger:   logger.With().Str("component", "judge").Str("model", model).Logger(),
	}
}

func (j *HTTPJudge) Model() string {
	return j.model
}

func (j *HTTPJudge) Evaluate(ctx context.Context, req verification.JudgeRequest) (string, error) {
	content, err := j.evaluate(ctx, req)
	if j.observer != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		j.observer.IncJudgeCall(status)
	}
	return content, err
}

func (j *HTTPJudge) evaluate(ctx context.Context, req verification.JudgeRequest) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: j.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: req.Prompt},
		},
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, j.url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if j.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+j.apiKey)
	}

	resp, err := j.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("judge request failed: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read judge response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", ErrUnauthorized
	case resp.StatusCode >= 300:
		j.logger.Warn().Int("status", resp.StatusCode).Msg("Judge returned non-success status")
		return "", fmt.Errorf("judge returned status %d", resp.StatusCode)
	}

	var parsed chatResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return "", fmt.Errorf("failed to decode judge envelope: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("judge error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", ErrEmptyCompletion
	}

	return parsed.Choices[0].Message.Content, nil
}
