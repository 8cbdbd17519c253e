package judge

import (
	"context"

	"github.com/CDeX-Labs/CDeX-Judge-Service/internal/verification"
)

const limiterKey = "judge"

type Limiter interface {
	Wait(ctx context.Context, key string) error
}

// RateLimited holds each call until the limiter admits it.
type RateLimited struct {
	next    verification.Judge
	limiter Limiter
}

func NewRateLimited(next verification.Judge, limiter Limiter) *RateLimited {
	return &RateLimited{next: next, limiter: limiter}
}

func (r *RateLimited) Model() string {
	return r.next.Model()
}

func (r *RateLimited) Evaluate(ctx context.Context, req verification.JudgeRequest) (string, error) {
	if err := r.limiter.Wait(ctx, limiterKey); err != nil {
		return "", err
	}
	return r.next.Evaluate(ctx, req)
}
