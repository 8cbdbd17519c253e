package middleware

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// RejectObserver is told about every rejected request.
type RejectObserver interface {
	IncRateLimited(limiter string)
}

// RateLimiter is a fixed-window limiter keyed by caller. It owns its state;
// each consumer gets its own instance.
type RateLimiter struct {
	name     string
	requests map[string]*clientLimit
	mu       sync.Mutex
	limit    int
	window   time.Duration
	now      func() time.Time
	observer RejectObserver
	logger   zerolog.Logger
	stop     chan struct{}
	stopOnce sync.Once
}

type clientLimit struct {
	count     int
	resetTime time.Time
}

func NewRateLimiter(name string, limit int, window time.Duration, observer RejectObserver, logger zerolog.Logger) *RateLimiter {
	rl := &RateLimiter{
		name:     name,
		requests: make(map[string]*clientLimit),
		limit:    limit,
		window:   window,
		now:      time.Now,
		observer: observer,
		logger:   logger.With().Str("component", "ratelimit").Str("limiter", name).Logger(),
		stop:     make(chan struct{}),
	}

	go rl.cleanup()
	return rl
}

func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.mu.Lock()
			now := rl.now()
			for key, cl := range rl.requests {
				if now.After(cl.resetTime) {
					delete(rl.requests, key)
				}
			}
			rl.mu.Unlock()
		}
	}
}

func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

func (rl *RateLimiter) Allow(key string) bool {
	ok, _ := rl.reserve(key)
	return ok
}

// reserve takes a slot for key, or reports how long until the window resets.
func (rl *RateLimiter) reserve(key string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	cl, exists := rl.requests[key]

	if !exists || !now.Before(cl.resetTime) {
		rl.requests[key] = &clientLimit{
			count:     1,
			resetTime: now.Add(rl.window),
		}
		return true, 0
	}

	if cl.count >= rl.limit {
		return false, cl.resetTime.Sub(now)
	}

	cl.count++
	return true, 0
}

// Wait blocks until key may proceed or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context, key string) error {
	for {
		ok, retryAfter := rl.reserve(key)
		if ok {
			return nil
		}
		if rl.observer != nil {
			rl.observer.IncRateLimited(rl.name)
		}

		timer := time.NewTimer(retryAfter)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := getClientIP(r)

		if !rl.Allow(ip) {
			if rl.observer != nil {
				rl.observer.IncRateLimited(rl.name)
			}
			rl.logger.Warn().Str("ip", ip).Msg("Rate limit exceeded")
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
