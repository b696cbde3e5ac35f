package email

import (
	"context"
	"time"
)

// SentCounter counts entries delivered since a point in time.
type SentCounter interface {
	CountSentSince(ctx context.Context, since time.Time) (int, error)
}

// RateLimiter allows sending while fewer than limit entries were sent in the
// trailing window. It is advisory: concurrent senders can overshoot slightly.
type RateLimiter struct {
	counter SentCounter
	limit   int
	window  time.Duration
	now     func() time.Time
}

func NewRateLimiter(counter SentCounter, limit int) *RateLimiter {
	return &RateLimiter{
		counter: counter,
		limit:   limit,
		window:  time.Hour,
		now:     time.Now,
	}
}

// CanSend reports whether another message may go out now.
func (r *RateLimiter) CanSend(ctx context.Context) (bool, error) {
	remaining, err := r.Remaining(ctx)
	if err != nil {
		return false, err
	}
	return remaining > 0, nil
}

// Remaining returns how many more messages fit in the current window.
func (r *RateLimiter) Remaining(ctx context.Context) (int, error) {
	sent, err := r.counter.CountSentSince(ctx, r.now().Add(-r.window))
	if err != nil {
		return 0, err
	}
	if sent >= r.limit {
		return 0, nil
	}
	return r.limit - sent, nil
}
