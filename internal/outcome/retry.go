package outcome

import (
	"context"
	"time"
)

// Policy bounds the retries spent on serialization conflicts.
type Policy struct {
	MaxRetries  int
	BaseBackoff time.Duration
}

// DefaultPolicy retries five times starting at 10ms.
func DefaultPolicy() Policy {
	return Policy{MaxRetries: 5, BaseBackoff: 10 * time.Millisecond}
}

// Backoff returns the wait before retry number attempt (0-based):
// BaseBackoff * 2^attempt.
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 30 {
		attempt = 30
	}
	return p.BaseBackoff << uint(attempt)
}

// Do calls fn until it returns a non-retryable outcome or the retry budget
// is exhausted. It returns the final outcome and the number of retries
// performed. Rejections and connection failures return immediately.
func (p Policy) Do(ctx context.Context, fn func(context.Context) Outcome) (Outcome, int) {
	out := fn(ctx)
	retries := 0
	for out.Retryable() && retries < p.MaxRetries {
		t := time.NewTimer(p.Backoff(retries))
		select {
		case <-ctx.Done():
			t.Stop()
			return out, retries
		case <-t.C:
		}
		retries++
		out = fn(ctx)
	}
	return out, retries
}
