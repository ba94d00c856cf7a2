package delivery

import (
	"context"
	"time"

	"github.com/jmerrifield20/mailcode/internal/queue"
)

// RetryPolicy bounds publish attempts with a fixed delay between them.
type RetryPolicy struct {
	// Attempts is the total number of tries, including the first.
	Attempts int
	Delay    time.Duration
}

// DefaultRetryPolicy is three attempts one second apart.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, Delay: time.Second}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.Attempts < 1 {
		p.Attempts = 1
	}
	if p.Delay < 0 {
		p.Delay = 0
	}
	return p
}

// ShouldRetry reports whether a failed attempt (1-based) is followed by
// another one.
func (p RetryPolicy) ShouldRetry(attempt int, class queue.Class) bool {
	return class == queue.ClassTransient && attempt < p.Attempts
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
