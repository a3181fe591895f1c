package embedder

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/xhad/docrag/pkg/apperr"
)

const (
	DefaultMaxRetries = 5

	baseDelay = time.Second
	maxJitter = 250 * time.Millisecond
	maxDelay  = 8 * time.Second
)

// RetryPolicy retries provider calls that fail with 429 or 5xx.
// MaxRetries caps the total number of attempts.
type RetryPolicy struct {
	MaxRetries int

	// Jitter and Sleep are replaceable in tests.
	Jitter func() time.Duration
	Sleep  func(ctx context.Context, d time.Duration) error
}

// Delay returns min(1s*2^attempt + jitter, 8s).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	jitter := p.jitter()
	if attempt >= 4 {
		return maxDelay
	}
	d := baseDelay<<attempt + jitter
	if d > maxDelay {
		return maxDelay
	}
	return d
}

// Do runs fn until it succeeds, fails with a non-retryable error, or the
// attempt budget is spent. The last error is returned, classified.
func (p RetryPolicy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	maxAttempts := p.MaxRetries
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxRetries
	}

	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		// A caller that gave up is not a provider failure.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		if !apperr.IsRetryable(err) {
			return apperr.Wrap(apperr.KindPermanentProvider, op, err)
		}
		if attempt+1 >= maxAttempts {
			return apperr.Wrap(apperr.KindTransientProvider, op, err)
		}
		if err := p.sleep(ctx, p.Delay(attempt)); err != nil {
			return err
		}
	}
}

func (p RetryPolicy) jitter() time.Duration {
	if p.Jitter != nil {
		return p.Jitter()
	}
	return rand.N(maxJitter/time.Millisecond+1) * time.Millisecond
}

func (p RetryPolicy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
