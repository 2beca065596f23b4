package runner

import (
	"context"
	"math/rand"
	"time"

	"github.com/torosent/blockprobe/internal/ledger"
)

// RetryPolicy configures retry behavior for a single unit.
type RetryPolicy struct {
	MaxRetries  int                                        // retries after the first attempt
	BackoffBase time.Duration                              // delay before the first retry
	MaxBackoff  time.Duration                              // cap on any single delay (0 means uncapped)
	Jitter      time.Duration                              // random extra delay in [0, Jitter)
	Classifier  func(error) ledger.Classification          // defaults to ledger.Classify
	DelayFunc   func(attempt int, err error) time.Duration // overrides exponential backoff; attempt is 1-based
}

// Classify returns the classification of err under this policy.
func (p RetryPolicy) Classify(err error) ledger.Classification {
	if p.Classifier != nil {
		return p.Classifier(err)
	}
	return ledger.Classify(err)
}

// ShouldRetry reports whether err belongs to a retryable class.
func (p RetryPolicy) ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	return p.Classify(err).Retryable()
}

// Delay returns the wait before retry number attempt (1-based):
// BackoffBase * 2^(attempt-1), capped at MaxBackoff.
func (p RetryPolicy) Delay(attempt int, err error) time.Duration {
	if p.DelayFunc != nil {
		return p.DelayFunc(attempt, err)
	}
	if attempt < 1 {
		attempt = 1
	}
	delay := p.BackoffBase
	for i := 1; i < attempt && delay > 0; i++ {
		if p.MaxBackoff > 0 && delay >= p.MaxBackoff {
			break
		}
		if delay >= time.Duration(1<<62) {
			break
		}
		delay *= 2
	}
	if p.MaxBackoff > 0 && delay > p.MaxBackoff {
		delay = p.MaxBackoff
	}
	if p.Jitter > 0 {
		delay += time.Duration(rand.Int63n(int64(p.Jitter)))
	}
	return delay
}

// Do calls fn until it succeeds, fails with a non-retryable error, or the
// retry budget is spent. It returns the number of attempts made. When ctx
// ends between attempts, ctx.Err() is returned.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) (int, error) {
	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			return attempt, err
		}
		attempt++
		err := fn(ctx, attempt)
		if err == nil {
			return attempt, nil
		}
		if attempt > p.MaxRetries || !p.ShouldRetry(err) {
			return attempt, err
		}
		if delay := p.Delay(attempt, err); delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return attempt, ctx.Err()
			}
		}
	}
}
