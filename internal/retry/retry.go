// Package retry wraps keyring and transaction operations with a bounded
// retry loop. The policy is deliberately narrow: only account sequence
// mismatches are transient; every other failure surfaces immediately.
package retry

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/pokt-foundation/shannon-orch/internal/domain"
)

// DefaultMaxAttempts bounds the retry loop
const DefaultMaxAttempts = 3

// DefaultBackoff is the base delay; attempt N waits N * DefaultBackoff
const DefaultBackoff = 30 * time.Second

// Controller retries operations whose failures classify as retryable
type Controller struct {
	MaxAttempts int
	Backoff     time.Duration

	// sleep is swappable for tests
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Controller with the given bounds; zero values get defaults
func New(maxAttempts int, backoff time.Duration) *Controller {
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}
	if backoff <= 0 {
		backoff = DefaultBackoff
	}
	return &Controller{
		MaxAttempts: maxAttempts,
		Backoff:     backoff,
		sleep:       sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// SetSleep replaces the delay function (test hook)
func (c *Controller) SetSleep(fn func(ctx context.Context, d time.Duration) error) {
	c.sleep = fn
}

// Do runs op up to MaxAttempts times. Retries apply only to sequence
// mismatches, with linear backoff (Backoff, 2*Backoff, ...). The attempt
// count is reported back so callers can record it per work unit.
func (c *Controller) Do(ctx context.Context, label string, op func(ctx context.Context) error) (attempts int, err error) {
	for attempt := 1; attempt <= c.MaxAttempts; attempt++ {
		err = op(ctx)
		if err == nil {
			return attempt, nil
		}
		if !domain.Retryable(err) {
			return attempt, err
		}
		if attempt == c.MaxAttempts {
			return attempt, fmt.Errorf("%w after %d attempts: %v", domain.ErrRetriesExhausted, attempt, err)
		}

		delay := time.Duration(attempt) * c.Backoff
		log.Printf("[retry] %s: sequence mismatch on attempt %d, waiting %s", label, attempt, delay)
		if sleepErr := c.sleep(ctx, delay); sleepErr != nil {
			return attempt, sleepErr
		}
	}
	return c.MaxAttempts, err
}
