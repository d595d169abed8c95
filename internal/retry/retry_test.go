package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pokt-foundation/shannon-orch/internal/domain"
)

func newTestController(maxAttempts int) (*Controller, *[]time.Duration) {
	c := New(maxAttempts, 30*time.Second)
	var delays []time.Duration
	c.SetSleep(func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	})
	return c, &delays
}

func TestDo_SucceedsFirstTry(t *testing.T) {
	c, delays := newTestController(3)
	attempts, err := c.Do(context.Background(), "op", func(ctx context.Context) error {
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
	if len(*delays) != 0 {
		t.Errorf("slept %d times, want 0", len(*delays))
	}
}

func TestDo_NonRetryableFailsImmediately(t *testing.T) {
	c, delays := newTestController(3)
	calls := 0
	_, err := c.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return domain.ErrInsufficientFunds
	})
	if !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Errorf("error = %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry on non-transient errors)", calls)
	}
	if len(*delays) != 0 {
		t.Errorf("slept %d times, want 0", len(*delays))
	}
}

func TestDo_LinearBackoffSchedule(t *testing.T) {
	c, delays := newTestController(3)
	calls := 0
	_, err := c.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return domain.ErrSequenceMismatch
	})

	if !errors.Is(err, domain.ErrRetriesExhausted) {
		t.Errorf("error = %v, want RetriesExhausted", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}

	want := []time.Duration{30 * time.Second, 60 * time.Second}
	if len(*delays) != len(want) {
		t.Fatalf("delays = %v, want %v", *delays, want)
	}
	for i, d := range want {
		if (*delays)[i] != d {
			t.Errorf("delay[%d] = %v, want %v", i, (*delays)[i], d)
		}
	}
}

func TestDo_RecoversAfterTransientFailures(t *testing.T) {
	c, _ := newTestController(3)
	calls := 0
	attempts, err := c.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return domain.ErrSequenceMismatch
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestDo_ExhaustedCarriesLastError(t *testing.T) {
	c, _ := newTestController(2)
	_, err := c.Do(context.Background(), "op", func(ctx context.Context) error {
		return domain.ErrSequenceMismatch
	})
	if !errors.Is(err, domain.ErrRetriesExhausted) {
		t.Fatalf("error = %v", err)
	}
	// The last underlying error must survive in the message
	if !errors.Is(err, domain.ErrRetriesExhausted) {
		t.Error("want RetriesExhausted sentinel")
	}
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	c := New(3, 30*time.Second)
	c.SetSleep(sleepCtx)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Do(ctx, "op", func(ctx context.Context) error {
		return domain.ErrSequenceMismatch
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}
