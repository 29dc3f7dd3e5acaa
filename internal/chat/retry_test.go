package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeClock advances instantly: every After call records the requested
// interval, moves the clock forward by it, and fires immediately.
type fakeClock struct {
	mu         sync.Mutex
	now        time.Time
	afterCalls []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.afterCalls = append(c.afterCalls, d)
	c.now = c.now.Add(d)
	now := c.now
	c.mu.Unlock()

	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

func (c *fakeClock) waits() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.afterCalls))
	copy(out, c.afterCalls)
	return out
}

func TestPollExhaustsBudget(t *testing.T) {
	clock := newFakeClock()
	attempts := 0

	value, found, err := Poll(context.Background(), clock, 10, time.Second,
		func(ctx context.Context, attempt int) (PollResult[string], error) {
			attempts++
			if attempt != attempts {
				t.Errorf("attempt = %d, want %d", attempt, attempts)
			}
			return PollResult[string]{}, nil
		})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found {
		t.Error("expected found=false on an exhausted budget")
	}
	if value != "" {
		t.Errorf("expected zero value, got %q", value)
	}
	if attempts != 10 {
		t.Errorf("attempts = %d, want exactly 10", attempts)
	}

	waits := clock.waits()
	if len(waits) != 10 {
		t.Fatalf("expected 10 waits, got %d", len(waits))
	}
	for i, d := range waits {
		if d != time.Second {
			t.Errorf("waits[%d] = %v, want 1s", i, d)
		}
	}
}

func TestPollStopsOnFirstSuccess(t *testing.T) {
	clock := newFakeClock()
	attempts := 0

	value, found, err := Poll(context.Background(), clock, 10, time.Second,
		func(ctx context.Context, attempt int) (PollResult[string], error) {
			attempts++
			if attempt == 3 {
				return PollResult[string]{Value: "reply", Done: true}, nil
			}
			return PollResult[string]{}, nil
		})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !found {
		t.Fatal("expected found=true")
	}
	if value != "reply" {
		t.Errorf("value = %q, want %q", value, "reply")
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestPollWaitsBeforeFirstAttempt(t *testing.T) {
	clock := newFakeClock()
	start := clock.Now()

	var firstAttemptAt time.Time
	_, _, err := Poll(context.Background(), clock, 1, time.Second,
		func(ctx context.Context, attempt int) (PollResult[int], error) {
			firstAttemptAt = clock.Now()
			return PollResult[int]{}, nil
		})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := firstAttemptAt.Sub(start); got != time.Second {
		t.Errorf("first attempt ran after %v, want one full interval", got)
	}
}

func TestPollPropagatesFnError(t *testing.T) {
	clock := newFakeClock()
	boom := errors.New("boom")

	_, found, err := Poll(context.Background(), clock, 10, time.Second,
		func(ctx context.Context, attempt int) (PollResult[int], error) {
			return PollResult[int]{}, boom
		})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if found {
		t.Error("expected found=false on error")
	}
}

// blockedClock never fires After, so only cancellation can end the wait.
type blockedClock struct{}

func (blockedClock) Now() time.Time                       { return time.Time{} }
func (blockedClock) After(time.Duration) <-chan time.Time { return nil }

func TestPollHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, found, err := Poll(ctx, blockedClock{}, 10, time.Second,
		func(ctx context.Context, attempt int) (PollResult[int], error) {
			t.Error("fn should not run after cancellation")
			return PollResult[int]{}, nil
		})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if found {
		t.Error("expected found=false")
	}
}
