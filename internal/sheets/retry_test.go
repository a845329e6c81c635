package sheets

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"google.golang.org/api/googleapi"
)

type fakeReiniter struct {
	calls int
	err   error
}

func (f *fakeReiniter) ReinitAuth(ctx context.Context) error {
	f.calls++
	return f.err
}

// testExecutor records sleeps instead of performing them.
func testExecutor(reinit CredentialReiniter) (*Executor, *[]time.Duration) {
	var slept []time.Duration
	e := NewExecutor(reinit)
	e.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return e, &slept
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	e, slept := testExecutor(nil)

	calls := 0
	err := e.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 1 || len(*slept) != 0 {
		t.Errorf("expected 1 call and no sleeps, got %d calls, %v sleeps", calls, *slept)
	}
}

func TestDoRateLimitBacksOffExponentially(t *testing.T) {
	e, slept := testExecutor(nil)
	rateLimited := &googleapi.Error{Code: 429, Message: "Quota exceeded"}

	calls := 0
	err := e.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return rateLimited
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	want := []time.Duration{2 * time.Second, 4 * time.Second}
	if len(*slept) != len(want) {
		t.Fatalf("expected %d sleeps, got %v", len(want), *slept)
	}
	for i, d := range want {
		if (*slept)[i] != d {
			t.Errorf("sleep %d: expected %v, got %v", i, d, (*slept)[i])
		}
	}
}

func TestDoAuthErrorReinitsAndRetriesImmediately(t *testing.T) {
	reinit := &fakeReiniter{}
	e, slept := testExecutor(reinit)
	unauthorized := &googleapi.Error{Code: 401, Message: "Invalid Credentials"}

	calls := 0
	err := e.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return unauthorized
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if reinit.calls != 1 {
		t.Errorf("expected 1 reinit, got %d", reinit.calls)
	}
	if len(*slept) != 0 {
		t.Errorf("auth retry must be immediate, slept %v", *slept)
	}
}

func TestDoOtherErrorRetriesExactlyOnce(t *testing.T) {
	e, slept := testExecutor(nil)
	boom := errors.New("backend error")

	calls := 0
	err := e.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return boom
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 2 {
		t.Errorf("expected exactly 2 attempts, got %d", calls)
	}
	if len(*slept) != 1 || (*slept)[0] != time.Second {
		t.Errorf("expected one 1s delay, got %v", *slept)
	}
	if !errors.Is(err, boom) {
		t.Errorf("expected original error in chain, got %v", err)
	}
}

func TestDoExhaustsRateLimitAttempts(t *testing.T) {
	e, _ := testExecutor(nil)
	rateLimited := &googleapi.Error{Code: 429, Message: "Quota exceeded"}

	calls := 0
	err := e.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return rateLimited
	})
	if err == nil {
		t.Fatal("expected exhaustion error")
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
	if !strings.Contains(err.Error(), "retries exhausted") {
		t.Errorf("unexpected error: %v", err)
	}
	if !errors.Is(err, rateLimited) {
		t.Errorf("expected wrapped last error, got %v", err)
	}
}

func TestDoStopsWhenContextCancelledDuringBackoff(t *testing.T) {
	e := NewExecutor(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rateLimited := &googleapi.Error{Code: 429, Message: "Quota exceeded"}
	calls := 0
	err := e.Do(ctx, func(ctx context.Context) error {
		calls++
		return rateLimited
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected single attempt under cancelled context, got %d", calls)
	}
}
