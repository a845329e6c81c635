package sheets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"google.golang.org/api/googleapi"
)

// Executor wraps store-level mutations with classification-driven retries:
// rate-limit errors back off exponentially, auth errors reinitialize the
// credentials and retry immediately, anything else gets at most one more
// attempt after a fixed delay. Reads are not wrapped.
type Executor struct {
	maxAttempts int
	reinit      CredentialReiniter
	sleep       func(ctx context.Context, d time.Duration) error
}

// NewExecutor creates an executor with the default three attempts.
// reinit may be nil when the values API has no rebuildable credentials
// (in-memory fakes).
func NewExecutor(reinit CredentialReiniter) *Executor {
	return &Executor{
		maxAttempts: 3,
		reinit:      reinit,
		sleep:       sleepContext,
	}
}

// Do runs op under the retry policy. Exhausting attempts returns the last
// error. Backoff delays block only the calling task.
func (e *Executor) Do(ctx context.Context, op func(ctx context.Context) error) error {
	var lastErr error
	otherRetried := false

	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}

		switch {
		case isRateLimit(lastErr):
			delay := time.Duration(1<<attempt) * time.Second // 2^attempt
			slog.Warn("sheets rate limit hit, backing off",
				"component", "sheets",
				"attempt", attempt,
				"max_attempts", e.maxAttempts,
				"delay", delay.String(),
			)
			if err := e.sleep(ctx, delay); err != nil {
				return lastErr
			}

		case isAuthError(lastErr):
			slog.Warn("sheets auth error, reinitializing credentials",
				"component", "sheets",
				"attempt", attempt,
				"max_attempts", e.maxAttempts,
			)
			if e.reinit != nil {
				if err := e.reinit.ReinitAuth(ctx); err != nil {
					slog.Error("credential reinit failed", "component", "sheets", "error", err)
				}
			}
			// retry immediately, no delay

		default:
			if otherRetried {
				return lastErr
			}
			otherRetried = true
			slog.Warn("sheets operation failed, retrying once",
				"component", "sheets",
				"attempt", attempt,
				"error", lastErr,
			)
			if err := e.sleep(ctx, time.Second); err != nil {
				return lastErr
			}
		}
	}

	return fmt.Errorf("retries exhausted: %w", lastErr)
}

// isRateLimit reports whether the error is a rate-limit signal from the API.
func isRateLimit(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusTooManyRequests {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "rate limit")
}

// isAuthError reports whether the error is an authorization failure.
func isAuthError(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusUnauthorized {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "unauthorized")
}

// sleepContext waits for d or until ctx is done, whichever comes first.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
