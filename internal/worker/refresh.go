package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/evgenich/amosheets/internal/token"
)

// RefreshManager is the slice of the token manager the scheduler drives.
type RefreshManager interface {
	Refresh(ctx context.Context) (token.RefreshResult, error)
	ShouldRefresh() bool
	LastRefresh() *time.Time
}

// RefreshScheduler drives the token refresh lifecycle: an hourly trigger
// that refreshes when due, a 30-minute backup trigger that forces a refresh
// once the last success is older than ForceAfter, and a one-shot startup
// trigger shortly after boot. Overlap protection comes entirely from the
// manager's single-flight guard; the scheduler never holds its own lock.
type RefreshScheduler struct {
	tokens       RefreshManager
	interval     time.Duration
	backup       time.Duration
	startupDelay time.Duration
	forceAfter   time.Duration
}

// NewRefreshScheduler creates a scheduler with the given trigger timings.
func NewRefreshScheduler(
	tokens RefreshManager,
	interval, backup, startupDelay, forceAfter time.Duration,
) *RefreshScheduler {
	return &RefreshScheduler{
		tokens:       tokens,
		interval:     interval,
		backup:       backup,
		startupDelay: startupDelay,
		forceAfter:   forceAfter,
	}
}

// Run starts the scheduler loop. Blocks until ctx is cancelled.
func (s *RefreshScheduler) Run(ctx context.Context) {
	slog.Info("worker started",
		"component", "worker",
		"worker", "token-refresh",
		"action", "worker_started",
	)

	primary := time.NewTicker(s.interval)
	defer primary.Stop()
	backup := time.NewTicker(s.backup)
	defer backup.Stop()
	startup := time.NewTimer(s.startupDelay)
	defer startup.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped",
				"component", "worker",
				"worker", "token-refresh",
				"action", "worker_stopped",
				"reason", "context_cancelled",
			)
			return
		case <-startup.C:
			s.refreshIfDue(ctx, "startup")
		case <-primary.C:
			s.refreshIfDue(ctx, "scheduled")
		case <-backup.C:
			s.backupRefresh(ctx)
		}
	}
}

// refreshIfDue refreshes only when the manager reports a refresh is due.
func (s *RefreshScheduler) refreshIfDue(ctx context.Context, trigger string) {
	if !s.tokens.ShouldRefresh() {
		slog.Debug("token refresh not needed yet",
			"component", "worker",
			"worker", "token-refresh",
			"trigger", trigger,
		)
		return
	}
	s.refresh(ctx, trigger)
}

// backupRefresh forces a refresh when the last success is stale. Safety net
// against missed primary triggers.
func (s *RefreshScheduler) backupRefresh(ctx context.Context) {
	last := s.tokens.LastRefresh()
	if last == nil {
		return
	}
	if time.Since(*last) < s.forceAfter {
		return
	}
	slog.Info("backup token refresh triggered",
		"component", "worker",
		"worker", "token-refresh",
		"last_refresh", last.Format(time.RFC3339),
	)
	s.refresh(ctx, "backup")
}

func (s *RefreshScheduler) refresh(ctx context.Context, trigger string) {
	result, err := s.tokens.Refresh(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return // graceful shutdown
		}
		slog.Error("scheduled token refresh failed",
			"component", "worker",
			"worker", "token-refresh",
			"trigger", trigger,
			"error", err,
		)
		return
	}
	slog.Info("scheduled token refresh completed",
		"component", "worker",
		"worker", "token-refresh",
		"trigger", trigger,
		"result", result.String(),
	)
}
