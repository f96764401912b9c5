// Package jobs contains the scheduled maintenance jobs.
package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/alem-hub/study-buddy/internal/domain/session"
	"github.com/alem-hub/study-buddy/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// EXPIRE STOPWATCHES JOB
// ══════════════════════════════════════════════════════════════════════════════

// SessionRegistry is the part of the timer manager the job needs.
type SessionRegistry interface {
	Active() []session.Snapshot
	Expire(owner session.Owner, id string) (session.Snapshot, error)
}

// ExpireStopwatchesJob stops COUNT_UP sessions running longer than MaxAge,
// measured from their start, pauses included.
type ExpireStopwatchesJob struct {
	registry SessionRegistry
	maxAge   time.Duration
	now      func() time.Time
	logger   *slog.Logger

	// OnExpired, if set, is called with the final snapshot of each expired session.
	OnExpired func(ctx context.Context, snap session.Snapshot)
}

// NewExpireStopwatchesJob creates the job.
func NewExpireStopwatchesJob(registry SessionRegistry, maxAge time.Duration, log *slog.Logger) *ExpireStopwatchesJob {
	if log == nil {
		log = slog.Default()
	}
	return &ExpireStopwatchesJob{
		registry: registry,
		maxAge:   maxAge,
		now:      time.Now,
		logger:   log.With("job", "expire_stopwatches"),
	}
}

// WithClock replaces the time source.
func (j *ExpireStopwatchesJob) WithClock(now func() time.Time) *ExpireStopwatchesJob {
	j.now = now
	return j
}

// Name implements scheduler.Job.
func (j *ExpireStopwatchesJob) Name() string { return "expire_stopwatches" }

// Description implements scheduler.Job.
func (j *ExpireStopwatchesJob) Description() string {
	return "Stops stopwatches left running past their maximum age"
}

// Run implements scheduler.Job.
func (j *ExpireStopwatchesJob) Run(ctx context.Context) error {
	cutoff := j.now().Add(-j.maxAge)
	expired := 0

	for _, snap := range j.registry.Active() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if snap.Mode != session.ModeCountUp || snap.StartedAt.After(cutoff) {
			continue
		}

		final, err := j.registry.Expire(snap.Owner, snap.ID)
		if errors.Is(err, session.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}

		expired++
		j.logger.Info("stopwatch expired",
			logger.Owner(string(final.Owner)),
			logger.SessionID(final.ID),
			"elapsed", final.Elapsed.String(),
		)
		if j.OnExpired != nil {
			j.OnExpired(ctx, final)
		}
	}

	if expired > 0 {
		j.logger.Info("expired stopwatches", "count", expired)
	}
	return nil
}
