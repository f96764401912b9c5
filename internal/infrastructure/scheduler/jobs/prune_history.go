package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alem-hub/study-buddy/internal/domain/session"
)

// PruneHistoryJob deletes session history older than the retention period.
type PruneHistoryJob struct {
	history   session.HistoryRepository
	retention time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// NewPruneHistoryJob creates the job.
func NewPruneHistoryJob(history session.HistoryRepository, retention time.Duration, log *slog.Logger) *PruneHistoryJob {
	if log == nil {
		log = slog.Default()
	}
	return &PruneHistoryJob{
		history:   history,
		retention: retention,
		now:       time.Now,
		logger:    log.With("job", "prune_history"),
	}
}

// WithClock replaces the time source.
func (j *PruneHistoryJob) WithClock(now func() time.Time) *PruneHistoryJob {
	j.now = now
	return j
}

// Name implements scheduler.Job.
func (j *PruneHistoryJob) Name() string { return "prune_history" }

// Description implements scheduler.Job.
func (j *PruneHistoryJob) Description() string {
	return fmt.Sprintf("Deletes session history older than %s", j.retention)
}

// Run implements scheduler.Job.
func (j *PruneHistoryJob) Run(ctx context.Context) error {
	cutoff := j.now().Add(-j.retention)

	n, err := j.history.DeleteBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("prune history: %w", err)
	}

	j.logger.Info("history pruned", "deleted", n, "cutoff", cutoff.Format(time.RFC3339))
	return nil
}
