// Package eventhandler contains subscribers for session lifecycle events.
package eventhandler

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/alem-hub/study-buddy/internal/domain/session"
	"github.com/alem-hub/study-buddy/internal/domain/shared"
	"github.com/alem-hub/study-buddy/pkg/logger"
	"github.com/alem-hub/study-buddy/pkg/retry"
	"github.com/alem-hub/study-buddy/pkg/timeutil"
)

// ═══════════════════════════════════════════════════════════════════════════
// SESSION JOURNAL
// Writes ended sessions to the history store and keeps the daily study
// board and the "studying now" set in step with the session manager.
// ═══════════════════════════════════════════════════════════════════════════

// JournalConfig configures the journal.
type JournalConfig struct {
	// Location decides which calendar day a session is credited to.
	Location *time.Location

	// MinBoardDuration is the shortest session that earns board minutes.
	MinBoardDuration time.Duration

	// OffBoardKinds are journaled but never credited to the board.
	OffBoardKinds []string

	// Timeout bounds the work done for one event, retries included.
	Timeout time.Duration

	Retry retry.Policy
}

// DefaultJournalConfig returns the production defaults.
func DefaultJournalConfig() JournalConfig {
	return JournalConfig{
		Location:         time.UTC,
		MinBoardDuration: time.Minute,
		OffBoardKinds:    []string{"pomodoro-break"},
		Timeout:          10 * time.Second,
		Retry:            storePolicy(),
	}
}

// storePolicy retries only failures the stores mark as transient.
func storePolicy() retry.Policy {
	p := retry.DatabasePolicy()
	p.RetryIf = shared.IsRetryable
	return p
}

// SessionJournal handles session.started, session.completed and session.cancelled.
type SessionJournal struct {
	history session.HistoryRepository

	// board is nil when Redis is disabled.
	board session.StudyBoard

	config JournalConfig
	logger *slog.Logger
}

// NewSessionJournal creates the journal. board may be nil.
func NewSessionJournal(
	history session.HistoryRepository,
	board session.StudyBoard,
	config JournalConfig,
	log *slog.Logger,
) *SessionJournal {
	if log == nil {
		log = slog.Default()
	}
	if config.Location == nil {
		config.Location = time.UTC
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}

	return &SessionJournal{
		history: history,
		board:   board,
		config:  config,
		logger:  log.With(logger.Component("session_journal")),
	}
}

// Register subscribes the journal to the lifecycle events it handles.
func (j *SessionJournal) Register(bus shared.EventSubscriber) error {
	for _, t := range []shared.EventType{session.EventStarted, session.EventCompleted, session.EventCancelled} {
		if err := bus.Subscribe(t, j.Handle); err != nil {
			return fmt.Errorf("subscribe %s: %w", t, err)
		}
	}
	return nil
}

// Handle implements shared.EventHandler.
func (j *SessionJournal) Handle(event shared.Event) error {
	ev, ok := event.(session.LifecycleEvent)
	if !ok {
		j.logger.Warn("unexpected event", "event_type", event.EventType())
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), j.config.Timeout)
	defer cancel()

	switch ev.EventType() {
	case session.EventStarted:
		return j.onStarted(ctx, ev)
	case session.EventCompleted, session.EventCancelled:
		return j.onEnded(ctx, ev)
	default:
		return nil
	}
}

func (j *SessionJournal) onStarted(ctx context.Context, ev session.LifecycleEvent) error {
	if j.board == nil {
		return nil
	}
	if err := j.board.MarkStudying(ctx, ev.Session.Owner); err != nil {
		return fmt.Errorf("mark studying: %w", err)
	}
	return nil
}

func (j *SessionJournal) onEnded(ctx context.Context, ev session.LifecycleEvent) error {
	snap := ev.Session
	rec := session.NewRecord(snap, ev.Reason, ev.OccurredAt())

	err := j.config.Retry.Do(ctx, func(ctx context.Context) error {
		return j.history.Save(ctx, rec)
	})
	if err != nil {
		return fmt.Errorf("save session %s: %w", rec.ID, err)
	}

	j.logger.Info("session journaled",
		logger.Owner(string(rec.Owner)),
		logger.SessionID(rec.ID),
		"kind", rec.Kind,
		"outcome", rec.Outcome,
		"studied", rec.Studied.String(),
	)

	if j.board == nil {
		return nil
	}

	// A superseded session is immediately followed by a started event for
	// the same owner, so the owner stays in the studying set.
	if ev.Reason != session.ReasonSuperseded {
		if err := j.board.ClearStudying(ctx, rec.Owner); err != nil {
			j.logger.Warn("clear studying failed", logger.Owner(string(rec.Owner)), logger.Err(err))
		}
	}

	if !j.credits(rec) {
		return nil
	}

	day := timeutil.DayKey(rec.EndedAt, j.config.Location)
	minutes := int64(rec.Studied / time.Minute)
	err = j.config.Retry.Do(ctx, func(ctx context.Context) error {
		return j.board.AddMinutes(ctx, day, rec.Owner, minutes)
	})
	if err != nil {
		return fmt.Errorf("add board minutes for %s: %w", rec.Owner, err)
	}
	return nil
}

func (j *SessionJournal) credits(rec session.Record) bool {
	if rec.Outcome == session.ReasonExpired {
		return false
	}
	if rec.Studied < j.config.MinBoardDuration || rec.Studied < time.Minute {
		return false
	}
	return !slices.Contains(j.config.OffBoardKinds, rec.Kind)
}
