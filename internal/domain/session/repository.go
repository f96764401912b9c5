package session

import (
	"context"
	"time"
)

// Record is the journal entry written when a session ends.
type Record struct {
	// ID is the session ID, so writing the same record twice is harmless.
	ID        string
	Owner     Owner
	Kind      string
	Mode      Mode
	StartedAt time.Time
	EndedAt   time.Time

	// Studied is the active time, pauses excluded.
	Studied time.Duration

	Outcome EndReason
}

// NewRecord builds the journal entry for a terminal snapshot.
func NewRecord(snap Snapshot, reason EndReason, endedAt time.Time) Record {
	return Record{
		ID:        snap.ID,
		Owner:     snap.Owner,
		Kind:      snap.Kind,
		Mode:      snap.Mode,
		StartedAt: snap.StartedAt,
		EndedAt:   endedAt,
		Studied:   snap.Elapsed,
		Outcome:   reason,
	}
}

// KindTotal aggregates journal entries of one kind.
type KindTotal struct {
	Kind     string
	Sessions int
	Studied  time.Duration
}

// HistoryRepository stores ended sessions.
type HistoryRepository interface {
	// Save inserts the record or replaces the one with the same ID.
	Save(ctx context.Context, rec Record) error

	// TotalsSince sums the owner's records that ended at or after since, per kind,
	// ordered by studied time descending.
	TotalsSince(ctx context.Context, owner Owner, since time.Time) ([]KindTotal, error)

	// DeleteBefore removes records that ended before the given instant and
	// returns how many were removed.
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// BoardEntry is one row of a daily study board.
type BoardEntry struct {
	Owner   Owner
	Minutes int64
}

// StudyBoard ranks owners by minutes studied per calendar day and tracks who
// is studying right now. Days are keyed by timeutil.DayKey.
type StudyBoard interface {
	AddMinutes(ctx context.Context, day string, owner Owner, minutes int64) error
	Minutes(ctx context.Context, day string, owner Owner) (int64, error)

	// Rank is 1-based; 0 means the owner has no minutes that day.
	Rank(ctx context.Context, day string, owner Owner) (int64, error)
	Top(ctx context.Context, day string, n int) ([]BoardEntry, error)

	MarkStudying(ctx context.Context, owner Owner) error
	ClearStudying(ctx context.Context, owner Owner) error
	StudyingNow(ctx context.Context) ([]Owner, error)
}
