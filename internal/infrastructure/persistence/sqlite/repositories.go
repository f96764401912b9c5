package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/alem-hub/study-buddy/internal/domain/session"
	"github.com/alem-hub/study-buddy/internal/domain/shared"
	"github.com/alem-hub/study-buddy/internal/domain/streak"
)

// HistoryRepository implements session.HistoryRepository.
type HistoryRepository struct {
	db *DB
}

// NewHistoryRepository creates a new HistoryRepository.
func NewHistoryRepository(db *DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// Save inserts the record, replacing an earlier write of the same session.
func (r *HistoryRepository) Save(ctx context.Context, rec session.Record) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO session_history (id, owner, kind, mode, started_at, ended_at, studied_ms, outcome)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			ended_at = excluded.ended_at,
			studied_ms = excluded.studied_ms,
			outcome = excluded.outcome`,
		rec.ID,
		string(rec.Owner),
		rec.Kind,
		string(rec.Mode),
		toMillis(rec.StartedAt),
		toMillis(rec.EndedAt),
		rec.Studied.Milliseconds(),
		string(rec.Outcome),
	)
	if err != nil {
		return classify("SaveSession", "failed to save session "+rec.ID, err)
	}
	return nil
}

// TotalsSince sums the owner's sessions per kind.
func (r *HistoryRepository) TotalsSince(ctx context.Context, owner session.Owner, since time.Time) ([]session.KindTotal, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT kind, COUNT(*), COALESCE(SUM(studied_ms), 0) AS total
		FROM session_history
		WHERE owner = ? AND ended_at >= ?
		GROUP BY kind
		ORDER BY total DESC, kind`,
		string(owner), toMillis(since),
	)
	if err != nil {
		return nil, classify("TotalsSince", "failed to query totals", err)
	}
	defer rows.Close()

	var totals []session.KindTotal
	for rows.Next() {
		var kt session.KindTotal
		var ms int64
		if err := rows.Scan(&kt.Kind, &kt.Sessions, &ms); err != nil {
			return nil, classify("TotalsSince", "failed to scan totals", err)
		}
		kt.Studied = time.Duration(ms) * time.Millisecond
		totals = append(totals, kt)
	}
	return totals, rows.Err()
}

// DeleteBefore removes sessions that ended before the cutoff.
func (r *HistoryRepository) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM session_history WHERE ended_at < ?`, toMillis(before))
	if err != nil {
		return 0, classify("DeleteBefore", "failed to prune history", err)
	}
	return res.RowsAffected()
}

// StreakRepository implements streak.Repository.
type StreakRepository struct {
	db *DB
}

// NewStreakRepository creates a new StreakRepository.
func NewStreakRepository(db *DB) *StreakRepository {
	return &StreakRepository{db: db}
}

// Get returns streak.ErrNotFound for owners without a row.
func (r *StreakRepository) Get(ctx context.Context, owner session.Owner) (*streak.Streak, error) {
	s := streak.New(owner)
	var last sql.NullInt64
	var updated int64

	err := r.db.QueryRowContext(ctx, `
		SELECT current_streak, longest_streak, total_checkins, last_checkin_at, updated_at
		FROM streaks WHERE owner = ?`, string(owner),
	).Scan(&s.Current, &s.Longest, &s.Total, &last, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, streak.ErrNotFound
	}
	if err != nil {
		return nil, classify("GetStreak", "failed to get streak", err)
	}

	if last.Valid {
		s.LastCheckIn = fromMillis(last.Int64)
	}
	s.UpdatedAt = fromMillis(updated)
	return s, nil
}

// Save upserts the streak.
func (r *StreakRepository) Save(ctx context.Context, s *streak.Streak) error {
	var last sql.NullInt64
	if !s.LastCheckIn.IsZero() {
		last = sql.NullInt64{Int64: toMillis(s.LastCheckIn), Valid: true}
	}
	updated := s.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO streaks (owner, current_streak, longest_streak, total_checkins, last_checkin_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (owner) DO UPDATE SET
			current_streak = excluded.current_streak,
			longest_streak = excluded.longest_streak,
			total_checkins = excluded.total_checkins,
			last_checkin_at = excluded.last_checkin_at,
			updated_at = excluded.updated_at`,
		string(s.Owner), s.Current, s.Longest, s.Total, last, toMillis(updated),
	)
	if err != nil {
		return classify("SaveStreak", "failed to save streak", err)
	}
	return nil
}

// classify tags a driver error with the kind callers retry on. A locked or
// busy database is worth another attempt; other sqlite errors are not.
func classify(op, message string, err error) error {
	var se sqlite3.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return shared.WrapError("sqlite", op, shared.ErrTimeout, message, err)
	case errors.As(err, &se):
		switch {
		case se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked:
			return shared.WrapError("sqlite", op, shared.ErrServiceUnavailable, message, err)
		case se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey:
			return shared.WrapError("sqlite", op, shared.ErrAlreadyExists, message, err)
		default:
			return shared.WrapError("sqlite", op, shared.ErrInvalidState, message, err)
		}
	default:
		return shared.WrapError("sqlite", op, shared.ErrServiceUnavailable, message, err)
	}
}
