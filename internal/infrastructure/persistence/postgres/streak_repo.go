package postgres

import (
	"context"
	"time"

	"github.com/alem-hub/study-buddy/internal/domain/session"
	"github.com/alem-hub/study-buddy/internal/domain/streak"
)

// StreakRepository implements streak.Repository for PostgreSQL.
type StreakRepository struct {
	db Querier
}

// NewStreakRepository creates a new StreakRepository.
func NewStreakRepository(db Querier) *StreakRepository {
	return &StreakRepository{db: db}
}

// Get returns streak.ErrNotFound for owners without a row.
func (r *StreakRepository) Get(ctx context.Context, owner session.Owner) (*streak.Streak, error) {
	query := `
		SELECT current_streak, longest_streak, total_checkins, last_checkin_at, updated_at
		FROM streaks
		WHERE owner = $1
	`

	s := streak.New(owner)
	var last *time.Time
	err := r.db.QueryRow(ctx, query, string(owner)).Scan(&s.Current, &s.Longest, &s.Total, &last, &s.UpdatedAt)
	if err != nil {
		if IsNoRows(err) {
			return nil, streak.ErrNotFound
		}
		return nil, classify("GetStreak", "failed to get streak", err)
	}
	if last != nil {
		s.LastCheckIn = *last
	}
	return s, nil
}

// Save upserts the streak.
func (r *StreakRepository) Save(ctx context.Context, s *streak.Streak) error {
	query := `
		INSERT INTO streaks (owner, current_streak, longest_streak, total_checkins, last_checkin_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (owner) DO UPDATE SET
			current_streak = EXCLUDED.current_streak,
			longest_streak = EXCLUDED.longest_streak,
			total_checkins = EXCLUDED.total_checkins,
			last_checkin_at = EXCLUDED.last_checkin_at,
			updated_at = EXCLUDED.updated_at
	`

	var last *time.Time
	if !s.LastCheckIn.IsZero() {
		last = &s.LastCheckIn
	}
	updated := s.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}

	if _, err := r.db.Exec(ctx, query, string(s.Owner), s.Current, s.Longest, s.Total, last, updated); err != nil {
		return classify("SaveStreak", "failed to save streak", err)
	}
	return nil
}
