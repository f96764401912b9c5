// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alem-hub/study-buddy/internal/domain/session"
	"github.com/alem-hub/study-buddy/internal/domain/streak"
	"github.com/alem-hub/study-buddy/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET STUDY STATS QUERY
// Today's minutes and board rank, the last week per kind, and the streak.
// ══════════════════════════════════════════════════════════════════════════════

// StatsWindow is how far back the per-kind totals reach.
const StatsWindow = 7 * 24 * time.Hour

// StreakView is a streak as seen at query time.
type StreakView struct {
	Current        int
	Longest        int
	Total          int
	CheckedInToday bool
	LastCheckIn    time.Time
}

// StudyStats is the result of GetStudyStatsHandler.
type StudyStats struct {
	Owner session.Owner

	// TodayMinutes and TodayRank come from the study board; both are zero
	// when the board is disabled or the owner has not studied today.
	TodayMinutes int64
	TodayRank    int64
	BoardEnabled bool

	Week      []session.KindTotal
	WeekTotal time.Duration

	Streak StreakView
}

// GetStreakHandler reads a streak.
type GetStreakHandler struct {
	repo streak.Repository
	loc  *time.Location
	now  func() time.Time
}

// NewGetStreakHandler creates a GetStreakHandler evaluating days in loc.
func NewGetStreakHandler(repo streak.Repository, loc *time.Location) *GetStreakHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &GetStreakHandler{repo: repo, loc: loc, now: time.Now}
}

// WithClock replaces the time source.
func (h *GetStreakHandler) WithClock(now func() time.Time) *GetStreakHandler {
	h.now = now
	return h
}

// Handle returns the owner's streak. An owner who never checked in gets a
// zero view; a lapsed streak reports Current as 0.
func (h *GetStreakHandler) Handle(ctx context.Context, owner session.Owner) (StreakView, error) {
	s, err := h.repo.Get(ctx, owner)
	if errors.Is(err, streak.ErrNotFound) {
		return StreakView{}, nil
	}
	if err != nil {
		return StreakView{}, fmt.Errorf("get_streak: %w", err)
	}

	now := h.now()
	return StreakView{
		Current:        s.Effective(now, h.loc),
		Longest:        s.Longest,
		Total:          s.Total,
		CheckedInToday: s.CheckedInToday(now, h.loc),
		LastCheckIn:    s.LastCheckIn,
	}, nil
}

// GetStudyStatsHandler assembles StudyStats.
type GetStudyStatsHandler struct {
	history session.HistoryRepository
	board   session.StudyBoard
	streaks *GetStreakHandler
	loc     *time.Location
	now     func() time.Time
}

// NewGetStudyStatsHandler creates the handler. board may be nil.
func NewGetStudyStatsHandler(
	history session.HistoryRepository,
	board session.StudyBoard,
	streaks *GetStreakHandler,
	loc *time.Location,
) *GetStudyStatsHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &GetStudyStatsHandler{
		history: history,
		board:   board,
		streaks: streaks,
		loc:     loc,
		now:     time.Now,
	}
}

// WithClock replaces the time source.
func (h *GetStudyStatsHandler) WithClock(now func() time.Time) *GetStudyStatsHandler {
	h.now = now
	h.streaks.WithClock(now)
	return h
}

// Handle executes the query.
func (h *GetStudyStatsHandler) Handle(ctx context.Context, owner session.Owner) (*StudyStats, error) {
	if owner == "" {
		return nil, session.ErrEmptyOwner
	}

	now := h.now()
	stats := &StudyStats{Owner: owner, BoardEnabled: h.board != nil}

	since := timeutil.StartOfDay(now, h.loc).Add(-StatsWindow + 24*time.Hour)
	week, err := h.history.TotalsSince(ctx, owner, since)
	if err != nil {
		return nil, fmt.Errorf("get_study_stats: totals: %w", err)
	}
	stats.Week = week
	for _, kt := range week {
		stats.WeekTotal += kt.Studied
	}

	if h.board != nil {
		day := timeutil.DayKey(now, h.loc)
		if stats.TodayMinutes, err = h.board.Minutes(ctx, day, owner); err != nil {
			return nil, fmt.Errorf("get_study_stats: board minutes: %w", err)
		}
		if stats.TodayRank, err = h.board.Rank(ctx, day, owner); err != nil {
			return nil, fmt.Errorf("get_study_stats: board rank: %w", err)
		}
	}

	if stats.Streak, err = h.streaks.Handle(ctx, owner); err != nil {
		return nil, fmt.Errorf("get_study_stats: %w", err)
	}

	return stats, nil
}
