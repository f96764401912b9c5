package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/study-buddy/internal/domain/session"
	"github.com/alem-hub/study-buddy/internal/domain/shared"
	"github.com/alem-hub/study-buddy/internal/domain/streak"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "study.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

var base = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func record(id, owner, kind string, endedAt time.Time, studied time.Duration) session.Record {
	return session.Record{
		ID:        id,
		Owner:     session.Owner(owner),
		Kind:      kind,
		Mode:      session.ModeCountDown,
		StartedAt: endedAt.Add(-studied),
		EndedAt:   endedAt,
		Studied:   studied,
		Outcome:   session.ReasonCompleted,
	}
}

func TestOpen_MigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "study.db")

	db, err := Open(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = Open(context.Background(), path)
	require.NoError(t, err)
	defer db.Close()

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&n))
	assert.Equal(t, len(migrations), n)
	assert.NoError(t, db.Ping(context.Background()))
}

func TestHistoryRepository_TotalsSince(t *testing.T) {
	ctx := context.Background()
	repo := NewHistoryRepository(openTestDB(t))

	require.NoError(t, repo.Save(ctx, record("a", "42", "pomodoro-work", base, 25*time.Minute)))
	require.NoError(t, repo.Save(ctx, record("b", "42", "pomodoro-work", base.Add(time.Hour), 25*time.Minute)))
	require.NoError(t, repo.Save(ctx, record("c", "42", "stopwatch:math", base.Add(2*time.Hour), 70*time.Minute)))
	require.NoError(t, repo.Save(ctx, record("d", "42", "stopwatch:math", base.Add(-10*24*time.Hour), 3*time.Hour)))
	require.NoError(t, repo.Save(ctx, record("e", "7", "pomodoro-work", base, 25*time.Minute)))

	totals, err := repo.TotalsSince(ctx, "42", base.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []session.KindTotal{
		{Kind: "stopwatch:math", Sessions: 1, Studied: 70 * time.Minute},
		{Kind: "pomodoro-work", Sessions: 2, Studied: 50 * time.Minute},
	}, totals)
}

func TestHistoryRepository_SaveIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := NewHistoryRepository(openTestDB(t))

	require.NoError(t, repo.Save(ctx, record("a", "42", "stopwatch", base, 10*time.Minute)))
	require.NoError(t, repo.Save(ctx, record("a", "42", "stopwatch", base, 12*time.Minute)))

	totals, err := repo.TotalsSince(ctx, "42", base.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, totals, 1)
	assert.Equal(t, 1, totals[0].Sessions)
	assert.Equal(t, 12*time.Minute, totals[0].Studied)
}

func TestHistoryRepository_DeleteBefore(t *testing.T) {
	ctx := context.Background()
	repo := NewHistoryRepository(openTestDB(t))

	require.NoError(t, repo.Save(ctx, record("old", "42", "stopwatch", base.Add(-100*24*time.Hour), time.Hour)))
	require.NoError(t, repo.Save(ctx, record("new", "42", "stopwatch", base, time.Hour)))

	n, err := repo.DeleteBefore(ctx, base.Add(-90*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	totals, err := repo.TotalsSince(ctx, "42", time.Time{})
	require.NoError(t, err)
	require.Len(t, totals, 1)
	assert.Equal(t, 1, totals[0].Sessions)
}

func TestStreakRepository_RoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := NewStreakRepository(openTestDB(t))

	_, err := repo.Get(ctx, "42")
	assert.ErrorIs(t, err, streak.ErrNotFound)

	s := streak.New("42")
	require.NoError(t, s.CheckIn(base, time.UTC))
	require.NoError(t, repo.Save(ctx, s))

	require.NoError(t, s.CheckIn(base.Add(24*time.Hour), time.UTC))
	require.NoError(t, repo.Save(ctx, s))

	got, err := repo.Get(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, 2, got.Current)
	assert.Equal(t, 2, got.Longest)
	assert.Equal(t, 2, got.Total)
	assert.True(t, got.LastCheckIn.Equal(base.Add(24*time.Hour)))
}

func TestClassify(t *testing.T) {
	busy := classify("SaveSession", "failed to save session s1", sqlite3.Error{Code: sqlite3.ErrBusy})
	assert.True(t, shared.IsRetryable(busy))

	dup := classify("SaveStreak", "failed to save streak", sqlite3.Error{
		Code:         sqlite3.ErrConstraint,
		ExtendedCode: sqlite3.ErrConstraintUnique,
	})
	assert.True(t, shared.IsAlreadyExists(dup))
	assert.False(t, shared.IsRetryable(dup))

	slow := classify("GetStreak", "failed to get streak", fmt.Errorf("query: %w", context.DeadlineExceeded))
	assert.ErrorIs(t, slow, shared.ErrTimeout)
}

func TestRepositories_ClosedDatabaseIsRetryable(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.Close())

	err := NewHistoryRepository(db).Save(context.Background(), record("s1", "42", "countdown", base, time.Minute))
	require.Error(t, err)
	assert.True(t, shared.IsRetryable(err))
	assert.Contains(t, err.Error(), "sqlite.SaveSession")
}
