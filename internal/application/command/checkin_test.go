package command

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/study-buddy/internal/domain/session"
	"github.com/alem-hub/study-buddy/internal/domain/shared"
	"github.com/alem-hub/study-buddy/internal/domain/streak"
	"github.com/alem-hub/study-buddy/pkg/logger"
)

type memoryStreaks struct {
	items   map[session.Owner]streak.Streak
	getErr  error
	saveErr error

	// failSaves makes that many saves fail with saveErr before succeeding.
	failSaves int
	saves     int
}

func (m *memoryStreaks) Get(_ context.Context, owner session.Owner) (*streak.Streak, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	s, ok := m.items[owner]
	if !ok {
		return nil, streak.ErrNotFound
	}
	return &s, nil
}

func (m *memoryStreaks) Save(_ context.Context, s *streak.Streak) error {
	m.saves++
	if m.saveErr != nil && (m.failSaves == 0 || m.saves <= m.failSaves) {
		return m.saveErr
	}
	if m.items == nil {
		m.items = map[session.Owner]streak.Streak{}
	}
	m.items[s.Owner] = *s
	return nil
}

func handlerAt(repo streak.Repository, now *time.Time) *CheckInHandler {
	h := NewCheckInHandler(repo, time.UTC, logger.Discard())
	h.retry.MaxAttempts = 1
	return h.WithClock(func() time.Time { return *now })
}

func TestCheckInHandler_FirstAndFollowingDays(t *testing.T) {
	repo := &memoryStreaks{}
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	h := handlerAt(repo, &now)

	res, err := h.Handle(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Current)
	assert.False(t, res.Restarted)

	now = now.Add(24 * time.Hour)
	res, err = h.Handle(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Current)
	assert.Equal(t, 2, res.Total)

	_, err = h.Handle(context.Background(), "42")
	assert.ErrorIs(t, err, streak.ErrAlreadyCheckedIn)
	assert.Equal(t, 2, repo.items["42"].Total)
}

func TestCheckInHandler_RestartAfterGap(t *testing.T) {
	last := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	repo := &memoryStreaks{items: map[session.Owner]streak.Streak{
		"42": {Owner: "42", Current: 6, Longest: 9, Total: 20, LastCheckIn: last},
	}}
	now := last.Add(72 * time.Hour)

	res, err := handlerAt(repo, &now).Handle(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Current)
	assert.Equal(t, 9, res.Longest)
	assert.Equal(t, 21, res.Total)
	assert.True(t, res.Restarted)
}

func TestCheckInHandler_Errors(t *testing.T) {
	now := time.Now()

	_, err := handlerAt(&memoryStreaks{}, &now).Handle(context.Background(), "")
	assert.ErrorIs(t, err, session.ErrEmptyOwner)

	_, err = handlerAt(&memoryStreaks{getErr: errors.New("db down")}, &now).Handle(context.Background(), "42")
	assert.ErrorContains(t, err, "load streak")

	_, err = handlerAt(&memoryStreaks{saveErr: errors.New("db down")}, &now).Handle(context.Background(), "42")
	assert.ErrorContains(t, err, "save streak")
}

func TestCheckInHandler_RetriesOnlyTransientFailures(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	newHandler := func(repo *memoryStreaks) *CheckInHandler {
		h := NewCheckInHandler(repo, time.UTC, logger.Discard()).WithClock(func() time.Time { return now })
		h.retry.InitialDelay = time.Millisecond
		h.retry.MaxDelay = time.Millisecond
		return h
	}

	flaky := &memoryStreaks{
		saveErr:   shared.WrapError("postgres", "SaveStreak", shared.ErrServiceUnavailable, "failed to save streak", errors.New("conn reset")),
		failSaves: 2,
	}
	res, err := newHandler(flaky).Handle(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Current)
	assert.Equal(t, 3, flaky.saves)

	rejected := &memoryStreaks{
		saveErr: shared.WrapError("postgres", "SaveStreak", shared.ErrInvalidState, "failed to save streak", errors.New("syntax error")),
	}
	_, err = newHandler(rejected).Handle(context.Background(), "42")
	assert.ErrorContains(t, err, "save streak")
	assert.Equal(t, 1, rejected.saves)
}
