package eventhandler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/study-buddy/internal/domain/session"
	"github.com/alem-hub/study-buddy/internal/domain/shared"
	"github.com/alem-hub/study-buddy/pkg/logger"
	"github.com/alem-hub/study-buddy/pkg/retry"
)

type fakeHistory struct {
	mu      sync.Mutex
	records map[string]session.Record
	failN   int
}

func (f *fakeHistory) Save(_ context.Context, rec session.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failN > 0 {
		f.failN--
		return errors.New("connection reset")
	}
	if f.records == nil {
		f.records = map[string]session.Record{}
	}
	f.records[rec.ID] = rec
	return nil
}

func (f *fakeHistory) TotalsSince(context.Context, session.Owner, time.Time) ([]session.KindTotal, error) {
	return nil, nil
}

func (f *fakeHistory) DeleteBefore(context.Context, time.Time) (int64, error) { return 0, nil }

type fakeBoard struct {
	mu       sync.Mutex
	minutes  map[string]map[session.Owner]int64
	studying map[session.Owner]bool
}

func newFakeBoard() *fakeBoard {
	return &fakeBoard{
		minutes:  map[string]map[session.Owner]int64{},
		studying: map[session.Owner]bool{},
	}
}

func (b *fakeBoard) AddMinutes(_ context.Context, day string, owner session.Owner, minutes int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.minutes[day] == nil {
		b.minutes[day] = map[session.Owner]int64{}
	}
	b.minutes[day][owner] += minutes
	return nil
}

func (b *fakeBoard) Minutes(_ context.Context, day string, owner session.Owner) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.minutes[day][owner], nil
}

func (b *fakeBoard) Rank(context.Context, string, session.Owner) (int64, error) { return 0, nil }

func (b *fakeBoard) Top(context.Context, string, int) ([]session.BoardEntry, error) {
	return nil, nil
}

func (b *fakeBoard) MarkStudying(_ context.Context, owner session.Owner) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.studying[owner] = true
	return nil
}

func (b *fakeBoard) ClearStudying(_ context.Context, owner session.Owner) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.studying, owner)
	return nil
}

func (b *fakeBoard) StudyingNow(context.Context) ([]session.Owner, error) { return nil, nil }

var endedAt = time.Date(2025, 3, 10, 21, 30, 0, 0, time.UTC)

func snapshot(id, kind string, elapsed time.Duration) session.Snapshot {
	return session.Snapshot{
		ID:        id,
		Owner:     "42",
		Kind:      kind,
		Mode:      session.ModeCountDown,
		Status:    session.StatusCompleted,
		Elapsed:   elapsed,
		StartedAt: endedAt.Add(-elapsed),
	}
}

func newJournal(history *fakeHistory, board session.StudyBoard) *SessionJournal {
	cfg := DefaultJournalConfig()
	cfg.Location = time.FixedZone("Asia/Almaty", 5*60*60)
	cfg.Retry = retry.Policy{MaxAttempts: 3}
	return NewSessionJournal(history, board, cfg, logger.Discard())
}

func TestSessionJournal_CompletedSessionIsSavedAndCredited(t *testing.T) {
	history := &fakeHistory{}
	board := newFakeBoard()
	j := newJournal(history, board)

	require.NoError(t, j.Handle(session.NewLifecycleEvent(session.EventStarted, snapshot("s1", "pomodoro-work", 0), "", endedAt)))
	assert.True(t, board.studying["42"])

	ev := session.NewLifecycleEvent(session.EventCompleted, snapshot("s1", "pomodoro-work", 25*time.Minute+40*time.Second), session.ReasonCompleted, endedAt)
	require.NoError(t, j.Handle(ev))

	rec := history.records["s1"]
	assert.Equal(t, session.ReasonCompleted, rec.Outcome)
	assert.Equal(t, endedAt, rec.EndedAt)
	assert.Equal(t, 25*time.Minute+40*time.Second, rec.Studied)

	// 21:30 UTC is already the 11th in Almaty.
	assert.Equal(t, int64(25), board.minutes["2025-03-11"]["42"])
	assert.False(t, board.studying["42"])
}

func TestSessionJournal_ShortAndBreakSessionsAreNotCredited(t *testing.T) {
	history := &fakeHistory{}
	board := newFakeBoard()
	j := newJournal(history, board)

	require.NoError(t, j.Handle(session.NewLifecycleEvent(session.EventCancelled, snapshot("s1", "stopwatch", 59*time.Second), session.ReasonStopped, endedAt)))
	require.NoError(t, j.Handle(session.NewLifecycleEvent(session.EventCompleted, snapshot("s2", "pomodoro-break", 5*time.Minute), session.ReasonCompleted, endedAt)))

	assert.Len(t, history.records, 2)
	assert.Empty(t, board.minutes)
}

func TestSessionJournal_SupersededKeepsOwnerStudying(t *testing.T) {
	board := newFakeBoard()
	j := newJournal(&fakeHistory{}, board)

	require.NoError(t, j.Handle(session.NewLifecycleEvent(session.EventStarted, snapshot("s1", "stopwatch", 0), "", endedAt)))
	require.NoError(t, j.Handle(session.NewLifecycleEvent(session.EventCancelled, snapshot("s1", "stopwatch", 2*time.Minute), session.ReasonSuperseded, endedAt)))

	assert.True(t, board.studying["42"])
	assert.Equal(t, int64(2), board.minutes["2025-03-11"]["42"])
}

func TestSessionJournal_RetriesTransientSaveErrors(t *testing.T) {
	history := &fakeHistory{failN: 2}
	j := newJournal(history, nil)

	require.NoError(t, j.Handle(session.NewLifecycleEvent(session.EventCompleted, snapshot("s1", "stopwatch", time.Hour), session.ReasonCompleted, endedAt)))
	assert.Contains(t, history.records, "s1")
}

func TestSessionJournal_GivesUpAfterRetries(t *testing.T) {
	history := &fakeHistory{failN: 5}
	j := newJournal(history, newFakeBoard())

	err := j.Handle(session.NewLifecycleEvent(session.EventCompleted, snapshot("s1", "stopwatch", time.Hour), session.ReasonCompleted, endedAt))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "save session s1")
}

func TestSessionJournal_IgnoresForeignEvents(t *testing.T) {
	j := newJournal(&fakeHistory{}, nil)
	assert.NoError(t, j.Handle(shared.NewBaseEvent("other", "x", endedAt)))
}

type recordingSubscriber struct {
	types []shared.EventType
}

func (r *recordingSubscriber) Subscribe(t shared.EventType, _ shared.EventHandler) error {
	r.types = append(r.types, t)
	return nil
}

func (r *recordingSubscriber) SubscribeAll(shared.EventHandler) error { return nil }

func TestSessionJournal_Register(t *testing.T) {
	sub := &recordingSubscriber{}
	require.NoError(t, newJournal(&fakeHistory{}, nil).Register(sub))
	assert.ElementsMatch(t, []shared.EventType{session.EventStarted, session.EventCompleted, session.EventCancelled}, sub.types)
}

func TestDefaultJournalConfig_RetriesTransientFailuresOnly(t *testing.T) {
	p := DefaultJournalConfig().Retry
	require.NotNil(t, p.RetryIf)

	assert.True(t, p.RetryIf(shared.WrapError("board", "AddMinutes", shared.ErrTimeout, "redis timed out", context.DeadlineExceeded)))
	assert.True(t, p.RetryIf(shared.WrapError("sqlite", "SaveSession", shared.ErrServiceUnavailable, "failed to save session s1", errors.New("database is locked"))))
	assert.False(t, p.RetryIf(shared.WrapError("postgres", "SaveSession", shared.ErrInvalidState, "failed to save session s1", errors.New("syntax error"))))
	assert.False(t, p.RetryIf(errors.New("unclassified")))
}
