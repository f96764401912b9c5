package handler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/study-buddy/internal/application/timer"
	"github.com/alem-hub/study-buddy/internal/domain/session"
	"github.com/alem-hub/study-buddy/internal/interface/telegram/presenter"
	"github.com/alem-hub/study-buddy/pkg/logger"
)

type harness struct {
	clock     *fakeClock
	tickers   *tickerFactory
	manager   *timer.Manager
	messenger *fakeMessenger
	handler   *SessionHandler
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	clock := &fakeClock{now: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)}
	tickers := &tickerFactory{created: make(chan *manualTicker, 16)}
	mgr := timer.NewManager(timer.Config{
		Now:       clock.Now,
		NewTicker: tickers.New,
		Logger:    logger.Discard(),
	})
	t.Cleanup(func() { _ = mgr.Shutdown(context.Background()) })

	m := newFakeMessenger()
	h := NewSessionHandler(mgr, m, SessionConfig{
		MaxCountdown:    24 * time.Hour,
		MaxStopwatchAge: 12 * time.Hour,
		Location:        time.UTC,
	}, logger.Discard()).WithClock(clock.Now)

	return &harness{clock: clock, tickers: tickers, manager: mgr, messenger: m, handler: h}
}

func (h *harness) nextTicker(t *testing.T) *manualTicker {
	t.Helper()
	select {
	case tk := <-h.tickers.created:
		return tk
	case <-time.After(2 * time.Second):
		t.Fatal("session loop did not start")
		return nil
	}
}

func (h *harness) waitEdit(t *testing.T, id int, text string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.messenger.LastEdit(id) == text
	}, 2*time.Second, 5*time.Millisecond, "message %d never showed %q; edits: %v", id, text, h.messenger.Edits(id))
}

func TestSessionHandler_CountdownRendersIntoItsMessage(t *testing.T) {
	h := newHarness(t)

	c := newContext(42, "/countdown 25 Algebra")
	require.NoError(t, h.handler.Countdown(c))

	assert.Equal(t, []string{"Countdown (algebra): starting…"}, h.messenger.Sent())
	h.waitEdit(t, 1, "Countdown (algebra): 25:00 left")

	snap, err := h.manager.Status("42")
	require.NoError(t, err)
	assert.Equal(t, "countdown:algebra", snap.Kind)
	assert.Equal(t, session.ModeCountDown, snap.Mode)
	assert.Empty(t, c.Sent)
}

func TestSessionHandler_BadArgumentsStartNothing(t *testing.T) {
	h := newHarness(t)

	c := newContext(42, "/countdown soon")
	require.NoError(t, h.handler.Countdown(c))

	assert.Contains(t, c.LastSent(), CountdownUsage)
	assert.Empty(t, h.messenger.Sent())
	assert.Zero(t, h.manager.Count())
}

func TestSessionHandler_StopFinalizesMessage(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.handler.Countdown(newContext(42, "/countdown 25 algebra")))
	h.nextTicker(t)
	h.clock.Advance(2 * time.Minute)

	c := newContext(42, "/stop")
	require.NoError(t, h.handler.Stop(c))

	assert.Equal(t, "Countdown (algebra) stopped after 2m of study.", c.LastSent())
	assert.Equal(t, "Countdown (algebra): stopped at 23:00.", h.messenger.LastEdit(1))
	assert.Zero(t, h.handler.Renderer().Tracked())

	_, err := h.manager.Status("42")
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestSessionHandler_ControlsWithoutSession(t *testing.T) {
	h := newHarness(t)
	notFound, _ := presenter.ErrorText(session.ErrNotFound)

	for name, fn := range map[string]func(c *MockContext) error{
		"pause":  func(c *MockContext) error { return h.handler.Pause(c) },
		"resume": func(c *MockContext) error { return h.handler.Resume(c) },
		"stop":   func(c *MockContext) error { return h.handler.Stop(c) },
		"status": func(c *MockContext) error { return h.handler.Status(c) },
	} {
		c := newContext(42, "/"+name)
		require.NoError(t, fn(c), name)
		assert.Equal(t, notFound, c.LastSent(), name)
	}
}

func TestSessionHandler_PauseAndResume(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.handler.Countdown(newContext(42, "/countdown 25")))
	h.clock.Advance(time.Minute)

	c := newContext(42, "/pause")
	require.NoError(t, h.handler.Pause(c))
	assert.Equal(t, "Paused at 24:00. Send /resume to continue.", c.LastSent())

	c = newContext(42, "/pause")
	require.NoError(t, h.handler.Pause(c))
	alreadyPaused, _ := presenter.ErrorText(session.ErrAlreadyPaused)
	assert.Equal(t, alreadyPaused, c.LastSent())

	h.clock.Advance(10 * time.Minute)

	c = newContext(42, "/resume")
	require.NoError(t, h.handler.Resume(c))
	assert.Equal(t, "Resumed at 24:00.", c.LastSent())

	c = newContext(42, "/status")
	require.NoError(t, h.handler.Status(c))
	assert.Equal(t, "Countdown: 24:00 left", c.LastSent())
}

func TestSessionHandler_DeadlineCannotPause(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.handler.Countdown(newContext(42, "/countdown 2025-03-10 18:00 exam")))
	h.waitEdit(t, 1, "Countdown (exam): 9:00:00 left until 2025-03-10 18:00")

	c := newContext(42, "/pause")
	require.NoError(t, h.handler.Pause(c))
	notPausable, _ := presenter.ErrorText(session.ErrNotPausable)
	assert.Equal(t, notPausable, c.LastSent())
}

func TestSessionHandler_NewSessionReplacesOld(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.handler.Stopwatch(newContext(42, "/stopwatch")))
	h.waitEdit(t, 1, "Stopwatch: 00:00")

	require.NoError(t, h.handler.Countdown(newContext(42, "/countdown 10")))

	assert.Equal(t, "Stopwatch: stopped at 00:00.", h.messenger.LastEdit(1))
	h.waitEdit(t, 2, "Countdown: 10:00 left")

	snap, err := h.manager.Status("42")
	require.NoError(t, err)
	assert.Equal(t, "countdown", snap.Kind)
}

func TestSessionHandler_PomodoroStartsBreak(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.handler.Pomodoro(newContext(42, "/pomodoro 1 2")))
	work := h.nextTicker(t)
	h.waitEdit(t, 1, "Pomodoro focus: 01:00 left")

	h.clock.Advance(time.Minute)
	work.tick(h.clock.Now())

	h.waitEdit(t, 1, "Pomodoro focus: time's up! 1m of focused time.")

	brk := h.nextTicker(t)
	require.Eventually(t, func() bool {
		snap, err := h.manager.Status("42")
		return err == nil && snap.Kind == presenter.KindPomodoroBreak
	}, 2*time.Second, 5*time.Millisecond)
	assert.Contains(t, h.messenger.Sent(), "Focus block done. Take a 2m break.")
	h.waitEdit(t, 2, "Pomodoro break: 02:00 left")

	h.clock.Advance(2 * time.Minute)
	brk.tick(h.clock.Now())

	require.Eventually(t, func() bool {
		sent := h.messenger.Sent()
		return len(sent) > 0 && sent[len(sent)-1] == presenter.BreakOver
	}, 2*time.Second, 5*time.Millisecond)
	assert.Zero(t, h.manager.Count())
}

func TestSessionHandler_BreakYieldsToSessionStartedMeanwhile(t *testing.T) {
	h := newHarness(t)

	// A /stopwatch arrives while the break message is on its way.
	h.messenger.onSend = func(text string) {
		if text == presenter.BreakStarting(2*time.Minute) {
			assert.NoError(t, h.handler.Stopwatch(newContext(42, "/stopwatch Physics")))
		}
	}

	require.NoError(t, h.handler.Pomodoro(newContext(42, "/pomodoro 1 2")))
	work := h.nextTicker(t)
	h.waitEdit(t, 1, "Pomodoro focus: 01:00 left")

	h.clock.Advance(time.Minute)
	work.tick(h.clock.Now())

	h.waitEdit(t, 2, presenter.BreakSkipped)
	snap, err := h.manager.Status("42")
	require.NoError(t, err)
	assert.Equal(t, session.ModeCountUp, snap.Mode)
	assert.Equal(t, 1, h.manager.Count())
}

func TestSessionHandler_Expired(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.handler.Stopwatch(newContext(42, "/stopwatch Physics")))
	snap, err := h.manager.Status("42")
	require.NoError(t, err)

	h.clock.Advance(13 * time.Hour)
	final, err := h.manager.Expire("42", snap.ID)
	require.NoError(t, err)

	h.handler.Expired(context.Background(), final)

	assert.Equal(t, "Stopwatch (physics): stopped at 13:00:00.", h.messenger.LastEdit(1))
	assert.Contains(t, h.messenger.Sent(),
		"Stopwatch (physics) ran for more than 12h 00m, so I stopped it. Forgotten stopwatches are not counted on the board.")
}
