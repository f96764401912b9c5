package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v3"

	"github.com/alem-hub/study-buddy/internal/application/timer"
	"github.com/alem-hub/study-buddy/internal/domain/session"
	"github.com/alem-hub/study-buddy/internal/interface/telegram/presenter"
	"github.com/alem-hub/study-buddy/pkg/logger"
)

// requestTimeout bounds the application calls of one command.
const requestTimeout = 10 * time.Second

// SessionManager is the part of timer.Manager the handlers use.
type SessionManager interface {
	Start(req timer.StartRequest) (session.Snapshot, error)
	Pause(owner session.Owner) (session.Snapshot, error)
	Resume(owner session.Owner) (session.Snapshot, error)
	Stop(owner session.Owner) (session.Snapshot, error)
	Status(owner session.Owner) (session.Snapshot, error)
}

// SessionConfig holds per-kind session settings.
type SessionConfig struct {
	CountdownTick   time.Duration
	StopwatchTick   time.Duration
	PomodoroWork    time.Duration
	PomodoroBreak   time.Duration
	MaxCountdown    time.Duration
	MaxStopwatchAge time.Duration

	// Location is used to read and show deadlines.
	Location *time.Location
}

// DefaultSessionConfig returns the production defaults.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		CountdownTick:   time.Second,
		StopwatchTick:   20 * time.Second,
		PomodoroWork:    25 * time.Minute,
		PomodoroBreak:   5 * time.Minute,
		MaxCountdown:    365 * 24 * time.Hour,
		MaxStopwatchAge: 12 * time.Hour,
		Location:        time.UTC,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// SESSION HANDLER
// /countdown, /pomodoro, /stopwatch, /pause, /resume, /stop and /status.
// The owner of a session is the chat it was started in.
// ══════════════════════════════════════════════════════════════════════════════

// SessionHandler maps session commands to the manager.
type SessionHandler struct {
	sessions  SessionManager
	messenger Messenger
	renderer  *Renderer
	config    SessionConfig
	logger    *slog.Logger
	now       func() time.Time
}

// NewSessionHandler creates a SessionHandler.
func NewSessionHandler(
	sessions SessionManager,
	messenger Messenger,
	config SessionConfig,
	log *slog.Logger,
) *SessionHandler {
	defaults := DefaultSessionConfig()
	if config.CountdownTick <= 0 {
		config.CountdownTick = defaults.CountdownTick
	}
	if config.StopwatchTick <= 0 {
		config.StopwatchTick = defaults.StopwatchTick
	}
	if config.PomodoroWork <= 0 {
		config.PomodoroWork = defaults.PomodoroWork
	}
	if config.PomodoroBreak <= 0 {
		config.PomodoroBreak = defaults.PomodoroBreak
	}
	if config.MaxCountdown <= 0 {
		config.MaxCountdown = defaults.MaxCountdown
	}
	if config.MaxStopwatchAge <= 0 {
		config.MaxStopwatchAge = defaults.MaxStopwatchAge
	}
	if config.Location == nil {
		config.Location = time.UTC
	}
	if log == nil {
		log = slog.Default()
	}

	return &SessionHandler{
		sessions:  sessions,
		messenger: messenger,
		renderer:  NewRenderer(messenger, config.Location),
		config:    config,
		logger:    log.With(logger.Component("session_handler")),
		now:       time.Now,
	}
}

// WithClock replaces the time source used to validate deadlines.
func (h *SessionHandler) WithClock(now func() time.Time) *SessionHandler {
	h.now = now
	return h
}

// Renderer returns the renderer sessions started by this handler use.
func (h *SessionHandler) Renderer() *Renderer {
	return h.renderer
}

// Countdown handles /countdown <minutes|date> [label].
func (h *SessionHandler) Countdown(c tele.Context) error {
	args, err := ParseCountdown(c.Message().Payload, h.now(), h.config.Location, h.config.MaxCountdown)
	if err != nil {
		return reply(c, h.logger, err)
	}

	return h.start(c, timer.StartRequest{
		Kind:   args.Kind,
		Mode:   session.ModeCountDown,
		Target: args.Target,
		Tick:   h.config.CountdownTick,
	})
}

// Pomodoro handles /pomodoro [focus] [break]. When the focus block completes
// a break session starts in a new message.
func (h *SessionHandler) Pomodoro(c tele.Context) error {
	work, brk, err := ParsePomodoro(c.Message().Payload, h.config.PomodoroWork, h.config.PomodoroBreak)
	if err != nil {
		return reply(c, h.logger, err)
	}

	chat := c.Chat()
	owner := ownerOf(c)
	return h.start(c, timer.StartRequest{
		Kind:   presenter.KindPomodoroWork,
		Mode:   session.ModeCountDown,
		Target: session.ForDuration(work),
		Tick:   h.config.CountdownTick,
		OnComplete: func(session.Snapshot) {
			h.startBreak(chat, owner, brk)
		},
	})
}

// Stopwatch handles /stopwatch [subject].
func (h *SessionHandler) Stopwatch(c tele.Context) error {
	return h.start(c, timer.StartRequest{
		Kind: presenter.Kind(presenter.KindStopwatch, c.Message().Payload),
		Mode: session.ModeCountUp,
		Tick: h.config.StopwatchTick,
	})
}

// Pause handles /pause.
func (h *SessionHandler) Pause(c tele.Context) error {
	snap, err := h.sessions.Pause(ownerOf(c))
	if err != nil {
		return reply(c, h.logger, err)
	}
	return c.Send(presenter.Paused(snap))
}

// Resume handles /resume.
func (h *SessionHandler) Resume(c tele.Context) error {
	snap, err := h.sessions.Resume(ownerOf(c))
	if err != nil {
		return reply(c, h.logger, err)
	}
	return c.Send(presenter.Resumed(snap))
}

// Stop handles /stop. The live message gets its final text here, since the
// manager does not render a stopped session.
func (h *SessionHandler) Stop(c tele.Context) error {
	snap, err := h.sessions.Stop(ownerOf(c))
	if err != nil {
		return reply(c, h.logger, err)
	}

	h.finish(snap)
	return c.Send(presenter.Stopped(snap))
}

// Status handles /status.
func (h *SessionHandler) Status(c tele.Context) error {
	snap, err := h.sessions.Status(ownerOf(c))
	if err != nil {
		return reply(c, h.logger, err)
	}
	return c.Send(presenter.Snapshot(snap, h.config.Location))
}

// Expired finalizes a stopwatch stopped by the expiry job and tells its chat.
func (h *SessionHandler) Expired(_ context.Context, snap session.Snapshot) {
	h.finish(snap)

	msg, ok := snap.RenderRef.(*tele.Message)
	if !ok || msg == nil || msg.Chat == nil {
		return
	}
	if _, err := h.messenger.Send(msg.Chat, presenter.Expired(snap, h.config.MaxStopwatchAge)); err != nil {
		h.logger.Warn("send expiry notice failed", logger.Owner(string(snap.Owner)), logger.Err(err))
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// start sends the live message and starts the session rendering into it.
// A session it replaces gets its final text once the new one is running.
func (h *SessionHandler) start(c tele.Context, req timer.StartRequest) error {
	owner := ownerOf(c)
	prev, prevErr := h.sessions.Status(owner)

	msg, err := h.messenger.Send(c.Chat(), presenter.Starting(req.Kind))
	if err != nil {
		return fmt.Errorf("send session message: %w", err)
	}

	req.Owner = owner
	req.Render = h.renderer.Render
	req.RenderRef = msg
	if _, err := h.sessions.Start(req); err != nil {
		text, known := presenter.ErrorText(err)
		if !known {
			h.logger.Error("start session failed", logger.Owner(string(owner)), logger.Err(err))
		}
		if _, editErr := h.messenger.Edit(msg, text); editErr != nil {
			return fmt.Errorf("edit session message: %w", editErr)
		}
		return nil
	}

	if prevErr == nil {
		prev.Status = session.StatusCancelled
		h.finish(prev)
	}
	return nil
}

func (h *SessionHandler) startBreak(chat tele.Recipient, owner session.Owner, d time.Duration) {
	// The user may have started something else in the meantime.
	if _, err := h.sessions.Status(owner); err == nil {
		return
	}

	msg, err := h.messenger.Send(chat, presenter.BreakStarting(d))
	if err != nil {
		h.logger.Warn("send break message failed", logger.Owner(string(owner)), logger.Err(err))
		return
	}

	// IfIdle covers a session started while the message was in flight.
	_, err = h.sessions.Start(timer.StartRequest{
		IfIdle:    true,
		Owner:     owner,
		Kind:      presenter.KindPomodoroBreak,
		Mode:      session.ModeCountDown,
		Target:    session.ForDuration(d),
		Tick:      h.config.CountdownTick,
		Render:    h.renderer.Render,
		RenderRef: msg,
		OnComplete: func(session.Snapshot) {
			if _, err := h.messenger.Send(chat, presenter.BreakOver); err != nil {
				h.logger.Warn("send break over failed", logger.Owner(string(owner)), logger.Err(err))
			}
		},
	})
	switch {
	case err == nil:
	case errors.Is(err, timer.ErrOwnerBusy):
		if _, err := h.messenger.Edit(msg, presenter.BreakSkipped); err != nil {
			h.logger.Warn("edit skipped break failed", logger.Owner(string(owner)), logger.Err(err))
		}
	case !errors.Is(err, timer.ErrManagerClosed):
		h.logger.Error("start break failed", logger.Owner(string(owner)), logger.Err(err))
	}
}

// finish renders a terminal snapshot outside the session loop.
func (h *SessionHandler) finish(snap session.Snapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	if err := h.renderer.Render(ctx, snap); err != nil && !errors.Is(err, ErrNoMessage) {
		h.logger.Warn("final render failed",
			logger.Owner(string(snap.Owner)),
			logger.SessionID(snap.ID),
			logger.Err(err),
		)
	}
}

// ownerOf keys sessions, streaks and board entries by chat.
func ownerOf(c tele.Context) session.Owner {
	chat := c.Chat()
	if chat == nil {
		return ""
	}
	return session.Owner(strconv.FormatInt(chat.ID, 10))
}

// reply answers with the user-facing text for err. Usage errors and known
// domain errors are answered; anything else is logged as well.
func reply(c tele.Context, log *slog.Logger, err error) error {
	var ue *UsageError
	if errors.As(err, &ue) {
		return c.Send(ue.Error())
	}

	text, known := presenter.ErrorText(err)
	if !known {
		log.Error("command failed", logger.Command(commandName(c)), logger.Err(err))
	}
	return c.Send(text)
}

func commandName(c tele.Context) string {
	msg := c.Message()
	if msg == nil {
		return ""
	}
	cmd, _, _ := strings.Cut(msg.Text, " ")
	return cmd
}
