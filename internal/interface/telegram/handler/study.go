package handler

import (
	"context"
	"log/slog"

	tele "gopkg.in/telebot.v3"

	"github.com/alem-hub/study-buddy/internal/application/command"
	"github.com/alem-hub/study-buddy/internal/application/query"
	"github.com/alem-hub/study-buddy/internal/interface/telegram/presenter"
	"github.com/alem-hub/study-buddy/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// STUDY HANDLER
// /checkin, /streak, /stats and /top.
// ══════════════════════════════════════════════════════════════════════════════

// StudyHandler maps streak and statistics commands to the application layer.
type StudyHandler struct {
	checkIn *command.CheckInHandler
	streak  *query.GetStreakHandler
	stats   *query.GetStudyStatsHandler
	board   *query.GetStudyBoardHandler
	logger  *slog.Logger
}

// NewStudyHandler creates a StudyHandler.
func NewStudyHandler(
	checkIn *command.CheckInHandler,
	streak *query.GetStreakHandler,
	stats *query.GetStudyStatsHandler,
	board *query.GetStudyBoardHandler,
	log *slog.Logger,
) *StudyHandler {
	if log == nil {
		log = slog.Default()
	}
	return &StudyHandler{
		checkIn: checkIn,
		streak:  streak,
		stats:   stats,
		board:   board,
		logger:  log.With(logger.Component("study_handler")),
	}
}

// CheckIn handles /checkin.
func (h *StudyHandler) CheckIn(c tele.Context) error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	res, err := h.checkIn.Handle(ctx, ownerOf(c))
	if err != nil {
		return reply(c, h.logger, err)
	}
	return c.Send(presenter.CheckIn(res))
}

// Streak handles /streak.
func (h *StudyHandler) Streak(c tele.Context) error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	view, err := h.streak.Handle(ctx, ownerOf(c))
	if err != nil {
		return reply(c, h.logger, err)
	}
	return c.Send(presenter.Streak(view))
}

// Stats handles /stats.
func (h *StudyHandler) Stats(c tele.Context) error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	stats, err := h.stats.Handle(ctx, ownerOf(c))
	if err != nil {
		return reply(c, h.logger, err)
	}
	return c.Send(presenter.Stats(stats))
}

// Top handles /top [n].
func (h *StudyHandler) Top(c tele.Context) error {
	n, err := ParseTop(c.Message().Payload)
	if err != nil {
		return reply(c, h.logger, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	view, err := h.board.Handle(ctx, n)
	if err != nil {
		return reply(c, h.logger, err)
	}
	return c.Send(presenter.Board(view, ownerOf(c)))
}
