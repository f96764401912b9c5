package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alem-hub/study-buddy/internal/domain/session"
	"github.com/alem-hub/study-buddy/internal/domain/shared"
	"github.com/alem-hub/study-buddy/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET STUDY BOARD QUERY
// ══════════════════════════════════════════════════════════════════════════════

// ErrBoardDisabled is returned when Redis is not configured.
var ErrBoardDisabled = shared.NewDomainError("query", "GetStudyBoard", shared.ErrServiceUnavailable, "study board is disabled")

const (
	DefaultBoardSize = 10
	MaxBoardSize     = 50
)

// StudyBoardView is today's board.
type StudyBoardView struct {
	Day         string
	Entries     []session.BoardEntry
	StudyingNow int
}

// GetStudyBoardHandler reads today's top owners.
type GetStudyBoardHandler struct {
	board session.StudyBoard
	loc   *time.Location
	now   func() time.Time
}

// NewGetStudyBoardHandler creates the handler. board may be nil, in which
// case Handle returns ErrBoardDisabled.
func NewGetStudyBoardHandler(board session.StudyBoard, loc *time.Location) *GetStudyBoardHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &GetStudyBoardHandler{board: board, loc: loc, now: time.Now}
}

// WithClock replaces the time source.
func (h *GetStudyBoardHandler) WithClock(now func() time.Time) *GetStudyBoardHandler {
	h.now = now
	return h
}

// Handle returns up to n entries; n outside 1..MaxBoardSize falls back to DefaultBoardSize.
func (h *GetStudyBoardHandler) Handle(ctx context.Context, n int) (*StudyBoardView, error) {
	if h.board == nil {
		return nil, ErrBoardDisabled
	}
	if n <= 0 || n > MaxBoardSize {
		n = DefaultBoardSize
	}

	day := timeutil.DayKey(h.now(), h.loc)
	entries, err := h.board.Top(ctx, day, n)
	if err != nil {
		return nil, fmt.Errorf("get_study_board: top: %w", err)
	}

	studying, err := h.board.StudyingNow(ctx)
	if err != nil {
		return nil, fmt.Errorf("get_study_board: studying now: %w", err)
	}

	return &StudyBoardView{Day: day, Entries: entries, StudyingNow: len(studying)}, nil
}

// IsBoardDisabled reports whether err comes from a disabled board.
func IsBoardDisabled(err error) bool {
	return errors.Is(err, ErrBoardDisabled)
}
