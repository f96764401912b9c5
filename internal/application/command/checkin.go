// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alem-hub/study-buddy/internal/domain/session"
	"github.com/alem-hub/study-buddy/internal/domain/shared"
	"github.com/alem-hub/study-buddy/internal/domain/streak"
	"github.com/alem-hub/study-buddy/pkg/logger"
	"github.com/alem-hub/study-buddy/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// CHECK IN COMMAND
// Records today's check-in and extends or restarts the owner's streak.
// ══════════════════════════════════════════════════════════════════════════════

// CheckInResult is the streak after the check-in.
type CheckInResult struct {
	Current int
	Longest int
	Total   int

	// Restarted is true when a lapsed streak started over at 1.
	Restarted bool
}

// CheckInHandler handles daily check-ins.
type CheckInHandler struct {
	repo   streak.Repository
	loc    *time.Location
	now    func() time.Time
	retry  retry.Policy
	logger *slog.Logger
}

// NewCheckInHandler creates a CheckInHandler evaluating days in loc.
func NewCheckInHandler(repo streak.Repository, loc *time.Location, log *slog.Logger) *CheckInHandler {
	if loc == nil {
		loc = time.UTC
	}
	if log == nil {
		log = slog.Default()
	}
	return &CheckInHandler{
		repo:   repo,
		loc:    loc,
		now:    time.Now,
		retry:  savePolicy(),
		logger: log.With(logger.Component("checkin")),
	}
}

// savePolicy retries streak writes only on transient store failures.
func savePolicy() retry.Policy {
	p := retry.DatabasePolicy()
	p.RetryIf = shared.IsRetryable
	return p
}

// WithClock replaces the time source.
func (h *CheckInHandler) WithClock(now func() time.Time) *CheckInHandler {
	h.now = now
	return h
}

// Handle executes the check-in. A second check-in on the same day returns
// streak.ErrAlreadyCheckedIn.
func (h *CheckInHandler) Handle(ctx context.Context, owner session.Owner) (*CheckInResult, error) {
	if owner == "" {
		return nil, session.ErrEmptyOwner
	}

	s, err := h.repo.Get(ctx, owner)
	switch {
	case errors.Is(err, streak.ErrNotFound):
		s = streak.New(owner)
	case err != nil:
		return nil, fmt.Errorf("checkin: load streak: %w", err)
	}

	now := h.now()
	previous := s.Current
	if err := s.CheckIn(now, h.loc); err != nil {
		return nil, err
	}

	err = h.retry.Do(ctx, func(ctx context.Context) error {
		return h.repo.Save(ctx, s)
	})
	if err != nil {
		return nil, fmt.Errorf("checkin: save streak: %w", err)
	}

	h.logger.Info("checked in",
		logger.Owner(string(owner)),
		"current", s.Current,
		"longest", s.Longest,
	)

	return &CheckInResult{
		Current:   s.Current,
		Longest:   s.Longest,
		Total:     s.Total,
		Restarted: previous > 0 && s.Current == 1,
	}, nil
}
