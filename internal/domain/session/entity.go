// Package session contains the timed study session aggregate: countdowns,
// Pomodoro intervals and stopwatches share one state machine.
//
// The entity is pure. Every method that depends on time takes the current
// instant explicitly so the owner of the clock (the timer manager) decides
// what "now" means.
package session

import (
	"time"

	"github.com/alem-hub/study-buddy/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE TYPES
// ══════════════════════════════════════════════════════════════════════════════

// Owner identifies who a session belongs to (a chat, in the bot).
// At most one live session exists per owner.
type Owner string

// String implements fmt.Stringer.
func (o Owner) String() string { return string(o) }

// Mode selects how time is presented.
type Mode string

const (
	// ModeCountUp is a stopwatch: elapsed time grows until stopped.
	ModeCountUp Mode = "COUNT_UP"

	// ModeCountDown counts towards a deadline or a fixed duration and completes at zero.
	ModeCountDown Mode = "COUNT_DOWN"
)

// IsValid reports whether the mode is known.
func (m Mode) IsValid() bool {
	return m == ModeCountUp || m == ModeCountDown
}

// Status is the lifecycle state of a session.
type Status string

const (
	StatusRunning   Status = "RUNNING"
	StatusPaused    Status = "PAUSED"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Target is what a countdown counts towards: exactly one of Duration or Deadline.
// Count-up sessions carry the zero Target.
type Target struct {
	Duration time.Duration
	Deadline time.Time
}

// ForDuration returns a duration target.
func ForDuration(d time.Duration) Target {
	return Target{Duration: d}
}

// ForDeadline returns an absolute deadline target.
func ForDeadline(t time.Time) Target {
	return Target{Deadline: t}
}

// IsZero reports whether no target was set.
func (t Target) IsZero() bool {
	return t.Duration == 0 && t.Deadline.IsZero()
}

// IsDeadline reports whether the target is an absolute instant.
func (t Target) IsDeadline() bool {
	return !t.Deadline.IsZero()
}

// ══════════════════════════════════════════════════════════════════════════════
// SESSION ENTITY
// ══════════════════════════════════════════════════════════════════════════════

// Session is one tracked span of study time.
type Session struct {
	ID     string
	Owner  Owner
	Kind   string
	Mode   Mode
	Target Target

	// AnchorTime is the instant elapsed time is measured from.
	AnchorTime time.Time

	// AccumulatedPause is the total time spent paused so far.
	AccumulatedPause time.Duration

	// Paused mirrors Status == StatusPaused; PausedAt is valid only while paused.
	Paused   bool
	PausedAt time.Time

	Status  Status
	EndedAt time.Time

	// RenderRef is an opaque handle to the output the session keeps updating
	// (for the bot, the Telegram message being edited).
	RenderRef any
}

// New validates the request and returns a running session anchored at now.
func New(id string, owner Owner, kind string, mode Mode, target Target, now time.Time, renderRef any) (*Session, error) {
	if owner == "" {
		return nil, ErrEmptyOwner
	}
	if !mode.IsValid() {
		return nil, ErrInvalidMode
	}
	if err := validateTarget(mode, target, now); err != nil {
		return nil, err
	}

	return &Session{
		ID:         id,
		Owner:      owner,
		Kind:       kind,
		Mode:       mode,
		Target:     target,
		AnchorTime: now,
		Status:     StatusRunning,
		RenderRef:  renderRef,
	}, nil
}

func validateTarget(mode Mode, target Target, now time.Time) error {
	if mode == ModeCountUp {
		if !target.IsZero() {
			return ErrInvalidTarget
		}
		return nil
	}

	switch {
	case target.IsZero():
		return ErrInvalidTarget
	case target.Duration != 0 && target.IsDeadline():
		return ErrInvalidTarget
	case target.IsDeadline() && !target.Deadline.After(now):
		return ErrInvalidTarget
	case !target.IsDeadline() && target.Duration <= 0:
		return ErrInvalidTarget
	}
	return nil
}

// reference returns the instant time calculations are frozen at.
func (s *Session) reference(now time.Time) time.Time {
	switch {
	case s.Status.IsTerminal():
		return s.EndedAt
	case s.Paused:
		return s.PausedAt
	default:
		return now
	}
}

// Elapsed returns the active (unpaused) time since the anchor.
func (s *Session) Elapsed(now time.Time) time.Duration {
	elapsed := s.reference(now).Sub(s.AnchorTime) - s.AccumulatedPause
	if elapsed < 0 {
		return 0
	}
	return elapsed
}

// Remaining returns the time left for a countdown, clamped to zero.
// Count-up sessions always report zero.
func (s *Session) Remaining(now time.Time) time.Duration {
	if s.Mode != ModeCountDown {
		return 0
	}

	var remaining time.Duration
	if s.Target.IsDeadline() {
		remaining = s.Target.Deadline.Sub(s.reference(now))
	} else {
		remaining = s.Target.Duration - s.Elapsed(now)
	}
	if remaining < 0 {
		return 0
	}
	return remaining
}

// IsDue reports whether a running countdown has reached zero.
func (s *Session) IsDue(now time.Time) bool {
	return s.Status == StatusRunning && s.Mode == ModeCountDown && s.Remaining(now) == 0
}

// Pause freezes the session at now.
func (s *Session) Pause(now time.Time) error {
	switch {
	case s.Status.IsTerminal():
		return ErrAlreadyEnded
	case s.Paused:
		return ErrAlreadyPaused
	case s.Mode == ModeCountDown && s.Target.IsDeadline():
		return ErrNotPausable
	}

	s.Paused = true
	s.PausedAt = now
	s.Status = StatusPaused
	return nil
}

// Resume folds the paused span into AccumulatedPause and continues.
func (s *Session) Resume(now time.Time) error {
	switch {
	case s.Status.IsTerminal():
		return ErrAlreadyEnded
	case !s.Paused:
		return ErrNotPaused
	}

	s.AccumulatedPause += now.Sub(s.PausedAt)
	s.Paused = false
	s.PausedAt = time.Time{}
	s.Status = StatusRunning
	return nil
}

// Complete marks a countdown as finished.
func (s *Session) Complete(now time.Time) error {
	if s.Status.IsTerminal() {
		return ErrAlreadyEnded
	}
	s.end(now, StatusCompleted)
	return nil
}

// Cancel ends the session early.
func (s *Session) Cancel(now time.Time) error {
	if s.Status.IsTerminal() {
		return ErrAlreadyEnded
	}
	s.end(now, StatusCancelled)
	return nil
}

func (s *Session) end(now time.Time, status Status) {
	if s.Paused {
		// Freeze at the pause instant so time spent paused is not counted.
		s.AccumulatedPause += now.Sub(s.PausedAt)
		s.Paused = false
		s.PausedAt = time.Time{}
	}
	s.EndedAt = now
	s.Status = status
}

// Snapshot returns a read-only view of the session at now.
func (s *Session) Snapshot(now time.Time) Snapshot {
	return Snapshot{
		ID:        s.ID,
		Owner:     s.Owner,
		Kind:      s.Kind,
		Mode:      s.Mode,
		Status:    s.Status,
		Paused:    s.Paused,
		Elapsed:   s.Elapsed(now),
		Remaining: s.Remaining(now),
		StartedAt: s.AnchorTime,
		Deadline:  s.Target.Deadline,
		RenderRef: s.RenderRef,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// SNAPSHOT
// ══════════════════════════════════════════════════════════════════════════════

// Snapshot is the immutable view handed to renderers and callers.
type Snapshot struct {
	ID        string
	Owner     Owner
	Kind      string
	Mode      Mode
	Status    Status
	Paused    bool
	Elapsed   time.Duration
	Remaining time.Duration
	StartedAt time.Time
	Deadline  time.Time
	RenderRef any
}

// IsTerminal reports whether the snapshot is of an ended session.
func (s Snapshot) IsTerminal() bool {
	return s.Status.IsTerminal()
}

// Shown returns the duration a clock face should display:
// remaining for countdowns, elapsed for stopwatches.
func (s Snapshot) Shown() time.Duration {
	if s.Mode == ModeCountDown {
		return s.Remaining
	}
	return s.Elapsed
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

// Session domain errors.
var (
	ErrNotFound      = shared.NewDomainError("session", "Find", shared.ErrNotFound, "no active session")
	ErrAlreadyPaused = shared.NewDomainError("session", "Pause", shared.ErrInvalidState, "session already paused")
	ErrNotPaused     = shared.NewDomainError("session", "Resume", shared.ErrInvalidState, "session is not paused")
	ErrNotPausable   = shared.NewDomainError("session", "Pause", shared.ErrInvalidState, "deadline countdowns cannot be paused")
	ErrAlreadyEnded  = shared.NewDomainError("session", "End", shared.ErrStateTransition, "session already ended")
	ErrInvalidTarget = shared.NewDomainError("session", "Start", shared.ErrValidation, "countdown needs a positive duration or a future deadline")
	ErrInvalidMode   = shared.NewDomainError("session", "Start", shared.ErrInvalidInput, "unknown session mode")
	ErrEmptyOwner    = shared.NewDomainError("session", "Start", shared.ErrEmptyValue, "owner is required")
	ErrNoRenderer    = shared.NewDomainError("session", "Start", shared.ErrInvalidInput, "render function is required")
)
