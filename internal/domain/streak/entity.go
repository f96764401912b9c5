// Package streak tracks daily check-ins. A streak counts consecutive calendar
// days with a check-in; the calendar is evaluated in a configured timezone.
package streak

import (
	"context"
	"time"

	"github.com/alem-hub/study-buddy/internal/domain/session"
	"github.com/alem-hub/study-buddy/internal/domain/shared"
	"github.com/alem-hub/study-buddy/pkg/timeutil"
)

// Streak domain errors.
var (
	ErrAlreadyCheckedIn = shared.NewDomainError("streak", "CheckIn", shared.ErrAlreadyExists, "already checked in today")
	ErrNotFound         = shared.NewDomainError("streak", "Find", shared.ErrNotFound, "streak not found")
)

// Streak is one owner's check-in record.
type Streak struct {
	Owner       session.Owner
	Current     int
	Longest     int
	Total       int
	LastCheckIn time.Time
	UpdatedAt   time.Time
}

// New returns an empty streak for owner.
func New(owner session.Owner) *Streak {
	return &Streak{Owner: owner}
}

// CheckIn records a check-in at now. Checking in twice on the same day
// returns ErrAlreadyCheckedIn and changes nothing.
func (s *Streak) CheckIn(now time.Time, loc *time.Location) error {
	if !s.LastCheckIn.IsZero() {
		switch days := timeutil.DaysBetween(s.LastCheckIn, now, loc); {
		case days <= 0:
			return ErrAlreadyCheckedIn
		case days == 1:
			s.Current++
		default:
			s.Current = 1
		}
	} else {
		s.Current = 1
	}

	if s.Current > s.Longest {
		s.Longest = s.Current
	}
	s.Total++
	s.LastCheckIn = now
	s.UpdatedAt = now
	return nil
}

// CheckedInToday reports whether the last check-in was on now's calendar day.
func (s *Streak) CheckedInToday(now time.Time, loc *time.Location) bool {
	return !s.LastCheckIn.IsZero() && timeutil.IsSameDay(s.LastCheckIn, now, loc)
}

// IsBroken reports whether the streak lapsed: no check-in today or yesterday.
func (s *Streak) IsBroken(now time.Time, loc *time.Location) bool {
	if s.LastCheckIn.IsZero() {
		return true
	}
	return timeutil.DaysBetween(s.LastCheckIn, now, loc) > 1
}

// Effective returns the current streak as seen at now: zero once it lapsed.
func (s *Streak) Effective(now time.Time, loc *time.Location) int {
	if s.IsBroken(now, loc) {
		return 0
	}
	return s.Current
}

// Repository persists streaks.
type Repository interface {
	// Get returns ErrNotFound when the owner never checked in.
	Get(ctx context.Context, owner session.Owner) (*Streak, error)

	// Save inserts or replaces the owner's streak.
	Save(ctx context.Context, s *Streak) error
}
