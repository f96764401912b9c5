package presenter

import (
	"fmt"
	"strings"
	"time"

	"github.com/alem-hub/study-buddy/internal/application/command"
	"github.com/alem-hub/study-buddy/internal/application/query"
	"github.com/alem-hub/study-buddy/internal/domain/session"
	"github.com/alem-hub/study-buddy/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// STREAKS, STATS AND THE STUDY BOARD
// ══════════════════════════════════════════════════════════════════════════════

func days(n int) string {
	if n == 1 {
		return "1 day"
	}
	return fmt.Sprintf("%d days", n)
}

// CheckIn answers /checkin.
func CheckIn(res *command.CheckInResult) string {
	var sb strings.Builder
	switch {
	case res.Restarted:
		sb.WriteString("Checked in. Your streak starts over: 1 day.")
	case res.Current == 1:
		sb.WriteString("Checked in. Day 1 of your streak!")
	default:
		fmt.Fprintf(&sb, "Checked in. Streak: %s.", days(res.Current))
	}
	fmt.Fprintf(&sb, "\nLongest: %s. Check-ins: %d.", days(res.Longest), res.Total)
	return sb.String()
}

// Streak answers /streak.
func Streak(v query.StreakView) string {
	if v.Total == 0 {
		return "No check-ins yet. Send /checkin to start a streak."
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Current streak: %s.\nLongest: %s. Check-ins: %d.", days(v.Current), days(v.Longest), v.Total)
	if !v.CheckedInToday {
		sb.WriteString("\nYou have not checked in today yet: /checkin")
	}
	return sb.String()
}

// Stats answers /stats.
func Stats(s *query.StudyStats) string {
	var sb strings.Builder

	sb.WriteString("Today: ")
	switch {
	case !s.BoardEnabled:
		sb.WriteString("board disabled")
	case s.TodayMinutes == 0:
		sb.WriteString("nothing on the board yet")
	default:
		fmt.Fprintf(&sb, "%s, #%d on the board", minutes(s.TodayMinutes), s.TodayRank)
	}

	fmt.Fprintf(&sb, "\nLast 7 days: %s", timeutil.FormatMinutes(s.WeekTotal))
	for _, t := range s.Week {
		fmt.Fprintf(&sb, "\n  %s: %s in %d", Title(t.Kind), timeutil.FormatMinutes(t.Studied), t.Sessions)
		if t.Sessions == 1 {
			sb.WriteString(" session")
		} else {
			sb.WriteString(" sessions")
		}
	}

	fmt.Fprintf(&sb, "\nStreak: %s (longest %s)", days(s.Streak.Current), days(s.Streak.Longest))
	return sb.String()
}

// Board answers /top. Owners other than viewer are not named.
func Board(v *query.StudyBoardView, viewer session.Owner) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Study board for %s", v.Day)
	if v.StudyingNow > 0 {
		fmt.Fprintf(&sb, " (%d studying now)", v.StudyingNow)
	}

	if len(v.Entries) == 0 {
		sb.WriteString("\nNobody has logged study time today. Be the first!")
		return sb.String()
	}

	for i, e := range v.Entries {
		fmt.Fprintf(&sb, "\n%d. %s", i+1, minutes(e.Minutes))
		if e.Owner == viewer {
			sb.WriteString(" (you)")
		}
	}
	return sb.String()
}

func minutes(m int64) string {
	return timeutil.FormatMinutes(time.Duration(m) * time.Minute)
}
