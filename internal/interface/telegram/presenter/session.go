// Package presenter formats sessions, streaks and boards as plain-text
// Telegram messages.
package presenter

import (
	"fmt"
	"strings"
	"time"

	"github.com/alem-hub/study-buddy/internal/domain/session"
	"github.com/alem-hub/study-buddy/pkg/timeutil"
)

// Session kinds created by the bot. Stopwatch and labelled countdown kinds
// carry a ":subject" suffix.
const (
	KindCountdown     = "countdown"
	KindStopwatch     = "stopwatch"
	KindPomodoroWork  = "pomodoro-work"
	KindPomodoroBreak = "pomodoro-break"
)

// deadlineLayout is how deadlines are echoed back to users.
const deadlineLayout = "2006-01-02 15:04"

// Kind joins a base kind and an optional subject.
func Kind(base, subject string) string {
	subject = strings.ToLower(strings.TrimSpace(subject))
	if subject == "" {
		return base
	}
	return base + ":" + subject
}

// Title returns the human name of a session kind.
func Title(kind string) string {
	base, subject, _ := strings.Cut(kind, ":")
	var title string
	switch base {
	case KindPomodoroWork:
		return "Pomodoro focus"
	case KindPomodoroBreak:
		return "Pomodoro break"
	case KindCountdown:
		title = "Countdown"
	case KindStopwatch:
		title = "Stopwatch"
	default:
		return kind
	}
	if subject != "" {
		title += " (" + subject + ")"
	}
	return title
}

// Starting is the placeholder sent before the first render.
func Starting(kind string) string {
	return Title(kind) + ": starting…"
}

// Snapshot renders the clock line for a session in any state.
func Snapshot(snap session.Snapshot, loc *time.Location) string {
	title := Title(snap.Kind)
	clock := timeutil.FormatClock(snap.Shown())

	switch snap.Status {
	case session.StatusCompleted:
		return fmt.Sprintf("%s: time's up! %s of focused time.", title, timeutil.FormatMinutes(snap.Elapsed))
	case session.StatusCancelled:
		return fmt.Sprintf("%s: stopped at %s.", title, clock)
	}

	var sb strings.Builder
	sb.WriteString(title)
	sb.WriteString(": ")
	sb.WriteString(clock)
	if snap.Mode == session.ModeCountDown {
		sb.WriteString(" left")
		if !snap.Deadline.IsZero() {
			if loc == nil {
				loc = time.UTC
			}
			sb.WriteString(" until ")
			sb.WriteString(snap.Deadline.In(loc).Format(deadlineLayout))
		}
	}
	if snap.Paused {
		sb.WriteString(" (paused)")
	}
	return sb.String()
}

// Paused answers /pause.
func Paused(snap session.Snapshot) string {
	return fmt.Sprintf("Paused at %s. Send /resume to continue.", timeutil.FormatClock(snap.Shown()))
}

// Resumed answers /resume.
func Resumed(snap session.Snapshot) string {
	return fmt.Sprintf("Resumed at %s.", timeutil.FormatClock(snap.Shown()))
}

// Stopped answers /stop.
func Stopped(snap session.Snapshot) string {
	return fmt.Sprintf("%s stopped after %s of study.", Title(snap.Kind), timeutil.FormatMinutes(snap.Elapsed))
}

// BreakStarting announces the automatic break after a Pomodoro focus block.
func BreakStarting(d time.Duration) string {
	return fmt.Sprintf("Focus block done. Take a %s break.", timeutil.FormatMinutes(d))
}

// BreakSkipped replaces the break message when another session got there first.
const BreakSkipped = "Focus block done. Break skipped: you already started something else."

// BreakOver closes a Pomodoro round.
const BreakOver = "Break is over. Send /pomodoro for another round."

// Expired tells the user a forgotten stopwatch was stopped.
func Expired(snap session.Snapshot, maxAge time.Duration) string {
	return fmt.Sprintf(
		"%s ran for more than %s, so I stopped it. Forgotten stopwatches are not counted on the board.",
		Title(snap.Kind), timeutil.FormatMinutes(maxAge),
	)
}
