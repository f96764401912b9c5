package handler

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/alem-hub/study-buddy/internal/domain/session"
	"github.com/alem-hub/study-buddy/internal/interface/telegram/presenter"
	"github.com/alem-hub/study-buddy/pkg/timeutil"
)

// Usage lines shown with argument errors.
const (
	CountdownUsage = "Usage: /countdown <minutes> [label] or /countdown <YYYY-MM-DD> [HH:MM] [label]"
	PomodoroUsage  = "Usage: /pomodoro [focus minutes] [break minutes]"
	TopUsage       = "Usage: /top [how many]"
)

// maxPomodoroBlock caps a single focus or break block.
const maxPomodoroBlock = 4 * time.Hour

// UsageError is a malformed command. Its text goes to the user as is.
type UsageError struct {
	Reason string
	Usage  string
}

func (e *UsageError) Error() string {
	if e.Reason == "" {
		return e.Usage
	}
	return e.Reason + "\n" + e.Usage
}

func usage(u, format string, args ...any) *UsageError {
	return &UsageError{Reason: fmt.Sprintf(format, args...), Usage: u}
}

// CountdownArgs is a parsed /countdown.
type CountdownArgs struct {
	Kind   string
	Target session.Target
}

// ParseCountdown reads "<minutes|duration> [label]" or
// "<YYYY-MM-DD> [HH:MM] [label]". Deadlines are read in loc and must be in
// the future; limit bounds both forms when positive.
func ParseCountdown(payload string, now time.Time, loc *time.Location, limit time.Duration) (CountdownArgs, error) {
	fields := strings.Fields(payload)
	if len(fields) == 0 {
		return CountdownArgs{}, usage(CountdownUsage, "Tell me how long, or until when.")
	}

	if d, ok := parseMinutes(fields[0]); ok {
		if d <= 0 {
			return CountdownArgs{}, usage(CountdownUsage, "The duration must be positive.")
		}
		if limit > 0 && d > limit {
			return CountdownArgs{}, usage(CountdownUsage, "That is longer than the limit of %s.", timeutil.FormatMinutes(limit))
		}
		return CountdownArgs{
			Kind:   presenter.Kind(presenter.KindCountdown, strings.Join(fields[1:], " ")),
			Target: session.ForDuration(d),
		}, nil
	}

	value, rest := fields[0], fields[1:]
	if len(rest) > 0 && isClock(rest[0]) {
		value += " " + rest[0]
		rest = rest[1:]
	}

	deadline, err := timeutil.ParseDeadline(value, loc)
	if err != nil {
		return CountdownArgs{}, usage(CountdownUsage, "I could not read %q as minutes or a date.", value)
	}
	if !deadline.After(now) {
		return CountdownArgs{}, usage(CountdownUsage, "That moment is already in the past.")
	}
	if limit > 0 && deadline.Sub(now) > limit {
		return CountdownArgs{}, usage(CountdownUsage, "That date is further away than the limit of %s.", timeutil.FormatMinutes(limit))
	}

	return CountdownArgs{
		Kind:   presenter.Kind(presenter.KindCountdown, strings.Join(rest, " ")),
		Target: session.ForDeadline(deadline),
	}, nil
}

// ParsePomodoro reads "[focus] [break]" in minutes, falling back to the defaults.
func ParsePomodoro(payload string, work, brk time.Duration) (time.Duration, time.Duration, error) {
	fields := strings.Fields(payload)
	if len(fields) > 2 {
		return 0, 0, usage(PomodoroUsage, "Too many arguments.")
	}

	out := []*time.Duration{&work, &brk}
	for i, f := range fields {
		d, ok := parseMinutes(f)
		if !ok || d <= 0 {
			return 0, 0, usage(PomodoroUsage, "%q is not a positive number of minutes.", f)
		}
		if d > maxPomodoroBlock {
			return 0, 0, usage(PomodoroUsage, "Keep blocks under %s.", timeutil.FormatMinutes(maxPomodoroBlock))
		}
		*out[i] = d
	}
	return work, brk, nil
}

// ParseTop reads the optional board size; 0 means the default.
func ParseTop(payload string) (int, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(payload)
	if err != nil || n <= 0 {
		return 0, usage(TopUsage, "%q is not a positive number.", payload)
	}
	return n, nil
}

// maxWholeMinutes is the largest minute count a time.Duration can hold.
const maxWholeMinutes = math.MaxInt64 / int64(time.Minute)

// parseMinutes accepts a bare number of minutes or a Go duration ("1h30m").
// Minute counts beyond the Duration range saturate instead of wrapping, so
// the callers' limits still reject them.
func parseMinutes(s string) (time.Duration, bool) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err == nil || errors.Is(err, strconv.ErrRange) {
		switch {
		case n > maxWholeMinutes:
			return math.MaxInt64, true
		case n < -maxWholeMinutes:
			return math.MinInt64, true
		}
		return time.Duration(n) * time.Minute, true
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d, true
	}
	return 0, false
}

func isClock(s string) bool {
	_, err := time.Parse("15:04", s)
	return err == nil
}
