package presenter

import (
	"errors"

	"github.com/alem-hub/study-buddy/internal/application/query"
	"github.com/alem-hub/study-buddy/internal/application/timer"
	"github.com/alem-hub/study-buddy/internal/domain/session"
	"github.com/alem-hub/study-buddy/internal/domain/shared"
	"github.com/alem-hub/study-buddy/internal/domain/streak"
)

// GenericError is shown for failures the user cannot act on.
const GenericError = "Something went wrong on my side. Please try again in a minute."

// StorageError is shown while a store is failing transiently.
const StorageError = "I cannot reach my storage right now. Please try again in a minute."

var errorTexts = []struct {
	err  error
	text string
}{
	{session.ErrNotFound, "No active session. Start one with /countdown, /pomodoro or /stopwatch."},
	{session.ErrAlreadyPaused, "The session is already paused. Send /resume to continue."},
	{session.ErrNotPaused, "The session is not paused."},
	{session.ErrNotPausable, "Countdowns to a fixed date cannot be paused: the date does not move."},
	{session.ErrAlreadyEnded, "That session has already ended."},
	{session.ErrInvalidTarget, "A countdown needs a positive number of minutes or a date in the future."},
	{streak.ErrAlreadyCheckedIn, "You have already checked in today. Come back tomorrow!"},
	{query.ErrBoardDisabled, "The study board is not enabled on this bot."},
	{timer.ErrManagerClosed, "I am restarting right now. Try again in a minute."},
	{timer.ErrOwnerBusy, "You already have a running session. Send /stop first."},
}

// kindTexts answer errors no entry above names, by their kind.
var kindTexts = []struct {
	is   func(error) bool
	text string
}{
	{shared.IsValidation, "That does not look right. Check the command and try again."},
	{shared.IsNotFound, "I could not find that."},
	{shared.IsAlreadyExists, "That is already done."},
}

// ErrorText maps a known error to the message shown to the user. ok is
// false for unexpected errors, which get StorageError when a store is
// failing and GenericError otherwise.
func ErrorText(err error) (text string, ok bool) {
	for _, e := range errorTexts {
		if errors.Is(err, e.err) {
			return e.text, true
		}
	}
	for _, k := range kindTexts {
		if k.is(err) {
			return k.text, true
		}
	}
	if shared.IsRetryable(err) {
		return StorageError, false
	}
	return GenericError, false
}
