// Package shared holds the error kinds and event plumbing shared by the
// session and streak domains. It has no dependencies outside the standard
// library.
package shared

import (
	"errors"
	"fmt"
)

// Error kinds. Every DomainError carries one of them, and callers branch on
// the kind with errors.Is or the Is* helpers below.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")

	// Bad input: validation failures and missing or malformed arguments.
	ErrValidation   = errors.New("validation failed")
	ErrInvalidInput = errors.New("invalid input")
	ErrEmptyValue   = errors.New("empty value")

	// The operation does not fit the entity's current state.
	ErrInvalidState    = errors.New("invalid state")
	ErrStateTransition = errors.New("invalid state transition")

	// A backing service failed. Both are worth retrying.
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("timed out")
)

// DomainError is an error tagged with where it happened and its kind.
type DomainError struct {
	Domain  string // "session", "streak", "postgres", ...
	Op      string // "Pause", "Save", ...
	Kind    error
	Message string
	Err     error // cause, if any
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap exposes the cause, or the kind when there is none.
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is matches the kind as well as anything in the cause chain.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	return e.Err != nil && errors.Is(e.Err, target)
}

// NewDomainError creates an error without a cause, usually a package-level
// sentinel such as session.ErrNotFound.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{Domain: domain, Op: op, Kind: kind, Message: message}
}

// WrapError tags a lower-level error, typically from a driver, with a kind.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{Domain: domain, Op: op, Kind: kind, Message: message, Err: err}
}

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

func IsAlreadyExists(err error) bool { return errors.Is(err, ErrAlreadyExists) }

// IsValidation reports bad user or caller input of any flavour.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrEmptyValue)
}

// IsRetryable reports failures of a backing service that may succeed on a
// later attempt. Used as the retry filter for journal and streak writes.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrServiceUnavailable) || errors.Is(err, ErrTimeout)
}
