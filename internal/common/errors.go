// Package common provides shared utilities and types used across the application.
package common

import (
	"errors"
	"fmt"
)

// Common application errors.
var (
	// Engine errors.
	ErrInsufficientSignal = errors.New("description has no usable tokens")
	ErrOwnerMismatch      = errors.New("owner mismatch")

	// Database errors.
	ErrNotFound            = errors.New("not found")
	ErrPersistenceConflict = errors.New("persistence conflict")

	// Configuration errors.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// UserError represents an error that should be shown to the user.
type UserError struct {
	Err         error
	UserMessage string
}

func (e *UserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.UserMessage, e.Err)
	}
	return e.UserMessage
}

func (e *UserError) Unwrap() error {
	return e.Err
}

// NewUserError creates a new user-friendly error.
func NewUserError(userMessage string, err error) error {
	return &UserError{
		UserMessage: userMessage,
		Err:         err,
	}
}

// OwnerMismatchError reports an attempt to read or write across owners.
// It always indicates a caller bug.
func OwnerMismatchError(want, got int64, what string) error {
	return fmt.Errorf("%w: %s belongs to owner %d, expected %d", ErrOwnerMismatch, what, got, want)
}

// IsFatal reports whether an error must abort a batch instead of being isolated.
func IsFatal(err error) bool {
	return errors.Is(err, ErrOwnerMismatch)
}
