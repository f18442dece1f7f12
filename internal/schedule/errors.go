package schedule

import (
	"errors"
	"fmt"
)

var (
	ErrProviderNotFound = errors.New("provider not found")
	ErrFacilityNotFound = errors.New("facility not found")
	ErrPatientNotFound  = errors.New("patient not found")
	ErrBookingNotFound  = errors.New("booking not found")
	ErrTemplateNotFound = errors.New("template not found")
	ErrClosureNotFound  = errors.New("closure not found")

	// ErrDuplicateBooking is returned by stores when an active booking already
	// holds the same provider, facility and scheduled time.
	ErrDuplicateBooking = errors.New("active booking already exists for this time")

	ErrLockNotAcquired = errors.New("reservation lock not acquired")
	// ErrLockUnavailable means the lock backend could not be reached. The
	// critical section did not run.
	ErrLockUnavailable = errors.New("reservation lock backend unavailable")

	ErrInvalidRecord = errors.New("invalid record")
)

// ValidationError describes a malformed template or closure record.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Msg)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidRecord
}

func invalid(field, msg string) error {
	return &ValidationError{Field: field, Msg: msg}
}
