package scheduling

import "errors"

var (
	// ErrInvalidInput is returned when a request is malformed or the slot is in the past
	ErrInvalidInput = errors.New("invalid input")

	// ErrSlotConflict is returned when an active appointment already occupies the slot
	ErrSlotConflict = errors.New("slot already booked")

	// ErrForbidden is returned when the caller lacks authority for the transition
	ErrForbidden = errors.New("forbidden")

	// ErrInvalidState is returned when the transition is not legal from the current status
	ErrInvalidState = errors.New("invalid state for transition")

	// ErrNotFound is returned when the appointment id is unknown
	ErrNotFound = errors.New("appointment not found")

	// ErrVersionConflict is returned by Put when the record changed since it was read
	ErrVersionConflict = errors.New("version conflict")

	// ErrStoreUnavailable is returned when the store cannot complete the operation
	ErrStoreUnavailable = errors.New("store unavailable")
)
