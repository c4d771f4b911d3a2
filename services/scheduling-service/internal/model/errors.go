package model

import "errors"

var (
	// ErrInvalidRange means a query range whose end is not after its start.
	ErrInvalidRange = errors.New("invalid range")

	// ErrInvalidRule means a malformed availability rule.
	ErrInvalidRule = errors.New("invalid availability rule")

	// ErrInvalidInput means a malformed appointment or waitlist request.
	ErrInvalidInput = errors.New("invalid input")

	ErrNotFound = errors.New("not found")

	// ErrOverlap is returned by storage when its own exclusion constraint
	// rejects an overlapping active appointment.
	ErrOverlap = errors.New("overlapping active appointment")
)
