package registry

import "errors"

var (
	// ErrNotFound indicates no vehicle is registered for the lookup key.
	ErrNotFound = errors.New("registry: vehicle not found")
	// ErrBalanceConflict indicates the conditional balance update lost a
	// race: the stored balance no longer matches the expected value.
	ErrBalanceConflict = errors.New("registry: balance conflict")
	// ErrTagTaken indicates the RFID tag is already bound to an active vehicle.
	ErrTagTaken = errors.New("registry: tag already registered")
	// ErrInvalidTransition indicates a disallowed status change.
	ErrInvalidTransition = errors.New("registry: invalid status transition")
)
