package ledger

import "errors"

var (
	// ErrDuplicateKey indicates the idempotency key was already
	// recorded. Not an error to the engine's caller: the stored
	// outcome is returned instead (idempotent replay).
	ErrDuplicateKey = errors.New("ledger: duplicate idempotency key")
	// ErrNotFound indicates no transaction matches the lookup.
	ErrNotFound = errors.New("ledger: transaction not found")
)
