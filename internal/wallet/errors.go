package wallet

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInsufficientBalance is returned by Adjust when the result would be negative.
	// No change is made.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrNoCreditsAvailable means no candidate wallet could fund a spend.
	ErrNoCreditsAvailable = errors.New("no credits available: buy more credits")

	// ErrDuplicateIdempotencyKey is returned by Journal.Append together with the
	// entry that already holds the key. Callers treat it as "already applied".
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
)
