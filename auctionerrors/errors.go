// Package auctionerrors holds the sentinel errors shared between the
// coordinator, the store and the chain gateway. Callers are expected to
// match with errors.Is; the HTTP layer maps them to status codes.
package auctionerrors

import "errors"

// Store-level errors
var (
	ErrNotFound        = errors.New("auction or bid not found")
	ErrAlreadyReturned = errors.New("bid is already withdrawn")
	ErrAlreadyEnded    = errors.New("auction has been ended before")
	ErrUsernameTaken   = errors.New("username is taken")
)

// Validation and business logic errors
var (
	ErrInvalidFormat = errors.New("invalid transaction format")
	ErrValueTooLow   = errors.New("value is less than highest bid")
	ErrForbidden     = errors.New("bid is not for current user")
	ErrNotYetEndable = errors.New("auction cannot be ended yet")
)

// Ledger-originated errors. These are kept distinct so that callers can
// tell "never attempted" from "attempted, outcome unknown" from
// "attempted, rejected".
var (
	ErrUnreachable = errors.New("ledger node unreachable")
	ErrTimeout     = errors.New("ledger call timed out")
	ErrReverted    = errors.New("ledger call reverted")
)
