package subscription

import (
	"errors"
	"fmt"
)

// Transition failures. Every error returned by New, Pay and Withdraw
// unwraps to exactly one of these.
var (
	// Configuration errors, raised only by New.
	ErrInvalidOwnerSet    = errors.New("subscription: invalid owner set")
	ErrShareCountMismatch = errors.New("subscription: share count does not match owner count")
	ErrInvalidShareSum    = errors.New("subscription: shares must sum to 100")
	ErrInvalidConfig      = errors.New("subscription: invalid configuration")

	// Payment errors.
	ErrInsufficientPayment = errors.New("subscription: payment below price")

	// Withdrawal errors.
	ErrUnknownOwner       = errors.New("subscription: withdrawer is not an owner")
	ErrUnauthorized       = errors.New("subscription: owner did not sign")
	ErrExceedsEntitlement = errors.New("subscription: withdrawal exceeds entitlement")
	ErrInvalidAmount      = errors.New("subscription: amount must be positive")

	// Shared by payment and withdrawal.
	ErrArithmeticOverflow = errors.New("subscription: arithmetic overflow")

	// Record integrity.
	ErrCorruptRecord = errors.New("subscription: record violates invariants")
	ErrNonMonotonic  = errors.New("subscription: update is not a valid successor")
)

// Error describes a rejected transition. Kind is one of the sentinel
// errors above; errors.Is matches against it.
type Error struct {
	Op     string // "create", "pay", "withdraw", "validate", "decode"
	Kind   error
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	}
	return fmt.Sprintf("%s: %s: %s", e.Kind, e.Op, e.Detail)
}

func (e *Error) Unwrap() error { return e.Kind }

func fail(op string, kind error, format string, args ...any) error {
	return &Error{Op: op, Kind: kind, Detail: fmt.Sprintf(format, args...)}
}
