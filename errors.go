package splitpay

import (
	"errors"
	"fmt"

	"github.com/xraph/splitpay/subscription"
)

// Sentinel errors for common failure scenarios.
var (
	// General errors
	ErrNotFound      = errors.New("splitpay: not found")
	ErrAlreadyExists = errors.New("splitpay: already exists")
	ErrInvalidInput  = errors.New("splitpay: invalid input")

	// Subscription errors
	ErrSubscriptionNotFound = errors.New("splitpay: subscription not found")
	ErrResourceTaken        = errors.New("splitpay: resource already has a subscription")
	ErrConflict             = errors.New("splitpay: concurrent update conflict")
	ErrUnclaimedFunds       = errors.New("splitpay: subscription holds unclaimed funds")

	// Payment errors
	ErrPaymentNotFound    = errors.New("splitpay: payment not found")
	ErrIncorrectMint      = errors.New("splitpay: token mint does not match subscription")
	ErrDuplicatePayment   = errors.New("splitpay: payment reference already credited")
	ErrPaymentNotRecorded = errors.New("splitpay: payment applied but receipt not recorded")

	// Transfer errors
	ErrTransferNotFound    = errors.New("splitpay: transfer not found")
	ErrTransferNotRecorded = errors.New("splitpay: withdrawal applied but transfer not recorded")
	ErrDispatchQueueFull   = errors.New("splitpay: transfer dispatch queue full")
	ErrNoExecutor          = errors.New("splitpay: no transfer executor configured")
	ErrTransferExecuted    = errors.New("splitpay: transfer already executed")
	ErrTransferInFlight    = errors.New("splitpay: transfer is being executed")

	// Store errors
	ErrStoreClosed     = errors.New("splitpay: store is closed")
	ErrMigrationFailed = errors.New("splitpay: migration failed")
)

// ValidationError represents a validation failure with details.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("splitpay: validation failed for %s: %s", e.Field, e.Message)
}

func (e ValidationError) Unwrap() error { return ErrInvalidInput }

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrSubscriptionNotFound) ||
		errors.Is(err, ErrPaymentNotFound) ||
		errors.Is(err, ErrTransferNotFound)
}

// IsConfigError returns true if a subscription was rejected at creation.
func IsConfigError(err error) bool {
	return errors.Is(err, subscription.ErrInvalidOwnerSet) ||
		errors.Is(err, subscription.ErrShareCountMismatch) ||
		errors.Is(err, subscription.ErrInvalidShareSum) ||
		errors.Is(err, subscription.ErrInvalidConfig)
}

// IsPaymentError returns true if a payment was rejected.
func IsPaymentError(err error) bool {
	return errors.Is(err, subscription.ErrInsufficientPayment) ||
		errors.Is(err, ErrIncorrectMint) ||
		errors.Is(err, ErrDuplicatePayment) ||
		errors.Is(err, subscription.ErrArithmeticOverflow)
}

// IsWithdrawalError returns true if a withdrawal was rejected.
func IsWithdrawalError(err error) bool {
	return errors.Is(err, subscription.ErrUnknownOwner) ||
		errors.Is(err, subscription.ErrUnauthorized) ||
		errors.Is(err, subscription.ErrExceedsEntitlement) ||
		errors.Is(err, subscription.ErrInvalidAmount) ||
		errors.Is(err, ErrIncorrectMint) ||
		errors.Is(err, subscription.ErrArithmeticOverflow)
}

// IsRetryable returns true if the error is temporary and the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrDispatchQueueFull)
}
