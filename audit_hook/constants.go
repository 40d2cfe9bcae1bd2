package audithook

// Action constants for audit events.
const (
	// Subscription actions
	ActionSubscriptionCreated = "subscription.created"
	ActionSubscriptionClosed  = "subscription.closed"

	// Payment actions
	ActionPaymentAccepted = "payment.accepted"
	ActionPaymentRejected = "payment.rejected"

	// Withdrawal actions
	ActionFundsWithdrawn     = "funds.withdrawn"
	ActionWithdrawalRejected = "withdrawal.rejected"

	// Transfer actions
	ActionTransferExecuted = "transfer.executed"
	ActionTransferFailed   = "transfer.failed"
)

// Resource constants for audit events.
const (
	ResourceSubscription = "subscription"
	ResourcePayment      = "payment"
	ResourceTransfer     = "transfer"
)

// Category constants for audit events.
const (
	CategorySubscription = "subscription"
	CategoryPayment      = "payment"
	CategoryPayout       = "payout"
	CategoryAccess       = "access"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)
