// Package plugin provides an extensible plugin system for splitpay.
// Plugins can hook into subscription, payment and transfer lifecycle
// events to extend functionality.
package plugin

import (
	"context"
	"time"

	"github.com/xraph/splitpay/payment"
	"github.com/xraph/splitpay/subscription"
	"github.com/xraph/splitpay/transfer"
	"github.com/xraph/splitpay/types"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the plugin is initialized.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, l interface{}) error
}

// OnShutdown is called when the plugin is shutting down.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Subscription lifecycle hooks
// ──────────────────────────────────────────────────

// OnSubscriptionCreated is called after a subscription is persisted.
type OnSubscriptionCreated interface {
	Plugin
	OnSubscriptionCreated(ctx context.Context, sub *subscription.Record) error
}

// OnSubscriptionClosed is called after a fully drained subscription is removed.
type OnSubscriptionClosed interface {
	Plugin
	OnSubscriptionClosed(ctx context.Context, sub *subscription.Record) error
}

// ──────────────────────────────────────────────────
// Payment hooks
// ──────────────────────────────────────────────────

// OnPaymentAccepted is called after a payment is credited.
type OnPaymentAccepted interface {
	Plugin
	OnPaymentAccepted(ctx context.Context, sub *subscription.Record, p *payment.Payment) error
}

// OnPaymentRejected is called when a payment fails validation.
type OnPaymentRejected interface {
	Plugin
	OnPaymentRejected(ctx context.Context, subID string, amount types.Amount, reason error) error
}

// ──────────────────────────────────────────────────
// Withdrawal hooks
// ──────────────────────────────────────────────────

// OnFundsWithdrawn is called after a withdrawal is applied and its
// transfer recorded.
type OnFundsWithdrawn interface {
	Plugin
	OnFundsWithdrawn(ctx context.Context, sub *subscription.Record, t *transfer.Transfer) error
}

// OnWithdrawalRejected is called when a withdrawal fails validation.
type OnWithdrawalRejected interface {
	Plugin
	OnWithdrawalRejected(ctx context.Context, subID, owner string, amount types.Amount, reason error) error
}

// ──────────────────────────────────────────────────
// Transfer dispatch hooks
// ──────────────────────────────────────────────────

// OnTransferExecuted is called after the executor moved the tokens.
type OnTransferExecuted interface {
	Plugin
	OnTransferExecuted(ctx context.Context, t *transfer.Transfer, elapsed time.Duration) error
}

// OnTransferFailed is called when the executor rejects a transfer.
type OnTransferFailed interface {
	Plugin
	OnTransferFailed(ctx context.Context, t *transfer.Transfer, err error) error
}

// ──────────────────────────────────────────────────
// Transfer executors
// ──────────────────────────────────────────────────

// ExecutorPlugin provides the token-transfer collaborator.
type ExecutorPlugin interface {
	Plugin
	Executor() transfer.Executor
}
