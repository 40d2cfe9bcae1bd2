package store

import (
	"context"
	"time"

	"github.com/xraph/splitpay/id"
	"github.com/xraph/splitpay/payment"
	"github.com/xraph/splitpay/subscription"
	"github.com/xraph/splitpay/transfer"
)

// Store is the unified storage interface for all splitpay entities.
// Instead of embedding the sub-interfaces, we explicitly declare all methods
// to avoid naming conflicts.
type Store interface {
	// Subscription methods
	CreateSubscription(ctx context.Context, r *subscription.Record) error
	GetSubscription(ctx context.Context, subID id.SubscriptionID) (*subscription.Record, error)
	GetSubscriptionByResource(ctx context.Context, resource string) (*subscription.Record, error)
	ListSubscriptions(ctx context.Context, opts subscription.ListOpts) ([]*subscription.Record, error)
	UpdateSubscription(ctx context.Context, r *subscription.Record) error
	DeleteSubscription(ctx context.Context, subID id.SubscriptionID, version uint64) error

	// Payment methods
	CreatePayment(ctx context.Context, p *payment.Payment) error
	GetPayment(ctx context.Context, payID id.PaymentID) (*payment.Payment, error)
	GetPaymentByReference(ctx context.Context, subID id.SubscriptionID, reference string) (*payment.Payment, error)
	ListPayments(ctx context.Context, subID id.SubscriptionID, opts payment.ListOpts) ([]*payment.Payment, error)
	UpdatePayment(ctx context.Context, p *payment.Payment) error
	DeletePayment(ctx context.Context, payID id.PaymentID) error

	// Transfer methods
	CreateTransfer(ctx context.Context, t *transfer.Transfer) error
	GetTransfer(ctx context.Context, xferID id.TransferID) (*transfer.Transfer, error)
	ListTransfers(ctx context.Context, subID id.SubscriptionID, opts transfer.ListOpts) ([]*transfer.Transfer, error)
	ListPendingTransfers(ctx context.Context, limit int) ([]*transfer.Transfer, error)
	ClaimTransfer(ctx context.Context, xferID id.TransferID, at time.Time) error
	MarkTransferExecuted(ctx context.Context, xferID id.TransferID, executedAt time.Time, txRef string) error
	MarkTransferFailed(ctx context.Context, xferID id.TransferID, reason string) error

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
