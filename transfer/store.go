package transfer

import (
	"context"
	"time"

	"github.com/xraph/splitpay/id"
)

type Store interface {
	Create(ctx context.Context, t *Transfer) error
	Get(ctx context.Context, xferID id.TransferID) (*Transfer, error)
	List(ctx context.Context, subID id.SubscriptionID, opts ListOpts) ([]*Transfer, error)
	ListPending(ctx context.Context, limit int) ([]*Transfer, error)
	// Claim moves a pending or failed transfer to executing. It fails
	// with ErrTransferInFlight or ErrTransferExecuted otherwise.
	Claim(ctx context.Context, xferID id.TransferID, at time.Time) error
	MarkExecuted(ctx context.Context, xferID id.TransferID, executedAt time.Time, txRef string) error
	MarkFailed(ctx context.Context, xferID id.TransferID, reason string) error
}

type ListOpts struct {
	Status Status
	Limit  int
	Offset int
}
