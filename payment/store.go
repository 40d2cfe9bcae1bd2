package payment

import (
	"context"
	"time"

	"github.com/xraph/splitpay/id"
)

type Store interface {
	Create(ctx context.Context, p *Payment) error
	Get(ctx context.Context, payID id.PaymentID) (*Payment, error)
	GetByReference(ctx context.Context, subID id.SubscriptionID, reference string) (*Payment, error)
	List(ctx context.Context, subID id.SubscriptionID, opts ListOpts) ([]*Payment, error)
	// Update rewrites PaidAt, PaidUntil and UpdatedAt.
	Update(ctx context.Context, p *Payment) error
	Delete(ctx context.Context, payID id.PaymentID) error
}

type ListOpts struct {
	Start  time.Time
	End    time.Time
	Limit  int
	Offset int
}
