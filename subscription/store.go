package subscription

import (
	"context"

	"github.com/xraph/splitpay/id"
)

// Store persists subscription records.
//
// Update is a compare-and-swap: it writes r only if the stored version
// equals r.Version-1, and returns a conflict error otherwise. Delete
// likewise removes the record only while it is still at version.
type Store interface {
	Create(ctx context.Context, r *Record) error
	Get(ctx context.Context, subID id.SubscriptionID) (*Record, error)
	GetByResource(ctx context.Context, resource string) (*Record, error)
	List(ctx context.Context, opts ListOpts) ([]*Record, error)
	Update(ctx context.Context, r *Record) error
	Delete(ctx context.Context, subID id.SubscriptionID, version uint64) error
}

type ListOpts struct {
	TokenMint string
	Limit     int
	Offset    int
}
