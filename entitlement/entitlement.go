package entitlement

import (
	"time"

	"github.com/xraph/splitpay/subscription"
)

// For computes owner's position in r at now. It fails with
// subscription.ErrUnknownOwner when owner holds no share.
func For(r *subscription.Record, owner string, now time.Time) (*Result, error) {
	entitled, err := r.Entitlement(owner)
	if err != nil {
		return nil, err
	}
	available, err := r.Available(owner)
	if err != nil {
		return nil, err
	}
	i := r.OwnerIndex(owner)
	return &Result{
		SubscriptionID: r.ID,
		Owner:          owner,
		Share:          r.Shares[i],
		TotalPaid:      r.TotalPaid,
		Entitled:       entitled,
		Withdrawn:      r.Withdrawn[i],
		Available:      available,
		Active:         r.Active(now),
	}, nil
}

// All returns one Result per owner, in owner order.
func All(r *subscription.Record, now time.Time) ([]*Result, error) {
	out := make([]*Result, 0, len(r.Owners))
	for _, owner := range r.Owners {
		res, err := For(r, owner, now)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, nil
}
