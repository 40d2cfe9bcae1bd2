package subscription

import (
	"slices"

	"github.com/xraph/splitpay/types"
)

// Validate checks every structural invariant of the record and returns
// an error wrapping ErrCorruptRecord on the first violation.
func (r *Record) Validate() error {
	const op = "validate"

	n := len(r.Owners)
	if n == 0 {
		return fail(op, ErrCorruptRecord, "no owners")
	}
	if len(r.Shares) != n || len(r.Withdrawn) != n {
		return fail(op, ErrCorruptRecord, "%d owners, %d shares, %d withdrawn", n, len(r.Shares), len(r.Withdrawn))
	}

	seen := make(map[string]struct{}, n)
	for _, owner := range r.Owners {
		if owner == "" {
			return fail(op, ErrCorruptRecord, "empty owner")
		}
		if _, dup := seen[owner]; dup {
			return fail(op, ErrCorruptRecord, "duplicate owner %q", owner)
		}
		seen[owner] = struct{}{}
	}

	sum := 0
	for _, share := range r.Shares {
		sum += int(share)
	}
	if sum != 100 {
		return fail(op, ErrCorruptRecord, "shares sum to %d", sum)
	}

	if r.Price == 0 || r.PeriodDuration == 0 || r.TokenMint == "" {
		return fail(op, ErrCorruptRecord, "invalid configuration")
	}

	for i := range r.Owners {
		e, ok := r.TotalPaid.Percent(r.Shares[i])
		if !ok {
			return fail(op, ErrCorruptRecord, "entitlement of owner %d overflows", i)
		}
		if r.Withdrawn[i] > e {
			return fail(op, ErrCorruptRecord, "owner %d withdrew %d of entitlement %d", i, r.Withdrawn[i], e)
		}
	}

	withdrawn, ok := types.Sum(r.Withdrawn...)
	if !ok || withdrawn > r.TotalPaid {
		return fail(op, ErrCorruptRecord, "withdrawals exceed total paid %d", r.TotalPaid)
	}
	return nil
}

// CheckSuccessor verifies that next may replace prev: the immutable
// configuration is unchanged, TotalPaid, PaidUntil and every Withdrawn
// entry did not decrease, and next is itself valid.
func CheckSuccessor(prev, next *Record) error {
	const op = "successor"

	if prev.ID.String() != next.ID.String() || prev.Resource != next.Resource {
		return fail(op, ErrNonMonotonic, "identity changed")
	}
	if prev.TokenMint != next.TokenMint ||
		prev.Price != next.Price ||
		prev.PeriodDuration != next.PeriodDuration ||
		!slices.Equal(prev.Owners, next.Owners) ||
		!slices.Equal(prev.Shares, next.Shares) {
		return fail(op, ErrNonMonotonic, "immutable configuration changed")
	}
	if len(next.Withdrawn) != len(prev.Withdrawn) {
		return fail(op, ErrNonMonotonic, "withdrawn length changed")
	}
	if next.TotalPaid < prev.TotalPaid {
		return fail(op, ErrNonMonotonic, "total paid decreased from %d to %d", prev.TotalPaid, next.TotalPaid)
	}
	if next.PaidUntil < prev.PaidUntil {
		return fail(op, ErrNonMonotonic, "paid until decreased from %d to %d", prev.PaidUntil, next.PaidUntil)
	}
	for i := range prev.Withdrawn {
		if next.Withdrawn[i] < prev.Withdrawn[i] {
			return fail(op, ErrNonMonotonic, "withdrawn[%d] decreased from %d to %d", i, prev.Withdrawn[i], next.Withdrawn[i])
		}
	}
	if err := next.Validate(); err != nil {
		return err
	}
	return nil
}
