package subscription

import (
	"math"
	"time"

	"github.com/xraph/splitpay/types"
)

// New validates p and returns a fresh, unfunded record. PaidUntil starts
// at now, so the first payment extends service from the creation time.
func New(p Params, now time.Time) (*Record, error) {
	const op = "create"

	maxOwners := p.MaxOwners
	if maxOwners <= 0 {
		maxOwners = DefaultMaxOwners
	}

	if len(p.Owners) == 0 {
		return nil, fail(op, ErrInvalidOwnerSet, "no owners")
	}
	if len(p.Owners) > maxOwners {
		return nil, fail(op, ErrInvalidOwnerSet, "%d owners exceeds limit of %d", len(p.Owners), maxOwners)
	}
	seen := make(map[string]struct{}, len(p.Owners))
	for i, owner := range p.Owners {
		if owner == "" {
			return nil, fail(op, ErrInvalidOwnerSet, "owner %d is empty", i)
		}
		if _, dup := seen[owner]; dup {
			return nil, fail(op, ErrInvalidOwnerSet, "duplicate owner %q", owner)
		}
		seen[owner] = struct{}{}
	}

	if len(p.Shares) != len(p.Owners) {
		return nil, fail(op, ErrShareCountMismatch, "%d shares for %d owners", len(p.Shares), len(p.Owners))
	}

	sum := 0
	for i, share := range p.Shares {
		if share > 100 {
			return nil, fail(op, ErrInvalidShareSum, "share %d is %d", i, share)
		}
		sum += int(share)
	}
	if sum != 100 {
		return nil, fail(op, ErrInvalidShareSum, "shares sum to %d", sum)
	}

	if p.Price.IsZero() {
		return nil, fail(op, ErrInvalidConfig, "price must be positive")
	}
	if p.PeriodDuration == 0 {
		return nil, fail(op, ErrInvalidConfig, "period duration must be positive")
	}
	if p.PeriodDuration > math.MaxInt64 {
		return nil, fail(op, ErrInvalidConfig, "period duration %d out of range", p.PeriodDuration)
	}
	if p.TokenMint == "" {
		return nil, fail(op, ErrInvalidConfig, "token mint is required")
	}

	r := &Record{
		TokenMint:      p.TokenMint,
		Owners:         append([]string(nil), p.Owners...),
		Shares:         append([]uint8(nil), p.Shares...),
		Withdrawn:      make([]types.Amount, len(p.Owners)),
		Price:          p.Price,
		PeriodDuration: p.PeriodDuration,
		PaidUntil:      now.Unix(),
	}
	return r, nil
}

// Pay credits amount, which the token-transfer collaborator has already
// moved into the subscription's funds account, and extends service by one
// period from whichever is later: now or the current expiry. Overpayment
// is credited in full and still buys a single period.
//
// Pay requests no transfer; funds stay pooled until owners withdraw.
func (r *Record) Pay(amount types.Amount, now time.Time) (*Record, error) {
	const op = "pay"

	if amount < r.Price {
		return nil, fail(op, ErrInsufficientPayment, "amount %d below price %d", amount, r.Price)
	}

	total, ok := r.TotalPaid.Add(amount)
	if !ok {
		return nil, fail(op, ErrArithmeticOverflow, "total paid %d + %d", r.TotalPaid, amount)
	}

	start := max(r.PaidUntil, now.Unix())
	if r.PeriodDuration > math.MaxInt64 || start > math.MaxInt64-int64(r.PeriodDuration) {
		return nil, fail(op, ErrArithmeticOverflow, "paid until %d + %d", start, r.PeriodDuration)
	}

	next := r.Clone()
	next.TotalPaid = total
	next.PaidUntil = start + int64(r.PeriodDuration)
	return next, nil
}

// Withdraw records that owner takes amount out of the pool and returns
// the transfer the collaborator must execute. signers is the verified
// signer set of the call; owner must be in it.
//
// Withdrawals are not gated on PaidUntil. The time argument keeps the
// transition signatures uniform.
func (r *Record) Withdraw(owner string, amount types.Amount, signers SignerSet, _ time.Time) (*Record, *TransferRequest, error) {
	const op = "withdraw"

	i := r.OwnerIndex(owner)
	if i < 0 {
		return nil, nil, fail(op, ErrUnknownOwner, "%q", owner)
	}
	if !signers.Has(owner) {
		return nil, nil, fail(op, ErrUnauthorized, "%q", owner)
	}
	if amount.IsZero() {
		return nil, nil, fail(op, ErrInvalidAmount, "zero withdrawal")
	}

	available, err := r.available(op, i)
	if err != nil {
		return nil, nil, err
	}
	if amount > available {
		return nil, nil, fail(op, ErrExceedsEntitlement, "requested %d, available %d", amount, available)
	}

	withdrawn, ok := r.Withdrawn[i].Add(amount)
	if !ok {
		return nil, nil, fail(op, ErrArithmeticOverflow, "withdrawn %d + %d", r.Withdrawn[i], amount)
	}

	next := r.Clone()
	next.Withdrawn[i] = withdrawn
	return next, &TransferRequest{
		TokenMint: r.TokenMint,
		Recipient: owner,
		Amount:    amount,
	}, nil
}

// Entitlement returns floor(TotalPaid * share / 100) for owner.
func (r *Record) Entitlement(owner string) (types.Amount, error) {
	i := r.OwnerIndex(owner)
	if i < 0 {
		return 0, fail("entitlement", ErrUnknownOwner, "%q", owner)
	}
	return r.entitlement("entitlement", i)
}

// Available returns what owner may still withdraw.
func (r *Record) Available(owner string) (types.Amount, error) {
	i := r.OwnerIndex(owner)
	if i < 0 {
		return 0, fail("available", ErrUnknownOwner, "%q", owner)
	}
	return r.available("available", i)
}

// Unclaimed returns TotalPaid minus everything withdrawn so far.
func (r *Record) Unclaimed() (types.Amount, error) {
	withdrawn, ok := types.Sum(r.Withdrawn...)
	if !ok {
		return 0, fail("unclaimed", ErrArithmeticOverflow, "sum of withdrawals")
	}
	rest, ok := r.TotalPaid.Sub(withdrawn)
	if !ok {
		return 0, fail("unclaimed", ErrCorruptRecord, "withdrawn %d exceeds total paid %d", withdrawn, r.TotalPaid)
	}
	return rest, nil
}

func (r *Record) entitlement(op string, i int) (types.Amount, error) {
	if i >= len(r.Shares) {
		return 0, fail(op, ErrCorruptRecord, "no share for owner %d", i)
	}
	e, ok := r.TotalPaid.Percent(r.Shares[i])
	if !ok {
		return 0, fail(op, ErrArithmeticOverflow, "entitlement of owner %d", i)
	}
	return e, nil
}

func (r *Record) available(op string, i int) (types.Amount, error) {
	e, err := r.entitlement(op, i)
	if err != nil {
		return 0, err
	}
	if i >= len(r.Withdrawn) {
		return 0, fail(op, ErrCorruptRecord, "no withdrawal slot for owner %d", i)
	}
	a, ok := e.Sub(r.Withdrawn[i])
	if !ok {
		return 0, fail(op, ErrArithmeticOverflow, "withdrawn %d exceeds entitlement %d", r.Withdrawn[i], e)
	}
	return a, nil
}
