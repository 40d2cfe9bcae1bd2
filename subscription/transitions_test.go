package subscription

import (
	"bytes"
	"errors"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/xraph/splitpay/types"
)

const month = 2_592_000

var t0 = time.Unix(1_700_000_000, 0)

func mustNew(t *testing.T, owners []string, shares []uint8) *Record {
	t.Helper()
	r, err := New(Params{
		TokenMint:      "mint",
		Owners:         owners,
		Shares:         shares,
		Price:          100,
		PeriodDuration: month,
	}, t0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r
}

func mustPay(t *testing.T, r *Record, amount types.Amount, now time.Time) *Record {
	t.Helper()
	next, err := r.Pay(amount, now)
	if err != nil {
		t.Fatalf("Pay(%d): %v", amount, err)
	}
	return next
}

func TestNewValidation(t *testing.T) {
	valid := Params{TokenMint: "mint", Owners: []string{"a", "b"}, Shares: []uint8{60, 40}, Price: 100, PeriodDuration: month}

	tests := []struct {
		name string
		edit func(p *Params)
		want error
	}{
		{"no owners", func(p *Params) { p.Owners = nil; p.Shares = nil }, ErrInvalidOwnerSet},
		{"duplicate owner", func(p *Params) { p.Owners = []string{"a", "a"} }, ErrInvalidOwnerSet},
		{"empty owner", func(p *Params) { p.Owners = []string{"a", ""} }, ErrInvalidOwnerSet},
		{"too many owners", func(p *Params) {
			p.Owners = []string{"a", "b", "c", "d", "e", "f"}
			p.Shares = []uint8{20, 20, 20, 20, 10, 10}
		}, ErrInvalidOwnerSet},
		{"share count", func(p *Params) { p.Shares = []uint8{100} }, ErrShareCountMismatch},
		{"share sum", func(p *Params) { p.Shares = []uint8{50, 49} }, ErrInvalidShareSum},
		{"share above 100", func(p *Params) { p.Shares = []uint8{156, 200} }, ErrInvalidShareSum},
		{"zero price", func(p *Params) { p.Price = 0 }, ErrInvalidConfig},
		{"zero period", func(p *Params) { p.PeriodDuration = 0 }, ErrInvalidConfig},
		{"empty mint", func(p *Params) { p.TokenMint = "" }, ErrInvalidConfig},
		{"owner set checked before shares", func(p *Params) { p.Owners = []string{"a", "a"}; p.Shares = []uint8{1} }, ErrInvalidOwnerSet},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid
			p.Owners = append([]string(nil), valid.Owners...)
			p.Shares = append([]uint8(nil), valid.Shares...)
			tt.edit(&p)

			r, err := New(p, t0)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if r != nil {
				t.Error("expected no record on failure")
			}
			var serr *Error
			if !errors.As(err, &serr) || serr.Op != "create" {
				t.Errorf("expected *Error with op create, got %#v", err)
			}
		})
	}
}

func TestNewMaxOwnersOverride(t *testing.T) {
	r, err := New(Params{
		TokenMint:      "mint",
		Owners:         []string{"a", "b", "c", "d", "e", "f"},
		Shares:         []uint8{20, 20, 20, 20, 10, 10},
		Price:          1,
		PeriodDuration: 1,
		MaxOwners:      6,
	}, t0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if len(r.Withdrawn) != 6 {
		t.Errorf("expected 6 withdrawn slots, got %d", len(r.Withdrawn))
	}
}

func TestNewInitialState(t *testing.T) {
	r := mustNew(t, []string{"a", "b"}, []uint8{60, 40})
	if r.TotalPaid != 0 {
		t.Errorf("total paid = %d", r.TotalPaid)
	}
	if r.PaidUntil != t0.Unix() {
		t.Errorf("paid until = %d, want %d", r.PaidUntil, t0.Unix())
	}
	for i, w := range r.Withdrawn {
		if w != 0 {
			t.Errorf("withdrawn[%d] = %d", i, w)
		}
	}
	if err := r.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

// Scenario: two owners at 60/40 drain exactly their shares of one payment.
func TestWithdrawUpToShare(t *testing.T) {
	r := mustNew(t, []string{"o1", "o2"}, []uint8{60, 40})
	r = mustPay(t, r, 100, t0)
	if r.TotalPaid != 100 {
		t.Fatalf("total paid = %d", r.TotalPaid)
	}

	for _, c := range []struct {
		owner string
		limit types.Amount
	}{{"o1", 60}, {"o2", 40}} {
		signers := NewSignerSet(c.owner)

		if _, _, err := r.Withdraw(c.owner, c.limit+1, signers, t0); !errors.Is(err, ErrExceedsEntitlement) {
			t.Fatalf("%s: expected ErrExceedsEntitlement for %d, got %v", c.owner, c.limit+1, err)
		}

		next, req, err := r.Withdraw(c.owner, c.limit, signers, t0)
		if err != nil {
			t.Fatalf("%s: Withdraw(%d): %v", c.owner, c.limit, err)
		}
		if req.Recipient != c.owner || req.Amount != c.limit || req.TokenMint != "mint" {
			t.Errorf("%s: unexpected transfer %+v", c.owner, req)
		}
		r = next

		if _, _, err := r.Withdraw(c.owner, 1, signers, t0); !errors.Is(err, ErrExceedsEntitlement) {
			t.Errorf("%s: expected ErrExceedsEntitlement after draining, got %v", c.owner, err)
		}
	}

	unclaimed, err := r.Unclaimed()
	if err != nil || unclaimed != 0 {
		t.Errorf("unclaimed = %d, %v", unclaimed, err)
	}
}

func TestPayInsufficientLeavesRecordUnchanged(t *testing.T) {
	r := mustNew(t, []string{"o1", "o2"}, []uint8{60, 40})
	before, _ := r.MarshalBinary()

	next, err := r.Pay(50, t0)
	if !errors.Is(err, ErrInsufficientPayment) {
		t.Fatalf("expected ErrInsufficientPayment, got %v", err)
	}
	if next != nil {
		t.Error("expected nil record on failure")
	}

	after, _ := r.MarshalBinary()
	if !bytes.Equal(before, after) {
		t.Error("record changed after a rejected payment")
	}
	if r.TotalPaid != 0 {
		t.Errorf("total paid = %d", r.TotalPaid)
	}
}

func TestRejectedTransitionsAreByteIdentical(t *testing.T) {
	r := mustNew(t, []string{"o1", "o2"}, []uint8{60, 40})
	r = mustPay(t, r, 100, t0)
	before, _ := r.MarshalBinary()

	attempts := []func() error{
		func() error { _, err := r.Pay(99, t0); return err },
		func() error { _, _, err := r.Withdraw("o1", 61, NewSignerSet("o1"), t0); return err },
		func() error { _, _, err := r.Withdraw("o1", 10, NewSignerSet("o2"), t0); return err },
		func() error { _, _, err := r.Withdraw("x", 1, NewSignerSet("x"), t0); return err },
		func() error { _, err := r.Pay(types.MaxAmount, t0); return err },
	}
	for i, attempt := range attempts {
		for range 2 {
			if err := attempt(); err == nil {
				t.Fatalf("attempt %d: expected an error", i)
			}
		}
		after, _ := r.MarshalBinary()
		if !bytes.Equal(before, after) {
			t.Fatalf("attempt %d changed the record", i)
		}
	}
}

// Scenario: a second payment raises entitlement for an owner who already
// drained the first one.
func TestEntitlementGrowsWithPayments(t *testing.T) {
	r := mustNew(t, []string{"o1", "o2"}, []uint8{60, 40})
	r = mustPay(t, r, 100, t0)

	r, _, err := r.Withdraw("o1", 60, NewSignerSet("o1"), t0)
	if err != nil {
		t.Fatalf("Withdraw: %v", err)
	}
	r = mustPay(t, r, 100, t0)

	e, _ := r.Entitlement("o1")
	a, _ := r.Available("o1")
	if e != 120 || a != 60 {
		t.Fatalf("entitlement=%d available=%d, want 120 and 60", e, a)
	}
	if _, _, err := r.Withdraw("o1", 61, NewSignerSet("o1"), t0); !errors.Is(err, ErrExceedsEntitlement) {
		t.Errorf("expected ErrExceedsEntitlement, got %v", err)
	}
	if _, _, err := r.Withdraw("o1", 60, NewSignerSet("o1"), t0); err != nil {
		t.Errorf("Withdraw(60): %v", err)
	}
}

func TestWithdrawErrors(t *testing.T) {
	r := mustNew(t, []string{"o1", "o2"}, []uint8{60, 40})
	r = mustPay(t, r, 100, t0)

	tests := []struct {
		name    string
		owner   string
		amount  types.Amount
		signers SignerSet
		want    error
	}{
		{"unknown owner", "mallory", 1, NewSignerSet("mallory"), ErrUnknownOwner},
		{"unknown owner before signature", "mallory", 1, nil, ErrUnknownOwner},
		{"unsigned", "o1", 1, NewSignerSet("o2"), ErrUnauthorized},
		{"no signers", "o1", 1, nil, ErrUnauthorized},
		{"zero amount", "o1", 0, NewSignerSet("o1"), ErrInvalidAmount},
		{"above entitlement", "o2", 41, NewSignerSet("o2"), ErrExceedsEntitlement},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, req, err := r.Withdraw(tt.owner, tt.amount, tt.signers, t0)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if next != nil || req != nil {
				t.Error("expected no record and no transfer on failure")
			}
		})
	}
}

func TestPayOnTimeRenewal(t *testing.T) {
	r := mustNew(t, []string{"o1"}, []uint8{100})
	r = mustPay(t, r, 100, t0)
	if want := t0.Unix() + month; r.PaidUntil != want {
		t.Fatalf("paid until = %d, want %d", r.PaidUntil, want)
	}

	// Paying again before expiry stacks on the current expiry.
	r = mustPay(t, r, 100, t0.Add(24*time.Hour))
	if want := t0.Unix() + 2*month; r.PaidUntil != want {
		t.Errorf("paid until = %d, want %d", r.PaidUntil, want)
	}
}

func TestPayLapsedRenewal(t *testing.T) {
	r := mustNew(t, []string{"o1"}, []uint8{100})
	r = mustPay(t, r, 100, t0)

	// Paying after a missed period extends from now, not the stale expiry.
	late := t0.Add(3 * month * time.Second)
	r = mustPay(t, r, 100, late)
	if want := late.Unix() + month; r.PaidUntil != want {
		t.Errorf("paid until = %d, want %d", r.PaidUntil, want)
	}
	if !r.Active(late) {
		t.Error("expected active after renewal")
	}
}

func TestPayOverpaymentCreditedOnePeriod(t *testing.T) {
	r := mustNew(t, []string{"o1", "o2"}, []uint8{50, 50})
	r = mustPay(t, r, 250, t0)
	if r.TotalPaid != 250 {
		t.Errorf("total paid = %d", r.TotalPaid)
	}
	if want := t0.Unix() + month; r.PaidUntil != want {
		t.Errorf("paid until = %d, want %d", r.PaidUntil, want)
	}
	if a, _ := r.Available("o2"); a != 125 {
		t.Errorf("available = %d, want 125", a)
	}
}

func TestPayOverflow(t *testing.T) {
	r := mustNew(t, []string{"o1"}, []uint8{100})
	r = mustPay(t, r, types.MaxAmount-10, t0)

	if _, err := r.Pay(100, t0); !errors.Is(err, ErrArithmeticOverflow) {
		t.Errorf("expected ErrArithmeticOverflow on total, got %v", err)
	}

	r2 := mustNew(t, []string{"o1"}, []uint8{100})
	r2.PaidUntil = 1<<63 - 100
	if _, err := r2.Pay(100, t0); !errors.Is(err, ErrArithmeticOverflow) {
		t.Errorf("expected ErrArithmeticOverflow on paid until, got %v", err)
	}
}

func TestEntitlementLargeTotals(t *testing.T) {
	r := mustNew(t, []string{"o1", "o2"}, []uint8{99, 1})
	r = mustPay(t, r, types.MaxAmount, t0)

	e, err := r.Entitlement("o1")
	if err != nil {
		t.Fatalf("Entitlement: %v", err)
	}
	if e != 18262276632972456098 {
		t.Errorf("entitlement = %d", e)
	}
}

func TestTransitionsDoNotMutateReceiver(t *testing.T) {
	r := mustNew(t, []string{"o1", "o2"}, []uint8{60, 40})
	paid := mustPay(t, r, 100, t0)
	if r.TotalPaid != 0 {
		t.Error("Pay mutated its receiver")
	}

	if _, _, err := paid.Withdraw("o1", 10, NewSignerSet("o1"), t0); err != nil {
		t.Fatalf("Withdraw: %v", err)
	}
	if paid.Withdrawn[0] != 0 {
		t.Error("Withdraw mutated its receiver")
	}
}

// Random interleavings of payments and withdrawals never let an owner
// exceed their share and keep totals equal to the accepted payments.
func TestRandomSequencesHoldInvariants(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	owners := []string{"a", "b", "c"}

	for run := range 50 {
		r := mustNew(t, owners, []uint8{33, 33, 34})
		var accepted types.Amount
		payments := 0
		now := t0

		for step := range 200 {
			prev := r
			now = now.Add(time.Duration(rng.IntN(40*86400)) * time.Second)

			if rng.IntN(3) == 0 {
				amount := types.Amount(rng.IntN(300))
				next, err := r.Pay(amount, now)
				if amount < r.Price {
					if !errors.Is(err, ErrInsufficientPayment) {
						t.Fatalf("run %d step %d: expected ErrInsufficientPayment, got %v", run, step, err)
					}
					continue
				}
				if err != nil {
					t.Fatalf("run %d step %d: Pay: %v", run, step, err)
				}
				wantUntil := max(prev.PaidUntil, now.Unix()) + month
				if next.PaidUntil != wantUntil {
					t.Fatalf("run %d step %d: paid until %d, want %d", run, step, next.PaidUntil, wantUntil)
				}
				accepted += amount
				payments++
				r = next
			} else {
				owner := owners[rng.IntN(len(owners))]
				amount := types.Amount(rng.IntN(120))
				next, _, err := r.Withdraw(owner, amount, NewSignerSet(owner), now)
				if err != nil {
					if !errors.Is(err, ErrExceedsEntitlement) && !errors.Is(err, ErrInvalidAmount) {
						t.Fatalf("run %d step %d: Withdraw: %v", run, step, err)
					}
					continue
				}
				r = next
			}

			if err := CheckSuccessor(prev, r); err != nil {
				t.Fatalf("run %d step %d: %v", run, step, err)
			}
			for i := range owners {
				e, _ := r.TotalPaid.Percent(r.Shares[i])
				if r.Withdrawn[i] > e {
					t.Fatalf("run %d step %d: owner %d withdrew %d of %d", run, step, i, r.Withdrawn[i], e)
				}
			}
		}

		if r.TotalPaid != accepted {
			t.Fatalf("run %d: total paid %d, accepted %d", run, r.TotalPaid, accepted)
		}
		if payments > 0 && r.PaidUntil < t0.Unix()+month {
			t.Fatalf("run %d: paid until %d below one period", run, r.PaidUntil)
		}
	}
}
