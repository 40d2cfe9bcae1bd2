package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/splitpay"
	"github.com/xraph/splitpay/id"
	"github.com/xraph/splitpay/payment"
	"github.com/xraph/splitpay/subscription"
	"github.com/xraph/splitpay/transfer"
	"github.com/xraph/splitpay/types"
)

var epoch = time.Unix(1_700_000_000, 0).UTC()

func newRecord(t *testing.T, resource string) *subscription.Record {
	t.Helper()
	r, err := subscription.New(subscription.Params{
		TokenMint:      "USDC",
		Owners:         []string{"a", "b"},
		Shares:         []uint8{60, 40},
		Price:          100,
		PeriodDuration: 3600,
	}, epoch)
	if err != nil {
		t.Fatalf("new record: %v", err)
	}
	r.ID = id.NewSubscriptionID()
	r.Resource = resource
	r.Version = 1
	r.Entity = types.NewEntityAt(epoch)
	return r
}

func TestSubscriptionCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	s := New()
	r := newRecord(t, "feed")

	if err := s.CreateSubscription(ctx, r); err != nil {
		t.Fatalf("create: %v", err)
	}

	paid, err := r.Pay(100, epoch)
	if err != nil {
		t.Fatalf("pay: %v", err)
	}
	paid.Version = 2
	if err := s.UpdateSubscription(ctx, paid); err != nil {
		t.Fatalf("update: %v", err)
	}

	// A writer that read version 1 lost the race.
	stale, err := r.Pay(100, epoch)
	if err != nil {
		t.Fatalf("pay: %v", err)
	}
	stale.Version = 2
	if err := s.UpdateSubscription(ctx, stale); !errors.Is(err, splitpay.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	got, err := s.GetSubscription(ctx, r.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Version != 2 || got.TotalPaid != 100 {
		t.Errorf("got version %d total %d", got.Version, got.TotalPaid)
	}
	if got.Owners[1] != "b" || got.Shares[0] != 60 {
		t.Errorf("account image not restored: %+v", got)
	}

	byRes, err := s.GetSubscriptionByResource(ctx, "feed")
	if err != nil || byRes.ID.String() != r.ID.String() {
		t.Errorf("get by resource: %v %v", byRes, err)
	}
}

func TestSubscriptionResourceUnique(t *testing.T) {
	ctx := context.Background()
	s := New()

	if err := s.CreateSubscription(ctx, newRecord(t, "feed")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.CreateSubscription(ctx, newRecord(t, "feed")); !errors.Is(err, splitpay.ErrResourceTaken) {
		t.Errorf("expected ErrResourceTaken, got %v", err)
	}
}

func TestDeleteSubscriptionRequiresVersion(t *testing.T) {
	ctx := context.Background()
	s := New()
	r := newRecord(t, "feed")
	if err := s.CreateSubscription(ctx, r); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := s.DeleteSubscription(ctx, r.ID, 7); !errors.Is(err, splitpay.ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}
	if err := s.DeleteSubscription(ctx, r.ID, 1); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetSubscription(ctx, r.ID); !errors.Is(err, splitpay.ErrSubscriptionNotFound) {
		t.Errorf("expected ErrSubscriptionNotFound, got %v", err)
	}
	// The resource is free again.
	if err := s.CreateSubscription(ctx, newRecord(t, "feed")); err != nil {
		t.Errorf("recreate: %v", err)
	}
}

func TestPaymentReferenceUnique(t *testing.T) {
	ctx := context.Background()
	s := New()
	subID := id.NewSubscriptionID()

	p := &payment.Payment{ID: id.NewPaymentID(), SubscriptionID: subID, Amount: 5, Reference: "tx1", PaidAt: epoch}
	if err := s.CreatePayment(ctx, p); err != nil {
		t.Fatalf("create: %v", err)
	}
	dup := &payment.Payment{ID: id.NewPaymentID(), SubscriptionID: subID, Amount: 5, Reference: "tx1", PaidAt: epoch}
	if err := s.CreatePayment(ctx, dup); !errors.Is(err, splitpay.ErrDuplicatePayment) {
		t.Errorf("expected ErrDuplicatePayment, got %v", err)
	}

	// Same reference on another subscription is a different payment.
	other := &payment.Payment{ID: id.NewPaymentID(), SubscriptionID: id.NewSubscriptionID(), Amount: 5, Reference: "tx1", PaidAt: epoch}
	if err := s.CreatePayment(ctx, other); err != nil {
		t.Errorf("create other: %v", err)
	}

	got, err := s.GetPaymentByReference(ctx, subID, "tx1")
	if err != nil || got.ID.String() != p.ID.String() {
		t.Errorf("get by reference: %v %v", got, err)
	}
}

func TestUpdateAndDeletePayment(t *testing.T) {
	ctx := context.Background()
	s := New()
	subID := id.NewSubscriptionID()

	p := &payment.Payment{ID: id.NewPaymentID(), SubscriptionID: subID, Amount: 5, Reference: "tx1", PaidAt: epoch}
	if err := s.CreatePayment(ctx, p); err != nil {
		t.Fatalf("create: %v", err)
	}

	p.PaidUntil = epoch.Add(time.Hour)
	p.Touch(epoch)
	if err := s.UpdatePayment(ctx, p); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _ := s.GetPayment(ctx, p.ID)
	if !got.PaidUntil.Equal(epoch.Add(time.Hour)) {
		t.Errorf("paid until = %v", got.PaidUntil)
	}

	if err := s.DeletePayment(ctx, p.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.DeletePayment(ctx, p.ID); !errors.Is(err, splitpay.ErrPaymentNotFound) {
		t.Errorf("expected ErrPaymentNotFound, got %v", err)
	}
	if err := s.UpdatePayment(ctx, p); !errors.Is(err, splitpay.ErrPaymentNotFound) {
		t.Errorf("expected ErrPaymentNotFound, got %v", err)
	}

	// The reference is free again.
	again := &payment.Payment{ID: id.NewPaymentID(), SubscriptionID: subID, Amount: 5, Reference: "tx1", PaidAt: epoch}
	if err := s.CreatePayment(ctx, again); err != nil {
		t.Errorf("recreate: %v", err)
	}
}

func TestListPaymentsWindow(t *testing.T) {
	ctx := context.Background()
	s := New()
	subID := id.NewSubscriptionID()

	for i := range 4 {
		p := &payment.Payment{
			ID:             id.NewPaymentID(),
			SubscriptionID: subID,
			Amount:         types.Amount(i + 1),
			PaidAt:         epoch.Add(time.Duration(i) * time.Hour),
		}
		if err := s.CreatePayment(ctx, p); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	got, err := s.ListPayments(ctx, subID, payment.ListOpts{
		Start: epoch.Add(time.Hour),
		End:   epoch.Add(3 * time.Hour),
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || got[0].Amount != 2 || got[1].Amount != 3 {
		t.Errorf("unexpected window %+v", got)
	}

	page, err := s.ListPayments(ctx, subID, payment.ListOpts{Offset: 3, Limit: 10})
	if err != nil || len(page) != 1 || page[0].Amount != 4 {
		t.Errorf("unexpected page %+v %v", page, err)
	}
}

func TestTransferLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New()
	subID := id.NewSubscriptionID()

	first := &transfer.Transfer{
		Entity: types.NewEntityAt(epoch), ID: id.NewTransferID(), SubscriptionID: subID,
		Recipient: "a", Amount: 6, Status: transfer.StatusPending,
	}
	second := &transfer.Transfer{
		Entity: types.NewEntityAt(epoch.Add(time.Second)), ID: id.NewTransferID(), SubscriptionID: subID,
		Recipient: "b", Amount: 4, Status: transfer.StatusPending,
	}
	for _, x := range []*transfer.Transfer{second, first} {
		if err := s.CreateTransfer(ctx, x); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	pending, err := s.ListPendingTransfers(ctx, 10)
	if err != nil || len(pending) != 2 || pending[0].Recipient != "a" {
		t.Fatalf("unexpected pending %+v %v", pending, err)
	}

	if err := s.ClaimTransfer(ctx, first.ID, epoch); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := s.ClaimTransfer(ctx, first.ID, epoch); !errors.Is(err, splitpay.ErrTransferInFlight) {
		t.Errorf("expected ErrTransferInFlight, got %v", err)
	}
	if pending, _ := s.ListPendingTransfers(ctx, 10); len(pending) != 1 || pending[0].Recipient != "b" {
		t.Errorf("claimed transfer still pending: %+v", pending)
	}

	if err := s.MarkTransferExecuted(ctx, first.ID, epoch.Add(time.Minute), "sig1"); err != nil {
		t.Fatalf("mark executed: %v", err)
	}
	if err := s.MarkTransferFailed(ctx, second.ID, "rpc down"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	got, _ := s.GetTransfer(ctx, first.ID)
	if got.Status != transfer.StatusExecuted || got.TxRef != "sig1" || got.Attempts != 1 || got.ExecutedAt == nil {
		t.Errorf("unexpected executed transfer %+v", got)
	}
	failed, err := s.ListTransfers(ctx, subID, transfer.ListOpts{Status: transfer.StatusFailed})
	if err != nil || len(failed) != 1 || failed[0].LastError != "rpc down" {
		t.Errorf("unexpected failed list %+v %v", failed, err)
	}
	if pending, _ := s.ListPendingTransfers(ctx, 10); len(pending) != 0 {
		t.Errorf("expected no pending transfers, got %d", len(pending))
	}
	if err := s.ClaimTransfer(ctx, first.ID, epoch); !errors.Is(err, splitpay.ErrTransferExecuted) {
		t.Errorf("expected ErrTransferExecuted, got %v", err)
	}
	// Failed transfers may be claimed again.
	if err := s.ClaimTransfer(ctx, second.ID, epoch); err != nil {
		t.Errorf("claim failed transfer: %v", err)
	}
	if err := s.MarkTransferFailed(ctx, id.NewTransferID(), "x"); !errors.Is(err, splitpay.ErrTransferNotFound) {
		t.Errorf("expected ErrTransferNotFound, got %v", err)
	}
}

func TestClosedStore(t *testing.T) {
	ctx := context.Background()
	s := New()
	r := newRecord(t, "feed")
	if err := s.CreateSubscription(ctx, r); err != nil {
		t.Fatalf("create: %v", err)
	}
	xfer := &transfer.Transfer{ID: id.NewTransferID(), SubscriptionID: r.ID, Recipient: "a", Amount: 1, Status: transfer.StatusPending}
	if err := s.CreateTransfer(ctx, xfer); err != nil {
		t.Fatalf("create transfer: %v", err)
	}
	p := &payment.Payment{ID: id.NewPaymentID(), SubscriptionID: r.ID, Amount: 5, PaidAt: epoch}
	if err := s.CreatePayment(ctx, p); err != nil {
		t.Fatalf("create payment: %v", err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	next := r.Clone()
	next.Version = 2
	writes := map[string]func() error{
		"ping":                func() error { return s.Ping(ctx) },
		"create subscription": func() error { return s.CreateSubscription(ctx, newRecord(t, "other")) },
		"update subscription": func() error { return s.UpdateSubscription(ctx, next) },
		"delete subscription": func() error { return s.DeleteSubscription(ctx, r.ID, 1) },
		"create payment": func() error {
			return s.CreatePayment(ctx, &payment.Payment{ID: id.NewPaymentID(), SubscriptionID: r.ID, PaidAt: epoch})
		},
		"update payment": func() error { return s.UpdatePayment(ctx, p) },
		"delete payment": func() error { return s.DeletePayment(ctx, p.ID) },
		"create transfer": func() error {
			return s.CreateTransfer(ctx, &transfer.Transfer{ID: id.NewTransferID(), SubscriptionID: r.ID})
		},
		"claim transfer": func() error { return s.ClaimTransfer(ctx, xfer.ID, epoch) },
		"mark executed":  func() error { return s.MarkTransferExecuted(ctx, xfer.ID, epoch, "sig") },
		"mark failed":    func() error { return s.MarkTransferFailed(ctx, xfer.ID, "x") },
	}
	for name, write := range writes {
		if err := write(); !errors.Is(err, splitpay.ErrStoreClosed) {
			t.Errorf("%s: expected ErrStoreClosed, got %v", name, err)
		}
	}

	got, err := s.GetTransfer(ctx, xfer.ID)
	if err != nil || got.Status != transfer.StatusPending {
		t.Errorf("closed store changed transfer: %+v %v", got, err)
	}
}
