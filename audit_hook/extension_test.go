package audithook

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/xraph/splitpay/id"
	"github.com/xraph/splitpay/subscription"
	"github.com/xraph/splitpay/transfer"
)

type captured struct {
	events []*AuditEvent
}

func (c *captured) recorder() Recorder {
	return RecorderFunc(func(_ context.Context, e *AuditEvent) error {
		c.events = append(c.events, e)
		return nil
	})
}

func TestWithdrawalRejectedCategories(t *testing.T) {
	var c captured
	e := New(c.recorder())
	ctx := context.Background()

	_ = e.OnWithdrawalRejected(ctx, "sub_1", "eve", 10, subscription.ErrUnauthorized)
	_ = e.OnWithdrawalRejected(ctx, "sub_1", "o1", 10, subscription.ErrExceedsEntitlement)

	if len(c.events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(c.events))
	}
	if c.events[0].Category != CategoryAccess || c.events[0].Severity != SeverityError {
		t.Errorf("unexpected event %+v", c.events[0])
	}
	if c.events[1].Category != CategoryPayout || c.events[1].Outcome != OutcomeFailure {
		t.Errorf("unexpected event %+v", c.events[1])
	}
	if c.events[1].Reason == "" || c.events[1].Metadata["owner"] != "o1" {
		t.Errorf("missing reason or owner: %+v", c.events[1])
	}
}

func TestSubscriptionCreatedMetadata(t *testing.T) {
	var c captured
	e := New(c.recorder())

	sub := &subscription.Record{
		ID:        id.NewSubscriptionID(),
		Resource:  "feed",
		TokenMint: "USDC",
		Owners:    []string{"a", "b"},
		Shares:    []uint8{70, 30},
		Price:     5,
	}
	_ = e.OnSubscriptionCreated(context.Background(), sub)

	evt := c.events[0]
	if evt.Action != ActionSubscriptionCreated || evt.ResourceID != sub.ID.String() {
		t.Errorf("unexpected event %+v", evt)
	}
	shares, ok := evt.Metadata["shares"].([]int)
	if !ok || shares[0] != 70 || shares[1] != 30 {
		t.Errorf("shares metadata = %#v", evt.Metadata["shares"])
	}
	if evt.Metadata["price"] != "5" {
		t.Errorf("price metadata = %#v", evt.Metadata["price"])
	}
}

func TestActionFilters(t *testing.T) {
	var c captured
	e := New(c.recorder(), WithDisabledActions(ActionTransferExecuted))
	xfer := &transfer.Transfer{ID: id.NewTransferID(), Recipient: "o1", Amount: 3}

	_ = e.OnTransferExecuted(context.Background(), xfer, time.Millisecond)
	_ = e.OnTransferFailed(context.Background(), xfer, errors.New("boom"))

	if len(c.events) != 1 || c.events[0].Action != ActionTransferFailed {
		t.Fatalf("unexpected events %+v", c.events)
	}

	var only captured
	e = New(only.recorder(), WithEnabledActions(ActionPaymentRejected))
	_ = e.OnTransferFailed(context.Background(), xfer, errors.New("boom"))
	_ = e.OnPaymentRejected(context.Background(), "sub_1", 1, subscription.ErrInsufficientPayment)
	if len(only.events) != 1 || only.events[0].Action != ActionPaymentRejected {
		t.Fatalf("unexpected events %+v", only.events)
	}
}

func TestRecorderErrorIsSwallowed(t *testing.T) {
	e := New(RecorderFunc(func(context.Context, *AuditEvent) error {
		return errors.New("backend down")
	}), WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	if err := e.OnPaymentRejected(context.Background(), "sub_1", 1, subscription.ErrInsufficientPayment); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}
