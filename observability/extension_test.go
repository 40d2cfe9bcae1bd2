package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/splitpay/payment"
	"github.com/xraph/splitpay/subscription"
	"github.com/xraph/splitpay/transfer"
)

type fakeCounter struct{ n float64 }

func (c *fakeCounter) Inc()          { c.n++ }
func (c *fakeCounter) Add(v float64) { c.n += v }

type fakeHistogram struct{ obs []float64 }

func (h *fakeHistogram) Observe(v float64) { h.obs = append(h.obs, v) }

type fakeFactory struct {
	counters   map[string]*fakeCounter
	histograms map[string]*fakeHistogram
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{
		counters:   make(map[string]*fakeCounter),
		histograms: make(map[string]*fakeHistogram),
	}
}

func (f *fakeFactory) Counter(name string) Counter {
	c := &fakeCounter{}
	f.counters[name] = c
	return c
}

func (f *fakeFactory) Histogram(name string) Histogram {
	h := &fakeHistogram{}
	f.histograms[name] = h
	return h
}

func TestMetricsExtension(t *testing.T) {
	f := newFakeFactory()
	m := NewMetricsExtension(f)
	ctx := context.Background()
	sub := &subscription.Record{}

	_ = m.OnSubscriptionCreated(ctx, sub)
	_ = m.OnPaymentAccepted(ctx, sub, &payment.Payment{Amount: 100})
	_ = m.OnPaymentRejected(ctx, "sub_1", 1, subscription.ErrInsufficientPayment)
	_ = m.OnFundsWithdrawn(ctx, sub, &transfer.Transfer{Amount: 60})
	_ = m.OnWithdrawalRejected(ctx, "sub_1", "eve", 5, subscription.ErrUnauthorized)
	_ = m.OnWithdrawalRejected(ctx, "sub_1", "o1", 5, subscription.ErrExceedsEntitlement)
	_ = m.OnTransferExecuted(ctx, &transfer.Transfer{}, 15*time.Millisecond)
	_ = m.OnTransferFailed(ctx, &transfer.Transfer{}, errors.New("rpc down"))
	_ = m.OnSubscriptionClosed(ctx, sub)

	wantCounters := map[string]float64{
		"splitpay.subscription.created":    1,
		"splitpay.subscription.closed":     1,
		"splitpay.payment.accepted":        1,
		"splitpay.payment.rejected":        1,
		"splitpay.withdrawal.accepted":     1,
		"splitpay.withdrawal.rejected":     2,
		"splitpay.withdrawal.unauthorized": 1,
		"splitpay.transfer.executed":       1,
		"splitpay.transfer.failed":         1,
	}
	for name, want := range wantCounters {
		if got := f.counters[name].n; got != want {
			t.Errorf("%s = %v, want %v", name, got, want)
		}
	}

	if obs := f.histograms["splitpay.payment.amount"].obs; len(obs) != 1 || obs[0] != 100 {
		t.Errorf("payment amount observations = %v", obs)
	}
	if obs := f.histograms["splitpay.withdrawal.amount"].obs; len(obs) != 1 || obs[0] != 60 {
		t.Errorf("withdrawal amount observations = %v", obs)
	}
	if obs := f.histograms["splitpay.transfer.latency_ms"].obs; len(obs) != 1 || obs[0] != 15 {
		t.Errorf("latency observations = %v", obs)
	}
}
