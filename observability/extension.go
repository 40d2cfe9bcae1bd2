// Package observability provides a metrics extension for splitpay that
// records lifecycle event counts via a MetricFactory.
package observability

import (
	"context"
	"errors"
	"time"

	"github.com/xraph/splitpay/payment"
	"github.com/xraph/splitpay/plugin"
	"github.com/xraph/splitpay/subscription"
	"github.com/xraph/splitpay/transfer"
	"github.com/xraph/splitpay/types"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin                = (*MetricsExtension)(nil)
	_ plugin.OnInit                = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionCreated = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionClosed  = (*MetricsExtension)(nil)
	_ plugin.OnPaymentAccepted     = (*MetricsExtension)(nil)
	_ plugin.OnPaymentRejected     = (*MetricsExtension)(nil)
	_ plugin.OnFundsWithdrawn      = (*MetricsExtension)(nil)
	_ plugin.OnWithdrawalRejected  = (*MetricsExtension)(nil)
	_ plugin.OnTransferExecuted    = (*MetricsExtension)(nil)
	_ plugin.OnTransferFailed      = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records system-wide lifecycle metrics.
// Register it as a splitpay plugin to track payment and payout flow.
type MetricsExtension struct {
	factory MetricFactory

	// Subscription metrics
	SubscriptionCreated Counter
	SubscriptionClosed  Counter

	// Payment metrics
	PaymentAccepted Counter
	PaymentRejected Counter
	PaymentAmount   Histogram

	// Withdrawal metrics
	WithdrawalAccepted     Counter
	WithdrawalRejected     Counter
	WithdrawalUnauthorized Counter
	WithdrawalAmount       Histogram

	// Transfer metrics
	TransferExecuted Counter
	TransferFailed   Counter
	TransferLatency  Histogram
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
// Use app.Metrics() in forge extensions.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		factory: factory,

		SubscriptionCreated: factory.Counter("splitpay.subscription.created"),
		SubscriptionClosed:  factory.Counter("splitpay.subscription.closed"),

		PaymentAccepted: factory.Counter("splitpay.payment.accepted"),
		PaymentRejected: factory.Counter("splitpay.payment.rejected"),
		PaymentAmount:   factory.Histogram("splitpay.payment.amount"),

		WithdrawalAccepted:     factory.Counter("splitpay.withdrawal.accepted"),
		WithdrawalRejected:     factory.Counter("splitpay.withdrawal.rejected"),
		WithdrawalUnauthorized: factory.Counter("splitpay.withdrawal.unauthorized"),
		WithdrawalAmount:       factory.Histogram("splitpay.withdrawal.amount"),

		TransferExecuted: factory.Counter("splitpay.transfer.executed"),
		TransferFailed:   factory.Counter("splitpay.transfer.failed"),
		TransferLatency:  factory.Histogram("splitpay.transfer.latency_ms"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnInit implements plugin.OnInit.
func (m *MetricsExtension) OnInit(_ context.Context, _ interface{}) error {
	return nil
}

// ──────────────────────────────────────────────────
// Subscription lifecycle hooks
// ──────────────────────────────────────────────────

// OnSubscriptionCreated implements plugin.OnSubscriptionCreated.
func (m *MetricsExtension) OnSubscriptionCreated(_ context.Context, _ *subscription.Record) error {
	m.SubscriptionCreated.Inc()
	return nil
}

// OnSubscriptionClosed implements plugin.OnSubscriptionClosed.
func (m *MetricsExtension) OnSubscriptionClosed(_ context.Context, _ *subscription.Record) error {
	m.SubscriptionClosed.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Payment hooks
// ──────────────────────────────────────────────────

// OnPaymentAccepted implements plugin.OnPaymentAccepted.
func (m *MetricsExtension) OnPaymentAccepted(_ context.Context, _ *subscription.Record, p *payment.Payment) error {
	m.PaymentAccepted.Inc()
	m.PaymentAmount.Observe(float64(p.Amount))
	return nil
}

// OnPaymentRejected implements plugin.OnPaymentRejected.
func (m *MetricsExtension) OnPaymentRejected(_ context.Context, _ string, _ types.Amount, _ error) error {
	m.PaymentRejected.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Withdrawal hooks
// ──────────────────────────────────────────────────

// OnFundsWithdrawn implements plugin.OnFundsWithdrawn.
func (m *MetricsExtension) OnFundsWithdrawn(_ context.Context, _ *subscription.Record, t *transfer.Transfer) error {
	m.WithdrawalAccepted.Inc()
	m.WithdrawalAmount.Observe(float64(t.Amount))
	return nil
}

// OnWithdrawalRejected implements plugin.OnWithdrawalRejected.
func (m *MetricsExtension) OnWithdrawalRejected(_ context.Context, _, _ string, _ types.Amount, reason error) error {
	m.WithdrawalRejected.Inc()
	if errors.Is(reason, subscription.ErrUnauthorized) {
		m.WithdrawalUnauthorized.Inc()
	}
	return nil
}

// ──────────────────────────────────────────────────
// Transfer hooks
// ──────────────────────────────────────────────────

// OnTransferExecuted implements plugin.OnTransferExecuted.
func (m *MetricsExtension) OnTransferExecuted(_ context.Context, _ *transfer.Transfer, elapsed time.Duration) error {
	m.TransferExecuted.Inc()
	m.TransferLatency.Observe(float64(elapsed.Milliseconds()))
	return nil
}

// OnTransferFailed implements plugin.OnTransferFailed.
func (m *MetricsExtension) OnTransferFailed(_ context.Context, _ *transfer.Transfer, _ error) error {
	m.TransferFailed.Inc()
	return nil
}
