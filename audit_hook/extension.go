// Package audithook bridges splitpay lifecycle events to an audit trail backend.
//
// It defines a local Recorder interface so the package does not import
// an audit backend directly. Callers inject a RecorderFunc adapter at
// wiring time.
package audithook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/splitpay/payment"
	"github.com/xraph/splitpay/plugin"
	"github.com/xraph/splitpay/subscription"
	"github.com/xraph/splitpay/transfer"
	"github.com/xraph/splitpay/types"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin                = (*Extension)(nil)
	_ plugin.OnSubscriptionCreated = (*Extension)(nil)
	_ plugin.OnSubscriptionClosed  = (*Extension)(nil)
	_ plugin.OnPaymentAccepted     = (*Extension)(nil)
	_ plugin.OnPaymentRejected     = (*Extension)(nil)
	_ plugin.OnFundsWithdrawn      = (*Extension)(nil)
	_ plugin.OnWithdrawalRejected  = (*Extension)(nil)
	_ plugin.OnTransferExecuted    = (*Extension)(nil)
	_ plugin.OnTransferFailed      = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a local representation of an audit event.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges splitpay lifecycle events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Subscription lifecycle hooks
// ──────────────────────────────────────────────────

// OnSubscriptionCreated implements plugin.OnSubscriptionCreated.
func (e *Extension) OnSubscriptionCreated(ctx context.Context, sub *subscription.Record) error {
	return e.record(ctx, ActionSubscriptionCreated, SeverityInfo, OutcomeSuccess,
		ResourceSubscription, sub.ID.String(), CategorySubscription, nil,
		"resource", sub.Resource,
		"token_mint", sub.TokenMint,
		"owners", sub.Owners,
		"shares", sharesMeta(sub.Shares),
		"price", sub.Price.String(),
		"period_duration", sub.PeriodDuration,
	)
}

// OnSubscriptionClosed implements plugin.OnSubscriptionClosed.
func (e *Extension) OnSubscriptionClosed(ctx context.Context, sub *subscription.Record) error {
	return e.record(ctx, ActionSubscriptionClosed, SeverityInfo, OutcomeSuccess,
		ResourceSubscription, sub.ID.String(), CategorySubscription, nil,
		"resource", sub.Resource,
		"total_paid", sub.TotalPaid.String(),
	)
}

// ──────────────────────────────────────────────────
// Payment hooks
// ──────────────────────────────────────────────────

// OnPaymentAccepted implements plugin.OnPaymentAccepted.
func (e *Extension) OnPaymentAccepted(ctx context.Context, sub *subscription.Record, p *payment.Payment) error {
	return e.record(ctx, ActionPaymentAccepted, SeverityInfo, OutcomeSuccess,
		ResourcePayment, p.ID.String(), CategoryPayment, nil,
		"subscription_id", sub.ID.String(),
		"amount", p.Amount.String(),
		"payer", p.Payer,
		"reference", p.Reference,
		"total_paid", sub.TotalPaid.String(),
		"paid_until", p.PaidUntil.Format(time.RFC3339),
	)
}

// OnPaymentRejected implements plugin.OnPaymentRejected.
func (e *Extension) OnPaymentRejected(ctx context.Context, subID string, amount types.Amount, reason error) error {
	return e.record(ctx, ActionPaymentRejected, SeverityWarning, OutcomeFailure,
		ResourceSubscription, subID, CategoryPayment, reason,
		"amount", amount.String(),
	)
}

// ──────────────────────────────────────────────────
// Withdrawal hooks
// ──────────────────────────────────────────────────

// OnFundsWithdrawn implements plugin.OnFundsWithdrawn.
func (e *Extension) OnFundsWithdrawn(ctx context.Context, sub *subscription.Record, t *transfer.Transfer) error {
	return e.record(ctx, ActionFundsWithdrawn, SeverityInfo, OutcomeSuccess,
		ResourceTransfer, t.ID.String(), CategoryPayout, nil,
		"subscription_id", sub.ID.String(),
		"recipient", t.Recipient,
		"amount", t.Amount.String(),
		"token_mint", t.TokenMint,
	)
}

// OnWithdrawalRejected implements plugin.OnWithdrawalRejected.
// Signature failures are audited as access events.
func (e *Extension) OnWithdrawalRejected(ctx context.Context, subID, owner string, amount types.Amount, reason error) error {
	category, severity := CategoryPayout, SeverityWarning
	if errors.Is(reason, subscription.ErrUnauthorized) || errors.Is(reason, subscription.ErrUnknownOwner) {
		category, severity = CategoryAccess, SeverityError
	}
	return e.record(ctx, ActionWithdrawalRejected, severity, OutcomeFailure,
		ResourceSubscription, subID, category, reason,
		"owner", owner,
		"amount", amount.String(),
	)
}

// ──────────────────────────────────────────────────
// Transfer hooks
// ──────────────────────────────────────────────────

// OnTransferExecuted implements plugin.OnTransferExecuted.
func (e *Extension) OnTransferExecuted(ctx context.Context, t *transfer.Transfer, elapsed time.Duration) error {
	return e.record(ctx, ActionTransferExecuted, SeverityInfo, OutcomeSuccess,
		ResourceTransfer, t.ID.String(), CategoryPayout, nil,
		"recipient", t.Recipient,
		"amount", t.Amount.String(),
		"tx_ref", t.TxRef,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnTransferFailed implements plugin.OnTransferFailed.
func (e *Extension) OnTransferFailed(ctx context.Context, t *transfer.Transfer, err error) error {
	return e.record(ctx, ActionTransferFailed, SeverityCritical, OutcomeFailure,
		ResourceTransfer, t.ID.String(), CategoryPayout, err,
		"recipient", t.Recipient,
		"amount", t.Amount.String(),
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

// record builds and sends an audit event if the action is enabled.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}

// sharesMeta widens shares so JSON encoders emit numbers rather than a
// base64 byte string.
func sharesMeta(shares []uint8) []int {
	out := make([]int, len(shares))
	for i, s := range shares {
		out[i] = int(s)
	}
	return out
}
