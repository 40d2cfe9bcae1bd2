// Package payment records accepted payments into a subscription.
package payment

import (
	"time"

	"github.com/xraph/splitpay/id"
	"github.com/xraph/splitpay/types"
)

// Payment is the receipt of one accepted pay_subscription call.
//
// Reference is the payer-supplied identifier of the token transfer that
// funded the payment (for example a transaction signature). A reference
// is credited at most once per subscription.
type Payment struct {
	types.Entity
	ID             id.PaymentID      `json:"id"`
	SubscriptionID id.SubscriptionID `json:"subscription_id"`
	Payer          string            `json:"payer,omitempty"`
	TokenMint      string            `json:"token_mint"`
	Amount         types.Amount      `json:"amount"`
	Reference      string            `json:"reference,omitempty"`
	PaidAt         time.Time         `json:"paid_at"`
	// PaidUntil is the subscription expiry after this payment.
	PaidUntil time.Time         `json:"paid_until"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}
