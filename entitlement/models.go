// Package entitlement describes what a single owner may draw from a
// subscription.
package entitlement

import (
	"github.com/xraph/splitpay/id"
	"github.com/xraph/splitpay/types"
)

// Result is a point-in-time view of one owner's position.
type Result struct {
	SubscriptionID id.SubscriptionID `json:"subscription_id"`
	Owner          string            `json:"owner"`
	Share          uint8             `json:"share"`
	TotalPaid      types.Amount      `json:"total_paid"`
	Entitled       types.Amount      `json:"entitled"`
	Withdrawn      types.Amount      `json:"withdrawn"`
	Available      types.Amount      `json:"available"`
	Active         bool              `json:"active"`
}
