package splitpay

import (
	"github.com/xraph/splitpay/subscription"
	"github.com/xraph/splitpay/types"
)

// Re-export common types for convenience so users don't have to import types package.

// Amount is re-exported from types package.
type Amount = types.Amount

// Entity is re-exported from types package.
type Entity = types.Entity

// Subscription is the persisted subscription record.
type Subscription = subscription.Record

// TransferRequest is re-exported from subscription package.
type TransferRequest = subscription.TransferRequest

// Re-export Amount helpers
var (
	ParseAmount = types.ParseAmount
	SumAmounts  = types.Sum
)

// MaxAmount is the largest representable amount.
const MaxAmount = types.MaxAmount

// Re-export Entity constructor
var NewEntity = types.NewEntity
