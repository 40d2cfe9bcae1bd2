// Package transfer holds the token-transfer instructions produced by
// withdrawals and the collaborator that executes them.
package transfer

import (
	"context"
	"time"

	"github.com/xraph/splitpay/id"
	"github.com/xraph/splitpay/types"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusExecuting Status = "executing"
	StatusExecuted  Status = "executed"
	StatusFailed    Status = "failed"
)

// Transfer is a persisted TransferRequest: move Amount of TokenMint from
// the subscription's funds to Recipient.
type Transfer struct {
	types.Entity
	ID             id.TransferID     `json:"id"`
	SubscriptionID id.SubscriptionID `json:"subscription_id"`
	TokenMint      string            `json:"token_mint"`
	Recipient      string            `json:"recipient"`
	Amount         types.Amount      `json:"amount"`
	Status         Status            `json:"status"`
	Attempts       int               `json:"attempts"`
	ExecutedAt     *time.Time        `json:"executed_at,omitempty"`
	TxRef          string            `json:"tx_ref,omitempty"`
	LastError      string            `json:"last_error,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Executor moves tokens. Execute returns a reference to the executed
// transfer (for example a transaction signature).
//
// A transfer is claimed before Execute is called and is not handed out
// again until its outcome is recorded. t.ID never changes between
// attempts; executors that can should use it as an idempotency key.
type Executor interface {
	Execute(ctx context.Context, t *Transfer) (txRef string, err error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, t *Transfer) (string, error)

func (f ExecutorFunc) Execute(ctx context.Context, t *Transfer) (string, error) {
	return f(ctx, t)
}
