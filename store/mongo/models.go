package mongo

import (
	"fmt"
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/splitpay/id"
	"github.com/xraph/splitpay/payment"
	"github.com/xraph/splitpay/subscription"
	"github.com/xraph/splitpay/transfer"
	"github.com/xraph/splitpay/types"
)

// ==================== Subscription models ====================

type subscriptionModel struct {
	grove.BaseModel `grove:"table:splitpay_subscriptions"`

	ID        string            `grove:"id,pk"      bson:"_id"`
	Resource  string            `grove:"resource"   bson:"resource"`
	TokenMint string            `grove:"token_mint" bson:"token_mint"`
	PaidUntil int64             `grove:"paid_until" bson:"paid_until"`
	Version   int64             `grove:"version"    bson:"version"`
	Account   []byte            `grove:"account"    bson:"account"`
	Metadata  map[string]string `grove:"metadata"   bson:"metadata,omitempty"`
	CreatedAt time.Time         `grove:"created_at" bson:"created_at"`
	UpdatedAt time.Time         `grove:"updated_at" bson:"updated_at"`
}

func toSubscriptionModel(r *subscription.Record) (*subscriptionModel, error) {
	image, err := r.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return &subscriptionModel{
		ID:        r.ID.String(),
		Resource:  r.Resource,
		TokenMint: r.TokenMint,
		PaidUntil: r.PaidUntil,
		Version:   int64(r.Version), //nolint:gosec // versions stay far below 2^63
		Account:   image,
		Metadata:  r.Metadata,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}, nil
}

func fromSubscriptionModel(m *subscriptionModel) (*subscription.Record, error) {
	subID, err := id.ParseSubscriptionID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse subscription id %q: %w", m.ID, err)
	}
	r := &subscription.Record{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:       subID,
		Resource: m.Resource,
		Version:  uint64(m.Version), //nolint:gosec // written from a uint64
		Metadata: m.Metadata,
	}
	if err := r.UnmarshalBinary(m.Account); err != nil {
		return nil, fmt.Errorf("decode subscription %s: %w", m.ID, err)
	}
	return r, nil
}

// ==================== Payment models ====================

// Amounts are stored as decimal strings; BSON has no unsigned 64-bit type.
type paymentModel struct {
	grove.BaseModel `grove:"table:splitpay_payments"`

	ID             string            `grove:"id,pk"           bson:"_id"`
	SubscriptionID string            `grove:"subscription_id" bson:"subscription_id"`
	Payer          string            `grove:"payer"           bson:"payer,omitempty"`
	TokenMint      string            `grove:"token_mint"      bson:"token_mint"`
	Amount         string            `grove:"amount"          bson:"amount"`
	Reference      string            `grove:"reference"       bson:"reference,omitempty"`
	PaidAt         time.Time         `grove:"paid_at"         bson:"paid_at"`
	PaidUntil      time.Time         `grove:"paid_until"      bson:"paid_until"`
	Metadata       map[string]string `grove:"metadata"        bson:"metadata,omitempty"`
	CreatedAt      time.Time         `grove:"created_at"      bson:"created_at"`
	UpdatedAt      time.Time         `grove:"updated_at"      bson:"updated_at"`
}

func toPaymentModel(p *payment.Payment) *paymentModel {
	return &paymentModel{
		ID:             p.ID.String(),
		SubscriptionID: p.SubscriptionID.String(),
		Payer:          p.Payer,
		TokenMint:      p.TokenMint,
		Amount:         p.Amount.String(),
		Reference:      p.Reference,
		PaidAt:         p.PaidAt,
		PaidUntil:      p.PaidUntil,
		Metadata:       p.Metadata,
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
	}
}

func fromPaymentModel(m *paymentModel) (*payment.Payment, error) {
	payID, err := id.ParsePaymentID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse payment id %q: %w", m.ID, err)
	}
	subID, err := id.ParseSubscriptionID(m.SubscriptionID)
	if err != nil {
		return nil, fmt.Errorf("parse subscription id %q: %w", m.SubscriptionID, err)
	}
	amount, err := types.ParseAmount(m.Amount)
	if err != nil {
		return nil, err
	}
	return &payment.Payment{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:             payID,
		SubscriptionID: subID,
		Payer:          m.Payer,
		TokenMint:      m.TokenMint,
		Amount:         amount,
		Reference:      m.Reference,
		PaidAt:         m.PaidAt,
		PaidUntil:      m.PaidUntil,
		Metadata:       m.Metadata,
	}, nil
}

// ==================== Transfer models ====================

type transferModel struct {
	grove.BaseModel `grove:"table:splitpay_transfers"`

	ID             string            `grove:"id,pk"           bson:"_id"`
	SubscriptionID string            `grove:"subscription_id" bson:"subscription_id"`
	TokenMint      string            `grove:"token_mint"      bson:"token_mint"`
	Recipient      string            `grove:"recipient"       bson:"recipient"`
	Amount         string            `grove:"amount"          bson:"amount"`
	Status         string            `grove:"status"          bson:"status"`
	Attempts       int               `grove:"attempts"        bson:"attempts"`
	ExecutedAt     *time.Time        `grove:"executed_at"     bson:"executed_at,omitempty"`
	TxRef          string            `grove:"tx_ref"          bson:"tx_ref,omitempty"`
	LastError      string            `grove:"last_error"      bson:"last_error,omitempty"`
	Metadata       map[string]string `grove:"metadata"        bson:"metadata,omitempty"`
	CreatedAt      time.Time         `grove:"created_at"      bson:"created_at"`
	UpdatedAt      time.Time         `grove:"updated_at"      bson:"updated_at"`
}

func toTransferModel(t *transfer.Transfer) *transferModel {
	return &transferModel{
		ID:             t.ID.String(),
		SubscriptionID: t.SubscriptionID.String(),
		TokenMint:      t.TokenMint,
		Recipient:      t.Recipient,
		Amount:         t.Amount.String(),
		Status:         string(t.Status),
		Attempts:       t.Attempts,
		ExecutedAt:     t.ExecutedAt,
		TxRef:          t.TxRef,
		LastError:      t.LastError,
		Metadata:       t.Metadata,
		CreatedAt:      t.CreatedAt,
		UpdatedAt:      t.UpdatedAt,
	}
}

func fromTransferModel(m *transferModel) (*transfer.Transfer, error) {
	xferID, err := id.ParseTransferID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse transfer id %q: %w", m.ID, err)
	}
	subID, err := id.ParseSubscriptionID(m.SubscriptionID)
	if err != nil {
		return nil, fmt.Errorf("parse subscription id %q: %w", m.SubscriptionID, err)
	}
	amount, err := types.ParseAmount(m.Amount)
	if err != nil {
		return nil, err
	}
	return &transfer.Transfer{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:             xferID,
		SubscriptionID: subID,
		TokenMint:      m.TokenMint,
		Recipient:      m.Recipient,
		Amount:         amount,
		Status:         transfer.Status(m.Status),
		Attempts:       m.Attempts,
		ExecutedAt:     m.ExecutedAt,
		TxRef:          m.TxRef,
		LastError:      m.LastError,
		Metadata:       m.Metadata,
	}, nil
}
