// Package subscription implements the shared subscription account: a
// record funded by anyone and drained by its co-owners in proportion to
// fixed percentage shares.
//
// The transitions in this package are pure. New, Pay and Withdraw never
// modify their receiver; they return a fresh Record or a typed error and
// leave persistence, locking and token movement to the caller.
package subscription

import (
	"maps"
	"slices"
	"time"

	"github.com/xraph/splitpay/id"
	"github.com/xraph/splitpay/types"
)

// DefaultMaxOwners is the owner cap applied when Params.MaxOwners is zero.
const DefaultMaxOwners = 5

// Record is one subscription account.
//
// TokenMint, Owners, Shares, Price and PeriodDuration are fixed at
// creation. Withdrawn, TotalPaid and PaidUntil only ever grow.
type Record struct {
	types.Entity
	ID       id.SubscriptionID `json:"id"`
	Resource string            `json:"resource"`

	TokenMint      string         `json:"token_mint"`
	Owners         []string       `json:"owners"`
	Shares         []uint8        `json:"shares"`
	Withdrawn      []types.Amount `json:"withdrawn"`
	TotalPaid      types.Amount   `json:"total_paid"`
	Price          types.Amount   `json:"price"`
	PeriodDuration uint64         `json:"period_duration"` // seconds
	PaidUntil      int64          `json:"paid_until"`      // unix seconds

	// Version increments on every persisted write and backs
	// compare-and-swap updates in the stores.
	Version  uint64            `json:"version"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Params are the creation inputs of a subscription.
type Params struct {
	TokenMint      string
	Owners         []string
	Shares         []uint8
	Price          types.Amount
	PeriodDuration uint64 // seconds

	// MaxOwners caps len(Owners). Zero means DefaultMaxOwners.
	MaxOwners int
}

// TransferRequest instructs the token-transfer collaborator to move
// Amount of TokenMint to Recipient. The ledger never moves tokens itself.
type TransferRequest struct {
	TokenMint string       `json:"token_mint"`
	Recipient string       `json:"recipient"`
	Amount    types.Amount `json:"amount"`
}

// SignerSet is the set of identities a verifier confirmed as signers of
// the current call.
type SignerSet map[string]struct{}

// NewSignerSet builds a SignerSet from verified identities.
func NewSignerSet(identities ...string) SignerSet {
	s := make(SignerSet, len(identities))
	for _, identity := range identities {
		s[identity] = struct{}{}
	}
	return s
}

// Has reports whether identity signed.
func (s SignerSet) Has(identity string) bool {
	_, ok := s[identity]
	return ok
}

// OwnerIndex returns the position of owner in Owners, or -1.
func (r *Record) OwnerIndex(owner string) int {
	return slices.Index(r.Owners, owner)
}

// PaidUntilTime returns PaidUntil as a time.Time.
func (r *Record) PaidUntilTime() time.Time {
	return time.Unix(r.PaidUntil, 0).UTC()
}

// Active reports whether service is funded at now.
func (r *Record) Active(now time.Time) bool {
	return now.Unix() < r.PaidUntil
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	c := *r
	c.Owners = slices.Clone(r.Owners)
	c.Shares = slices.Clone(r.Shares)
	c.Withdrawn = slices.Clone(r.Withdrawn)
	c.Metadata = maps.Clone(r.Metadata)
	return &c
}
