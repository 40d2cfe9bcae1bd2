package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/xraph/splitpay"
	"github.com/xraph/splitpay/id"
	"github.com/xraph/splitpay/payment"
	"github.com/xraph/splitpay/store"
	"github.com/xraph/splitpay/subscription"
	"github.com/xraph/splitpay/transfer"
	"github.com/xraph/splitpay/types"
)

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

// subscriptionEntry keeps the account image exactly as a durable backend
// would, next to the hosting columns.
type subscriptionEntry struct {
	id        id.SubscriptionID
	resource  string
	tokenMint string
	image     []byte
	version   uint64
	metadata  map[string]string
	entity    types.Entity
}

type Store struct {
	mu sync.RWMutex

	// Subscription storage
	subscriptions map[string]*subscriptionEntry
	byResource    map[string]string

	// Payment storage
	payments map[string]*payment.Payment

	// Transfer storage
	transfers map[string]*transfer.Transfer

	closed bool
}

func New() *Store {
	return &Store{
		subscriptions: make(map[string]*subscriptionEntry),
		byResource:    make(map[string]string),
		payments:      make(map[string]*payment.Payment),
		transfers:     make(map[string]*transfer.Transfer),
	}
}

// Subscription Store implementation
func (s *Store) CreateSubscription(_ context.Context, r *subscription.Record) error {
	image, err := r.MarshalBinary()
	if err != nil {
		return fmt.Errorf("splitpay/memory: encode subscription: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return splitpay.ErrStoreClosed
	}
	if _, exists := s.subscriptions[r.ID.String()]; exists {
		return splitpay.ErrAlreadyExists
	}
	if r.Resource != "" {
		if _, taken := s.byResource[r.Resource]; taken {
			return splitpay.ErrResourceTaken
		}
		s.byResource[r.Resource] = r.ID.String()
	}
	s.subscriptions[r.ID.String()] = &subscriptionEntry{
		id:        r.ID,
		resource:  r.Resource,
		tokenMint: r.TokenMint,
		image:     image,
		version:   r.Version,
		metadata:  maps.Clone(r.Metadata),
		entity:    r.Entity,
	}
	return nil
}

func (s *Store) GetSubscription(_ context.Context, subID id.SubscriptionID) (*subscription.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if e, ok := s.subscriptions[subID.String()]; ok {
		return e.record()
	}
	return nil, splitpay.ErrSubscriptionNotFound
}

func (s *Store) GetSubscriptionByResource(_ context.Context, resource string) (*subscription.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if key, ok := s.byResource[resource]; ok {
		return s.subscriptions[key].record()
	}
	return nil, splitpay.ErrSubscriptionNotFound
}

func (s *Store) ListSubscriptions(_ context.Context, opts subscription.ListOpts) ([]*subscription.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]*subscriptionEntry, 0, len(s.subscriptions))
	for _, e := range s.subscriptions {
		if opts.TokenMint == "" || e.tokenMint == opts.TokenMint {
			entries = append(entries, e)
		}
	}
	slices.SortFunc(entries, func(a, b *subscriptionEntry) int {
		return a.entity.CreatedAt.Compare(b.entity.CreatedAt)
	})

	entries = paginate(entries, opts.Offset, opts.Limit)
	result := make([]*subscription.Record, 0, len(entries))
	for _, e := range entries {
		r, err := e.record()
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, nil
}

func (s *Store) UpdateSubscription(_ context.Context, r *subscription.Record) error {
	image, err := r.MarshalBinary()
	if err != nil {
		return fmt.Errorf("splitpay/memory: encode subscription: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return splitpay.ErrStoreClosed
	}
	e, exists := s.subscriptions[r.ID.String()]
	if !exists {
		return splitpay.ErrSubscriptionNotFound
	}
	if e.version+1 != r.Version {
		return splitpay.ErrConflict
	}
	e.image = image
	e.version = r.Version
	e.metadata = maps.Clone(r.Metadata)
	e.entity.UpdatedAt = r.UpdatedAt
	return nil
}

func (s *Store) DeleteSubscription(_ context.Context, subID id.SubscriptionID, version uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return splitpay.ErrStoreClosed
	}
	e, exists := s.subscriptions[subID.String()]
	if !exists {
		return splitpay.ErrSubscriptionNotFound
	}
	if e.version != version {
		return splitpay.ErrConflict
	}
	delete(s.byResource, e.resource)
	delete(s.subscriptions, subID.String())
	return nil
}

// Payment Store implementation
func (s *Store) CreatePayment(_ context.Context, p *payment.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return splitpay.ErrStoreClosed
	}
	if _, exists := s.payments[p.ID.String()]; exists {
		return splitpay.ErrAlreadyExists
	}
	if p.Reference != "" {
		for _, existing := range s.payments {
			if existing.SubscriptionID.String() == p.SubscriptionID.String() && existing.Reference == p.Reference {
				return splitpay.ErrDuplicatePayment
			}
		}
	}
	cp := *p
	s.payments[p.ID.String()] = &cp
	return nil
}

func (s *Store) GetPayment(_ context.Context, payID id.PaymentID) (*payment.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p, ok := s.payments[payID.String()]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, splitpay.ErrPaymentNotFound
}

func (s *Store) GetPaymentByReference(_ context.Context, subID id.SubscriptionID, reference string) (*payment.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.payments {
		if p.SubscriptionID.String() == subID.String() && p.Reference == reference {
			cp := *p
			return &cp, nil
		}
	}
	return nil, splitpay.ErrPaymentNotFound
}

func (s *Store) ListPayments(_ context.Context, subID id.SubscriptionID, opts payment.ListOpts) ([]*payment.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*payment.Payment, 0)
	for _, p := range s.payments {
		if p.SubscriptionID.String() != subID.String() {
			continue
		}
		if !opts.Start.IsZero() && p.PaidAt.Before(opts.Start) {
			continue
		}
		if !opts.End.IsZero() && !p.PaidAt.Before(opts.End) {
			continue
		}
		cp := *p
		result = append(result, &cp)
	}
	slices.SortFunc(result, func(a, b *payment.Payment) int { return a.PaidAt.Compare(b.PaidAt) })
	return paginate(result, opts.Offset, opts.Limit), nil
}

func (s *Store) UpdatePayment(_ context.Context, p *payment.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return splitpay.ErrStoreClosed
	}
	existing, ok := s.payments[p.ID.String()]
	if !ok {
		return splitpay.ErrPaymentNotFound
	}
	existing.PaidAt = p.PaidAt
	existing.PaidUntil = p.PaidUntil
	existing.UpdatedAt = p.UpdatedAt
	return nil
}

func (s *Store) DeletePayment(_ context.Context, payID id.PaymentID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return splitpay.ErrStoreClosed
	}
	if _, ok := s.payments[payID.String()]; !ok {
		return splitpay.ErrPaymentNotFound
	}
	delete(s.payments, payID.String())
	return nil
}

// Transfer Store implementation
func (s *Store) CreateTransfer(_ context.Context, t *transfer.Transfer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return splitpay.ErrStoreClosed
	}
	if _, exists := s.transfers[t.ID.String()]; exists {
		return splitpay.ErrAlreadyExists
	}
	cp := *t
	s.transfers[t.ID.String()] = &cp
	return nil
}

func (s *Store) GetTransfer(_ context.Context, xferID id.TransferID) (*transfer.Transfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if t, ok := s.transfers[xferID.String()]; ok {
		cp := *t
		return &cp, nil
	}
	return nil, splitpay.ErrTransferNotFound
}

func (s *Store) ListTransfers(_ context.Context, subID id.SubscriptionID, opts transfer.ListOpts) ([]*transfer.Transfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*transfer.Transfer, 0)
	for _, t := range s.transfers {
		if t.SubscriptionID.String() != subID.String() {
			continue
		}
		if opts.Status != "" && t.Status != opts.Status {
			continue
		}
		cp := *t
		result = append(result, &cp)
	}
	sortTransfers(result)
	return paginate(result, opts.Offset, opts.Limit), nil
}

func (s *Store) ListPendingTransfers(_ context.Context, limit int) ([]*transfer.Transfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*transfer.Transfer, 0)
	for _, t := range s.transfers {
		if t.Status == transfer.StatusPending {
			cp := *t
			result = append(result, &cp)
		}
	}
	sortTransfers(result)
	return paginate(result, 0, limit), nil
}

func (s *Store) ClaimTransfer(_ context.Context, xferID id.TransferID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return splitpay.ErrStoreClosed
	}
	t, ok := s.transfers[xferID.String()]
	if !ok {
		return splitpay.ErrTransferNotFound
	}
	switch t.Status {
	case transfer.StatusPending, transfer.StatusFailed:
	case transfer.StatusExecuted:
		return splitpay.ErrTransferExecuted
	default:
		return splitpay.ErrTransferInFlight
	}
	t.Status = transfer.StatusExecuting
	t.UpdatedAt = at
	return nil
}

func (s *Store) MarkTransferExecuted(_ context.Context, xferID id.TransferID, executedAt time.Time, txRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return splitpay.ErrStoreClosed
	}
	t, ok := s.transfers[xferID.String()]
	if !ok {
		return splitpay.ErrTransferNotFound
	}
	t.Status = transfer.StatusExecuted
	t.ExecutedAt = &executedAt
	t.TxRef = txRef
	t.LastError = ""
	t.Attempts++
	t.UpdatedAt = executedAt
	return nil
}

func (s *Store) MarkTransferFailed(_ context.Context, xferID id.TransferID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return splitpay.ErrStoreClosed
	}
	t, ok := s.transfers[xferID.String()]
	if !ok {
		return splitpay.ErrTransferNotFound
	}
	t.Status = transfer.StatusFailed
	t.LastError = reason
	t.Attempts++
	t.UpdatedAt = time.Now().UTC()
	return nil
}

// Store management
func (s *Store) Migrate(_ context.Context) error {
	return nil // No migration needed for memory store
}

func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return splitpay.ErrStoreClosed
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}

// Helper functions
func (e *subscriptionEntry) record() (*subscription.Record, error) {
	r := &subscription.Record{
		Entity:   e.entity,
		ID:       e.id,
		Resource: e.resource,
		Version:  e.version,
		Metadata: maps.Clone(e.metadata),
	}
	if err := r.UnmarshalBinary(e.image); err != nil {
		return nil, fmt.Errorf("splitpay/memory: decode subscription %s: %w", e.id, err)
	}
	return r, nil
}

func sortTransfers(ts []*transfer.Transfer) {
	slices.SortFunc(ts, func(a, b *transfer.Transfer) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
}

func paginate[T any](items []T, offset, limit int) []T {
	start := min(offset, len(items))
	end := len(items)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	return items[start:end]
}
