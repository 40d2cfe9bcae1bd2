package splitpay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/splitpay/entitlement"
	"github.com/xraph/splitpay/id"
	"github.com/xraph/splitpay/payment"
	"github.com/xraph/splitpay/plugin"
	"github.com/xraph/splitpay/store"
	"github.com/xraph/splitpay/subscription"
	"github.com/xraph/splitpay/transfer"
	"github.com/xraph/splitpay/types"
)

// Defaults applied by New.
const (
	DefaultConflictRetries   = 3
	DefaultDispatchBatchSize = 100
	DefaultDispatchInterval  = 5 * time.Second
	DefaultDispatchQueueSize = 1024
)

// Ledger is the subscription engine. It loads a record, runs one
// transition, checks the result against the stored state and writes it
// back with a version compare-and-swap.
type Ledger struct {
	store    store.Store
	plugins  *plugin.Registry
	logger   *slog.Logger
	clock    Clock
	executor transfer.Executor

	// Background workers
	dispatchQueue chan *transfer.Transfer
	stopChan      chan struct{}
	stopOnce      sync.Once
	wg            sync.WaitGroup

	// Configuration
	skipMigrate       bool
	maxOwners         int
	conflictRetries   int
	dispatchBatchSize int
	dispatchInterval  time.Duration
}

// New creates a new Ledger instance.
func New(s store.Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:             s,
		plugins:           plugin.NewRegistry(),
		logger:            slog.Default(),
		clock:             SystemClock,
		dispatchQueue:     make(chan *transfer.Transfer, DefaultDispatchQueueSize),
		stopChan:          make(chan struct{}),
		maxOwners:         subscription.DefaultMaxOwners,
		conflictRetries:   DefaultConflictRetries,
		dispatchBatchSize: DefaultDispatchBatchSize,
		dispatchInterval:  DefaultDispatchInterval,
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Option configures a Ledger instance.
type Option func(*Ledger)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		l.logger = logger
		l.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(l *Ledger) {
		_ = l.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithClock sets the time source.
func WithClock(c Clock) Option {
	return func(l *Ledger) {
		l.clock = c
	}
}

// WithExecutor sets the token-transfer collaborator. Without one,
// transfers are recorded as pending and never dispatched.
func WithExecutor(e transfer.Executor) Option {
	return func(l *Ledger) {
		l.executor = e
	}
}

// WithMaxOwners sets the owner cap for new subscriptions.
func WithMaxOwners(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.maxOwners = n
		}
	}
}

// WithConflictRetries sets how often a write that lost a race is retried.
func WithConflictRetries(n int) Option {
	return func(l *Ledger) {
		if n >= 0 {
			l.conflictRetries = n
		}
	}
}

// WithoutMigrate skips store migrations on Start.
func WithoutMigrate() Option {
	return func(l *Ledger) {
		l.skipMigrate = true
	}
}

// WithDispatchConfig configures the transfer dispatch worker.
func WithDispatchConfig(batchSize int, interval time.Duration, queueSize int) Option {
	return func(l *Ledger) {
		if batchSize > 0 {
			l.dispatchBatchSize = batchSize
		}
		if interval > 0 {
			l.dispatchInterval = interval
		}
		if queueSize > 0 {
			l.dispatchQueue = make(chan *transfer.Transfer, queueSize)
		}
	}
}

// Start begins background workers.
func (l *Ledger) Start(ctx context.Context) error {
	if !l.skipMigrate {
		if err := l.store.Migrate(ctx); err != nil {
			return fmt.Errorf("%w: %w", ErrMigrationFailed, err)
		}
	}

	if l.executor == nil {
		l.executor = l.plugins.Executor()
	}

	// Initialize plugins
	l.plugins.EmitInit(ctx, l)

	if l.executor != nil {
		l.wg.Add(1)
		go l.dispatchWorker(ctx)
	}

	l.logger.Info("splitpay started",
		"dispatch", l.executor != nil,
		"batch_size", l.dispatchBatchSize,
		"dispatch_interval", l.dispatchInterval,
		"max_owners", l.maxOwners,
	)

	return nil
}

// Stop shuts down the Ledger.
func (l *Ledger) Stop() error {
	l.stopOnce.Do(func() { close(l.stopChan) })
	l.wg.Wait()

	ctx := context.Background()
	l.plugins.EmitShutdown(ctx)

	return l.store.Close()
}

// Plugins returns the plugin registry.
func (l *Ledger) Plugins() *plugin.Registry {
	return l.plugins
}

// ──────────────────────────────────────────────────
// Subscription Management
// ──────────────────────────────────────────────────

// CreateInput holds the creation parameters of a subscription.
type CreateInput struct {
	// Resource is the external key the subscription is bound to. It is
	// unique across subscriptions and defaults to the subscription ID.
	Resource       string
	TokenMint      string
	Owners         []string
	Shares         []uint8
	Price          types.Amount
	PeriodDuration uint64 // seconds
	Metadata       map[string]string
}

// CreateSubscription validates in and persists a new, unfunded
// subscription.
func (l *Ledger) CreateSubscription(ctx context.Context, in CreateInput) (*subscription.Record, error) {
	now := l.clock.Now()

	r, err := subscription.New(subscription.Params{
		TokenMint:      in.TokenMint,
		Owners:         in.Owners,
		Shares:         in.Shares,
		Price:          in.Price,
		PeriodDuration: in.PeriodDuration,
		MaxOwners:      l.maxOwners,
	}, now)
	if err != nil {
		l.logger.Debug("subscription rejected", "resource", in.Resource, "error", err)
		return nil, err
	}

	r.ID = id.NewSubscriptionID()
	r.Resource = in.Resource
	if r.Resource == "" {
		r.Resource = r.ID.String()
	}
	r.Entity = types.NewEntityAt(now)
	r.Version = 1
	r.Metadata = in.Metadata

	if err := l.store.CreateSubscription(ctx, r); err != nil {
		return nil, err
	}

	l.plugins.EmitSubscriptionCreated(ctx, r)
	l.logger.Info("subscription created",
		"subscription_id", r.ID.String(),
		"resource", r.Resource,
		"owners", len(r.Owners),
		"price", r.Price,
	)
	return r, nil
}

// GetSubscription retrieves a subscription by ID.
func (l *Ledger) GetSubscription(ctx context.Context, subID id.SubscriptionID) (*subscription.Record, error) {
	return l.store.GetSubscription(ctx, subID)
}

// GetSubscriptionByResource retrieves the subscription bound to resource.
func (l *Ledger) GetSubscriptionByResource(ctx context.Context, resource string) (*subscription.Record, error) {
	return l.store.GetSubscriptionByResource(ctx, resource)
}

// ListSubscriptions lists subscriptions in creation order.
func (l *Ledger) ListSubscriptions(ctx context.Context, opts subscription.ListOpts) ([]*subscription.Record, error) {
	return l.store.ListSubscriptions(ctx, opts)
}

// CloseSubscription removes a subscription whose funds were fully
// withdrawn. It fails with ErrUnclaimedFunds otherwise.
func (l *Ledger) CloseSubscription(ctx context.Context, subID id.SubscriptionID) error {
	for attempt := 0; ; attempt++ {
		r, err := l.store.GetSubscription(ctx, subID)
		if err != nil {
			return err
		}

		unclaimed, err := r.Unclaimed()
		if err != nil {
			return err
		}
		if unclaimed > 0 {
			return fmt.Errorf("%w: %s remaining", ErrUnclaimedFunds, unclaimed)
		}

		err = l.store.DeleteSubscription(ctx, subID, r.Version)
		if err == nil {
			l.plugins.EmitSubscriptionClosed(ctx, r)
			l.logger.Info("subscription closed", "subscription_id", subID.String())
			return nil
		}
		if !errors.Is(err, ErrConflict) || attempt >= l.conflictRetries {
			return err
		}
	}
}

// ──────────────────────────────────────────────────
// Payments
// ──────────────────────────────────────────────────

// PaymentInput describes tokens already moved into a subscription's
// funds by the token-transfer collaborator.
type PaymentInput struct {
	Amount    types.Amount
	TokenMint string
	Payer     string
	// Reference identifies the funding transfer. A non-empty reference
	// is credited at most once.
	Reference string
	Metadata  map[string]string
}

// PayResult is the outcome of an accepted payment.
type PayResult struct {
	Subscription *subscription.Record
	Payment      *payment.Payment
}

// PaySubscription credits a payment and extends service by one period.
func (l *Ledger) PaySubscription(ctx context.Context, subID id.SubscriptionID, in PaymentInput) (*PayResult, error) {
	res, err := l.pay(ctx, subID, in)
	if err != nil {
		l.plugins.EmitPaymentRejected(ctx, subID.String(), in.Amount, err)
		l.logger.Debug("payment rejected",
			"subscription_id", subID.String(),
			"amount", in.Amount,
			"error", err,
		)
		return nil, err
	}
	return res, nil
}

func (l *Ledger) pay(ctx context.Context, subID id.SubscriptionID, in PaymentInput) (*PayResult, error) {
	if subID.IsNil() {
		return nil, ValidationError{Field: "subscription_id", Message: "required"}
	}

	// The receipt goes in first. Its reference index lets one payment per
	// funding transfer reach the record; a rejected credit removes it.
	received := l.clock.Now()
	p := &payment.Payment{
		Entity:         types.NewEntityAt(received),
		ID:             id.NewPaymentID(),
		SubscriptionID: subID,
		Payer:          in.Payer,
		TokenMint:      in.TokenMint,
		Amount:         in.Amount,
		Reference:      in.Reference,
		PaidAt:         received.UTC(),
		Metadata:       in.Metadata,
	}
	if err := l.store.CreatePayment(ctx, p); err != nil {
		if errors.Is(err, ErrDuplicatePayment) {
			return nil, fmt.Errorf("%w: %q", ErrDuplicatePayment, in.Reference)
		}
		return nil, err
	}

	var paidAt time.Time
	next, err := l.mutate(ctx, subID, func(cur *subscription.Record, now time.Time) (*subscription.Record, error) {
		if in.TokenMint != cur.TokenMint {
			return nil, fmt.Errorf("%w: got %q, want %q", ErrIncorrectMint, in.TokenMint, cur.TokenMint)
		}
		paidAt = now
		return cur.Pay(in.Amount, now)
	})
	if err != nil {
		if delErr := l.store.DeletePayment(ctx, p.ID); delErr != nil {
			l.logger.Error("rejected payment receipt not removed",
				"subscription_id", subID.String(),
				"payment_id", p.ID.String(),
				"reference", in.Reference,
				"error", delErr,
			)
		}
		return nil, err
	}

	p.PaidAt = paidAt.UTC()
	p.PaidUntil = next.PaidUntilTime()
	p.Touch(paidAt)
	if err := l.store.UpdatePayment(ctx, p); err != nil {
		// The credit is already durable; the receipt lacks its period.
		l.logger.Error("payment credited but receipt not recorded",
			"subscription_id", subID.String(),
			"payment_id", p.ID.String(),
			"amount", in.Amount,
			"reference", in.Reference,
			"paid_until", p.PaidUntil,
			"error", err,
		)
		return nil, fmt.Errorf("%w: %w", ErrPaymentNotRecorded, err)
	}

	l.plugins.EmitPaymentAccepted(ctx, next, p)
	l.logger.Info("payment accepted",
		"subscription_id", subID.String(),
		"payment_id", p.ID.String(),
		"amount", in.Amount,
		"paid_until", p.PaidUntil,
	)
	return &PayResult{Subscription: next, Payment: p}, nil
}

// ListPayments lists the payment receipts of a subscription.
func (l *Ledger) ListPayments(ctx context.Context, subID id.SubscriptionID, opts payment.ListOpts) ([]*payment.Payment, error) {
	return l.store.ListPayments(ctx, subID, opts)
}

// ──────────────────────────────────────────────────
// Withdrawals
// ──────────────────────────────────────────────────

// WithdrawInput names the owner, the token and the amount to withdraw.
type WithdrawInput struct {
	Owner     string
	TokenMint string
	Amount    types.Amount
	Metadata  map[string]string
}

// WithdrawResult is the outcome of an accepted withdrawal.
type WithdrawResult struct {
	Subscription *subscription.Record
	Transfer     *transfer.Transfer
}

// WithdrawFunds pays out part of an owner's entitlement. The verified
// signer set is read from ctx (see WithSigners). The resulting transfer
// is persisted as pending and handed to the dispatch worker.
func (l *Ledger) WithdrawFunds(ctx context.Context, subID id.SubscriptionID, in WithdrawInput) (*WithdrawResult, error) {
	res, err := l.withdraw(ctx, subID, in)
	if err != nil {
		l.plugins.EmitWithdrawalRejected(ctx, subID.String(), in.Owner, in.Amount, err)
		l.logger.Debug("withdrawal rejected",
			"subscription_id", subID.String(),
			"owner", in.Owner,
			"amount", in.Amount,
			"error", err,
		)
		return nil, err
	}
	return res, nil
}

func (l *Ledger) withdraw(ctx context.Context, subID id.SubscriptionID, in WithdrawInput) (*WithdrawResult, error) {
	signers := SignersFrom(ctx)

	var (
		req *subscription.TransferRequest
		at  time.Time
	)
	next, err := l.mutate(ctx, subID, func(cur *subscription.Record, now time.Time) (*subscription.Record, error) {
		if in.TokenMint != cur.TokenMint {
			return nil, fmt.Errorf("%w: got %q, want %q", ErrIncorrectMint, in.TokenMint, cur.TokenMint)
		}
		rec, tr, err := cur.Withdraw(in.Owner, in.Amount, signers, now)
		req, at = tr, now
		return rec, err
	})
	if err != nil {
		return nil, err
	}

	t := &transfer.Transfer{
		Entity:         types.NewEntityAt(at),
		ID:             id.NewTransferID(),
		SubscriptionID: subID,
		TokenMint:      req.TokenMint,
		Recipient:      req.Recipient,
		Amount:         req.Amount,
		Status:         transfer.StatusPending,
		Metadata:       in.Metadata,
	}
	if err := l.store.CreateTransfer(ctx, t); err != nil {
		// The withdrawal is already durable; the owner's tokens must be
		// released by hand from the logged request.
		l.logger.Error("withdrawal applied but transfer not recorded",
			"subscription_id", subID.String(),
			"recipient", req.Recipient,
			"amount", req.Amount,
			"token_mint", req.TokenMint,
			"error", err,
		)
		return nil, fmt.Errorf("%w: %w", ErrTransferNotRecorded, err)
	}

	if l.executor != nil {
		select {
		case l.dispatchQueue <- t:
		default:
			l.logger.Warn("dispatch queue full, transfer left for sweep",
				"transfer_id", t.ID.String(),
			)
		}
	}

	l.plugins.EmitFundsWithdrawn(ctx, next, t)
	l.logger.Info("funds withdrawn",
		"subscription_id", subID.String(),
		"transfer_id", t.ID.String(),
		"owner", in.Owner,
		"amount", in.Amount,
	)
	return &WithdrawResult{Subscription: next, Transfer: t}, nil
}

// ──────────────────────────────────────────────────
// Entitlements
// ──────────────────────────────────────────────────

// Entitlement reports what owner may still withdraw from a subscription.
func (l *Ledger) Entitlement(ctx context.Context, subID id.SubscriptionID, owner string) (*entitlement.Result, error) {
	r, err := l.store.GetSubscription(ctx, subID)
	if err != nil {
		return nil, err
	}
	return entitlement.For(r, owner, l.clock.Now())
}

// Entitlements reports every owner's position in a subscription.
func (l *Ledger) Entitlements(ctx context.Context, subID id.SubscriptionID) ([]*entitlement.Result, error) {
	r, err := l.store.GetSubscription(ctx, subID)
	if err != nil {
		return nil, err
	}
	return entitlement.All(r, l.clock.Now())
}

// ──────────────────────────────────────────────────
// Transfers
// ──────────────────────────────────────────────────

// GetTransfer retrieves a transfer by ID.
func (l *Ledger) GetTransfer(ctx context.Context, xferID id.TransferID) (*transfer.Transfer, error) {
	return l.store.GetTransfer(ctx, xferID)
}

// ListTransfers lists the transfers of a subscription.
func (l *Ledger) ListTransfers(ctx context.Context, subID id.SubscriptionID, opts transfer.ListOpts) ([]*transfer.Transfer, error) {
	return l.store.ListTransfers(ctx, subID, opts)
}

// DispatchTransfer queues a pending or failed transfer for execution.
func (l *Ledger) DispatchTransfer(ctx context.Context, xferID id.TransferID) error {
	if l.executor == nil {
		return ErrNoExecutor
	}
	t, err := l.store.GetTransfer(ctx, xferID)
	if err != nil {
		return err
	}
	switch t.Status {
	case transfer.StatusExecuted:
		return ErrTransferExecuted
	case transfer.StatusExecuting:
		return ErrTransferInFlight
	}

	select {
	case l.dispatchQueue <- t:
		return nil
	default:
		return ErrDispatchQueueFull
	}
}

// dispatchWorker executes queued transfers and periodically sweeps the
// store for pending ones.
func (l *Ledger) dispatchWorker(ctx context.Context) {
	defer l.wg.Done()

	ticker := time.NewTicker(l.dispatchInterval)
	defer ticker.Stop()

	l.sweepPending(ctx)

	for {
		select {
		case <-l.stopChan:
			// Final drain
			for {
				select {
				case t := <-l.dispatchQueue:
					l.executeTransfer(ctx, t)
				default:
					return
				}
			}

		case t := <-l.dispatchQueue:
			l.executeTransfer(ctx, t)

		case <-ticker.C:
			l.sweepPending(ctx)
		}
	}
}

func (l *Ledger) sweepPending(ctx context.Context) {
	pending, err := l.store.ListPendingTransfers(ctx, l.dispatchBatchSize)
	if err != nil {
		l.logger.Error("failed to list pending transfers", "error", err)
		return
	}
	for _, t := range pending {
		l.executeTransfer(ctx, t)
	}
}

// ReconcileTransfer settles a transfer left executing because its
// outcome could not be recorded. A non-empty txRef marks it executed;
// an empty one marks it failed so DispatchTransfer can retry it.
func (l *Ledger) ReconcileTransfer(ctx context.Context, xferID id.TransferID, txRef string) error {
	t, err := l.store.GetTransfer(ctx, xferID)
	if err != nil {
		return err
	}
	switch t.Status {
	case transfer.StatusExecuting:
	case transfer.StatusExecuted:
		return ErrTransferExecuted
	default:
		return fmt.Errorf("%w: transfer %s is %s", ErrInvalidInput, xferID, t.Status)
	}

	if txRef == "" {
		if err := l.store.MarkTransferFailed(ctx, xferID, "released by reconciliation"); err != nil {
			return err
		}
		l.logger.Warn("transfer released for retry", "transfer_id", xferID.String())
		return nil
	}

	executedAt := l.clock.Now().UTC()
	if err := l.store.MarkTransferExecuted(ctx, xferID, executedAt, txRef); err != nil {
		return err
	}
	t.Status = transfer.StatusExecuted
	t.ExecutedAt = &executedAt
	t.TxRef = txRef
	l.plugins.EmitTransferExecuted(ctx, t, 0)
	l.logger.Info("transfer reconciled", "transfer_id", xferID.String(), "tx_ref", txRef)
	return nil
}

// executeTransfer runs one transfer through the executor. The transfer
// is claimed first, so it executes at most once until its outcome is
// recorded; one whose outcome is lost stays executing until reconciled.
func (l *Ledger) executeTransfer(ctx context.Context, queued *transfer.Transfer) {
	if err := l.store.ClaimTransfer(ctx, queued.ID, l.clock.Now().UTC()); err != nil {
		if !errors.Is(err, ErrTransferExecuted) && !errors.Is(err, ErrTransferInFlight) {
			l.logger.Error("failed to claim transfer", "transfer_id", queued.ID.String(), "error", err)
		}
		return
	}
	t, err := l.store.GetTransfer(ctx, queued.ID)
	if err != nil {
		l.logger.Error("claimed transfer not loaded, left executing",
			"transfer_id", queued.ID.String(),
			"error", err,
		)
		return
	}

	start := time.Now()
	txRef, err := l.executor.Execute(ctx, t)
	if err != nil {
		if markErr := l.store.MarkTransferFailed(ctx, t.ID, err.Error()); markErr != nil {
			l.logger.Error("failed to mark transfer failed, left executing",
				"transfer_id", t.ID.String(),
				"error", markErr,
			)
		}
		t.Status = transfer.StatusFailed
		t.LastError = err.Error()
		l.plugins.EmitTransferFailed(ctx, t, err)
		l.logger.Warn("transfer failed",
			"transfer_id", t.ID.String(),
			"recipient", t.Recipient,
			"amount", t.Amount,
			"error", err,
		)
		return
	}

	executedAt := l.clock.Now().UTC()
	if err := l.store.MarkTransferExecuted(ctx, t.ID, executedAt, txRef); err != nil {
		l.logger.Error("transfer executed but status not recorded, left executing",
			"transfer_id", t.ID.String(),
			"tx_ref", txRef,
			"error", err,
		)
		return
	}
	t.Status = transfer.StatusExecuted
	t.ExecutedAt = &executedAt
	t.TxRef = txRef

	elapsed := time.Since(start)
	l.plugins.EmitTransferExecuted(ctx, t, elapsed)

	l.logger.Debug("transfer executed",
		"transfer_id", t.ID.String(),
		"tx_ref", txRef,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

// mutate applies one transition to the stored record. A write that loses
// a version race is retried against a fresh read up to conflictRetries
// times; a rejected transition is returned without writing.
func (l *Ledger) mutate(ctx context.Context, subID id.SubscriptionID, apply func(cur *subscription.Record, now time.Time) (*subscription.Record, error)) (*subscription.Record, error) {
	if subID.IsNil() {
		return nil, ValidationError{Field: "subscription_id", Message: "required"}
	}
	for attempt := 0; ; attempt++ {
		cur, err := l.store.GetSubscription(ctx, subID)
		if err != nil {
			return nil, err
		}
		if err := cur.Validate(); err != nil {
			return nil, fmt.Errorf("splitpay: load %s: %w", subID, err)
		}

		now := l.clock.Now()
		next, err := apply(cur, now)
		if err != nil {
			return nil, err
		}
		next.Version = cur.Version + 1
		next.Touch(now)

		if err := subscription.CheckSuccessor(cur, next); err != nil {
			return nil, err
		}

		err = l.store.UpdateSubscription(ctx, next)
		if err == nil {
			return next, nil
		}
		if !errors.Is(err, ErrConflict) || attempt >= l.conflictRetries {
			return nil, err
		}
		l.logger.Debug("subscription write conflict, retrying",
			"subscription_id", subID.String(),
			"attempt", attempt+1,
		)
	}
}
