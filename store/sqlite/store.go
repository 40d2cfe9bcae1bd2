package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/sqlitedriver"
	"github.com/xraph/grove/migrate"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/xraph/splitpay"
	"github.com/xraph/splitpay/id"
	"github.com/xraph/splitpay/payment"
	splitpaystore "github.com/xraph/splitpay/store"
	"github.com/xraph/splitpay/subscription"
	"github.com/xraph/splitpay/transfer"
)

// compile-time interface check
var _ splitpaystore.Store = (*Store)(nil)

// Store implements store.Store using SQLite via Grove ORM.
type Store struct {
	db  *grove.DB
	sdb *sqlitedriver.SqliteDB
}

// New creates a new SQLite store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		sdb: sqlitedriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.sdb)
	if err != nil {
		return fmt.Errorf("splitpay/sqlite: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("splitpay/sqlite: migration failed: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Subscription Store ====================

func (s *Store) CreateSubscription(ctx context.Context, r *subscription.Record) error {
	m, err := toSubscriptionModel(r)
	if err != nil {
		return fmt.Errorf("splitpay/sqlite: encode subscription: %w", err)
	}
	if _, err := s.sdb.NewInsert(m).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			if strings.Contains(err.Error(), "splitpay_subscriptions.resource") {
				return splitpay.ErrResourceTaken
			}
			return splitpay.ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (s *Store) GetSubscription(ctx context.Context, subID id.SubscriptionID) (*subscription.Record, error) {
	m := new(subscriptionModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", subID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, splitpay.ErrSubscriptionNotFound
		}
		return nil, err
	}
	return fromSubscriptionModel(m)
}

func (s *Store) GetSubscriptionByResource(ctx context.Context, resource string) (*subscription.Record, error) {
	m := new(subscriptionModel)
	err := s.sdb.NewSelect(m).
		Where("resource = ?", resource).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, splitpay.ErrSubscriptionNotFound
		}
		return nil, err
	}
	return fromSubscriptionModel(m)
}

func (s *Store) ListSubscriptions(ctx context.Context, opts subscription.ListOpts) ([]*subscription.Record, error) {
	var models []subscriptionModel
	q := s.sdb.NewSelect(&models)

	if opts.TokenMint != "" {
		q = q.Where("token_mint = ?", opts.TokenMint)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*subscription.Record, len(models))
	for i := range models {
		r, err := fromSubscriptionModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = r
	}
	return result, nil
}

func (s *Store) UpdateSubscription(ctx context.Context, r *subscription.Record) error {
	m, err := toSubscriptionModel(r)
	if err != nil {
		return fmt.Errorf("splitpay/sqlite: encode subscription: %w", err)
	}
	res, err := s.sdb.NewUpdate((*subscriptionModel)(nil)).
		Set("account = ?", m.Account).
		Set("paid_until = ?", m.PaidUntil).
		Set("version = ?", m.Version).
		Set("updated_at = ?", m.UpdatedAt).
		Where("id = ?", m.ID).
		Where("version = ?", m.Version-1).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return s.missingOrConflict(ctx, m.ID)
	}
	return nil
}

func (s *Store) DeleteSubscription(ctx context.Context, subID id.SubscriptionID, version uint64) error {
	res, err := s.sdb.NewDelete((*subscriptionModel)(nil)).
		Where("id = ?", subID.String()).
		Where("version = ?", int64(version)). //nolint:gosec // versions stay far below 2^63
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return s.missingOrConflict(ctx, subID.String())
	}
	return nil
}

func (s *Store) missingOrConflict(ctx context.Context, subID string) error {
	var n int64
	err := s.sdb.NewRaw(`SELECT COUNT(*) FROM splitpay_subscriptions WHERE id = ?`, subID).Scan(ctx, &n)
	if err != nil {
		return err
	}
	if n == 0 {
		return splitpay.ErrSubscriptionNotFound
	}
	return splitpay.ErrConflict
}

// ==================== Payment Store ====================

func (s *Store) CreatePayment(ctx context.Context, p *payment.Payment) error {
	m := toPaymentModel(p)
	if _, err := s.sdb.NewInsert(m).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			if strings.Contains(err.Error(), "splitpay_payments.reference") {
				return splitpay.ErrDuplicatePayment
			}
			return splitpay.ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (s *Store) GetPayment(ctx context.Context, payID id.PaymentID) (*payment.Payment, error) {
	m := new(paymentModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", payID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, splitpay.ErrPaymentNotFound
		}
		return nil, err
	}
	return fromPaymentModel(m)
}

func (s *Store) GetPaymentByReference(ctx context.Context, subID id.SubscriptionID, reference string) (*payment.Payment, error) {
	m := new(paymentModel)
	err := s.sdb.NewSelect(m).
		Where("subscription_id = ?", subID.String()).
		Where("reference = ?", reference).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, splitpay.ErrPaymentNotFound
		}
		return nil, err
	}
	return fromPaymentModel(m)
}

func (s *Store) ListPayments(ctx context.Context, subID id.SubscriptionID, opts payment.ListOpts) ([]*payment.Payment, error) {
	var models []paymentModel
	q := s.sdb.NewSelect(&models).Where("subscription_id = ?", subID.String())

	if !opts.Start.IsZero() {
		q = q.Where("paid_at >= ?", opts.Start)
	}
	if !opts.End.IsZero() {
		q = q.Where("paid_at < ?", opts.End)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("paid_at ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*payment.Payment, len(models))
	for i := range models {
		p, err := fromPaymentModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = p
	}
	return result, nil
}

func (s *Store) UpdatePayment(ctx context.Context, p *payment.Payment) error {
	res, err := s.sdb.NewUpdate((*paymentModel)(nil)).
		Set("paid_at = ?", p.PaidAt).
		Set("paid_until = ?", p.PaidUntil).
		Set("updated_at = ?", p.UpdatedAt).
		Where("id = ?", p.ID.String()).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return splitpay.ErrPaymentNotFound
	}
	return nil
}

func (s *Store) DeletePayment(ctx context.Context, payID id.PaymentID) error {
	res, err := s.sdb.NewDelete((*paymentModel)(nil)).
		Where("id = ?", payID.String()).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return splitpay.ErrPaymentNotFound
	}
	return nil
}

// ==================== Transfer Store ====================

func (s *Store) CreateTransfer(ctx context.Context, t *transfer.Transfer) error {
	m := toTransferModel(t)
	if _, err := s.sdb.NewInsert(m).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return splitpay.ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (s *Store) GetTransfer(ctx context.Context, xferID id.TransferID) (*transfer.Transfer, error) {
	m := new(transferModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", xferID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, splitpay.ErrTransferNotFound
		}
		return nil, err
	}
	return fromTransferModel(m)
}

func (s *Store) ListTransfers(ctx context.Context, subID id.SubscriptionID, opts transfer.ListOpts) ([]*transfer.Transfer, error) {
	var models []transferModel
	q := s.sdb.NewSelect(&models).Where("subscription_id = ?", subID.String())

	if opts.Status != "" {
		q = q.Where("status = ?", string(opts.Status))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return fromTransferModels(models)
}

func (s *Store) ListPendingTransfers(ctx context.Context, limit int) ([]*transfer.Transfer, error) {
	var models []transferModel
	q := s.sdb.NewSelect(&models).
		Where("status = ?", string(transfer.StatusPending)).
		OrderExpr("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return fromTransferModels(models)
}

func (s *Store) ClaimTransfer(ctx context.Context, xferID id.TransferID, at time.Time) error {
	res, err := s.sdb.NewUpdate((*transferModel)(nil)).
		Set("status = ?", string(transfer.StatusExecuting)).
		Set("updated_at = ?", at).
		Where("id = ?", xferID.String()).
		Where("status IN (?, ?)", string(transfer.StatusPending), string(transfer.StatusFailed)).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return s.unclaimable(ctx, xferID)
	}
	return nil
}

func (s *Store) MarkTransferExecuted(ctx context.Context, xferID id.TransferID, executedAt time.Time, txRef string) error {
	res, err := s.sdb.NewUpdate((*transferModel)(nil)).
		Set("status = ?", string(transfer.StatusExecuted)).
		Set("executed_at = ?", executedAt).
		Set("tx_ref = ?", txRef).
		Set("last_error = ''").
		Set("attempts = attempts + 1").
		Set("updated_at = ?", executedAt).
		Where("id = ?", xferID.String()).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return splitpay.ErrTransferNotFound
	}
	return nil
}

func (s *Store) MarkTransferFailed(ctx context.Context, xferID id.TransferID, reason string) error {
	res, err := s.sdb.NewUpdate((*transferModel)(nil)).
		Set("status = ?", string(transfer.StatusFailed)).
		Set("last_error = ?", reason).
		Set("attempts = attempts + 1").
		Set("updated_at = ?", now()).
		Where("id = ?", xferID.String()).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return splitpay.ErrTransferNotFound
	}
	return nil
}

// ==================== Helpers ====================

func fromTransferModels(models []transferModel) ([]*transfer.Transfer, error) {
	result := make([]*transfer.Transfer, len(models))
	for i := range models {
		t, err := fromTransferModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = t
	}
	return result, nil
}

// unclaimable explains why a claim matched no row.
func (s *Store) unclaimable(ctx context.Context, xferID id.TransferID) error {
	t, err := s.GetTransfer(ctx, xferID)
	if err != nil {
		return err
	}
	if t.Status == transfer.StatusExecuted {
		return splitpay.ErrTransferExecuted
	}
	return splitpay.ErrTransferInFlight
}

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	}
	return false
}
