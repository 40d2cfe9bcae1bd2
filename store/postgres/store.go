package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/pgdriver"
	"github.com/xraph/grove/migrate"

	"github.com/xraph/splitpay"
	"github.com/xraph/splitpay/id"
	"github.com/xraph/splitpay/payment"
	splitpaystore "github.com/xraph/splitpay/store"
	"github.com/xraph/splitpay/subscription"
	"github.com/xraph/splitpay/transfer"
)

// compile-time interface check
var _ splitpaystore.Store = (*Store)(nil)

const (
	uniqueViolation    = "23505"
	resourceConstraint = "idx_splitpay_subs_resource"
	referenceIndex     = "idx_splitpay_payments_ref"
)

// Store implements store.Store using PostgreSQL via Grove ORM.
type Store struct {
	db *grove.DB
	pg *pgdriver.PgDB
}

// New creates a new PostgreSQL store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db: db,
		pg: pgdriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.pg)
	if err != nil {
		return fmt.Errorf("splitpay/postgres: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("splitpay/postgres: migration failed: %w", err)
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
		return fmt.Errorf("splitpay/postgres: encode subscription: %w", err)
	}
	if _, err := s.pg.NewInsert(m).Exec(ctx); err != nil {
		if constraint, ok := uniqueConstraint(err); ok {
			if constraint == resourceConstraint {
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
	err := s.pg.NewSelect(m).
		Where("id = $1", subID.String()).
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
	err := s.pg.NewSelect(m).
		Where("resource = $1", resource).
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
	q := s.pg.NewSelect(&models)

	if opts.TokenMint != "" {
		q = q.Where("token_mint = $1", opts.TokenMint)
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

// UpdateSubscription writes r only while the stored row is still at
// r.Version-1.
func (s *Store) UpdateSubscription(ctx context.Context, r *subscription.Record) error {
	m, err := toSubscriptionModel(r)
	if err != nil {
		return fmt.Errorf("splitpay/postgres: encode subscription: %w", err)
	}
	res, err := s.pg.NewUpdate((*subscriptionModel)(nil)).
		Set("account = $1", m.Account).
		Set("paid_until = $2", m.PaidUntil).
		Set("version = $3", m.Version).
		Set("updated_at = $4", m.UpdatedAt).
		Where("id = $5", m.ID).
		Where("version = $6", m.Version-1).
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
	res, err := s.pg.NewDelete((*subscriptionModel)(nil)).
		Where("id = $1", subID.String()).
		Where("version = $2", int64(version)). //nolint:gosec // versions stay far below 2^63
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

// missingOrConflict tells a vanished row from one that moved on.
func (s *Store) missingOrConflict(ctx context.Context, subID string) error {
	var n int64
	err := s.pg.NewRaw(`SELECT COUNT(*) FROM splitpay_subscriptions WHERE id = $1`, subID).Scan(ctx, &n)
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
	if _, err := s.pg.NewInsert(m).Exec(ctx); err != nil {
		if constraint, ok := uniqueConstraint(err); ok {
			if constraint == referenceIndex {
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
	err := s.pg.NewSelect(m).
		Where("id = $1", payID.String()).
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
	err := s.pg.NewSelect(m).
		Where("subscription_id = $1", subID.String()).
		Where("reference = $2", reference).
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
	q := s.pg.NewSelect(&models).Where("subscription_id = $1", subID.String())

	argIdx := 1
	if !opts.Start.IsZero() {
		argIdx++
		q = q.Where(fmt.Sprintf("paid_at >= $%d", argIdx), opts.Start)
	}
	if !opts.End.IsZero() {
		argIdx++
		q = q.Where(fmt.Sprintf("paid_at < $%d", argIdx), opts.End)
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
	res, err := s.pg.NewUpdate((*paymentModel)(nil)).
		Set("paid_at = $1", p.PaidAt).
		Set("paid_until = $2", p.PaidUntil).
		Set("updated_at = $3", p.UpdatedAt).
		Where("id = $4", p.ID.String()).
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
	res, err := s.pg.NewDelete((*paymentModel)(nil)).
		Where("id = $1", payID.String()).
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
	if _, err := s.pg.NewInsert(m).Exec(ctx); err != nil {
		if _, ok := uniqueConstraint(err); ok {
			return splitpay.ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (s *Store) GetTransfer(ctx context.Context, xferID id.TransferID) (*transfer.Transfer, error) {
	m := new(transferModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", xferID.String()).
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
	q := s.pg.NewSelect(&models).Where("subscription_id = $1", subID.String())

	if opts.Status != "" {
		q = q.Where("status = $2", string(opts.Status))
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
	q := s.pg.NewSelect(&models).
		Where("status = $1", string(transfer.StatusPending)).
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
	res, err := s.pg.NewUpdate((*transferModel)(nil)).
		Set("status = $1", string(transfer.StatusExecuting)).
		Set("updated_at = $2", at).
		Where("id = $3", xferID.String()).
		Where("status IN ($4, $5)", string(transfer.StatusPending), string(transfer.StatusFailed)).
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
	res, err := s.pg.NewUpdate((*transferModel)(nil)).
		Set("status = $1", string(transfer.StatusExecuted)).
		Set("executed_at = $2", executedAt).
		Set("tx_ref = $3", txRef).
		Set("last_error = ''").
		Set("attempts = attempts + 1").
		Set("updated_at = $4", executedAt).
		Where("id = $5", xferID.String()).
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
	res, err := s.pg.NewUpdate((*transferModel)(nil)).
		Set("status = $1", string(transfer.StatusFailed)).
		Set("last_error = $2", reason).
		Set("attempts = attempts + 1").
		Set("updated_at = $3", now()).
		Where("id = $4", xferID.String()).
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

// uniqueConstraint reports whether err is a unique violation and names
// the violated constraint or index.
func uniqueConstraint(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return pgErr.ConstraintName, true
	}
	return "", false
}
