package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

	"github.com/xraph/splitpay"
	"github.com/xraph/splitpay/id"
	"github.com/xraph/splitpay/payment"
	splitpaystore "github.com/xraph/splitpay/store"
	"github.com/xraph/splitpay/subscription"
	"github.com/xraph/splitpay/transfer"
)

// Collection name constants.
const (
	colSubscriptions = "splitpay_subscriptions"
	colPayments      = "splitpay_payments"
	colTransfers     = "splitpay_transfers"
)

// Index names checked on duplicate-key errors.
const (
	idxResource  = "splitpay_subs_resource"
	idxReference = "splitpay_payments_ref"
)

// compile-time interface check
var _ splitpaystore.Store = (*Store)(nil)

// Store implements store.Store using MongoDB via Grove ORM.
type Store struct {
	db  *grove.DB
	mdb *mongodriver.MongoDB
}

// New creates a new MongoDB store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		mdb: mongodriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates indexes for all splitpay collections.
func (s *Store) Migrate(ctx context.Context) error {
	indexes := migrationIndexes()

	for col, models := range indexes {
		if len(models) == 0 {
			continue
		}
		_, err := s.mdb.Collection(col).Indexes().CreateMany(ctx, models)
		if err != nil {
			return fmt.Errorf("splitpay/mongo: migrate %s indexes: %w", col, err)
		}
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
		return fmt.Errorf("splitpay/mongo: encode subscription: %w", err)
	}
	if _, err := s.mdb.NewInsert(m).Exec(ctx); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			if strings.Contains(err.Error(), idxResource) {
				return splitpay.ErrResourceTaken
			}
			return splitpay.ErrAlreadyExists
		}
		return fmt.Errorf("splitpay/mongo: create subscription: %w", err)
	}
	return nil
}

func (s *Store) GetSubscription(ctx context.Context, subID id.SubscriptionID) (*subscription.Record, error) {
	var m subscriptionModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": subID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, splitpay.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("splitpay/mongo: get subscription: %w", err)
	}
	return fromSubscriptionModel(&m)
}

func (s *Store) GetSubscriptionByResource(ctx context.Context, resource string) (*subscription.Record, error) {
	var m subscriptionModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"resource": resource}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, splitpay.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("splitpay/mongo: get subscription by resource: %w", err)
	}
	return fromSubscriptionModel(&m)
}

func (s *Store) ListSubscriptions(ctx context.Context, opts subscription.ListOpts) ([]*subscription.Record, error) {
	var models []subscriptionModel

	filter := bson.M{}
	if opts.TokenMint != "" {
		filter["token_mint"] = opts.TokenMint
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "created_at", Value: 1}})
	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("splitpay/mongo: list subscriptions: %w", err)
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
		return fmt.Errorf("splitpay/mongo: encode subscription: %w", err)
	}
	res, err := s.mdb.NewUpdate((*subscriptionModel)(nil)).
		Filter(bson.M{"_id": m.ID, "version": m.Version - 1}).
		Set("account", m.Account).
		Set("paid_until", m.PaidUntil).
		Set("version", m.Version).
		Set("updated_at", m.UpdatedAt).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("splitpay/mongo: update subscription: %w", err)
	}
	if res.MatchedCount() == 0 {
		return s.missingOrConflict(ctx, m.ID)
	}
	return nil
}

func (s *Store) DeleteSubscription(ctx context.Context, subID id.SubscriptionID, version uint64) error {
	res, err := s.mdb.NewDelete((*subscriptionModel)(nil)).
		Filter(bson.M{"_id": subID.String(), "version": int64(version)}). //nolint:gosec // versions stay far below 2^63
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("splitpay/mongo: delete subscription: %w", err)
	}
	if res.DeletedCount() == 0 {
		return s.missingOrConflict(ctx, subID.String())
	}
	return nil
}

func (s *Store) missingOrConflict(ctx context.Context, subID string) error {
	n, err := s.mdb.Collection(colSubscriptions).CountDocuments(ctx, bson.M{"_id": subID})
	if err != nil {
		return fmt.Errorf("splitpay/mongo: count subscription: %w", err)
	}
	if n == 0 {
		return splitpay.ErrSubscriptionNotFound
	}
	return splitpay.ErrConflict
}

// ==================== Payment Store ====================

func (s *Store) CreatePayment(ctx context.Context, p *payment.Payment) error {
	m := toPaymentModel(p)
	if _, err := s.mdb.NewInsert(m).Exec(ctx); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			if strings.Contains(err.Error(), idxReference) {
				return splitpay.ErrDuplicatePayment
			}
			return splitpay.ErrAlreadyExists
		}
		return fmt.Errorf("splitpay/mongo: create payment: %w", err)
	}
	return nil
}

func (s *Store) GetPayment(ctx context.Context, payID id.PaymentID) (*payment.Payment, error) {
	var m paymentModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": payID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, splitpay.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("splitpay/mongo: get payment: %w", err)
	}
	return fromPaymentModel(&m)
}

func (s *Store) GetPaymentByReference(ctx context.Context, subID id.SubscriptionID, reference string) (*payment.Payment, error) {
	var m paymentModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"subscription_id": subID.String(), "reference": reference}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, splitpay.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("splitpay/mongo: get payment by reference: %w", err)
	}
	return fromPaymentModel(&m)
}

func (s *Store) ListPayments(ctx context.Context, subID id.SubscriptionID, opts payment.ListOpts) ([]*payment.Payment, error) {
	var models []paymentModel

	filter := bson.M{"subscription_id": subID.String()}
	paidAt := bson.M{}
	if !opts.Start.IsZero() {
		paidAt["$gte"] = opts.Start
	}
	if !opts.End.IsZero() {
		paidAt["$lt"] = opts.End
	}
	if len(paidAt) > 0 {
		filter["paid_at"] = paidAt
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "paid_at", Value: 1}})
	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("splitpay/mongo: list payments: %w", err)
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
	res, err := s.mdb.Collection(colPayments).UpdateOne(ctx,
		bson.M{"_id": p.ID.String()},
		bson.M{"$set": bson.M{
			"paid_at":    p.PaidAt,
			"paid_until": p.PaidUntil,
			"updated_at": p.UpdatedAt,
		}},
	)
	if err != nil {
		return fmt.Errorf("splitpay/mongo: update payment: %w", err)
	}
	if res.MatchedCount == 0 {
		return splitpay.ErrPaymentNotFound
	}
	return nil
}

func (s *Store) DeletePayment(ctx context.Context, payID id.PaymentID) error {
	res, err := s.mdb.NewDelete((*paymentModel)(nil)).
		Filter(bson.M{"_id": payID.String()}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("splitpay/mongo: delete payment: %w", err)
	}
	if res.DeletedCount() == 0 {
		return splitpay.ErrPaymentNotFound
	}
	return nil
}

// ==================== Transfer Store ====================

func (s *Store) CreateTransfer(ctx context.Context, t *transfer.Transfer) error {
	m := toTransferModel(t)
	if _, err := s.mdb.NewInsert(m).Exec(ctx); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return splitpay.ErrAlreadyExists
		}
		return fmt.Errorf("splitpay/mongo: create transfer: %w", err)
	}
	return nil
}

func (s *Store) GetTransfer(ctx context.Context, xferID id.TransferID) (*transfer.Transfer, error) {
	var m transferModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": xferID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, splitpay.ErrTransferNotFound
		}
		return nil, fmt.Errorf("splitpay/mongo: get transfer: %w", err)
	}
	return fromTransferModel(&m)
}

func (s *Store) ListTransfers(ctx context.Context, subID id.SubscriptionID, opts transfer.ListOpts) ([]*transfer.Transfer, error) {
	var models []transferModel

	filter := bson.M{"subscription_id": subID.String()}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "created_at", Value: 1}})
	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("splitpay/mongo: list transfers: %w", err)
	}
	return fromTransferModels(models)
}

func (s *Store) ListPendingTransfers(ctx context.Context, limit int) ([]*transfer.Transfer, error) {
	var models []transferModel

	q := s.mdb.NewFind(&models).
		Filter(bson.M{"status": string(transfer.StatusPending)}).
		Sort(bson.D{{Key: "created_at", Value: 1}})
	if limit > 0 {
		q = q.Limit(int64(limit))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("splitpay/mongo: list pending transfers: %w", err)
	}
	return fromTransferModels(models)
}

func (s *Store) ClaimTransfer(ctx context.Context, xferID id.TransferID, at time.Time) error {
	res, err := s.mdb.Collection(colTransfers).UpdateOne(ctx,
		bson.M{
			"_id":    xferID.String(),
			"status": bson.M{"$in": bson.A{string(transfer.StatusPending), string(transfer.StatusFailed)}},
		},
		bson.M{"$set": bson.M{
			"status":     string(transfer.StatusExecuting),
			"updated_at": at,
		}},
	)
	if err != nil {
		return fmt.Errorf("splitpay/mongo: claim transfer: %w", err)
	}
	if res.MatchedCount > 0 {
		return nil
	}

	t, err := s.GetTransfer(ctx, xferID)
	if err != nil {
		return err
	}
	if t.Status == transfer.StatusExecuted {
		return splitpay.ErrTransferExecuted
	}
	return splitpay.ErrTransferInFlight
}

func (s *Store) MarkTransferExecuted(ctx context.Context, xferID id.TransferID, executedAt time.Time, txRef string) error {
	return s.markTransfer(ctx, xferID, bson.M{
		"status":      string(transfer.StatusExecuted),
		"executed_at": executedAt,
		"tx_ref":      txRef,
		"last_error":  "",
		"updated_at":  executedAt,
	})
}

func (s *Store) MarkTransferFailed(ctx context.Context, xferID id.TransferID, reason string) error {
	return s.markTransfer(ctx, xferID, bson.M{
		"status":     string(transfer.StatusFailed),
		"last_error": reason,
		"updated_at": now(),
	})
}

// markTransfer applies set and counts one dispatch attempt.
func (s *Store) markTransfer(ctx context.Context, xferID id.TransferID, set bson.M) error {
	res, err := s.mdb.Collection(colTransfers).UpdateOne(ctx,
		bson.M{"_id": xferID.String()},
		bson.M{"$set": set, "$inc": bson.M{"attempts": 1}},
	)
	if err != nil {
		return fmt.Errorf("splitpay/mongo: update transfer: %w", err)
	}
	if res.MatchedCount == 0 {
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

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// isNoDocuments checks if an error wraps mongo.ErrNoDocuments.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// migrationIndexes returns the index definitions for all splitpay collections.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colSubscriptions: {
			{
				Keys:    bson.D{{Key: "resource", Value: 1}},
				Options: options.Index().SetUnique(true).SetName(idxResource),
			},
			{Keys: bson.D{{Key: "token_mint", Value: 1}, {Key: "created_at", Value: 1}}},
		},
		colPayments: {
			{Keys: bson.D{{Key: "subscription_id", Value: 1}, {Key: "paid_at", Value: 1}}},
			{
				Keys: bson.D{{Key: "subscription_id", Value: 1}, {Key: "reference", Value: 1}},
				Options: options.Index().
					SetUnique(true).
					SetName(idxReference).
					SetPartialFilterExpression(bson.M{"reference": bson.M{"$gt": ""}}),
			},
		},
		colTransfers: {
			{Keys: bson.D{{Key: "subscription_id", Value: 1}, {Key: "created_at", Value: 1}}},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: 1}}},
		},
	}
}
