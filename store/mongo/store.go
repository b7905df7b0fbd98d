// Package mongo provides a MongoDB-backed store. Settlements run inside a
// session transaction, so the backend requires a replica set or sharded
// cluster.
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
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	settle "github.com/xraph/settle"
	"github.com/xraph/settle/id"
	"github.com/xraph/settle/obligation"
	"github.com/xraph/settle/source"
	settlestore "github.com/xraph/settle/store"
	"github.com/xraph/settle/transaction"
	"github.com/xraph/settle/types"
)

// Collection name constants.
const (
	colSources      = "settle_sources"
	colObligations  = "settle_obligations"
	colTransactions = "settle_transactions"
)

// Unique index names, matched against duplicate key errors to pick the
// right sentinel.
const (
	idxUniqReference = "uniq_reference"
	idxUniqIdemKey   = "uniq_idempotency_key"
)

// compile-time interface check
var _ settlestore.Store = (*Store)(nil)

// Store implements store.Store on MongoDB.
type Store struct {
	db *mongo.Database
}

// New creates a MongoDB store on the given database handle.
func New(db *mongo.Database) *Store {
	return &Store{db: db}
}

// DB returns the underlying database handle for direct access.
func (s *Store) DB() *mongo.Database { return s.db }

// Migrate creates the indexes every collection needs.
func (s *Store) Migrate(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		colSources: {
			{Keys: bson.D{{Key: "owner_id", Value: 1}, {Key: "created_at", Value: 1}}},
		},
		colObligations: {
			{Keys: bson.D{{Key: "owner_id", Value: 1}, {Key: "created_at", Value: 1}}},
			// Autopay batch selection scans by due date within status.
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "recurring.autopay", Value: 1}, {Key: "due_date", Value: 1}}},
		},
		colTransactions: {
			{
				Keys:    bson.D{{Key: "reference", Value: 1}},
				Options: options.Index().SetUnique(true).SetName(idxUniqReference),
			},
			{
				Keys: bson.D{{Key: "idempotency_key", Value: 1}},
				Options: options.Index().
					SetUnique(true).
					SetName(idxUniqIdemKey).
					SetPartialFilterExpression(bson.M{"idempotency_key": bson.M{"$gt": ""}}),
			},
			{Keys: bson.D{{Key: "source.id", Value: 1}, {Key: "created_at", Value: 1}}},
			{Keys: bson.D{{Key: "destination.id", Value: 1}, {Key: "created_at", Value: 1}}},
		},
	}

	for col, models := range indexes {
		_, err := s.db.Collection(col).Indexes().CreateMany(ctx, models)
		if err != nil {
			return fmt.Errorf("settle/mongo: migrate %s indexes: %w", col, err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Client().Ping(ctx, readpref.Primary())
}

// Close disconnects the underlying client.
func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.db.Client().Disconnect(ctx)
}

// Atomic runs fn inside a session transaction. The context passed to fn
// carries the session; every store call made with it joins the transaction.
func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, tx settlestore.Store) error) error {
	if mongo.SessionFromContext(ctx) != nil {
		// Already inside a unit. Join it.
		return fn(ctx, s)
	}

	sess, err := s.db.Client().StartSession()
	if err != nil {
		return fmt.Errorf("settle/mongo: start session: %w", err)
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(ctx context.Context) (any, error) {
		return nil, fn(ctx, s)
	})
	return err
}

// ==================== Source store ====================

func (s *Store) CreateSource(ctx context.Context, src *source.PaymentSource) error {
	_, err := s.db.Collection(colSources).InsertOne(ctx, toSourceModel(src))
	if err != nil {
		return fmt.Errorf("settle/mongo: create source: %w", err)
	}
	return nil
}

func (s *Store) GetSource(ctx context.Context, sourceID id.SourceID) (*source.PaymentSource, error) {
	var m sourceModel
	err := s.db.Collection(colSources).
		FindOne(ctx, bson.M{"_id": sourceID.String()}).
		Decode(&m)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, settle.ErrSourceNotFound
		}
		return nil, fmt.Errorf("settle/mongo: get source: %w", err)
	}
	return fromSourceModel(&m)
}

func (s *Store) ListSources(ctx context.Context, ownerID id.UserID, opts source.ListOpts) ([]*source.PaymentSource, error) {
	filter := bson.M{"owner_id": ownerID.String()}
	if opts.Type != "" {
		filter["type"] = string(opts.Type)
	}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}

	findOpts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		findOpts.SetSkip(int64(opts.Offset))
	}

	cur, err := s.db.Collection(colSources).Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("settle/mongo: list sources: %w", err)
	}

	var models []sourceModel
	if err := cur.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("settle/mongo: list sources: %w", err)
	}

	result := make([]*source.PaymentSource, len(models))
	for i := range models {
		src, err := fromSourceModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = src
	}
	return result, nil
}

// CompareAndSwapBalance applies the swap only when the stored balance still
// matches expected. Fixed-scale string rendering makes the filter an exact
// byte comparison.
func (s *Store) CompareAndSwapBalance(ctx context.Context, sourceID id.SourceID, expected, next types.Amount) (bool, error) {
	res, err := s.db.Collection(colSources).UpdateOne(ctx,
		bson.M{"_id": sourceID.String(), "balance": expected.StringFixed()},
		bson.M{"$set": bson.M{"balance": next.StringFixed(), "updated_at": time.Now().UTC()}},
	)
	if err != nil {
		return false, fmt.Errorf("settle/mongo: cas balance: %w", err)
	}
	if res.MatchedCount > 0 {
		return true, nil
	}

	// Distinguish a lost race from a missing source.
	count, err := s.db.Collection(colSources).CountDocuments(ctx, bson.M{"_id": sourceID.String()})
	if err != nil {
		return false, fmt.Errorf("settle/mongo: cas balance: %w", err)
	}
	if count == 0 {
		return false, settle.ErrSourceNotFound
	}
	return false, nil
}

func (s *Store) UpdateSourceStatus(ctx context.Context, sourceID id.SourceID, status source.Status) error {
	res, err := s.db.Collection(colSources).UpdateOne(ctx,
		bson.M{"_id": sourceID.String()},
		bson.M{"$set": bson.M{"status": string(status), "updated_at": time.Now().UTC()}},
	)
	if err != nil {
		return fmt.Errorf("settle/mongo: update source status: %w", err)
	}
	if res.MatchedCount == 0 {
		return settle.ErrSourceNotFound
	}
	return nil
}

// ==================== Obligation store ====================

func (s *Store) CreateObligation(ctx context.Context, obl *obligation.Obligation) error {
	_, err := s.db.Collection(colObligations).InsertOne(ctx, toObligationModel(obl))
	if err != nil {
		return fmt.Errorf("settle/mongo: create obligation: %w", err)
	}
	return nil
}

func (s *Store) GetObligation(ctx context.Context, oblID id.ObligationID) (*obligation.Obligation, error) {
	var m obligationModel
	err := s.db.Collection(colObligations).
		FindOne(ctx, bson.M{"_id": oblID.String()}).
		Decode(&m)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, settle.ErrObligationNotFound
		}
		return nil, fmt.Errorf("settle/mongo: get obligation: %w", err)
	}
	return fromObligationModel(&m)
}

func (s *Store) ListObligations(ctx context.Context, ownerID id.UserID, opts obligation.ListOpts) ([]*obligation.Obligation, error) {
	filter := bson.M{"owner_id": ownerID.String()}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}

	findOpts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		findOpts.SetSkip(int64(opts.Offset))
	}

	cur, err := s.db.Collection(colObligations).Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("settle/mongo: list obligations: %w", err)
	}

	var models []obligationModel
	if err := cur.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("settle/mongo: list obligations: %w", err)
	}

	result := make([]*obligation.Obligation, len(models))
	for i := range models {
		obl, err := fromObligationModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = obl
	}
	return result, nil
}

func (s *Store) UpdateObligation(ctx context.Context, obl *obligation.Obligation) error {
	m := toObligationModel(obl)
	m.UpdatedAt = time.Now().UTC()

	res, err := s.db.Collection(colObligations).ReplaceOne(ctx, bson.M{"_id": m.ID}, m)
	if err != nil {
		return fmt.Errorf("settle/mongo: update obligation: %w", err)
	}
	if res.MatchedCount == 0 {
		return settle.ErrObligationNotFound
	}
	return nil
}

func (s *Store) ListAutopayDue(ctx context.Context, from, to time.Time) ([]*obligation.Obligation, error) {
	filter := bson.M{
		"status":            string(obligation.StatusPending),
		"recurring.autopay": true,
		"due_date":          bson.M{"$gte": from, "$lt": to},
	}

	cur, err := s.db.Collection(colObligations).Find(ctx, filter,
		options.Find().SetSort(bson.D{{Key: "due_date", Value: 1}, {Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("settle/mongo: list autopay due: %w", err)
	}

	var models []obligationModel
	if err := cur.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("settle/mongo: list autopay due: %w", err)
	}

	result := make([]*obligation.Obligation, len(models))
	for i := range models {
		obl, err := fromObligationModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = obl
	}
	return result, nil
}

// ==================== Transaction log ====================

func (s *Store) AppendTransaction(ctx context.Context, txn *transaction.Transaction) error {
	_, err := s.db.Collection(colTransactions).InsertOne(ctx, toTransactionModel(txn))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return duplicateSentinel(err)
		}
		return fmt.Errorf("settle/mongo: append transaction: %w", err)
	}
	return nil
}

func (s *Store) GetTransaction(ctx context.Context, txnID id.TransactionID) (*transaction.Transaction, error) {
	return s.findTransaction(ctx, bson.M{"_id": txnID.String()})
}

func (s *Store) GetTransactionByReference(ctx context.Context, reference string) (*transaction.Transaction, error) {
	return s.findTransaction(ctx, bson.M{"reference": reference})
}

func (s *Store) GetTransactionByIdempotencyKey(ctx context.Context, key string) (*transaction.Transaction, error) {
	return s.findTransaction(ctx, bson.M{"idempotency_key": key})
}

func (s *Store) ListTransactionsByEndpoint(ctx context.Context, endpointID id.AnyID, opts transaction.ListOpts) ([]*transaction.Transaction, error) {
	endpoint := endpointID.String()
	filter := bson.M{"$or": bson.A{
		bson.M{"source.id": endpoint},
		bson.M{"destination.id": endpoint},
	}}
	if opts.Type != "" {
		filter["type"] = string(opts.Type)
	}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}

	// Oldest first, _id as tiebreak. TypeIDs are K-sortable, so the order
	// is stable and replay-deterministic.
	findOpts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		findOpts.SetSkip(int64(opts.Offset))
	}

	cur, err := s.db.Collection(colTransactions).Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("settle/mongo: list transactions: %w", err)
	}

	var models []transactionModel
	if err := cur.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("settle/mongo: list transactions: %w", err)
	}

	result := make([]*transaction.Transaction, len(models))
	for i := range models {
		txn, err := fromTransactionModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = txn
	}
	return result, nil
}

func (s *Store) findTransaction(ctx context.Context, filter bson.M) (*transaction.Transaction, error) {
	var m transactionModel
	err := s.db.Collection(colTransactions).FindOne(ctx, filter).Decode(&m)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, settle.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("settle/mongo: get transaction: %w", err)
	}
	return fromTransactionModel(&m)
}

// duplicateSentinel maps a duplicate key error onto the sentinel for the
// violated unique index.
func duplicateSentinel(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, idxUniqIdemKey):
		return settle.ErrDuplicateIdemKey
	case strings.Contains(msg, idxUniqReference):
		return settle.ErrDuplicateReference
	default:
		return fmt.Errorf("settle/mongo: append transaction: %w", err)
	}
}
