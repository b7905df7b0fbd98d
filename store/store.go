// Package store defines the unified storage interface consumed by the
// settlement engine.
package store

import (
	"context"
	"time"

	"github.com/xraph/settle/id"
	"github.com/xraph/settle/obligation"
	"github.com/xraph/settle/source"
	"github.com/xraph/settle/transaction"
	"github.com/xraph/settle/types"
)

// Store is the unified storage interface for all Settle entities.
// Instead of embedding the sub-interfaces, we explicitly declare all methods
// to avoid naming conflicts.
//
// Atomic is the engine's transaction boundary: the debit, the log append and
// the obligation/destination update of one settlement either all become
// visible together or not at all. Backends provide it with a real
// multi-write transaction (pgx.Tx, mongo session) or an equivalent
// snapshot-commit scheme (memory).
type Store interface {
	// Payment source methods
	CreateSource(ctx context.Context, src *source.PaymentSource) error
	GetSource(ctx context.Context, sourceID id.SourceID) (*source.PaymentSource, error)
	ListSources(ctx context.Context, ownerID id.UserID, opts source.ListOpts) ([]*source.PaymentSource, error)
	CompareAndSwapBalance(ctx context.Context, sourceID id.SourceID, expected, next types.Amount) (bool, error)
	UpdateSourceStatus(ctx context.Context, sourceID id.SourceID, status source.Status) error

	// Obligation methods
	CreateObligation(ctx context.Context, obl *obligation.Obligation) error
	GetObligation(ctx context.Context, oblID id.ObligationID) (*obligation.Obligation, error)
	ListObligations(ctx context.Context, ownerID id.UserID, opts obligation.ListOpts) ([]*obligation.Obligation, error)
	UpdateObligation(ctx context.Context, obl *obligation.Obligation) error
	ListAutopayDue(ctx context.Context, from, to time.Time) ([]*obligation.Obligation, error)

	// Transaction log methods
	AppendTransaction(ctx context.Context, txn *transaction.Transaction) error
	GetTransaction(ctx context.Context, txnID id.TransactionID) (*transaction.Transaction, error)
	GetTransactionByReference(ctx context.Context, reference string) (*transaction.Transaction, error)
	GetTransactionByIdempotencyKey(ctx context.Context, key string) (*transaction.Transaction, error)
	ListTransactionsByEndpoint(ctx context.Context, endpointID id.AnyID, opts transaction.ListOpts) ([]*transaction.Transaction, error)

	// Atomic runs fn as one all-or-nothing unit. The Store passed to fn is
	// bound to the unit; every write through it commits together when fn
	// returns nil and is discarded entirely when fn returns an error. The
	// context passed to fn must be used for all calls inside the unit.
	Atomic(ctx context.Context, fn func(ctx context.Context, tx Store) error) error

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
