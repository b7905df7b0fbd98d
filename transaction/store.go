package transaction

import (
	"context"

	"github.com/xraph/settle/id"
)

// Store is the transaction log storage contract. Append-only: records are
// never mutated after the append that created them.
type Store interface {
	// Append writes a completed or failed record. It must reject duplicate
	// references and duplicate idempotency keys so that a retried atomic
	// unit has exactly-once effect.
	Append(ctx context.Context, txn *Transaction) error
	Get(ctx context.Context, txnID id.TransactionID) (*Transaction, error)
	GetByReference(ctx context.Context, reference string) (*Transaction, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*Transaction, error)

	// ListByEndpoint returns records touching the given entity on either
	// end, ordered by creation time ascending. That ordering is what makes
	// balance replay deterministic.
	ListByEndpoint(ctx context.Context, endpointID id.AnyID, opts ListOpts) ([]*Transaction, error)
}

// ListOpts filters endpoint-scoped transaction listings.
type ListOpts struct {
	Type   Type
	Status Status
	Limit  int
	Offset int
}
