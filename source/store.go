package source

import (
	"context"

	"github.com/xraph/settle/id"
	"github.com/xraph/settle/types"
)

// Store is the payment source storage contract.
//
// CompareAndSwapBalance is the ONLY way a balance changes. It writes next
// only if the stored balance still equals expected, returning false when
// another writer got there first. A plain read-then-write is a lost-update
// hazard and must not be used for balance mutation.
type Store interface {
	Create(ctx context.Context, src *PaymentSource) error
	Get(ctx context.Context, sourceID id.SourceID) (*PaymentSource, error)
	List(ctx context.Context, ownerID id.UserID, opts ListOpts) ([]*PaymentSource, error)
	CompareAndSwapBalance(ctx context.Context, sourceID id.SourceID, expected, next types.Amount) (bool, error)
	UpdateStatus(ctx context.Context, sourceID id.SourceID, status Status) error
}

// ListOpts filters owner-scoped source listings.
type ListOpts struct {
	Type   Type
	Status Status
	Limit  int
	Offset int
}
