package obligation

import (
	"context"
	"time"

	"github.com/xraph/settle/id"
)

// Store is the obligation storage contract.
type Store interface {
	Create(ctx context.Context, obl *Obligation) error
	Get(ctx context.Context, oblID id.ObligationID) (*Obligation, error)
	List(ctx context.Context, ownerID id.UserID, opts ListOpts) ([]*Obligation, error)
	Update(ctx context.Context, obl *Obligation) error

	// ListAutopayDue returns obligations eligible for an autopay run whose
	// due date falls within [from, to).
	ListAutopayDue(ctx context.Context, from, to time.Time) ([]*Obligation, error)
}

// ListOpts filters owner-scoped obligation listings.
type ListOpts struct {
	Status Status
	Limit  int
	Offset int
}
