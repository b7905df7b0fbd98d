// Package transaction defines the append-only transaction log entities.
// The log is the durable source of truth for every funds movement; source
// balances are a projection that must always be reconstructable from it.
package transaction

import (
	"github.com/xraph/settle/id"
	"github.com/xraph/settle/types"
)

// Type classifies a funds movement.
type Type string

const (
	// TypeDebit is an outflow from a payment source to an obligation.
	TypeDebit Type = "debit"
	// TypeCredit is an inflow to a payment source from an external origin.
	TypeCredit Type = "credit"
	// TypeTransfer moves funds between two payment sources.
	TypeTransfer Type = "transfer"
)

// Status is the lifecycle state of a transaction record. A record is
// immutable once it reaches completed or failed.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// EndpointKind identifies what a transaction endpoint refers to.
type EndpointKind string

const (
	KindAccount    EndpointKind = "account"
	KindCard       EndpointKind = "card"
	KindWallet     EndpointKind = "wallet"
	KindObligation EndpointKind = "obligation"
	KindExternal   EndpointKind = "external"
)

// Endpoint is one end of a funds movement. It references the entity by
// identity only, so deleting a source never deletes its historical
// transactions.
type Endpoint struct {
	ID   id.AnyID     `json:"id,omitempty"`
	Kind EndpointKind `json:"kind"`
}

// Transaction is one immutable record of a settlement attempt's outcome.
type Transaction struct {
	types.Entity
	ID             id.TransactionID  `json:"id"`
	Type           Type              `json:"type"`
	Amount         types.Amount      `json:"amount"`
	Currency       string            `json:"currency"`
	Source         Endpoint          `json:"source"`
	Destination    Endpoint          `json:"destination"`
	Status         Status            `json:"status"`
	Reference      string            `json:"reference"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
	Description    string            `json:"description,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Clone returns a deep copy of the transaction.
func (t *Transaction) Clone() *Transaction {
	cp := *t
	if t.Metadata != nil {
		cp.Metadata = make(map[string]string, len(t.Metadata))
		for k, v := range t.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}
