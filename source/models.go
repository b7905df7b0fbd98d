// Package source defines payment source entities: the accounts, cards and
// wallets a settlement can debit or credit.
package source

import (
	"github.com/xraph/settle/id"
	"github.com/xraph/settle/types"
)

// Type discriminates the payment source variants.
type Type string

const (
	TypeAccount Type = "account"
	TypeCard    Type = "card"
	TypeWallet  Type = "wallet"
)

// Valid reports whether t is a known source type.
func (t Type) Valid() bool {
	switch t {
	case TypeAccount, TypeCard, TypeWallet:
		return true
	default:
		return false
	}
}

// IDPrefix returns the id prefix used for sources of this type.
func (t Type) IDPrefix() id.Prefix {
	switch t {
	case TypeCard:
		return id.PrefixCard
	case TypeWallet:
		return id.PrefixWallet
	default:
		return id.PrefixAccount
	}
}

// Status is the administrative status of a payment source.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// PaymentSource is a balance-carrying funding instrument owned by a single
// user. Balance is a derived projection of the transaction log and is only
// ever mutated through the store's compare-and-swap contract inside one
// settlement's atomic unit.
type PaymentSource struct {
	types.Entity
	ID       id.SourceID       `json:"id"`
	OwnerID  id.UserID         `json:"owner_id"`
	Type     Type              `json:"type"`
	Name     string            `json:"name"`
	Currency string            `json:"currency"`
	Balance  types.Amount      `json:"balance"`
	Status   Status            `json:"status"`
	Card     *CardDetails      `json:"card,omitempty"`
	Wallet   *WalletDetails    `json:"wallet,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// CardDetails carries card-variant fields.
type CardDetails struct {
	Last4   string `json:"last4"`
	Network string `json:"network"`
	Expiry  string `json:"expiry"` // MM/YY
}

// WalletDetails carries wallet-variant fields.
type WalletDetails struct {
	Provider string `json:"provider"`
}

// Active reports whether the source can fund or receive settlements.
func (s *PaymentSource) Active() bool {
	return s.Status == StatusActive
}

// Clone returns a deep copy of the source.
func (s *PaymentSource) Clone() *PaymentSource {
	cp := *s
	if s.Card != nil {
		card := *s.Card
		cp.Card = &card
	}
	if s.Wallet != nil {
		wallet := *s.Wallet
		cp.Wallet = &wallet
	}
	if s.Metadata != nil {
		cp.Metadata = make(map[string]string, len(s.Metadata))
		for k, v := range s.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}
