package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/settle/id"
	"github.com/xraph/settle/obligation"
	"github.com/xraph/settle/source"
	"github.com/xraph/settle/transaction"
	"github.com/xraph/settle/types"
)

// Rows scan into flat row structs first. Amounts come back as text
// (NUMERIC selected with ::text) and parse into fixed-scale decimals;
// nested structures travel as JSONB blobs.

// ==================== Source rows ====================

type sourceRow struct {
	ID        string
	OwnerID   string
	Type      string
	Name      string
	Currency  string
	Balance   string
	Status    string
	Card      []byte
	Wallet    []byte
	Metadata  []byte
	CreatedAt time.Time
	UpdatedAt time.Time
}

func fromSourceRow(r *sourceRow) (*source.PaymentSource, error) {
	sourceID, err := id.ParseSourceID(r.ID)
	if err != nil {
		return nil, err
	}
	ownerID, err := id.ParseUserID(r.OwnerID)
	if err != nil {
		return nil, err
	}
	balance, err := types.ParseAmount(r.Balance)
	if err != nil {
		return nil, err
	}

	s := &source.PaymentSource{
		ID:       sourceID,
		OwnerID:  ownerID,
		Type:     source.Type(r.Type),
		Name:     r.Name,
		Currency: r.Currency,
		Balance:  balance,
		Status:   source.Status(r.Status),
	}
	s.CreatedAt = r.CreatedAt
	s.UpdatedAt = r.UpdatedAt

	if len(r.Card) > 0 {
		s.Card = new(source.CardDetails)
		if err := json.Unmarshal(r.Card, s.Card); err != nil {
			return nil, fmt.Errorf("settle/postgres: decode card: %w", err)
		}
	}
	if len(r.Wallet) > 0 {
		s.Wallet = new(source.WalletDetails)
		if err := json.Unmarshal(r.Wallet, s.Wallet); err != nil {
			return nil, fmt.Errorf("settle/postgres: decode wallet: %w", err)
		}
	}
	if err := decodeMetadata(r.Metadata, &s.Metadata); err != nil {
		return nil, err
	}
	return s, nil
}

// ==================== Obligation rows ====================

type obligationRow struct {
	ID         string
	OwnerID    string
	Name       string
	AmountDue  string
	Currency   string
	DueDate    time.Time
	SourceID   string
	SourceType string
	Status     string
	Recurring  []byte
	Payments   []byte
	Metadata   []byte
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func fromObligationRow(r *obligationRow) (*obligation.Obligation, error) {
	oblID, err := id.ParseObligationID(r.ID)
	if err != nil {
		return nil, err
	}
	ownerID, err := id.ParseUserID(r.OwnerID)
	if err != nil {
		return nil, err
	}
	amountDue, err := types.ParseAmount(r.AmountDue)
	if err != nil {
		return nil, err
	}

	o := &obligation.Obligation{
		ID:         oblID,
		OwnerID:    ownerID,
		Name:       r.Name,
		AmountDue:  amountDue,
		Currency:   r.Currency,
		DueDate:    r.DueDate,
		SourceType: source.Type(r.SourceType),
		Status:     obligation.Status(r.Status),
	}
	o.CreatedAt = r.CreatedAt
	o.UpdatedAt = r.UpdatedAt

	if r.SourceID != "" {
		sourceID, err := id.ParseSourceID(r.SourceID)
		if err != nil {
			return nil, err
		}
		o.SourceID = sourceID
	}
	if len(r.Recurring) > 0 {
		o.Recurring = new(obligation.Recurring)
		if err := json.Unmarshal(r.Recurring, o.Recurring); err != nil {
			return nil, fmt.Errorf("settle/postgres: decode recurring: %w", err)
		}
	}
	if len(r.Payments) > 0 {
		if err := json.Unmarshal(r.Payments, &o.Payments); err != nil {
			return nil, fmt.Errorf("settle/postgres: decode payments: %w", err)
		}
	}
	if err := decodeMetadata(r.Metadata, &o.Metadata); err != nil {
		return nil, err
	}
	return o, nil
}

// ==================== Transaction rows ====================

type transactionRow struct {
	ID              string
	Type            string
	Amount          string
	Currency        string
	SourceID        string
	SourceKind      string
	DestinationID   string
	DestinationKind string
	Status          string
	Reference       string
	IdempotencyKey  string
	Description     string
	Metadata        []byte
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func fromTransactionRow(r *transactionRow) (*transaction.Transaction, error) {
	txnID, err := id.ParseTransactionID(r.ID)
	if err != nil {
		return nil, err
	}
	amount, err := types.ParseAmount(r.Amount)
	if err != nil {
		return nil, err
	}
	src, err := toEndpoint(r.SourceID, r.SourceKind)
	if err != nil {
		return nil, err
	}
	dst, err := toEndpoint(r.DestinationID, r.DestinationKind)
	if err != nil {
		return nil, err
	}

	t := &transaction.Transaction{
		ID:             txnID,
		Type:           transaction.Type(r.Type),
		Amount:         amount,
		Currency:       r.Currency,
		Source:         src,
		Destination:    dst,
		Status:         transaction.Status(r.Status),
		Reference:      r.Reference,
		IdempotencyKey: r.IdempotencyKey,
		Description:    r.Description,
	}
	t.CreatedAt = r.CreatedAt
	t.UpdatedAt = r.UpdatedAt

	if err := decodeMetadata(r.Metadata, &t.Metadata); err != nil {
		return nil, err
	}
	return t, nil
}

func toEndpoint(rawID, kind string) (transaction.Endpoint, error) {
	ep := transaction.Endpoint{Kind: transaction.EndpointKind(kind)}
	if rawID != "" {
		endpointID, err := id.ParseAny(rawID)
		if err != nil {
			return transaction.Endpoint{}, err
		}
		ep.ID = endpointID
	}
	return ep, nil
}

// ==================== JSONB helpers ====================

func decodeMetadata(raw []byte, dst *map[string]string) error {
	if len(raw) == 0 {
		return nil
	}
	var m map[string]string
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Errorf("settle/postgres: decode metadata: %w", err)
	}
	if len(m) > 0 {
		*dst = m
	}
	return nil
}

// jsonOrNull marshals p, mapping a nil pointer to SQL NULL.
func jsonOrNull[T any](p *T) (any, error) {
	if p == nil {
		return nil, nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("settle/postgres: encode json: %w", err)
	}
	return b, nil
}

// encodeMetadata marshals a metadata map, mapping nil to the empty object.
func encodeMetadata(m map[string]string) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("settle/postgres: encode metadata: %w", err)
	}
	return b, nil
}
