package mongo

import (
	"time"

	"github.com/xraph/settle/id"
	"github.com/xraph/settle/obligation"
	"github.com/xraph/settle/source"
	"github.com/xraph/settle/transaction"
	"github.com/xraph/settle/types"
)

// Amounts are stored as fixed-scale decimal strings so that a document is
// byte-comparable in a compare-and-swap filter and never loses precision
// to BSON doubles.

// ==================== Source models ====================

type sourceModel struct {
	ID        string            `bson:"_id"`
	OwnerID   string            `bson:"owner_id"`
	Type      string            `bson:"type"`
	Name      string            `bson:"name"`
	Currency  string            `bson:"currency"`
	Balance   string            `bson:"balance"`
	Status    string            `bson:"status"`
	Card      *cardModel        `bson:"card,omitempty"`
	Wallet    *walletModel      `bson:"wallet,omitempty"`
	Metadata  map[string]string `bson:"metadata,omitempty"`
	CreatedAt time.Time         `bson:"created_at"`
	UpdatedAt time.Time         `bson:"updated_at"`
}

type cardModel struct {
	Last4   string `bson:"last4"`
	Network string `bson:"network"`
	Expiry  string `bson:"expiry"`
}

type walletModel struct {
	Provider string `bson:"provider"`
}

func toSourceModel(s *source.PaymentSource) *sourceModel {
	m := &sourceModel{
		ID:        s.ID.String(),
		OwnerID:   s.OwnerID.String(),
		Type:      string(s.Type),
		Name:      s.Name,
		Currency:  s.Currency,
		Balance:   s.Balance.StringFixed(),
		Status:    string(s.Status),
		Metadata:  s.Metadata,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
	if s.Card != nil {
		m.Card = &cardModel{Last4: s.Card.Last4, Network: s.Card.Network, Expiry: s.Card.Expiry}
	}
	if s.Wallet != nil {
		m.Wallet = &walletModel{Provider: s.Wallet.Provider}
	}
	return m
}

func fromSourceModel(m *sourceModel) (*source.PaymentSource, error) {
	sourceID, err := id.ParseSourceID(m.ID)
	if err != nil {
		return nil, err
	}
	ownerID, err := id.ParseUserID(m.OwnerID)
	if err != nil {
		return nil, err
	}
	balance, err := types.ParseAmount(m.Balance)
	if err != nil {
		return nil, err
	}

	s := &source.PaymentSource{
		ID:       sourceID,
		OwnerID:  ownerID,
		Type:     source.Type(m.Type),
		Name:     m.Name,
		Currency: m.Currency,
		Balance:  balance,
		Status:   source.Status(m.Status),
		Metadata: m.Metadata,
	}
	s.CreatedAt = m.CreatedAt
	s.UpdatedAt = m.UpdatedAt
	if m.Card != nil {
		s.Card = &source.CardDetails{Last4: m.Card.Last4, Network: m.Card.Network, Expiry: m.Card.Expiry}
	}
	if m.Wallet != nil {
		s.Wallet = &source.WalletDetails{Provider: m.Wallet.Provider}
	}
	return s, nil
}

// ==================== Obligation models ====================

type obligationModel struct {
	ID         string            `bson:"_id"`
	OwnerID    string            `bson:"owner_id"`
	Name       string            `bson:"name"`
	AmountDue  string            `bson:"amount_due"`
	Currency   string            `bson:"currency"`
	DueDate    time.Time         `bson:"due_date"`
	SourceID   string            `bson:"source_id,omitempty"`
	SourceType string            `bson:"source_type,omitempty"`
	Status     string            `bson:"status"`
	Recurring  *recurringModel   `bson:"recurring,omitempty"`
	Payments   []paymentModel    `bson:"payments,omitempty"`
	Metadata   map[string]string `bson:"metadata,omitempty"`
	CreatedAt  time.Time         `bson:"created_at"`
	UpdatedAt  time.Time         `bson:"updated_at"`
}

type recurringModel struct {
	Frequency   string    `bson:"frequency"`
	NextDueDate time.Time `bson:"next_due_date"`
	Autopay     bool      `bson:"autopay"`
}

type paymentModel struct {
	Amount    string    `bson:"amount"`
	Reference string    `bson:"reference"`
	PaidAt    time.Time `bson:"paid_at"`
	Note      string    `bson:"note,omitempty"`
}

func toObligationModel(o *obligation.Obligation) *obligationModel {
	m := &obligationModel{
		ID:         o.ID.String(),
		OwnerID:    o.OwnerID.String(),
		Name:       o.Name,
		AmountDue:  o.AmountDue.StringFixed(),
		Currency:   o.Currency,
		DueDate:    o.DueDate,
		SourceID:   o.SourceID.String(),
		SourceType: string(o.SourceType),
		Status:     string(o.Status),
		Metadata:   o.Metadata,
		CreatedAt:  o.CreatedAt,
		UpdatedAt:  o.UpdatedAt,
	}
	if o.Recurring != nil {
		m.Recurring = &recurringModel{
			Frequency:   string(o.Recurring.Frequency),
			NextDueDate: o.Recurring.NextDueDate,
			Autopay:     o.Recurring.Autopay,
		}
	}
	if len(o.Payments) > 0 {
		m.Payments = make([]paymentModel, len(o.Payments))
		for i, p := range o.Payments {
			m.Payments[i] = paymentModel{
				Amount:    p.Amount.StringFixed(),
				Reference: p.Reference,
				PaidAt:    p.PaidAt,
				Note:      p.Note,
			}
		}
	}
	return m
}

func fromObligationModel(m *obligationModel) (*obligation.Obligation, error) {
	oblID, err := id.ParseObligationID(m.ID)
	if err != nil {
		return nil, err
	}
	ownerID, err := id.ParseUserID(m.OwnerID)
	if err != nil {
		return nil, err
	}
	amountDue, err := types.ParseAmount(m.AmountDue)
	if err != nil {
		return nil, err
	}

	o := &obligation.Obligation{
		ID:         oblID,
		OwnerID:    ownerID,
		Name:       m.Name,
		AmountDue:  amountDue,
		Currency:   m.Currency,
		DueDate:    m.DueDate,
		SourceType: source.Type(m.SourceType),
		Status:     obligation.Status(m.Status),
		Metadata:   m.Metadata,
	}
	o.CreatedAt = m.CreatedAt
	o.UpdatedAt = m.UpdatedAt

	if m.SourceID != "" {
		sourceID, err := id.ParseSourceID(m.SourceID)
		if err != nil {
			return nil, err
		}
		o.SourceID = sourceID
	}
	if m.Recurring != nil {
		o.Recurring = &obligation.Recurring{
			Frequency:   obligation.Frequency(m.Recurring.Frequency),
			NextDueDate: m.Recurring.NextDueDate,
			Autopay:     m.Recurring.Autopay,
		}
	}
	for _, pm := range m.Payments {
		amount, err := types.ParseAmount(pm.Amount)
		if err != nil {
			return nil, err
		}
		o.Payments = append(o.Payments, obligation.Payment{
			Amount:    amount,
			Reference: pm.Reference,
			PaidAt:    pm.PaidAt,
			Note:      pm.Note,
		})
	}
	return o, nil
}

// ==================== Transaction models ====================

type transactionModel struct {
	ID             string            `bson:"_id"`
	Type           string            `bson:"type"`
	Amount         string            `bson:"amount"`
	Currency       string            `bson:"currency"`
	Source         endpointModel     `bson:"source"`
	Destination    endpointModel     `bson:"destination"`
	Status         string            `bson:"status"`
	Reference      string            `bson:"reference"`
	IdempotencyKey string            `bson:"idempotency_key,omitempty"`
	Description    string            `bson:"description,omitempty"`
	Metadata       map[string]string `bson:"metadata,omitempty"`
	CreatedAt      time.Time         `bson:"created_at"`
	UpdatedAt      time.Time         `bson:"updated_at"`
}

type endpointModel struct {
	ID   string `bson:"id,omitempty"`
	Kind string `bson:"kind"`
}

func toTransactionModel(t *transaction.Transaction) *transactionModel {
	return &transactionModel{
		ID:             t.ID.String(),
		Type:           string(t.Type),
		Amount:         t.Amount.StringFixed(),
		Currency:       t.Currency,
		Source:         endpointModel{ID: t.Source.ID.String(), Kind: string(t.Source.Kind)},
		Destination:    endpointModel{ID: t.Destination.ID.String(), Kind: string(t.Destination.Kind)},
		Status:         string(t.Status),
		Reference:      t.Reference,
		IdempotencyKey: t.IdempotencyKey,
		Description:    t.Description,
		Metadata:       t.Metadata,
		CreatedAt:      t.CreatedAt,
		UpdatedAt:      t.UpdatedAt,
	}
}

func fromTransactionModel(m *transactionModel) (*transaction.Transaction, error) {
	txnID, err := id.ParseTransactionID(m.ID)
	if err != nil {
		return nil, err
	}
	amount, err := types.ParseAmount(m.Amount)
	if err != nil {
		return nil, err
	}
	src, err := fromEndpointModel(m.Source)
	if err != nil {
		return nil, err
	}
	dst, err := fromEndpointModel(m.Destination)
	if err != nil {
		return nil, err
	}

	t := &transaction.Transaction{
		ID:             txnID,
		Type:           transaction.Type(m.Type),
		Amount:         amount,
		Currency:       m.Currency,
		Source:         src,
		Destination:    dst,
		Status:         transaction.Status(m.Status),
		Reference:      m.Reference,
		IdempotencyKey: m.IdempotencyKey,
		Description:    m.Description,
		Metadata:       m.Metadata,
	}
	t.CreatedAt = m.CreatedAt
	t.UpdatedAt = m.UpdatedAt
	return t, nil
}

func fromEndpointModel(m endpointModel) (transaction.Endpoint, error) {
	ep := transaction.Endpoint{Kind: transaction.EndpointKind(m.Kind)}
	if m.ID != "" {
		endpointID, err := id.ParseAny(m.ID)
		if err != nil {
			return transaction.Endpoint{}, err
		}
		ep.ID = endpointID
	}
	return ep, nil
}
