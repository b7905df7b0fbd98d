package settle

import (
	"context"
	"errors"

	"github.com/xraph/settle/id"
	"github.com/xraph/settle/obligation"
	"github.com/xraph/settle/source"
	"github.com/xraph/settle/transaction"
	"github.com/xraph/settle/types"
)

// ──────────────────────────────────────────────────
// Registration
// ──────────────────────────────────────────────────

// RegisterSource stores a new payment source. An ID matching the source
// type is assigned when the caller left it nil. Balance mutation after
// registration only ever happens through the coordinator.
func (e *Engine) RegisterSource(ctx context.Context, src *source.PaymentSource) error {
	if src.OwnerID.IsNil() {
		return ValidationError{Field: "owner_id", Message: "required"}
	}
	if !src.Type.Valid() {
		return ValidationError{Field: "type", Message: "unknown payment source type"}
	}
	if src.Currency == "" {
		return ValidationError{Field: "currency", Message: "required"}
	}
	if !src.Balance.IsZero() {
		// Replaying the log from zero must reproduce every balance, so
		// opening funds arrive through Deposit, never through registration.
		return ValidationError{Field: "balance", Message: "sources open at zero; fund via deposit"}
	}

	if src.ID.IsNil() {
		src.ID = id.New(src.Type.IDPrefix())
	}
	if src.Status == "" {
		src.Status = source.StatusActive
	}
	src.Entity = types.NewEntityAt(e.now())

	if err := e.store.CreateSource(ctx, src); err != nil {
		return e.classify(err)
	}

	e.plugins.EmitSourceRegistered(ctx, src)
	return nil
}

// RegisterObligation stores a new obligation in pending status.
func (e *Engine) RegisterObligation(ctx context.Context, obl *obligation.Obligation) error {
	if obl.OwnerID.IsNil() {
		return ValidationError{Field: "owner_id", Message: "required"}
	}
	if !obl.AmountDue.IsPositive() {
		return ValidationError{Field: "amount_due", Message: "must be greater than zero"}
	}
	if obl.DueDate.IsZero() {
		return ValidationError{Field: "due_date", Message: "required"}
	}
	if obl.Recurring != nil && !obl.Recurring.Frequency.Valid() {
		return ValidationError{Field: "recurring.frequency", Message: "unknown frequency"}
	}

	if obl.ID.IsNil() {
		obl.ID = id.NewObligationID()
	}
	if obl.Status == "" {
		obl.Status = obligation.StatusPending
	}
	if obl.Recurring != nil && obl.Recurring.NextDueDate.IsZero() {
		obl.Recurring.NextDueDate = obl.DueDate
	}
	obl.Entity = types.NewEntityAt(e.now())

	if err := e.store.CreateObligation(ctx, obl); err != nil {
		return e.classify(err)
	}

	e.plugins.EmitObligationRegistered(ctx, obl)
	return nil
}

// ──────────────────────────────────────────────────
// Obligation configuration
//
// These calls change scheduling state only. They never touch a balance,
// so they bypass the atomic settlement path by design.
// ──────────────────────────────────────────────────

// ScheduleObligation moves a pending obligation to scheduled. Scheduling
// an already scheduled obligation is a no-op.
func (e *Engine) ScheduleObligation(ctx context.Context, ownerID id.UserID, oblID id.ObligationID) (*obligation.Obligation, error) {
	obl, err := e.ownedObligation(ctx, ownerID, oblID)
	if err != nil {
		return nil, err
	}

	switch obl.Status {
	case obligation.StatusScheduled:
		return obl, nil
	case obligation.StatusPaid:
		return nil, ErrAlreadyPaid
	}

	obl.Status = obligation.StatusScheduled
	if err := e.store.UpdateObligation(ctx, obl); err != nil {
		return nil, e.classify(err)
	}
	return obl, nil
}

// EnableAutopay flags an obligation for automatic payment from the given
// source on the given recurrence schedule.
func (e *Engine) EnableAutopay(ctx context.Context, ownerID id.UserID, oblID id.ObligationID, sourceID id.SourceID, freq obligation.Frequency) (*obligation.Obligation, error) {
	if !freq.Valid() {
		return nil, ValidationError{Field: "frequency", Message: "unknown frequency"}
	}

	src, err := e.store.GetSource(ctx, sourceID)
	if err != nil {
		return nil, e.classify(err)
	}
	if src.OwnerID != ownerID {
		return nil, ErrSourceNotFound
	}
	if !src.Active() {
		return nil, ErrInvalidPaymentMethod
	}

	obl, err := e.ownedObligation(ctx, ownerID, oblID)
	if err != nil {
		return nil, err
	}
	if obl.Status == obligation.StatusPaid {
		return nil, ErrAlreadyPaid
	}

	obl.SourceID = src.ID
	obl.SourceType = src.Type
	obl.Recurring = &obligation.Recurring{
		Frequency:   freq,
		NextDueDate: obl.DueDate,
		Autopay:     true,
	}

	if err := e.store.UpdateObligation(ctx, obl); err != nil {
		return nil, e.classify(err)
	}

	e.logger.Info("autopay enabled",
		"obligation_id", obl.ID.String(),
		"source_id", src.ID.String(),
		"frequency", string(freq),
	)
	return obl, nil
}

// DisableAutopay clears the automatic payment flag. The recurrence
// schedule itself is kept so due dates keep advancing.
func (e *Engine) DisableAutopay(ctx context.Context, ownerID id.UserID, oblID id.ObligationID) (*obligation.Obligation, error) {
	obl, err := e.ownedObligation(ctx, ownerID, oblID)
	if err != nil {
		return nil, err
	}
	if obl.Recurring == nil {
		return nil, ErrNotRecurring
	}

	obl.Recurring.Autopay = false
	if err := e.store.UpdateObligation(ctx, obl); err != nil {
		return nil, e.classify(err)
	}
	return obl, nil
}

// DeactivateSource takes a payment source out of service. Settlements
// against it are rejected until it is activated again; its balance and
// history are untouched.
func (e *Engine) DeactivateSource(ctx context.Context, ownerID id.UserID, sourceID id.SourceID) error {
	return e.setSourceStatus(ctx, ownerID, sourceID, source.StatusInactive)
}

// ActivateSource returns a payment source to service.
func (e *Engine) ActivateSource(ctx context.Context, ownerID id.UserID, sourceID id.SourceID) error {
	return e.setSourceStatus(ctx, ownerID, sourceID, source.StatusActive)
}

func (e *Engine) setSourceStatus(ctx context.Context, ownerID id.UserID, sourceID id.SourceID, status source.Status) error {
	src, err := e.store.GetSource(ctx, sourceID)
	if err != nil {
		return e.classify(err)
	}
	if src.OwnerID != ownerID {
		return ErrSourceNotFound
	}

	if err := e.store.UpdateSourceStatus(ctx, sourceID, status); err != nil {
		return e.classify(err)
	}

	e.logger.Info("source status changed",
		"source_id", sourceID.String(),
		"status", string(status),
	)
	return nil
}

// ──────────────────────────────────────────────────
// Queries
// ──────────────────────────────────────────────────

// GetSource retrieves a payment source by ID.
func (e *Engine) GetSource(ctx context.Context, sourceID id.SourceID) (*source.PaymentSource, error) {
	return e.store.GetSource(ctx, sourceID)
}

// ListSources lists an owner's payment sources.
func (e *Engine) ListSources(ctx context.Context, ownerID id.UserID, opts source.ListOpts) ([]*source.PaymentSource, error) {
	return e.store.ListSources(ctx, ownerID, opts)
}

// GetObligation retrieves an obligation by ID.
func (e *Engine) GetObligation(ctx context.Context, oblID id.ObligationID) (*obligation.Obligation, error) {
	return e.store.GetObligation(ctx, oblID)
}

// ListObligations lists an owner's obligations. Owner-scoped listings are
// the single source of truth for "this user's bills" — there is no
// back-reference collection to drift out of sync.
func (e *Engine) ListObligations(ctx context.Context, ownerID id.UserID, opts obligation.ListOpts) ([]*obligation.Obligation, error) {
	return e.store.ListObligations(ctx, ownerID, opts)
}

// GetTransaction retrieves a transaction by ID.
func (e *Engine) GetTransaction(ctx context.Context, txnID id.TransactionID) (*transaction.Transaction, error) {
	return e.store.GetTransaction(ctx, txnID)
}

// GetTransactionByReference retrieves a transaction by its settlement
// reference.
func (e *Engine) GetTransactionByReference(ctx context.Context, reference string) (*transaction.Transaction, error) {
	return e.store.GetTransactionByReference(ctx, reference)
}

// ListTransactions lists the transactions touching a source or obligation,
// oldest first.
func (e *Engine) ListTransactions(ctx context.Context, endpointID id.AnyID, opts transaction.ListOpts) ([]*transaction.Transaction, error) {
	return e.store.ListTransactionsByEndpoint(ctx, endpointID, opts)
}

// ownedObligation fetches an obligation and hides it from non-owners.
func (e *Engine) ownedObligation(ctx context.Context, ownerID id.UserID, oblID id.ObligationID) (*obligation.Obligation, error) {
	obl, err := e.store.GetObligation(ctx, oblID)
	if err != nil {
		if errors.Is(err, ErrObligationNotFound) {
			return nil, err
		}
		return nil, e.classify(err)
	}
	if obl.OwnerID != ownerID {
		return nil, ErrObligationNotFound
	}
	return obl, nil
}
