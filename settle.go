package settle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/settle/id"
	"github.com/xraph/settle/obligation"
	"github.com/xraph/settle/plugin"
	"github.com/xraph/settle/ref"
	"github.com/xraph/settle/source"
	"github.com/xraph/settle/store"
	"github.com/xraph/settle/transaction"
	"github.com/xraph/settle/types"
)

// Engine is the settlement coordinator: it moves funds between payment
// sources and obligations as single all-or-nothing units, producing an
// immutable transaction trail.
type Engine struct {
	store   store.Store
	plugins *plugin.Registry
	logger  *slog.Logger
	refs    ref.Generator

	// Configuration
	casRetries         int
	casBackoff         time.Duration
	settleTimeout      time.Duration
	autopayItemTimeout time.Duration

	now func() time.Time
}

// New creates a new Engine instance.
func New(s store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:              s,
		plugins:            plugin.NewRegistry(),
		logger:             slog.Default(),
		refs:               ref.NewGenerator(),
		casRetries:         3,
		casBackoff:         25 * time.Millisecond,
		settleTimeout:      10 * time.Second,
		autopayItemTimeout: 10 * time.Second,
		now:                time.Now,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Option configures an Engine instance.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
		e.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Engine) {
		_ = e.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithReferenceGenerator sets the settlement reference generator.
func WithReferenceGenerator(g ref.Generator) Option {
	return func(e *Engine) {
		e.refs = g
	}
}

// WithCASRetries bounds how often a conflicted balance write is retried
// before the call surfaces ErrConcurrentModification.
func WithCASRetries(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.casRetries = n
		}
	}
}

// WithCASBackoff sets the pause between conflicted balance write retries.
func WithCASBackoff(d time.Duration) Option {
	return func(e *Engine) {
		e.casBackoff = d
	}
}

// WithSettleTimeout bounds one settlement call end to end. Zero disables
// the engine-imposed deadline.
func WithSettleTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.settleTimeout = d
	}
}

// WithAutopayItemTimeout bounds each item of an autopay batch run. The
// batch itself has no deadline so a stuck item never starves the rest.
func WithAutopayItemTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.autopayItemTimeout = d
	}
}

// WithClock overrides the engine clock. Used by tests to pin due-date
// windows and timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// Start migrates the store and initializes plugins.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.store.Migrate(ctx); err != nil {
		return err
	}

	e.plugins.EmitInit(ctx, e)

	e.logger.Info("settle engine started",
		"cas_retries", e.casRetries,
		"cas_backoff", e.casBackoff,
		"settle_timeout", e.settleTimeout,
	)

	return nil
}

// Stop shuts down the engine.
func (e *Engine) Stop() error {
	e.plugins.EmitShutdown(context.Background())
	return e.store.Close()
}

// Plugins returns the engine's plugin registry.
func (e *Engine) Plugins() *plugin.Registry { return e.plugins }

// ──────────────────────────────────────────────────
// Settlement
// ──────────────────────────────────────────────────

// SettleRequest describes one funds movement from a payment source to
// either an obligation or another account. Exactly one destination must
// be set.
type SettleRequest struct {
	OwnerID  id.UserID   `json:"owner_id"`
	SourceID id.SourceID `json:"source_id"`

	// SourceType, when set, asserts what kind of source SourceID refers
	// to; a mismatch rejects with ErrInvalidPaymentMethod. Empty skips
	// the check.
	SourceType source.Type `json:"source_type,omitempty"`

	ObligationID         id.ObligationID `json:"destination_obligation_id,omitempty"`
	DestinationAccountID id.SourceID     `json:"destination_account_id,omitempty"`

	// Amount is a decimal string ("40.00"). Binary floating point never
	// enters the engine.
	Amount string `json:"amount"`

	// IdempotencyKey, when set, makes a retried call return the original
	// transaction instead of settling twice.
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
	Description    string            `json:"description,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// SettleResult is the outcome of a committed settlement.
type SettleResult struct {
	Transaction *transaction.Transaction `json:"transaction"`
	// Obligation is the post-settlement obligation state; nil when the
	// destination was an account.
	Obligation *obligation.Obligation `json:"obligation,omitempty"`
}

// errCASConflict aborts the current atomic unit so the coordinator can
// re-read, re-validate and retry. Never escapes the engine.
var errCASConflict = errors.New("settle: balance changed underneath the unit")

// Settle executes one settlement as a single atomic unit: validate, debit
// the source, append a completed transaction, and update the obligation or
// credit the destination account. If any step fails, nothing is observable.
func (e *Engine) Settle(ctx context.Context, req SettleRequest) (*SettleResult, error) {
	amount, err := e.validateSettle(&req)
	if err != nil {
		e.plugins.EmitSettlementFailed(ctx, "", err)
		return nil, err
	}

	// A replay with the same idempotency key returns the original record
	// and performs no writes.
	if req.IdempotencyKey != "" {
		if prior, err := e.store.GetTransactionByIdempotencyKey(ctx, req.IdempotencyKey); err == nil {
			return e.replayResult(ctx, prior)
		} else if !errors.Is(err, ErrTransactionNotFound) {
			return nil, e.classify(err)
		}
	}

	if e.settleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.settleTimeout)
		defer cancel()
	}

	reference := e.refs.Next(e.now())

	var result *SettleResult
	for attempt := 1; attempt <= e.casRetries; attempt++ {
		result = nil

		err = e.store.Atomic(ctx, func(ctx context.Context, tx store.Store) error {
			r, err := e.settleOnce(ctx, tx, &req, amount, reference)
			if err != nil {
				return err
			}
			result = r
			return nil
		})

		switch {
		case err == nil:
			e.logger.Info("settlement completed",
				"reference", reference,
				"owner_id", req.OwnerID.String(),
				"source_id", req.SourceID.String(),
				"amount", amount.StringFixed(),
				"attempt", attempt,
			)
			e.plugins.EmitSettlementCompleted(ctx, result.Transaction)
			if result.Obligation != nil {
				e.plugins.EmitObligationPaid(ctx, result.Obligation)
			}
			return result, nil

		case errors.Is(err, errCASConflict):
			e.logger.Debug("settlement conflicted, retrying",
				"reference", reference,
				"attempt", attempt,
			)
			if e.casBackoff > 0 && attempt < e.casRetries {
				select {
				case <-time.After(e.casBackoff):
				case <-ctx.Done():
					err = ctx.Err()
				}
			}
			if ctx.Err() != nil {
				classified := e.classify(ctx.Err())
				e.plugins.EmitSettlementFailed(ctx, reference, classified)
				return nil, classified
			}

		case errors.Is(err, ErrDuplicateIdemKey):
			// Lost a race against another call carrying the same key; the
			// winner's record is the canonical outcome.
			prior, getErr := e.store.GetTransactionByIdempotencyKey(context.WithoutCancel(ctx), req.IdempotencyKey)
			if getErr != nil {
				return nil, e.classify(getErr)
			}
			return e.replayResult(ctx, prior)

		default:
			classified := e.classify(err)
			e.plugins.EmitSettlementFailed(ctx, reference, classified)
			return nil, classified
		}
	}

	e.plugins.EmitSettlementFailed(ctx, reference, ErrConcurrentModification)
	return nil, ErrConcurrentModification
}

// settleOnce runs the full precondition-check-and-write sequence inside
// one atomic unit. Order matters: obligation state, then payment method,
// then funds; debit precedes the log append, which precedes the
// obligation/destination update.
func (e *Engine) settleOnce(ctx context.Context, tx store.Store, req *SettleRequest, amount types.Amount, reference string) (*SettleResult, error) {
	var obl *obligation.Obligation
	if !req.ObligationID.IsNil() {
		var err error
		obl, err = tx.GetObligation(ctx, req.ObligationID)
		if err != nil {
			return nil, err
		}
		if obl.OwnerID != req.OwnerID {
			// Cross-owner access reads as absence.
			return nil, ErrObligationNotFound
		}
		if !obl.Payable() {
			return nil, ErrAlreadyPaid
		}
	}

	src, err := tx.GetSource(ctx, req.SourceID)
	if err != nil {
		return nil, err
	}
	if src.OwnerID != req.OwnerID {
		return nil, ErrSourceNotFound
	}
	if !src.Active() {
		return nil, ErrInvalidPaymentMethod
	}
	if req.SourceType != "" && src.Type != req.SourceType {
		return nil, ErrInvalidPaymentMethod
	}

	var dest *source.PaymentSource
	if !req.DestinationAccountID.IsNil() {
		dest, err = tx.GetSource(ctx, req.DestinationAccountID)
		if err != nil {
			return nil, err
		}
		if !dest.Active() {
			return nil, ErrInvalidPaymentMethod
		}
		if dest.Currency != src.Currency {
			return nil, ErrCurrencyMismatch
		}
	}
	if obl != nil && obl.Currency != "" && obl.Currency != src.Currency {
		return nil, ErrCurrencyMismatch
	}

	if src.Balance.LessThan(amount) {
		return nil, ErrInsufficientFunds
	}

	// Debit first. The swap fails when a concurrent unit moved the balance
	// after our read; the whole unit then aborts and retries.
	swapped, err := tx.CompareAndSwapBalance(ctx, src.ID, src.Balance, src.Balance.Sub(amount))
	if err != nil {
		return nil, err
	}
	if !swapped {
		return nil, errCASConflict
	}

	txnType := transaction.TypeDebit
	destination := transaction.Endpoint{ID: req.ObligationID, Kind: transaction.KindObligation}
	if dest != nil {
		txnType = transaction.TypeTransfer
		destination = transaction.Endpoint{ID: dest.ID, Kind: endpointKind(dest.Type)}
	}

	now := e.now().UTC()
	txn := &transaction.Transaction{
		Entity:         types.NewEntityAt(now),
		ID:             id.NewTransactionID(),
		Type:           txnType,
		Amount:         amount,
		Currency:       src.Currency,
		Source:         transaction.Endpoint{ID: src.ID, Kind: endpointKind(src.Type)},
		Destination:    destination,
		Status:         transaction.StatusCompleted,
		Reference:      reference,
		IdempotencyKey: req.IdempotencyKey,
		Description:    req.Description,
		Metadata:       req.Metadata,
	}
	if err := tx.AppendTransaction(ctx, txn); err != nil {
		return nil, err
	}

	result := &SettleResult{Transaction: txn}

	switch {
	case obl != nil:
		obl.MarkPaid(obligation.Payment{
			Amount:    amount,
			Reference: reference,
			PaidAt:    now,
			Note:      req.Description,
		})
		if err := tx.UpdateObligation(ctx, obl); err != nil {
			return nil, err
		}
		result.Obligation = obl

	case dest != nil:
		swapped, err := tx.CompareAndSwapBalance(ctx, dest.ID, dest.Balance, dest.Balance.Add(amount))
		if err != nil {
			return nil, err
		}
		if !swapped {
			return nil, errCASConflict
		}
	}

	return result, nil
}

// validateSettle checks request shape and parses the amount. Nothing is
// written when validation fails.
func (e *Engine) validateSettle(req *SettleRequest) (types.Amount, error) {
	if req.OwnerID.IsNil() {
		return types.Amount{}, ValidationError{Field: "owner_id", Message: "required"}
	}
	if req.SourceID.IsNil() {
		return types.Amount{}, ValidationError{Field: "source_id", Message: "required"}
	}
	if req.SourceType != "" && !req.SourceType.Valid() {
		return types.Amount{}, ValidationError{Field: "source_type", Message: "unknown payment source type"}
	}

	hasObl := !req.ObligationID.IsNil()
	hasDest := !req.DestinationAccountID.IsNil()
	if hasObl == hasDest {
		return types.Amount{}, ValidationError{Field: "destination", Message: "exactly one of destination_obligation_id or destination_account_id is required"}
	}
	if hasDest && req.DestinationAccountID == req.SourceID {
		return types.Amount{}, ValidationError{Field: "destination_account_id", Message: "cannot transfer to the funding source"}
	}

	amount, err := types.ParseAmount(req.Amount)
	if err != nil {
		return types.Amount{}, ValidationError{Field: "amount", Message: err.Error()}
	}
	if !amount.IsPositive() {
		return types.Amount{}, ValidationError{Field: "amount", Message: "must be greater than zero"}
	}

	return amount, nil
}

// replayResult rebuilds a SettleResult from a previously committed
// transaction found via its idempotency key.
func (e *Engine) replayResult(ctx context.Context, txn *transaction.Transaction) (*SettleResult, error) {
	result := &SettleResult{Transaction: txn}

	if txn.Destination.Kind == transaction.KindObligation && !txn.Destination.ID.IsNil() {
		obl, err := e.store.GetObligation(ctx, txn.Destination.ID)
		if err == nil {
			result.Obligation = obl
		}
	}

	e.logger.Debug("settlement replayed from idempotency key",
		"reference", txn.Reference,
		"transaction_id", txn.ID.String(),
	)
	return result, nil
}

// ──────────────────────────────────────────────────
// Deposits
// ──────────────────────────────────────────────────

// DepositRequest credits a payment source from an external origin.
type DepositRequest struct {
	OwnerID        id.UserID         `json:"owner_id"`
	SourceID       id.SourceID       `json:"source_id"`
	Amount         string            `json:"amount"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
	Description    string            `json:"description,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Deposit credits a source and appends a credit transaction, as one
// atomic unit with the same concurrency discipline as Settle.
func (e *Engine) Deposit(ctx context.Context, req DepositRequest) (*transaction.Transaction, error) {
	if req.OwnerID.IsNil() {
		return nil, ValidationError{Field: "owner_id", Message: "required"}
	}
	if req.SourceID.IsNil() {
		return nil, ValidationError{Field: "source_id", Message: "required"}
	}
	amount, err := types.ParseAmount(req.Amount)
	if err != nil {
		return nil, ValidationError{Field: "amount", Message: err.Error()}
	}
	if !amount.IsPositive() {
		return nil, ValidationError{Field: "amount", Message: "must be greater than zero"}
	}

	if req.IdempotencyKey != "" {
		if prior, err := e.store.GetTransactionByIdempotencyKey(ctx, req.IdempotencyKey); err == nil {
			return prior, nil
		} else if !errors.Is(err, ErrTransactionNotFound) {
			return nil, e.classify(err)
		}
	}

	if e.settleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.settleTimeout)
		defer cancel()
	}

	reference := e.refs.Next(e.now())

	var txn *transaction.Transaction
	for attempt := 1; attempt <= e.casRetries; attempt++ {
		err = e.store.Atomic(ctx, func(ctx context.Context, tx store.Store) error {
			src, err := tx.GetSource(ctx, req.SourceID)
			if err != nil {
				return err
			}
			if src.OwnerID != req.OwnerID {
				return ErrSourceNotFound
			}
			if !src.Active() {
				return ErrInvalidPaymentMethod
			}

			swapped, err := tx.CompareAndSwapBalance(ctx, src.ID, src.Balance, src.Balance.Add(amount))
			if err != nil {
				return err
			}
			if !swapped {
				return errCASConflict
			}

			txn = &transaction.Transaction{
				Entity:         types.NewEntityAt(e.now()),
				ID:             id.NewTransactionID(),
				Type:           transaction.TypeCredit,
				Amount:         amount,
				Currency:       src.Currency,
				Source:         transaction.Endpoint{Kind: transaction.KindExternal},
				Destination:    transaction.Endpoint{ID: src.ID, Kind: endpointKind(src.Type)},
				Status:         transaction.StatusCompleted,
				Reference:      reference,
				IdempotencyKey: req.IdempotencyKey,
				Description:    req.Description,
				Metadata:       req.Metadata,
			}
			return tx.AppendTransaction(ctx, txn)
		})

		switch {
		case err == nil:
			e.logger.Info("deposit completed",
				"reference", reference,
				"source_id", req.SourceID.String(),
				"amount", amount.StringFixed(),
			)
			e.plugins.EmitSettlementCompleted(ctx, txn)
			return txn, nil

		case errors.Is(err, errCASConflict):
			if e.casBackoff > 0 && attempt < e.casRetries {
				select {
				case <-time.After(e.casBackoff):
				case <-ctx.Done():
				}
			}
			if ctx.Err() != nil {
				return nil, e.classify(ctx.Err())
			}

		case errors.Is(err, ErrDuplicateIdemKey):
			prior, getErr := e.store.GetTransactionByIdempotencyKey(context.WithoutCancel(ctx), req.IdempotencyKey)
			if getErr != nil {
				return nil, e.classify(getErr)
			}
			return prior, nil

		default:
			classified := e.classify(err)
			e.plugins.EmitSettlementFailed(ctx, reference, classified)
			return nil, classified
		}
	}

	return nil, ErrConcurrentModification
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

// classify maps raw failures onto the engine's error taxonomy. Domain
// rejections pass through; deadline hits become ErrTimeout; everything
// else is a persistence failure and safe to retry.
func (e *Engine) classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	case IsRejected(err), IsRetryable(err):
		return err
	default:
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
}

func endpointKind(t source.Type) transaction.EndpointKind {
	switch t {
	case source.TypeCard:
		return transaction.KindCard
	case source.TypeWallet:
		return transaction.KindWallet
	default:
		return transaction.KindAccount
	}
}
