package settle

import (
	"context"
	"errors"
	"time"

	"github.com/xraph/settle/id"
	"github.com/xraph/settle/obligation"
)

// ItemStatus is the per-obligation outcome of an autopay run.
type ItemStatus string

const (
	ItemSuccess ItemStatus = "success"
	ItemFailed  ItemStatus = "failed"
)

// ItemResult records one obligation's outcome within a batch.
type ItemResult struct {
	ObligationID id.ObligationID `json:"obligation_id"`
	Status       ItemStatus      `json:"status"`
	Reference    string          `json:"reference,omitempty"`
	Reason       string          `json:"reason,omitempty"`
}

// BatchResult aggregates an autopay run. Processed + Failed always equals
// the number of selected obligations.
type BatchResult struct {
	Processed int          `json:"processed"`
	Failed    int          `json:"failed"`
	Details   []ItemResult `json:"details"`
}

// Counts reports the processed and failed totals. Plugins receive batch
// results as interface{} and use this to read the tallies without
// importing this package.
func (r *BatchResult) Counts() (processed, failed int) {
	return r.Processed, r.Failed
}

// RunAutopay settles every obligation that is pending, recurring, flagged
// for autopay, and due on asOf's calendar day. Each item is its own atomic
// unit with its own timeout; one item's failure never aborts or rolls back
// any other item.
//
// The run is not guarded against an overlapping run for the same day —
// callers schedule it behind a single-runner policy (a scheduler lock).
func (e *Engine) RunAutopay(ctx context.Context, asOf time.Time) (*BatchResult, error) {
	start := e.now()

	dayStart := time.Date(asOf.Year(), asOf.Month(), asOf.Day(), 0, 0, 0, 0, asOf.Location())
	dayEnd := dayStart.AddDate(0, 0, 1)

	due, err := e.store.ListAutopayDue(ctx, dayStart, dayEnd)
	if err != nil {
		return nil, e.classify(err)
	}

	result := &BatchResult{Details: make([]ItemResult, 0, len(due))}

	for _, obl := range due {
		if ctx.Err() != nil {
			return nil, e.classify(ctx.Err())
		}

		item := e.autopayOne(ctx, obl)
		if item.Status == ItemSuccess {
			result.Processed++
		} else {
			result.Failed++
		}
		result.Details = append(result.Details, item)
	}

	elapsed := time.Since(start)
	e.logger.Info("autopay run finished",
		"as_of", dayStart.Format("2006-01-02"),
		"selected", len(due),
		"processed", result.Processed,
		"failed", result.Failed,
		"elapsed_ms", elapsed.Milliseconds(),
	)
	e.plugins.EmitAutopayCompleted(ctx, result, elapsed)

	return result, nil
}

// autopayOne settles a single eligible obligation from its designated
// source. Every error is caught, classified and recorded; nothing
// propagates out of the batch.
func (e *Engine) autopayOne(ctx context.Context, obl *obligation.Obligation) ItemResult {
	itemCtx := ctx
	if e.autopayItemTimeout > 0 {
		var cancel context.CancelFunc
		itemCtx, cancel = context.WithTimeout(ctx, e.autopayItemTimeout)
		defer cancel()
	}

	if obl.SourceID.IsNil() {
		return ItemResult{
			ObligationID: obl.ID,
			Status:       ItemFailed,
			Reason:       reasonFor(ErrInvalidPaymentMethod),
		}
	}

	res, err := e.Settle(itemCtx, SettleRequest{
		OwnerID:      obl.OwnerID,
		SourceID:     obl.SourceID,
		SourceType:   obl.SourceType,
		ObligationID: obl.ID,
		Amount:       obl.AmountDue.StringFixed(),
		Description:  "autopay: " + obl.Name,
	})
	if err != nil {
		e.logger.Warn("autopay item failed",
			"obligation_id", obl.ID.String(),
			"source_id", obl.SourceID.String(),
			"reason", reasonFor(err),
		)
		return ItemResult{
			ObligationID: obl.ID,
			Status:       ItemFailed,
			Reason:       reasonFor(err),
		}
	}

	return ItemResult{
		ObligationID: obl.ID,
		Status:       ItemSuccess,
		Reference:    res.Transaction.Reference,
	}
}

// reasonFor maps an error onto a stable machine-readable reason code for
// batch details.
func reasonFor(err error) string {
	switch {
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrAlreadyPaid):
		return "already_paid"
	case errors.Is(err, ErrInvalidPaymentMethod):
		return "invalid_payment_method"
	case IsNotFound(err):
		return "not_found"
	case errors.Is(err, ErrCurrencyMismatch):
		return "currency_mismatch"
	case errors.Is(err, ErrConcurrentModification):
		return "concurrent_modification"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	default:
		return "persistence_failure"
	}
}
