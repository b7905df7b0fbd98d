package audithook

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/settle/id"
	"github.com/xraph/settle/transaction"
	"github.com/xraph/settle/types"
)

func TestSettlementCompletedEvent(t *testing.T) {
	var got *AuditEvent
	ext := New(RecorderFunc(func(_ context.Context, event *AuditEvent) error {
		got = event
		return nil
	}))

	txn := &transaction.Transaction{
		ID:        id.NewTransactionID(),
		Amount:    types.MustParseAmount("40"),
		Reference: "TXN-20260601-000001",
	}
	if err := ext.OnSettlementCompleted(context.Background(), txn); err != nil {
		t.Fatal(err)
	}

	if got == nil {
		t.Fatal("no event recorded")
	}
	if got.Action != ActionSettlementCompleted {
		t.Errorf("action: got %s", got.Action)
	}
	if got.Outcome != OutcomeSuccess || got.Severity != SeverityInfo {
		t.Errorf("outcome/severity: got %s/%s", got.Outcome, got.Severity)
	}
	if got.ResourceID != txn.ID.String() {
		t.Errorf("resource id: got %s", got.ResourceID)
	}
	if got.Metadata["reference"] != "TXN-20260601-000001" {
		t.Errorf("metadata reference: got %v", got.Metadata["reference"])
	}
	if got.Metadata["amount"] != "40.00000000" {
		t.Errorf("metadata amount: got %v", got.Metadata["amount"])
	}
}

func TestSettlementFailedCarriesReason(t *testing.T) {
	var got *AuditEvent
	ext := New(RecorderFunc(func(_ context.Context, event *AuditEvent) error {
		got = event
		return nil
	}))

	cause := errors.New("settle: insufficient funds")
	if err := ext.OnSettlementFailed(context.Background(), "TXN-20260601-000002", cause); err != nil {
		t.Fatal(err)
	}

	if got.Outcome != OutcomeFailure || got.Severity != SeverityWarning {
		t.Errorf("outcome/severity: got %s/%s", got.Outcome, got.Severity)
	}
	if got.Reason != cause.Error() {
		t.Errorf("reason: got %q", got.Reason)
	}
}

func TestEnabledActionsFilter(t *testing.T) {
	var count int
	rec := RecorderFunc(func(_ context.Context, _ *AuditEvent) error {
		count++
		return nil
	})

	ext := New(rec, WithEnabledActions(ActionSettlementFailed))

	_ = ext.OnSettlementCompleted(context.Background(), nil)
	_ = ext.OnSettlementFailed(context.Background(), "ref", errors.New("boom"))
	if count != 1 {
		t.Errorf("recorded %d events, want 1", count)
	}

	count = 0
	ext = New(rec, WithDisabledActions(ActionSettlementCompleted))
	_ = ext.OnSettlementCompleted(context.Background(), nil)
	_ = ext.OnSettlementFailed(context.Background(), "ref", errors.New("boom"))
	_ = ext.OnAutopayCompleted(context.Background(), nil, time.Second)
	if count != 2 {
		t.Errorf("recorded %d events, want 2", count)
	}
}

func TestRecorderFailureIsSwallowed(t *testing.T) {
	ext := New(RecorderFunc(func(_ context.Context, _ *AuditEvent) error {
		return errors.New("sink unavailable")
	}))

	// Audit failures must never propagate into the settlement pipeline.
	if err := ext.OnSettlementCompleted(context.Background(), nil); err != nil {
		t.Errorf("got %v, want nil", err)
	}
}
