// Package audithook bridges settlement lifecycle events to an audit trail
// backend.
//
// It defines a local Recorder interface so the package does not depend on
// any particular audit system. Callers inject a RecorderFunc adapter that
// bridges to their backend at wiring time.
package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/settle/obligation"
	"github.com/xraph/settle/plugin"
	"github.com/xraph/settle/source"
	"github.com/xraph/settle/transaction"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin                 = (*Extension)(nil)
	_ plugin.OnSettlementCompleted  = (*Extension)(nil)
	_ plugin.OnSettlementFailed     = (*Extension)(nil)
	_ plugin.OnObligationPaid       = (*Extension)(nil)
	_ plugin.OnSourceRegistered     = (*Extension)(nil)
	_ plugin.OnObligationRegistered = (*Extension)(nil)
	_ plugin.OnAutopayCompleted     = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a local representation of an audit event.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges settlement lifecycle events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Settlement hooks
// ──────────────────────────────────────────────────

// OnSettlementCompleted implements plugin.OnSettlementCompleted.
func (e *Extension) OnSettlementCompleted(ctx context.Context, txn interface{}) error {
	var resourceID, reference, amount string
	if t, ok := txn.(*transaction.Transaction); ok {
		resourceID = t.ID.String()
		reference = t.Reference
		amount = t.Amount.StringFixed()
	}

	return e.record(ctx, ActionSettlementCompleted, SeverityInfo, OutcomeSuccess,
		ResourceTransaction, resourceID, CategorySettlement, nil,
		"reference", reference,
		"amount", amount,
	)
}

// OnSettlementFailed implements plugin.OnSettlementFailed.
func (e *Extension) OnSettlementFailed(ctx context.Context, reference string, cause error) error {
	return e.record(ctx, ActionSettlementFailed, SeverityWarning, OutcomeFailure,
		ResourceTransaction, "", CategorySettlement, cause,
		"reference", reference,
	)
}

// OnObligationPaid implements plugin.OnObligationPaid.
func (e *Extension) OnObligationPaid(ctx context.Context, obl interface{}) error {
	var resourceID string
	if o, ok := obl.(*obligation.Obligation); ok {
		resourceID = o.ID.String()
	}

	return e.record(ctx, ActionObligationPaid, SeverityInfo, OutcomeSuccess,
		ResourceObligation, resourceID, CategoryLedger, nil,
		"event", "obligation_paid",
	)
}

// OnSourceRegistered implements plugin.OnSourceRegistered.
func (e *Extension) OnSourceRegistered(ctx context.Context, src interface{}) error {
	var resourceID string
	if s, ok := src.(*source.PaymentSource); ok {
		resourceID = s.ID.String()
	}

	return e.record(ctx, ActionSourceRegistered, SeverityInfo, OutcomeSuccess,
		ResourceSource, resourceID, CategoryLedger, nil,
		"event", "source_registered",
	)
}

// OnObligationRegistered implements plugin.OnObligationRegistered.
func (e *Extension) OnObligationRegistered(ctx context.Context, obl interface{}) error {
	var resourceID string
	if o, ok := obl.(*obligation.Obligation); ok {
		resourceID = o.ID.String()
	}

	return e.record(ctx, ActionObligationRegistered, SeverityInfo, OutcomeSuccess,
		ResourceObligation, resourceID, CategoryLedger, nil,
		"event", "obligation_registered",
	)
}

// ──────────────────────────────────────────────────
// Batch hooks
// ──────────────────────────────────────────────────

// OnAutopayCompleted implements plugin.OnAutopayCompleted.
func (e *Extension) OnAutopayCompleted(ctx context.Context, result interface{}, elapsed time.Duration) error {
	outcome := OutcomeSuccess
	metadata := []any{"elapsed_ms", elapsed.Milliseconds()}

	// Matches settle.BatchResult without importing the root package.
	if r, ok := result.(interface{ Counts() (int, int) }); ok {
		processed, failed := r.Counts()
		if failed > 0 {
			outcome = OutcomePartial
		}
		metadata = append(metadata, "processed", processed, "failed", failed)
	}

	return e.record(ctx, ActionAutopayCompleted, SeverityInfo, outcome,
		ResourceBatch, "", CategoryBatch, nil,
		metadata...,
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

// record builds and sends an audit event if the action is enabled.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	cause error,
	kv ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	event := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Outcome:    outcome,
		Severity:   severity,
	}
	if cause != nil {
		event.Reason = cause.Error()
	}

	if len(kv) > 0 {
		event.Metadata = make(map[string]any, len(kv)/2)
		for i := 0; i+1 < len(kv); i += 2 {
			key, ok := kv[i].(string)
			if !ok {
				key = fmt.Sprintf("%v", kv[i])
			}
			event.Metadata[key] = kv[i+1]
		}
	}

	if err := e.recorder.Record(ctx, event); err != nil {
		// Audit failures never fail the settlement pipeline.
		e.logger.Warn("audit record failed",
			"action", action,
			"error", err,
		)
	}
	return nil
}
