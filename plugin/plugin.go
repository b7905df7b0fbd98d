// Package plugin provides an extensible plugin system for Settle.
// Plugins can hook into settlement lifecycle events to extend functionality.
package plugin

import (
	"context"
	"time"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the plugin is initialized.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, engine interface{}) error
}

// OnShutdown is called when the plugin is shutting down.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Settlement hooks
// ──────────────────────────────────────────────────

// OnSettlementCompleted is called after one settlement's atomic unit commits.
type OnSettlementCompleted interface {
	Plugin
	OnSettlementCompleted(ctx context.Context, txn interface{}) error
}

// OnSettlementFailed is called when a settlement is rejected or aborted.
type OnSettlementFailed interface {
	Plugin
	OnSettlementFailed(ctx context.Context, reference string, err error) error
}

// OnObligationPaid is called when a settlement marks an obligation paid.
type OnObligationPaid interface {
	Plugin
	OnObligationPaid(ctx context.Context, obl interface{}) error
}

// OnSourceRegistered is called when a new payment source is registered.
type OnSourceRegistered interface {
	Plugin
	OnSourceRegistered(ctx context.Context, src interface{}) error
}

// OnObligationRegistered is called when a new obligation is registered.
type OnObligationRegistered interface {
	Plugin
	OnObligationRegistered(ctx context.Context, obl interface{}) error
}

// ──────────────────────────────────────────────────
// Batch hooks
// ──────────────────────────────────────────────────

// OnAutopayCompleted is called when an autopay batch run finishes.
type OnAutopayCompleted interface {
	Plugin
	OnAutopayCompleted(ctx context.Context, result interface{}, elapsed time.Duration) error
}
