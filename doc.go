// Package settle provides an embeddable ledger settlement engine for Go
// applications.
//
// Settle is designed as a library, not a service. Import it directly into
// your application and drive it from your own transport and scheduler. It
// provides:
//
//   - Atomic settlement: debit, transaction log append and obligation
//     update commit as one all-or-nothing unit
//   - Exact fixed-point decimal arithmetic for every monetary amount
//   - Idempotent retries via caller-supplied idempotency keys
//   - Lost-update-safe balance mutation via compare-and-swap with
//     bounded retry
//   - Autopay batch runs with per-item isolation
//   - An append-only transaction log that every balance replays from
//
// # Quick Start
//
// Create an engine with your preferred store:
//
//	import (
//	    "github.com/xraph/settle"
//	    "github.com/xraph/settle/store/memory"
//	)
//
//	eng := settle.New(memory.New())
//	if err := eng.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer eng.Stop()
//
// Register a source and an obligation, fund the source, then settle:
//
//	result, err := eng.Settle(ctx, settle.SettleRequest{
//	    OwnerID:      ownerID,
//	    SourceID:     accountID,
//	    ObligationID: billID,
//	    Amount:       "40.00",
//	})
//
// # Consistency Model
//
// The transaction log is the durable source of truth for what happened;
// payment source balances are a derived projection. Replaying a source's
// completed transactions from zero always reproduces its stored balance,
// and ReplayBalance exposes that check as an audit operation.
//
// Balances only ever change through the store's compare-and-swap
// contract inside one settlement's atomic unit. Two concurrent
// settlements against the same source can never both apply a write based
// on the same stale read: the loser's unit aborts, re-reads,
// re-validates sufficiency and retries a bounded number of times before
// surfacing ErrConcurrentModification.
//
// Within a unit the debit commits before the transaction record, which
// commits before the obligation or destination update, so a crash can
// never leave an obligation marked paid without a matching completed
// transaction.
//
// # Amounts
//
// All monetary values are fixed-point decimals with eight fractional
// digits, rounded half away from zero. Amounts enter the engine as
// decimal strings; binary floating point is never used.
//
// # TypeID
//
// All entities use TypeID for globally unique, type-safe identifiers:
//
//	acct_01h2xcejqtf2nbrexx3vqjhp41  // Account source ID
//	obl_01h2xcejqtf2nbrexx3vqjhp41   // Obligation ID
//	txn_01h455vb4pex5vsknk084sn02q   // Transaction ID
//
// TypeIDs are K-sortable, making them ideal for database indexes and
// providing natural time-ordering of entities.
package settle
