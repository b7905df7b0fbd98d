package audithook

// Action constants for audit events.
const (
	// Settlement actions
	ActionSettlementCompleted = "settlement.completed"
	ActionSettlementFailed    = "settlement.failed"

	// Obligation actions
	ActionObligationPaid       = "obligation.paid"
	ActionObligationRegistered = "obligation.registered"

	// Source actions
	ActionSourceRegistered = "source.registered"

	// Batch actions
	ActionAutopayCompleted = "autopay.completed"
)

// Resource constants for audit events.
const (
	ResourceTransaction = "transaction"
	ResourceObligation  = "obligation"
	ResourceSource      = "source"
	ResourceBatch       = "batch"
)

// Category constants for audit events.
const (
	CategorySettlement = "settlement"
	CategoryLedger     = "ledger"
	CategoryBatch      = "batch"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomePartial = "partial"
)
