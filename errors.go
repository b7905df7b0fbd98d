package settle

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure scenarios.
var (
	// General errors
	ErrNotFound     = errors.New("settle: not found")
	ErrInvalidInput = errors.New("settle: invalid input")

	// Payment source errors
	ErrSourceNotFound       = errors.New("settle: payment source not found")
	ErrInvalidPaymentMethod = errors.New("settle: invalid payment method")
	ErrInsufficientFunds    = errors.New("settle: insufficient funds")
	ErrCurrencyMismatch     = errors.New("settle: currency mismatch")

	// Obligation errors
	ErrObligationNotFound = errors.New("settle: obligation not found")
	ErrAlreadyPaid        = errors.New("settle: obligation already paid")
	ErrNotRecurring       = errors.New("settle: obligation is not recurring")

	// Transaction errors
	ErrTransactionNotFound = errors.New("settle: transaction not found")
	ErrDuplicateReference  = errors.New("settle: duplicate transaction reference")
	ErrDuplicateIdemKey    = errors.New("settle: duplicate idempotency key")

	// Concurrency and storage errors
	ErrConcurrentModification = errors.New("settle: concurrent balance modification")
	ErrPersistence            = errors.New("settle: persistence failure")
	ErrTimeout                = errors.New("settle: operation timed out")
	ErrStoreClosed            = errors.New("settle: store is closed")
)

// ValidationError represents a validation failure with details.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("settle: validation failed for %s: %s", e.Field, e.Message)
}

// Is lets callers match any ValidationError against ErrInvalidInput.
func (e ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

// IsNotFound returns true if the error reports an unknown or
// cross-owner entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrSourceNotFound) ||
		errors.Is(err, ErrObligationNotFound) ||
		errors.Is(err, ErrTransactionNotFound)
}

// IsRejected returns true if the error is an actionable rejection of the
// request itself — the 4xx-equivalent class. Retrying the same request
// without changing it will fail again.
func IsRejected(err error) bool {
	return IsNotFound(err) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrInvalidPaymentMethod) ||
		errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrCurrencyMismatch) ||
		errors.Is(err, ErrAlreadyPaid)
}

// IsRetryable returns true if the error is temporary and the operation can
// be retried — the 5xx-equivalent class. Retries are always safe when the
// request carries an idempotency key.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification) ||
		errors.Is(err, ErrPersistence) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrStoreClosed)
}
