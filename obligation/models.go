// Package obligation defines bill-like entities with a payment status
// lifecycle and an append-only payment history.
package obligation

import (
	"time"

	"github.com/xraph/settle/id"
	"github.com/xraph/settle/source"
	"github.com/xraph/settle/types"
)

// Status is the payment lifecycle state of an obligation.
//
// Legal transitions: pending→scheduled, pending→paid, scheduled→paid.
// Paid is terminal for a due cycle; a recurring obligation re-enters
// pending with its due date advanced by one frequency period.
type Status string

const (
	StatusPending   Status = "pending"
	StatusScheduled Status = "scheduled"
	StatusPaid      Status = "paid"
)

// Frequency is the recurrence interval of a recurring obligation.
type Frequency string

const (
	FrequencyWeekly    Frequency = "weekly"
	FrequencyBiweekly  Frequency = "biweekly"
	FrequencyMonthly   Frequency = "monthly"
	FrequencyQuarterly Frequency = "quarterly"
	FrequencyYearly    Frequency = "yearly"
)

// Valid reports whether f is a known frequency.
func (f Frequency) Valid() bool {
	switch f {
	case FrequencyWeekly, FrequencyBiweekly, FrequencyMonthly, FrequencyQuarterly, FrequencyYearly:
		return true
	default:
		return false
	}
}

// Advance returns the due date one frequency period after t.
func (f Frequency) Advance(t time.Time) time.Time {
	switch f {
	case FrequencyWeekly:
		return t.AddDate(0, 0, 7)
	case FrequencyBiweekly:
		return t.AddDate(0, 0, 14)
	case FrequencyQuarterly:
		return t.AddDate(0, 3, 0)
	case FrequencyYearly:
		return t.AddDate(1, 0, 0)
	default:
		return t.AddDate(0, 1, 0)
	}
}

// Recurring holds the recurrence schedule of an obligation.
type Recurring struct {
	Frequency   Frequency `json:"frequency"`
	NextDueDate time.Time `json:"next_due_date"`
	Autopay     bool      `json:"autopay"`
}

// Payment is one entry of an obligation's append-only payment history.
type Payment struct {
	Amount    types.Amount `json:"amount"`
	Reference string       `json:"reference"`
	PaidAt    time.Time    `json:"paid_at"`
	Note      string       `json:"note,omitempty"`
}

// Obligation is an amount owed by a single user, payable from a designated
// payment source. Status and payment history are mutated only by the
// settlement coordinator; recurrence configuration is mutated by config
// calls that never touch balances.
type Obligation struct {
	types.Entity
	ID         id.ObligationID   `json:"id"`
	OwnerID    id.UserID         `json:"owner_id"`
	Name       string            `json:"name"`
	AmountDue  types.Amount      `json:"amount_due"`
	Currency   string            `json:"currency"`
	DueDate    time.Time         `json:"due_date"`
	SourceID   id.SourceID       `json:"source_id"`
	SourceType source.Type       `json:"source_type"`
	Status     Status            `json:"status"`
	Recurring  *Recurring        `json:"recurring,omitempty"`
	Payments   []Payment         `json:"payments,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Payable reports whether the obligation can accept a payment in its
// current due cycle.
func (o *Obligation) Payable() bool {
	return o.Status == StatusPending || o.Status == StatusScheduled
}

// AutopayEligible reports whether the obligation qualifies for an autopay
// run: pending, recurring, and flagged for automatic payment.
func (o *Obligation) AutopayEligible() bool {
	return o.Status == StatusPending && o.Recurring != nil && o.Recurring.Autopay
}

// MarkPaid appends a history entry and either terminates the obligation
// (non-recurring) or reopens it for the next cycle with the due date
// advanced by one frequency period.
func (o *Obligation) MarkPaid(p Payment) {
	o.Payments = append(o.Payments, p)

	if o.Recurring == nil {
		o.Status = StatusPaid
		return
	}

	next := o.Recurring.Frequency.Advance(o.DueDate)
	o.Recurring.NextDueDate = next
	o.DueDate = next
	o.Status = StatusPending
}

// Clone returns a deep copy of the obligation.
func (o *Obligation) Clone() *Obligation {
	cp := *o
	if o.Recurring != nil {
		rec := *o.Recurring
		cp.Recurring = &rec
	}
	if o.Payments != nil {
		cp.Payments = make([]Payment, len(o.Payments))
		copy(cp.Payments, o.Payments)
	}
	if o.Metadata != nil {
		cp.Metadata = make(map[string]string, len(o.Metadata))
		for k, v := range o.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}
