// Package event defines the domain events emitted once per committed escrow
// command.
package event

import (
	"time"

	"github.com/satsprocure/escrow/id"
	"github.com/satsprocure/escrow/invoice"
	"github.com/satsprocure/escrow/types"
)

// Type names a domain event.
type Type string

const (
	TypeInvoiceCreated   Type = "invoice.created"
	TypePaymentReceived  Type = "payment.received"
	TypeFundsReleased    Type = "funds.released"
	TypeInvoiceCancelled Type = "invoice.cancelled"
)

// Event records one committed state transition. Principal is the caller who
// issued the command; Amount is the value that moved (the invoice total for
// creation, the deposit, the release or the refund).
type Event struct {
	ID             id.EventID   `json:"id"`
	Type           Type         `json:"type"`
	InvoiceID      uint64       `json:"invoice_id"`
	InvoiceNumber  string       `json:"invoice_number"`
	Principal      string       `json:"principal"`
	Amount         types.Amount `json:"amount"`
	AmountPaid     types.Amount `json:"amount_paid"`
	AmountReleased types.Amount `json:"amount_released"`
	AmountRefunded types.Amount `json:"amount_refunded"`
	OccurredAt     time.Time    `json:"occurred_at"`
}

// New builds an event of type t carrying the resulting totals of inv.
func New(t Type, inv *invoice.Invoice, principal string, amount types.Amount, at time.Time) *Event {
	return &Event{
		ID:             id.NewEventID(),
		Type:           t,
		InvoiceID:      inv.ID,
		InvoiceNumber:  inv.InvoiceNumber,
		Principal:      principal,
		Amount:         amount,
		AmountPaid:     inv.AmountPaid,
		AmountReleased: inv.AmountReleased,
		AmountRefunded: inv.AmountRefunded,
		OccurredAt:     at.UTC().Truncate(time.Microsecond),
	}
}
