// Package invoice defines the escrow invoice record and its derived status.
package invoice

import (
	"time"

	"github.com/satsprocure/escrow/types"
)

// Status is the externally reported state of an invoice. It is never stored;
// StatusOf derives it from the persisted fields.
type Status string

const (
	StatusPending   Status = "pending"
	StatusPartial   Status = "partial"
	StatusEscrowed  Status = "escrowed"
	StatusPaid      Status = "paid"
	StatusCancelled Status = "cancelled"
)

// Statuses lists every status in precedence order.
var Statuses = []Status{StatusCancelled, StatusPaid, StatusEscrowed, StatusPartial, StatusPending}

// Invoice is a supplier's claim against a buyer, settled through escrow.
type Invoice struct {
	types.Entity
	ID             uint64       `json:"id"`
	InvoiceNumber  string       `json:"invoice_number"`
	Supplier       string       `json:"supplier"`
	Buyer          string       `json:"buyer"`
	Amount         types.Amount `json:"amount"`
	DueDate        time.Time    `json:"due_date"`
	Notes          string       `json:"notes,omitempty"`
	Items          []LineItem   `json:"items,omitempty"`
	AmountPaid     types.Amount `json:"amount_paid"`
	AmountReleased types.Amount `json:"amount_released"`
	AmountRefunded types.Amount `json:"amount_refunded"`
	IsPaid         bool         `json:"is_paid"`
	IsCancelled    bool         `json:"is_cancelled"`
	CancelledAt    *time.Time   `json:"cancelled_at,omitempty"`
	Version        int64        `json:"version"`
}

// LineItem is one priced position on an invoice.
type LineItem struct {
	Name      string       `json:"name" bson:"name" validate:"required"`
	Quantity  int64        `json:"quantity" bson:"quantity" validate:"gt=0"`
	UnitPrice types.Amount `json:"unit_price" bson:"unit_price" validate:"gte=0"`
}

// Total returns Quantity × UnitPrice, failing on overflow.
func (li LineItem) Total() (types.Amount, error) {
	if li.Quantity != 0 && li.UnitPrice != 0 {
		if li.UnitPrice > types.MaxAmount/types.Amount(li.Quantity) {
			return 0, types.ErrAmountOverflow
		}
	}
	return types.Amount(li.Quantity) * li.UnitPrice, nil
}

// ItemsTotal sums the totals of all line items.
func ItemsTotal(items []LineItem) (types.Amount, error) {
	totals := make([]types.Amount, 0, len(items))
	for _, li := range items {
		t, err := li.Total()
		if err != nil {
			return 0, err
		}
		totals = append(totals, t)
	}
	return types.Sum(totals...)
}

// StatusOf derives the reported status from the stored fields.
// Precedence: cancelled > paid > escrowed > partial > pending.
func StatusOf(inv *Invoice) Status {
	switch {
	case inv.IsCancelled:
		return StatusCancelled
	case inv.IsPaid && inv.AmountReleased >= inv.Amount:
		return StatusPaid
	case inv.IsPaid:
		return StatusEscrowed
	case inv.AmountPaid > 0:
		return StatusPartial
	default:
		return StatusPending
	}
}

// Status is shorthand for StatusOf(inv).
func (inv *Invoice) Status() Status { return StatusOf(inv) }

// Remaining is the value still payable before the invoice is fully paid.
func (inv *Invoice) Remaining() types.Amount { return inv.Amount - inv.AmountPaid }

// Unreleased is the value held in escrow: deposited, neither released nor refunded.
func (inv *Invoice) Unreleased() types.Amount {
	return inv.AmountPaid - inv.AmountReleased - inv.AmountRefunded
}

// IsTerminal reports whether no further command can succeed.
func (inv *Invoice) IsTerminal() bool {
	s := inv.Status()
	return s == StatusCancelled || s == StatusPaid
}

// Clone returns a deep copy so callers never alias stored state.
func (inv *Invoice) Clone() *Invoice {
	if inv == nil {
		return nil
	}
	c := *inv
	if inv.Items != nil {
		c.Items = append([]LineItem(nil), inv.Items...)
	}
	if inv.CancelledAt != nil {
		t := *inv.CancelledAt
		c.CancelledAt = &t
	}
	return &c
}
