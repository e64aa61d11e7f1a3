package mongo

import (
	"time"

	"github.com/satsprocure/escrow/event"
	"github.com/satsprocure/escrow/id"
	"github.com/satsprocure/escrow/invoice"
	"github.com/satsprocure/escrow/types"
)

// ==================== Invoice models ====================

// invoiceModel is the stored document. The journal lives inside the invoice
// document so a state change and its event are written by one update.
type invoiceModel struct {
	ID             int64              `bson:"_id"`
	InvoiceNumber  string             `bson:"invoice_number"`
	Supplier       string             `bson:"supplier"`
	Buyer          string             `bson:"buyer"`
	Amount         int64              `bson:"amount"`
	DueDate        *time.Time         `bson:"due_date,omitempty"`
	Notes          string             `bson:"notes,omitempty"`
	Items          []invoice.LineItem `bson:"items,omitempty"`
	AmountPaid     int64              `bson:"amount_paid"`
	AmountReleased int64              `bson:"amount_released"`
	AmountRefunded int64              `bson:"amount_refunded"`
	IsPaid         bool               `bson:"is_paid"`
	IsCancelled    bool               `bson:"is_cancelled"`
	CancelledAt    *time.Time         `bson:"cancelled_at,omitempty"`
	Version        int64              `bson:"version"`
	CreatedAt      time.Time          `bson:"created_at"`
	UpdatedAt      time.Time          `bson:"updated_at"`
	Events         []eventModel       `bson:"events"`
}

func toInvoiceModel(inv *invoice.Invoice) *invoiceModel {
	m := &invoiceModel{
		ID:             int64(inv.ID),
		InvoiceNumber:  inv.InvoiceNumber,
		Supplier:       inv.Supplier,
		Buyer:          inv.Buyer,
		Amount:         int64(inv.Amount),
		Notes:          inv.Notes,
		Items:          inv.Items,
		AmountPaid:     int64(inv.AmountPaid),
		AmountReleased: int64(inv.AmountReleased),
		AmountRefunded: int64(inv.AmountRefunded),
		IsPaid:         inv.IsPaid,
		IsCancelled:    inv.IsCancelled,
		CancelledAt:    inv.CancelledAt,
		Version:        inv.Version,
		CreatedAt:      inv.CreatedAt,
		UpdatedAt:      inv.UpdatedAt,
	}
	if !inv.DueDate.IsZero() {
		due := inv.DueDate
		m.DueDate = &due
	}
	return m
}

func fromInvoiceModel(m *invoiceModel) *invoice.Invoice {
	inv := &invoice.Invoice{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt.UTC(),
			UpdatedAt: m.UpdatedAt.UTC(),
		},
		ID:             uint64(m.ID),
		InvoiceNumber:  m.InvoiceNumber,
		Supplier:       m.Supplier,
		Buyer:          m.Buyer,
		Amount:         types.Amount(m.Amount),
		Notes:          m.Notes,
		Items:          m.Items,
		AmountPaid:     types.Amount(m.AmountPaid),
		AmountReleased: types.Amount(m.AmountReleased),
		AmountRefunded: types.Amount(m.AmountRefunded),
		IsPaid:         m.IsPaid,
		IsCancelled:    m.IsCancelled,
		Version:        m.Version,
	}
	if m.DueDate != nil {
		inv.DueDate = m.DueDate.UTC()
	}
	if m.CancelledAt != nil {
		at := m.CancelledAt.UTC()
		inv.CancelledAt = &at
	}
	return inv
}

// ==================== Event models ====================

type eventModel struct {
	ID             string    `bson:"id"`
	Type           string    `bson:"type"`
	Principal      string    `bson:"principal"`
	Amount         int64     `bson:"amount"`
	AmountPaid     int64     `bson:"amount_paid"`
	AmountReleased int64     `bson:"amount_released"`
	AmountRefunded int64     `bson:"amount_refunded"`
	OccurredAt     time.Time `bson:"occurred_at"`
}

func toEventModel(ev *event.Event) eventModel {
	return eventModel{
		ID:             ev.ID.String(),
		Type:           string(ev.Type),
		Principal:      ev.Principal,
		Amount:         int64(ev.Amount),
		AmountPaid:     int64(ev.AmountPaid),
		AmountReleased: int64(ev.AmountReleased),
		AmountRefunded: int64(ev.AmountRefunded),
		OccurredAt:     ev.OccurredAt,
	}
}

func fromEventModel(m *eventModel, invoiceID uint64, number string) (*event.Event, error) {
	evID, err := id.ParseEventID(m.ID)
	if err != nil {
		return nil, err
	}
	return &event.Event{
		ID:             evID,
		Type:           event.Type(m.Type),
		InvoiceID:      invoiceID,
		InvoiceNumber:  number,
		Principal:      m.Principal,
		Amount:         types.Amount(m.Amount),
		AmountPaid:     types.Amount(m.AmountPaid),
		AmountReleased: types.Amount(m.AmountReleased),
		AmountRefunded: types.Amount(m.AmountRefunded),
		OccurredAt:     m.OccurredAt.UTC(),
	}, nil
}
