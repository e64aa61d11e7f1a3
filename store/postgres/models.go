package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/satsprocure/escrow/event"
	"github.com/satsprocure/escrow/id"
	"github.com/satsprocure/escrow/invoice"
	"github.com/satsprocure/escrow/types"
)

const invoiceColumns = `id, invoice_number, supplier, buyer, amount, due_date, notes, items,
	amount_paid, amount_released, amount_refunded, is_paid, is_cancelled, cancelled_at,
	version, created_at, updated_at`

const eventColumns = `id, invoice_id, type, invoice_number, principal, amount,
	amount_paid, amount_released, amount_refunded, occurred_at`

// ==================== Invoice models ====================

type invoiceModel struct {
	ID             int64
	InvoiceNumber  string
	Supplier       string
	Buyer          string
	Amount         int64
	DueDate        *time.Time
	Notes          string
	Items          []byte
	AmountPaid     int64
	AmountReleased int64
	AmountRefunded int64
	IsPaid         bool
	IsCancelled    bool
	CancelledAt    *time.Time
	Version        int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func scanInvoice(row pgx.Row) (*invoice.Invoice, error) {
	var m invoiceModel
	if err := row.Scan(
		&m.ID, &m.InvoiceNumber, &m.Supplier, &m.Buyer, &m.Amount, &m.DueDate, &m.Notes, &m.Items,
		&m.AmountPaid, &m.AmountReleased, &m.AmountRefunded, &m.IsPaid, &m.IsCancelled, &m.CancelledAt,
		&m.Version, &m.CreatedAt, &m.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return fromInvoiceModel(&m)
}

func toInvoiceModel(inv *invoice.Invoice) (*invoiceModel, error) {
	items := []byte("[]")
	if len(inv.Items) > 0 {
		var err error
		if items, err = json.Marshal(inv.Items); err != nil {
			return nil, fmt.Errorf("escrow/postgres: encode items: %w", err)
		}
	}

	m := &invoiceModel{
		ID:             int64(inv.ID),
		InvoiceNumber:  inv.InvoiceNumber,
		Supplier:       inv.Supplier,
		Buyer:          inv.Buyer,
		Amount:         int64(inv.Amount),
		Notes:          inv.Notes,
		Items:          items,
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
	return m, nil
}

func fromInvoiceModel(m *invoiceModel) (*invoice.Invoice, error) {
	var items []invoice.LineItem
	if len(m.Items) > 0 && string(m.Items) != "[]" {
		if err := json.Unmarshal(m.Items, &items); err != nil {
			return nil, fmt.Errorf("escrow/postgres: decode items of invoice %d: %w", m.ID, err)
		}
	}

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
		Items:          items,
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
	return inv, nil
}

// ==================== Event models ====================

func scanEvent(row pgx.Row) (*event.Event, error) {
	var (
		ev        event.Event
		rawID     string
		invoiceID int64
		typ       string
		amounts   [4]int64
	)
	if err := row.Scan(
		&rawID, &invoiceID, &typ, &ev.InvoiceNumber, &ev.Principal,
		&amounts[0], &amounts[1], &amounts[2], &amounts[3], &ev.OccurredAt,
	); err != nil {
		return nil, err
	}

	evID, err := id.ParseEventID(rawID)
	if err != nil {
		return nil, err
	}

	ev.ID = evID
	ev.InvoiceID = uint64(invoiceID)
	ev.Type = event.Type(typ)
	ev.Amount = types.Amount(amounts[0])
	ev.AmountPaid = types.Amount(amounts[1])
	ev.AmountReleased = types.Amount(amounts[2])
	ev.AmountRefunded = types.Amount(amounts[3])
	ev.OccurredAt = ev.OccurredAt.UTC()
	return &ev, nil
}

func eventArgs(ev *event.Event) []any {
	return []any{
		ev.ID.String(), int64(ev.InvoiceID), string(ev.Type), ev.InvoiceNumber, ev.Principal,
		int64(ev.Amount), int64(ev.AmountPaid), int64(ev.AmountReleased), int64(ev.AmountRefunded),
		ev.OccurredAt,
	}
}
