package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/satsprocure/escrow/event"
	"github.com/satsprocure/escrow/id"
	"github.com/satsprocure/escrow/invoice"
	"github.com/satsprocure/escrow/types"
)

// Timestamps are stored as RFC 3339 text in UTC.
const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

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
	DueDate        sql.NullString
	Notes          string
	Items          string
	AmountPaid     int64
	AmountReleased int64
	AmountRefunded int64
	IsPaid         bool
	IsCancelled    bool
	CancelledAt    sql.NullString
	Version        int64
	CreatedAt      string
	UpdatedAt      string
}

type scanner interface {
	Scan(dest ...any) error
}

func scanInvoice(row scanner) (*invoice.Invoice, error) {
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
	items, err := json.Marshal(inv.Items)
	if err != nil {
		return nil, fmt.Errorf("escrow/sqlite: encode items: %w", err)
	}
	if inv.Items == nil {
		items = []byte("[]")
	}

	return &invoiceModel{
		ID:             int64(inv.ID),
		InvoiceNumber:  inv.InvoiceNumber,
		Supplier:       inv.Supplier,
		Buyer:          inv.Buyer,
		Amount:         int64(inv.Amount),
		DueDate:        formatNullTime(&inv.DueDate),
		Notes:          inv.Notes,
		Items:          string(items),
		AmountPaid:     int64(inv.AmountPaid),
		AmountReleased: int64(inv.AmountReleased),
		AmountRefunded: int64(inv.AmountRefunded),
		IsPaid:         inv.IsPaid,
		IsCancelled:    inv.IsCancelled,
		CancelledAt:    formatNullTime(inv.CancelledAt),
		Version:        inv.Version,
		CreatedAt:      formatTime(inv.CreatedAt),
		UpdatedAt:      formatTime(inv.UpdatedAt),
	}, nil
}

func fromInvoiceModel(m *invoiceModel) (*invoice.Invoice, error) {
	var items []invoice.LineItem
	if m.Items != "" && m.Items != "[]" {
		if err := json.Unmarshal([]byte(m.Items), &items); err != nil {
			return nil, fmt.Errorf("escrow/sqlite: decode items of invoice %d: %w", m.ID, err)
		}
	}

	createdAt, err := parseTime(m.CreatedAt)
	if err != nil {
		return nil, err
	}
	updatedAt, err := parseTime(m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	dueDate, err := parseNullTime(m.DueDate)
	if err != nil {
		return nil, err
	}
	cancelledAt, err := parseNullTime(m.CancelledAt)
	if err != nil {
		return nil, err
	}

	inv := &invoice.Invoice{
		Entity: types.Entity{
			CreatedAt: createdAt,
			UpdatedAt: updatedAt,
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
		CancelledAt:    cancelledAt,
		Version:        m.Version,
	}
	if dueDate != nil {
		inv.DueDate = *dueDate
	}
	return inv, nil
}

// ==================== Event models ====================

func scanEvent(row scanner) (*event.Event, error) {
	var (
		ev         event.Event
		rawID      string
		invoiceID  int64
		typ        string
		amounts    [4]int64
		occurredAt string
	)
	if err := row.Scan(
		&rawID, &invoiceID, &typ, &ev.InvoiceNumber, &ev.Principal,
		&amounts[0], &amounts[1], &amounts[2], &amounts[3], &occurredAt,
	); err != nil {
		return nil, err
	}

	evID, err := id.ParseEventID(rawID)
	if err != nil {
		return nil, err
	}
	at, err := parseTime(occurredAt)
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
	ev.OccurredAt = at
	return &ev, nil
}

func eventArgs(ev *event.Event) []any {
	return []any{
		ev.ID.String(), int64(ev.InvoiceID), string(ev.Type), ev.InvoiceNumber, ev.Principal,
		int64(ev.Amount), int64(ev.AmountPaid), int64(ev.AmountReleased), int64(ev.AmountRefunded),
		formatTime(ev.OccurredAt),
	}
}

// ==================== Time helpers ====================

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatNullTime(t *time.Time) sql.NullString {
	if t == nil || t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("escrow/sqlite: parse time %q: %w", s, err)
	}
	return t.UTC(), nil
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
