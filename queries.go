package escrow

import (
	"context"

	"github.com/satsprocure/escrow/event"
	"github.com/satsprocure/escrow/invoice"
	"github.com/satsprocure/escrow/types"
)

// ──────────────────────────────────────────────────
// Queries
// ──────────────────────────────────────────────────

// GetInvoice retrieves an invoice by id.
func (l *Ledger) GetInvoice(ctx context.Context, invoiceID uint64) (*invoice.Invoice, error) {
	return l.store.GetInvoice(ctx, invoiceID)
}

// GetInvoiceByNumber retrieves an invoice by its invoice number.
func (l *Ledger) GetInvoiceByNumber(ctx context.Context, number string) (*invoice.Invoice, error) {
	return l.store.GetInvoiceByNumber(ctx, number)
}

// ListSupplierInvoices lists invoices issued by principal, ordered by id.
func (l *Ledger) ListSupplierInvoices(ctx context.Context, principal string, opts invoice.ListOpts) ([]*invoice.Invoice, error) {
	return l.store.ListBySupplier(ctx, principal, opts)
}

// ListBuyerInvoices lists invoices addressed to principal, ordered by id.
func (l *Ledger) ListBuyerInvoices(ctx context.Context, principal string, opts invoice.ListOpts) ([]*invoice.Invoice, error) {
	return l.store.ListByBuyer(ctx, principal, opts)
}

// InvoiceCount returns the number of invoices ever created.
func (l *Ledger) InvoiceCount(ctx context.Context) (uint64, error) {
	return l.store.CountInvoices(ctx)
}

// Events returns the event journal of an invoice in commit order.
func (l *Ledger) Events(ctx context.Context, invoiceID uint64) ([]*event.Event, error) {
	if _, err := l.store.GetInvoice(ctx, invoiceID); err != nil {
		return nil, err
	}
	return l.store.ListEvents(ctx, invoiceID)
}

// Stats summarizes the invoices a principal takes part in, as supplier or
// buyer. A self-issued invoice counts once.
type Stats struct {
	Principal  string                 `json:"principal"`
	Total      int                    `json:"total"`
	AsSupplier int                    `json:"as_supplier"`
	AsBuyer    int                    `json:"as_buyer"`
	ByStatus   map[invoice.Status]int `json:"by_status"`
	// Volume is the face value of fully paid and released invoices.
	Volume types.Amount `json:"volume"`
	// Outstanding is deposited value still held in escrow.
	Outstanding types.Amount `json:"outstanding"`
}

// Stats computes dashboard figures for principal.
func (l *Ledger) Stats(ctx context.Context, principal string) (*Stats, error) {
	supplied, err := l.store.ListBySupplier(ctx, principal, invoice.ListOpts{})
	if err != nil {
		return nil, err
	}
	bought, err := l.store.ListByBuyer(ctx, principal, invoice.ListOpts{})
	if err != nil {
		return nil, err
	}

	st := &Stats{
		Principal:  principal,
		AsSupplier: len(supplied),
		AsBuyer:    len(bought),
		ByStatus:   make(map[invoice.Status]int, len(invoice.Statuses)),
	}
	for _, s := range invoice.Statuses {
		st.ByStatus[s] = 0
	}

	seen := make(map[uint64]struct{}, len(supplied)+len(bought))
	for _, list := range [][]*invoice.Invoice{supplied, bought} {
		for _, inv := range list {
			if _, dup := seen[inv.ID]; dup {
				continue
			}
			seen[inv.ID] = struct{}{}

			status := inv.Status()
			st.Total++
			st.ByStatus[status]++
			if status == invoice.StatusPaid {
				if st.Volume, err = st.Volume.CheckedAdd(inv.Amount); err != nil {
					return nil, err
				}
			}
			if !inv.IsCancelled {
				if st.Outstanding, err = st.Outstanding.CheckedAdd(inv.Unreleased()); err != nil {
					return nil, err
				}
			}
		}
	}

	return st, nil
}
