package store

import (
	"context"

	"github.com/satsprocure/escrow/event"
	"github.com/satsprocure/escrow/invoice"
)

// Store is the unified storage interface for escrow invoices and their
// event journal. Every write persists the invoice change and its event
// atomically: either both are visible or neither is.
type Store interface {
	// CreateInvoice assigns the next sequential id (starting at 1) to inv,
	// sets ev.InvoiceID to it, and stores both. A taken invoice number fails
	// with ErrDuplicateInvoiceNumber and consumes no id.
	CreateInvoice(ctx context.Context, inv *invoice.Invoice, ev *event.Event) error
	GetInvoice(ctx context.Context, invoiceID uint64) (*invoice.Invoice, error)
	GetInvoiceByNumber(ctx context.Context, number string) (*invoice.Invoice, error)

	// UpdateInvoice replaces the stored invoice when its version still equals
	// expectedVersion, and appends ev. The store sets inv.Version to
	// expectedVersion+1 whatever the caller passed, so two writes against
	// the same version never both succeed. A stale version fails with
	// ErrConcurrentUpdate.
	UpdateInvoice(ctx context.Context, inv *invoice.Invoice, expectedVersion int64, ev *event.Event) error

	ListBySupplier(ctx context.Context, principal string, opts invoice.ListOpts) ([]*invoice.Invoice, error)
	ListByBuyer(ctx context.Context, principal string, opts invoice.ListOpts) ([]*invoice.Invoice, error)
	CountInvoices(ctx context.Context) (uint64, error)

	// ListEvents returns the journal of one invoice in commit order.
	ListEvents(ctx context.Context, invoiceID uint64) ([]*event.Event, error)

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
