// Package plugin provides an extensible plugin system for the escrow ledger.
// Plugins hook into lifecycle events and command outcomes without taking
// part in the commit itself.
package plugin

import (
	"context"

	"github.com/satsprocure/escrow/event"
	"github.com/satsprocure/escrow/invoice"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the ledger starts.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, l interface{}) error
}

// OnShutdown is called when the ledger stops.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Invoice lifecycle hooks
// ──────────────────────────────────────────────────
//
// Every hook receives the committed invoice snapshot and the journal event
// that was persisted with it. Plugins must not mutate either.

// OnInvoiceCreated is called after an invoice is registered.
type OnInvoiceCreated interface {
	Plugin
	OnInvoiceCreated(ctx context.Context, inv *invoice.Invoice, ev *event.Event) error
}

// OnPaymentReceived is called after a payment moves into escrow.
type OnPaymentReceived interface {
	Plugin
	OnPaymentReceived(ctx context.Context, inv *invoice.Invoice, ev *event.Event) error
}

// OnFundsReleased is called after escrowed funds are released to the supplier.
type OnFundsReleased interface {
	Plugin
	OnFundsReleased(ctx context.Context, inv *invoice.Invoice, ev *event.Event) error
}

// OnInvoiceCancelled is called after an invoice is cancelled and its
// unreleased escrow refunded.
type OnInvoiceCancelled interface {
	Plugin
	OnInvoiceCancelled(ctx context.Context, inv *invoice.Invoice, ev *event.Event) error
}

// ──────────────────────────────────────────────────
// Command outcome hooks
// ──────────────────────────────────────────────────

// Rejection describes a command the ledger refused.
type Rejection struct {
	Op        string
	InvoiceID uint64
	Principal string
	Err       error
}

// OnCommandRejected is called when a command fails validation or
// authorization. No state changed.
type OnCommandRejected interface {
	Plugin
	OnCommandRejected(ctx context.Context, r Rejection) error
}

// OnTransferCompensated is called after a transfer was reversed because the
// store failed to persist the command. err is the store error; compErr is
// non-nil when the reversal itself failed.
type OnTransferCompensated interface {
	Plugin
	OnTransferCompensated(ctx context.Context, op string, invoiceID uint64, err, compErr error) error
}
