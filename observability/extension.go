// Package observability provides a metrics extension for the escrow ledger
// that records lifecycle event counts and amounts through a MetricFactory.
package observability

import (
	"context"
	"errors"

	"github.com/satsprocure/escrow"
	"github.com/satsprocure/escrow/event"
	"github.com/satsprocure/escrow/invoice"
	"github.com/satsprocure/escrow/plugin"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin                = (*MetricsExtension)(nil)
	_ plugin.OnInit                = (*MetricsExtension)(nil)
	_ plugin.OnInvoiceCreated      = (*MetricsExtension)(nil)
	_ plugin.OnPaymentReceived     = (*MetricsExtension)(nil)
	_ plugin.OnFundsReleased       = (*MetricsExtension)(nil)
	_ plugin.OnInvoiceCancelled    = (*MetricsExtension)(nil)
	_ plugin.OnCommandRejected     = (*MetricsExtension)(nil)
	_ plugin.OnTransferCompensated = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records system-wide escrow metrics.
// Register it as a ledger plugin to track invoice and escrow flow.
type MetricsExtension struct {
	factory MetricFactory

	// Invoice metrics
	InvoiceCreated   Counter
	InvoiceAmount    Histogram
	InvoiceFullyPaid Counter
	InvoiceSettled   Counter
	InvoiceCancelled Counter

	// Escrow flow, in smallest units
	PaymentsReceived Counter
	AmountDeposited  Counter
	AmountReleased   Counter
	AmountRefunded   Counter
	PaymentAmount    Histogram

	// Rejections
	CommandsRejected     Counter
	UnauthorizedAttempts Counter
	TransferFailures     Counter

	// Error metrics
	Compensations       Counter
	CompensationFailure Counter
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		factory: factory,

		InvoiceCreated:   factory.Counter("escrow.invoice.created"),
		InvoiceAmount:    factory.Histogram("escrow.invoice.amount"),
		InvoiceFullyPaid: factory.Counter("escrow.invoice.fully_paid"),
		InvoiceSettled:   factory.Counter("escrow.invoice.settled"),
		InvoiceCancelled: factory.Counter("escrow.invoice.cancelled"),

		PaymentsReceived: factory.Counter("escrow.payment.received"),
		AmountDeposited:  factory.Counter("escrow.amount.deposited"),
		AmountReleased:   factory.Counter("escrow.amount.released"),
		AmountRefunded:   factory.Counter("escrow.amount.refunded"),
		PaymentAmount:    factory.Histogram("escrow.payment.amount"),

		CommandsRejected:     factory.Counter("escrow.command.rejected"),
		UnauthorizedAttempts: factory.Counter("escrow.command.unauthorized"),
		TransferFailures:     factory.Counter("escrow.transfer.failed"),

		Compensations:       factory.Counter("escrow.transfer.compensated"),
		CompensationFailure: factory.Counter("escrow.transfer.compensation_failed"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnInit implements plugin.OnInit.
func (m *MetricsExtension) OnInit(_ context.Context, _ interface{}) error {
	return nil
}

// ──────────────────────────────────────────────────
// Invoice lifecycle hooks
// ──────────────────────────────────────────────────

// OnInvoiceCreated implements plugin.OnInvoiceCreated.
func (m *MetricsExtension) OnInvoiceCreated(_ context.Context, inv *invoice.Invoice, _ *event.Event) error {
	m.InvoiceCreated.Inc()
	m.InvoiceAmount.Observe(float64(inv.Amount))
	return nil
}

// OnPaymentReceived implements plugin.OnPaymentReceived.
func (m *MetricsExtension) OnPaymentReceived(_ context.Context, inv *invoice.Invoice, ev *event.Event) error {
	m.PaymentsReceived.Inc()
	m.AmountDeposited.Add(float64(ev.Amount))
	m.PaymentAmount.Observe(float64(ev.Amount))
	if inv.IsPaid {
		m.InvoiceFullyPaid.Inc()
	}
	return nil
}

// OnFundsReleased implements plugin.OnFundsReleased.
func (m *MetricsExtension) OnFundsReleased(_ context.Context, inv *invoice.Invoice, ev *event.Event) error {
	m.AmountReleased.Add(float64(ev.Amount))
	if inv.Status() == invoice.StatusPaid {
		m.InvoiceSettled.Inc()
	}
	return nil
}

// OnInvoiceCancelled implements plugin.OnInvoiceCancelled.
func (m *MetricsExtension) OnInvoiceCancelled(_ context.Context, _ *invoice.Invoice, ev *event.Event) error {
	m.InvoiceCancelled.Inc()
	m.AmountRefunded.Add(float64(ev.Amount))
	return nil
}

// ──────────────────────────────────────────────────
// Command outcome hooks
// ──────────────────────────────────────────────────

// OnCommandRejected implements plugin.OnCommandRejected.
func (m *MetricsExtension) OnCommandRejected(_ context.Context, r plugin.Rejection) error {
	m.CommandsRejected.Inc()
	switch {
	case errors.Is(r.Err, escrow.ErrUnauthorized):
		m.UnauthorizedAttempts.Inc()
	case errors.Is(r.Err, escrow.ErrTransferFailed):
		m.TransferFailures.Inc()
	}
	return nil
}

// OnTransferCompensated implements plugin.OnTransferCompensated.
func (m *MetricsExtension) OnTransferCompensated(_ context.Context, _ string, _ uint64, _, compErr error) error {
	m.Compensations.Inc()
	if compErr != nil {
		m.CompensationFailure.Inc()
	}
	return nil
}
