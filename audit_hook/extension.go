// Package audithook bridges escrow ledger events to an audit trail backend.
//
// It defines a local Recorder interface so the package does not depend on
// any particular audit store. Callers inject a RecorderFunc adapter at
// wiring time.
package audithook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/satsprocure/escrow"
	"github.com/satsprocure/escrow/event"
	"github.com/satsprocure/escrow/invoice"
	"github.com/satsprocure/escrow/plugin"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin                = (*Extension)(nil)
	_ plugin.OnInvoiceCreated      = (*Extension)(nil)
	_ plugin.OnPaymentReceived     = (*Extension)(nil)
	_ plugin.OnFundsReleased       = (*Extension)(nil)
	_ plugin.OnInvoiceCancelled    = (*Extension)(nil)
	_ plugin.OnCommandRejected     = (*Extension)(nil)
	_ plugin.OnTransferCompensated = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is one audit trail entry.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Actor      string         `json:"actor,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges escrow lifecycle events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Invoice lifecycle hooks
// ──────────────────────────────────────────────────

// OnInvoiceCreated implements plugin.OnInvoiceCreated.
func (e *Extension) OnInvoiceCreated(ctx context.Context, inv *invoice.Invoice, ev *event.Event) error {
	return e.record(ctx, ActionInvoiceCreated, SeverityInfo, OutcomeSuccess,
		ResourceInvoice, inv.ID, ev.Principal, CategoryInvoicing, nil,
		eventMeta(ev,
			"supplier", inv.Supplier,
			"buyer", inv.Buyer,
		)...,
	)
}

// OnPaymentReceived implements plugin.OnPaymentReceived.
func (e *Extension) OnPaymentReceived(ctx context.Context, inv *invoice.Invoice, ev *event.Event) error {
	outcome := OutcomePartial
	if inv.IsPaid {
		outcome = OutcomeSuccess
	}
	return e.record(ctx, ActionPaymentReceived, SeverityInfo, outcome,
		ResourceEscrow, inv.ID, ev.Principal, CategoryPayment, nil,
		eventMeta(ev, "remaining", int64(inv.Remaining()))...,
	)
}

// OnFundsReleased implements plugin.OnFundsReleased.
func (e *Extension) OnFundsReleased(ctx context.Context, inv *invoice.Invoice, ev *event.Event) error {
	return e.record(ctx, ActionFundsReleased, SeverityInfo, OutcomeSuccess,
		ResourceEscrow, inv.ID, ev.Principal, CategoryPayment, nil,
		eventMeta(ev, "supplier", inv.Supplier)...,
	)
}

// OnInvoiceCancelled implements plugin.OnInvoiceCancelled.
func (e *Extension) OnInvoiceCancelled(ctx context.Context, inv *invoice.Invoice, ev *event.Event) error {
	return e.record(ctx, ActionInvoiceCancelled, SeverityWarning, OutcomeSuccess,
		ResourceInvoice, inv.ID, ev.Principal, CategoryInvoicing, nil,
		eventMeta(ev, "refunded_to", inv.Buyer)...,
	)
}

// ──────────────────────────────────────────────────
// Command outcome hooks
// ──────────────────────────────────────────────────

// OnCommandRejected implements plugin.OnCommandRejected. Authorization
// failures are recorded as access warnings.
func (e *Extension) OnCommandRejected(ctx context.Context, r plugin.Rejection) error {
	severity, category := SeverityInfo, CategoryInvoicing
	if errors.Is(r.Err, escrow.ErrUnauthorized) {
		severity, category = SeverityWarning, CategoryAccess
	}
	return e.record(ctx, ActionCommandRejected, severity, OutcomeFailure,
		ResourceInvoice, r.InvoiceID, r.Principal, category, r.Err,
		"op", r.Op,
	)
}

// OnTransferCompensated implements plugin.OnTransferCompensated. A failed
// reversal leaves the rail and the store disagreeing and is critical.
func (e *Extension) OnTransferCompensated(ctx context.Context, op string, invoiceID uint64, err, compErr error) error {
	severity, outcome := SeverityError, OutcomePartial
	kv := []any{"op", op}
	if compErr != nil {
		severity, outcome = SeverityCritical, OutcomeFailure
		kv = append(kv, "compensation_error", compErr.Error())
	}
	return e.record(ctx, ActionTransferCompensated, severity, outcome,
		ResourceEscrow, invoiceID, "", CategoryPayment, err,
		kv...,
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

func eventMeta(ev *event.Event, extra ...any) []any {
	kv := []any{
		"event_id", ev.ID.String(),
		"invoice_number", ev.InvoiceNumber,
		"amount", int64(ev.Amount),
		"amount_paid", int64(ev.AmountPaid),
		"amount_released", int64(ev.AmountReleased),
		"amount_refunded", int64(ev.AmountRefunded),
	}
	return append(kv, extra...)
}

// record builds and sends an audit event if the action is enabled. Recorder
// failures are logged, never returned.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource string, invoiceID uint64, actor, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	var resourceID string
	if invoiceID != 0 {
		resourceID = strconv.FormatUint(invoiceID, 10)
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Actor:      actor,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
