package escrow

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/satsprocure/escrow/event"
	"github.com/satsprocure/escrow/invoice"
	"github.com/satsprocure/escrow/plugin"
	"github.com/satsprocure/escrow/transfer"
	"github.com/satsprocure/escrow/types"
)

// Command names used in logs, lock keys and rejection hooks.
const (
	OpCreate  = "create_invoice"
	OpPay     = "pay_invoice"
	OpConfirm = "confirm_receipt"
	OpCancel  = "cancel_invoice"
)

// CreateInvoiceInput carries the supplier's terms for a new invoice.
type CreateInvoiceInput struct {
	InvoiceNumber string             `json:"invoice_number" validate:"required,max=128"`
	Buyer         string             `json:"buyer" validate:"required,max=256"`
	Amount        types.Amount       `json:"amount" validate:"gte=0"`
	DueDate       time.Time          `json:"due_date"`
	Notes         string             `json:"notes,omitempty" validate:"max=4096"`
	Items         []invoice.LineItem `json:"items,omitempty" validate:"dive"`
}

// PaymentResult is returned by PayInvoice.
type PaymentResult struct {
	NewAmountPaid types.Amount     `json:"new_amount_paid"`
	FullyPaid     bool             `json:"fully_paid"`
	Invoice       *invoice.Invoice `json:"invoice"`
}

// ReleaseResult is returned by ConfirmReceipt.
type ReleaseResult struct {
	Released types.Amount     `json:"released"`
	Invoice  *invoice.Invoice `json:"invoice"`
}

// CancelResult is returned by CancelInvoice. Refunded is the escrow returned
// to the buyer; AmountPaid on the invoice keeps the historical total.
type CancelResult struct {
	Refunded types.Amount     `json:"refunded"`
	Invoice  *invoice.Invoice `json:"invoice"`
}

// ──────────────────────────────────────────────────
// Commands
// ──────────────────────────────────────────────────

// CreateInvoice registers a new invoice with caller as supplier. The buyer
// may equal the caller. When line items are given, Amount must match their
// total, or be zero to take the total from the items.
func (l *Ledger) CreateInvoice(ctx context.Context, caller string, in CreateInvoiceInput) (*invoice.Invoice, error) {
	amount, err := l.validateCreate(caller, &in)
	if err != nil {
		l.reject(ctx, OpCreate, 0, caller, err)
		return nil, err
	}

	release, err := l.obtain(ctx, "invoice-number:"+in.InvoiceNumber)
	if err != nil {
		return nil, err
	}
	defer release()

	if _, err := l.store.GetInvoiceByNumber(ctx, in.InvoiceNumber); err == nil {
		err = fmt.Errorf("%w: %q", ErrDuplicateInvoiceNumber, in.InvoiceNumber)
		l.reject(ctx, OpCreate, 0, caller, err)
		return nil, err
	} else if !IsNotFound(err) {
		return nil, err
	}

	now := l.now()
	inv := &invoice.Invoice{
		Entity:        types.NewEntity(now),
		InvoiceNumber: in.InvoiceNumber,
		Supplier:      caller,
		Buyer:         in.Buyer,
		Amount:        amount,
		DueDate:       in.DueDate.UTC(),
		Notes:         in.Notes,
		Items:         append([]invoice.LineItem(nil), in.Items...),
		IsPaid:        amount == 0,
		Version:       1,
	}
	if err := l.checkInvariants(nil, inv); err != nil {
		return nil, err
	}

	ev := event.New(event.TypeInvoiceCreated, inv, caller, amount, now)
	if err := l.store.CreateInvoice(ctx, inv, ev); err != nil {
		if errors.Is(err, ErrDuplicateInvoiceNumber) {
			l.reject(ctx, OpCreate, 0, caller, err)
		}
		return nil, err
	}

	l.logger.Debug("escrow: invoice created",
		"invoice_id", inv.ID,
		"invoice_number", inv.InvoiceNumber,
		"caller", caller,
		"buyer", inv.Buyer,
		"amount", int64(amount),
	)
	l.plugins.EmitInvoiceCreated(ctx, inv, ev)

	return inv.Clone(), nil
}

func (l *Ledger) validateCreate(caller string, in *CreateInvoiceInput) (types.Amount, error) {
	if err := validatePrincipal("caller", caller); err != nil {
		return 0, err
	}
	if err := l.validateStruct(in); err != nil {
		return 0, err
	}
	if err := validatePrincipal("buyer", in.Buyer); err != nil {
		return 0, err
	}

	if len(in.Items) == 0 {
		return in.Amount, nil
	}
	total, err := invoice.ItemsTotal(in.Items)
	if err != nil {
		return 0, ValidationError{Field: "items", Message: err.Error()}
	}
	switch {
	case in.Amount == 0:
		return total, nil
	case in.Amount != total:
		return 0, ValidationError{
			Field:   "amount",
			Message: fmt.Sprintf("must equal line item total %d", total),
		}
	}
	return in.Amount, nil
}

// PayInvoice deposits amount from caller into the invoice's escrow. Any
// principal may pay unless WithBuyerOnlyPayments is set. Installments
// accumulate until the invoice total is reached.
func (l *Ledger) PayInvoice(ctx context.Context, caller string, invoiceID uint64, amount types.Amount) (*PaymentResult, error) {
	inv, _, err := l.mutate(ctx, OpPay, caller, invoiceID, func(inv *invoice.Invoice, _ time.Time) (transition, error) {
		if l.buyerOnlyPayments && caller != inv.Buyer {
			return transition{}, fmt.Errorf("%w: only the buyer may pay invoice %d", ErrUnauthorized, inv.ID)
		}
		if inv.IsCancelled {
			return transition{}, fmt.Errorf("%w: invoice %d", ErrInvoiceCancelled, inv.ID)
		}
		if inv.IsPaid {
			return transition{}, fmt.Errorf("%w: invoice %d", ErrAlreadyFullyPaid, inv.ID)
		}
		if amount <= 0 {
			return transition{}, fmt.Errorf("%w: payment must be positive, got %d", ErrInvalidAmount, amount)
		}
		if remaining := inv.Remaining(); amount > remaining {
			return transition{}, fmt.Errorf("%w: paying %d, remaining %d", ErrPaymentExceedsRemaining, amount, remaining)
		}

		inv.AmountPaid += amount
		inv.IsPaid = inv.AmountPaid == inv.Amount

		mv := transfer.NewMovement(transfer.KindDeposit, inv.ID, caller, transfer.EscrowAccount(inv.ID), amount)
		return transition{kind: event.TypePaymentReceived, amount: amount, move: &mv}, nil
	})
	if err != nil {
		return nil, err
	}

	return &PaymentResult{
		NewAmountPaid: inv.AmountPaid,
		FullyPaid:     inv.IsPaid,
		Invoice:       inv,
	}, nil
}

// ConfirmReceipt releases the currently unreleased escrow to the supplier.
// Only the buyer may confirm. It may be called again after later
// installments and never releases the same value twice.
func (l *Ledger) ConfirmReceipt(ctx context.Context, caller string, invoiceID uint64) (*ReleaseResult, error) {
	var released types.Amount
	inv, _, err := l.mutate(ctx, OpConfirm, caller, invoiceID, func(inv *invoice.Invoice, _ time.Time) (transition, error) {
		if caller != inv.Buyer {
			return transition{}, fmt.Errorf("%w: only the buyer may confirm invoice %d", ErrUnauthorized, inv.ID)
		}
		if inv.IsCancelled {
			return transition{}, fmt.Errorf("%w: invoice %d", ErrInvoiceCancelled, inv.ID)
		}
		released = inv.Unreleased()
		if released <= 0 {
			return transition{}, fmt.Errorf("%w: invoice %d", ErrNothingToRelease, inv.ID)
		}

		inv.AmountReleased += released

		mv := transfer.NewMovement(transfer.KindRelease, inv.ID, transfer.EscrowAccount(inv.ID), inv.Supplier, released)
		return transition{kind: event.TypeFundsReleased, amount: released, move: &mv}, nil
	})
	if err != nil {
		return nil, err
	}

	return &ReleaseResult{Released: released, Invoice: inv}, nil
}

// CancelInvoice terminates an invoice that is not fully paid and refunds its
// unreleased escrow to the buyer. Value already released stays with the
// supplier. Only the supplier may cancel.
func (l *Ledger) CancelInvoice(ctx context.Context, caller string, invoiceID uint64) (*CancelResult, error) {
	var refunded types.Amount
	inv, _, err := l.mutate(ctx, OpCancel, caller, invoiceID, func(inv *invoice.Invoice, now time.Time) (transition, error) {
		if caller != inv.Supplier {
			return transition{}, fmt.Errorf("%w: only the supplier may cancel invoice %d", ErrUnauthorized, inv.ID)
		}
		if inv.IsCancelled {
			return transition{}, fmt.Errorf("%w: invoice %d", ErrAlreadyCancelled, inv.ID)
		}
		if inv.AmountPaid >= inv.Amount {
			return transition{}, fmt.Errorf("%w: invoice %d", ErrCannotCancelFullyPaid, inv.ID)
		}

		refunded = inv.Unreleased()
		inv.AmountRefunded += refunded
		inv.IsCancelled = true
		cancelledAt := now.UTC().Truncate(time.Microsecond)
		inv.CancelledAt = &cancelledAt

		tr := transition{kind: event.TypeInvoiceCancelled, amount: refunded}
		if refunded > 0 {
			mv := transfer.NewMovement(transfer.KindRefund, inv.ID, transfer.EscrowAccount(inv.ID), inv.Buyer, refunded)
			tr.move = &mv
		}
		return tr, nil
	})
	if err != nil {
		return nil, err
	}

	return &CancelResult{Refunded: refunded, Invoice: inv}, nil
}

// ──────────────────────────────────────────────────
// Commit pipeline
// ──────────────────────────────────────────────────

// transition is what a command decided: the event to record, the value it
// moved, and the rail movement backing it (nil when nothing moves).
type transition struct {
	kind   event.Type
	amount types.Amount
	move   *transfer.Movement
}

// mutate runs one command against an existing invoice: lock, load, apply to
// a copy, check invariants, transfer, persist with the event, emit, unlock.
func (l *Ledger) mutate(
	ctx context.Context,
	op, caller string,
	invoiceID uint64,
	apply func(inv *invoice.Invoice, now time.Time) (transition, error),
) (*invoice.Invoice, *event.Event, error) {
	if err := validatePrincipal("caller", caller); err != nil {
		l.reject(ctx, op, invoiceID, caller, err)
		return nil, nil, err
	}

	release, err := l.obtain(ctx, "invoice:"+strconv.FormatUint(invoiceID, 10))
	if err != nil {
		return nil, nil, err
	}
	defer release()

	cur, err := l.store.GetInvoice(ctx, invoiceID)
	if err != nil {
		if IsNotFound(err) {
			l.reject(ctx, op, invoiceID, caller, err)
		}
		return nil, nil, err
	}

	now := l.now()
	next := cur.Clone()
	tr, err := apply(next, now)
	if err != nil {
		l.reject(ctx, op, invoiceID, caller, err)
		return nil, nil, err
	}
	next.Version = cur.Version + 1
	next.Touch(now)

	if err := l.checkInvariants(cur, next); err != nil {
		return nil, nil, err
	}

	if tr.move != nil {
		if err := l.rail.Transfer(ctx, *tr.move); err != nil {
			err = fmt.Errorf("%w: %s for invoice %d: %w", ErrTransferFailed, tr.move.Kind, invoiceID, err)
			l.reject(ctx, op, invoiceID, caller, err)
			return nil, nil, err
		}
	}

	ev := event.New(tr.kind, next, caller, tr.amount, now)
	if err := l.store.UpdateInvoice(ctx, next, cur.Version, ev); err != nil {
		return nil, nil, l.compensate(ctx, op, invoiceID, tr.move, err)
	}

	l.logger.Debug("escrow: "+string(tr.kind),
		"invoice_id", invoiceID,
		"caller", caller,
		"amount", int64(tr.amount),
		"amount_paid", int64(next.AmountPaid),
		"amount_released", int64(next.AmountReleased),
		"status", string(next.Status()),
	)
	l.plugins.EmitEvent(ctx, next, ev)

	return next.Clone(), ev, nil
}

// obtain takes the lock for key, waiting at most the configured lock timeout.
func (l *Ledger) obtain(ctx context.Context, key string) (func(), error) {
	lockCtx, cancel := context.WithTimeout(ctx, l.lockTimeout)
	defer cancel()

	release, err := l.locker.Obtain(lockCtx, key)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %s after %s: %w", ErrLockTimeout, key, l.lockTimeout, err)
	}
	return release, nil
}

// compensate reverses a transfer whose commit failed and returns the error
// to hand back to the caller.
func (l *Ledger) compensate(ctx context.Context, op string, invoiceID uint64, mv *transfer.Movement, cause error) error {
	if mv == nil {
		return cause
	}

	rev := mv.Reverse()
	// The reversal must run even if the caller has gone away.
	if err := l.rail.Transfer(context.WithoutCancel(ctx), rev); err != nil {
		l.logger.Error("escrow: compensation failed",
			"op", op,
			"invoice_id", invoiceID,
			"movement_id", mv.ID.String(),
			"amount", int64(mv.Amount),
			"error", err,
			"cause", cause,
		)
		l.plugins.EmitTransferCompensated(ctx, op, invoiceID, cause, err)
		return errors.Join(cause, fmt.Errorf("%w: compensating %s: %w", ErrTransferFailed, mv.ID, err))
	}

	l.logger.Warn("escrow: transfer compensated",
		"op", op,
		"invoice_id", invoiceID,
		"movement_id", mv.ID.String(),
		"amount", int64(mv.Amount),
		"cause", cause,
	)
	l.plugins.EmitTransferCompensated(ctx, op, invoiceID, cause, nil)
	return cause
}

func (l *Ledger) reject(ctx context.Context, op string, invoiceID uint64, caller string, err error) {
	l.logger.Debug("escrow: command rejected",
		"op", op,
		"invoice_id", invoiceID,
		"caller", caller,
		"error", err,
	)
	l.plugins.EmitCommandRejected(ctx, plugin.Rejection{
		Op:        op,
		InvoiceID: invoiceID,
		Principal: caller,
		Err:       err,
	})
}
