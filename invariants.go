package escrow

import (
	"fmt"

	"github.com/satsprocure/escrow/invoice"
)

// checkInvariants verifies next, the state a command is about to commit.
// prev is the committed state it was derived from, nil on creation.
// A violation is a defect in the ledger, never a caller error.
func (l *Ledger) checkInvariants(prev, next *invoice.Invoice) error {
	var errs MultiError
	violate := func(format string, args ...any) {
		errs.Add(fmt.Errorf("%w: invoice %d: %s", ErrInvariantViolation, next.ID, fmt.Sprintf(format, args...)))
	}

	if next.Amount < 0 {
		violate("negative amount %d", next.Amount)
	}
	if next.AmountReleased < 0 || next.AmountRefunded < 0 {
		violate("negative released %d or refunded %d", next.AmountReleased, next.AmountRefunded)
	}
	if next.AmountReleased > next.AmountPaid {
		violate("released %d exceeds paid %d", next.AmountReleased, next.AmountPaid)
	}
	if next.AmountPaid > next.Amount {
		violate("paid %d exceeds amount %d", next.AmountPaid, next.Amount)
	}
	if next.AmountReleased+next.AmountRefunded > next.AmountPaid {
		violate("released %d plus refunded %d exceeds paid %d", next.AmountReleased, next.AmountRefunded, next.AmountPaid)
	}
	if next.IsPaid != (next.AmountPaid == next.Amount) {
		violate("is_paid=%t with paid %d of %d", next.IsPaid, next.AmountPaid, next.Amount)
	}
	if next.IsCancelled {
		if next.IsPaid {
			violate("cancelled invoice marked paid")
		}
		if next.AmountReleased+next.AmountRefunded != next.AmountPaid {
			violate("cancelled with %d of %d deposited unaccounted", next.AmountPaid-next.AmountReleased-next.AmountRefunded, next.AmountPaid)
		}
	} else if next.AmountRefunded != 0 {
		violate("refunded %d on open invoice", next.AmountRefunded)
	}

	if prev != nil {
		if prev.ID != next.ID || prev.InvoiceNumber != next.InvoiceNumber ||
			prev.Supplier != next.Supplier || prev.Buyer != next.Buyer || prev.Amount != next.Amount {
			violate("immutable field changed")
		}
		if next.AmountPaid < prev.AmountPaid || next.AmountReleased < prev.AmountReleased || next.AmountRefunded < prev.AmountRefunded {
			violate("running total decreased")
		}
		if prev.IsCancelled {
			violate("mutation after cancellation")
		}
	}

	if !errs.HasErrors() {
		return nil
	}

	err := errs.ErrOrNil()
	l.logger.Error("escrow: invariant violation",
		"invoice_id", next.ID,
		"error", err,
	)
	if l.strictInvariants {
		panic(err)
	}
	return err
}
