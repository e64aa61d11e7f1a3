package escrow

import (
	"github.com/satsprocure/escrow/event"
	"github.com/satsprocure/escrow/invoice"
	"github.com/satsprocure/escrow/types"
)

// Re-export common types for convenience so users don't have to import the
// sub-packages for everyday use.

// Amount is re-exported from types package.
type Amount = types.Amount

// Invoice is re-exported from invoice package.
type Invoice = invoice.Invoice

// Event is re-exported from event package.
type Event = event.Event

// Status is re-exported from invoice package.
type Status = invoice.Status

// Re-export constructors
var (
	Sats       = types.Sats
	ParseMajor = types.ParseMajor
)
