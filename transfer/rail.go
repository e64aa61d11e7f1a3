// Package transfer models the value-transfer collaborator behind the escrow
// ledger. The ledger only moves value through a Rail; Book is the bundled
// in-memory rail used for tests, demos and single-process deployments.
package transfer

import (
	"context"
	"strconv"
	"strings"

	"github.com/satsprocure/escrow/id"
	"github.com/satsprocure/escrow/types"
)

// Kind classifies a movement.
type Kind string

const (
	KindDeposit    Kind = "deposit"    // payer -> escrow
	KindRelease    Kind = "release"    // escrow -> supplier
	KindRefund     Kind = "refund"     // escrow -> buyer
	KindCompensate Kind = "compensate" // reversal of a movement whose commit failed
)

const escrowPrefix = "escrow:"

// EscrowAccount names the rail account holding the escrow of one invoice.
func EscrowAccount(invoiceID uint64) string {
	return escrowPrefix + strconv.FormatUint(invoiceID, 10)
}

// IsEscrowAccount reports whether account is a per-invoice escrow account.
func IsEscrowAccount(account string) bool {
	return strings.HasPrefix(account, escrowPrefix)
}

// Movement is a single transfer between two rail accounts.
type Movement struct {
	ID        id.MovementID `json:"id"`
	Kind      Kind          `json:"kind"`
	InvoiceID uint64        `json:"invoice_id"`
	From      string        `json:"from"`
	To        string        `json:"to"`
	Amount    types.Amount  `json:"amount"`
	// Reverses holds the movement a compensation undoes.
	Reverses id.MovementID `json:"reverses,omitempty"`
}

// NewMovement builds a movement with a fresh id.
func NewMovement(kind Kind, invoiceID uint64, from, to string, amount types.Amount) Movement {
	return Movement{
		ID:        id.NewMovementID(),
		Kind:      kind,
		InvoiceID: invoiceID,
		From:      from,
		To:        to,
		Amount:    amount,
	}
}

// Reverse returns the compensating movement for m.
func (m Movement) Reverse() Movement {
	r := NewMovement(KindCompensate, m.InvoiceID, m.To, m.From, m.Amount)
	r.Reverses = m.ID
	return r
}

// Rail moves value between accounts. Transfer must be all-or-nothing: on
// error no value has moved.
type Rail interface {
	Transfer(ctx context.Context, m Movement) error
}

// RailFunc adapts a plain function to a Rail.
type RailFunc func(ctx context.Context, m Movement) error

// Transfer implements Rail.
func (f RailFunc) Transfer(ctx context.Context, m Movement) error {
	return f(ctx, m)
}
