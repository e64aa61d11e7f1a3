package transfer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/satsprocure/escrow/types"
)

var (
	ErrInsufficientFunds = errors.New("transfer: insufficient funds")
	ErrInvalidMovement   = errors.New("transfer: invalid movement")
)

// compile-time interface check
var _ Rail = (*Book)(nil)

// Book is an in-memory double-entry rail. Principals are funded through
// Credit, which stands in for an external deposit.
type Book struct {
	mu       sync.Mutex
	balances map[string]types.Amount
	journal  []Movement
}

// NewBook creates an empty book.
func NewBook() *Book {
	return &Book{balances: make(map[string]types.Amount)}
}

// Credit adds externally sourced value to account.
func (b *Book) Credit(account string, amount types.Amount) error {
	if account == "" || amount <= 0 {
		return fmt.Errorf("%w: credit %d to %q", ErrInvalidMovement, amount, account)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	next, err := b.balances[account].CheckedAdd(amount)
	if err != nil {
		return err
	}
	b.balances[account] = next
	return nil
}

// Balance returns the current balance of account.
func (b *Book) Balance(account string) types.Amount {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balances[account]
}

// Total returns the sum of all balances. Transfers never change it.
func (b *Book) Total() types.Amount {
	b.mu.Lock()
	defer b.mu.Unlock()

	var total types.Amount
	for _, v := range b.balances {
		total += v
	}
	return total
}

// Accounts lists every account with a non-zero balance, sorted.
func (b *Book) Accounts() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]string, 0, len(b.balances))
	for k, v := range b.balances {
		if v != 0 {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// Journal returns a copy of all applied movements in order.
func (b *Book) Journal() []Movement {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Movement(nil), b.journal...)
}

// Transfer implements Rail.
func (b *Book) Transfer(ctx context.Context, m Movement) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.From == "" || m.To == "" || m.From == m.To || m.Amount <= 0 {
		return fmt.Errorf("%w: %s %d %q -> %q", ErrInvalidMovement, m.Kind, m.Amount, m.From, m.To)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.balances[m.From] < m.Amount {
		return fmt.Errorf("%w: %q holds %d, needs %d", ErrInsufficientFunds, m.From, b.balances[m.From], m.Amount)
	}
	to, err := b.balances[m.To].CheckedAdd(m.Amount)
	if err != nil {
		return err
	}

	b.balances[m.From] -= m.Amount
	b.balances[m.To] = to
	b.journal = append(b.journal, m)
	return nil
}
