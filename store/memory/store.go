// Package memory is an in-process store for tests, demos and single-process
// deployments that do not need durability.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/satsprocure/escrow"
	"github.com/satsprocure/escrow/event"
	"github.com/satsprocure/escrow/invoice"
	"github.com/satsprocure/escrow/store"
)

// compile-time interface check
var _ store.Store = (*Store)(nil)

type Store struct {
	mu     sync.RWMutex
	closed bool

	// Invoice storage
	invoices map[uint64]*invoice.Invoice
	nextID   uint64

	// Secondary indices
	byNumber   map[string]uint64
	bySupplier map[string][]uint64
	byBuyer    map[string][]uint64

	// Event journal per invoice
	events map[uint64][]*event.Event
}

func New() *Store {
	return &Store{
		invoices:   make(map[uint64]*invoice.Invoice),
		nextID:     1,
		byNumber:   make(map[string]uint64),
		bySupplier: make(map[string][]uint64),
		byBuyer:    make(map[string][]uint64),
		events:     make(map[uint64][]*event.Event),
	}
}

// Invoice Store implementation
func (s *Store) CreateInvoice(_ context.Context, inv *invoice.Invoice, ev *event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return escrow.ErrStoreClosed
	}
	if _, exists := s.byNumber[inv.InvoiceNumber]; exists {
		return fmt.Errorf("%w: %q", escrow.ErrDuplicateInvoiceNumber, inv.InvoiceNumber)
	}

	inv.ID = s.nextID
	ev.InvoiceID = inv.ID
	s.nextID++

	s.invoices[inv.ID] = inv.Clone()
	s.byNumber[inv.InvoiceNumber] = inv.ID
	s.bySupplier[inv.Supplier] = append(s.bySupplier[inv.Supplier], inv.ID)
	s.byBuyer[inv.Buyer] = append(s.byBuyer[inv.Buyer], inv.ID)
	s.appendEvent(ev)
	return nil
}

func (s *Store) GetInvoice(_ context.Context, invoiceID uint64) (*invoice.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, escrow.ErrStoreClosed
	}
	if inv, ok := s.invoices[invoiceID]; ok {
		return inv.Clone(), nil
	}
	return nil, fmt.Errorf("%w: %d", escrow.ErrInvoiceNotFound, invoiceID)
}

func (s *Store) GetInvoiceByNumber(_ context.Context, number string) (*invoice.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, escrow.ErrStoreClosed
	}
	if invID, ok := s.byNumber[number]; ok {
		return s.invoices[invID].Clone(), nil
	}
	return nil, fmt.Errorf("%w: number %q", escrow.ErrInvoiceNotFound, number)
}

func (s *Store) UpdateInvoice(_ context.Context, inv *invoice.Invoice, expectedVersion int64, ev *event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return escrow.ErrStoreClosed
	}
	cur, ok := s.invoices[inv.ID]
	if !ok {
		return fmt.Errorf("%w: %d", escrow.ErrInvoiceNotFound, inv.ID)
	}
	if cur.Version != expectedVersion {
		return fmt.Errorf("%w: invoice %d at version %d, expected %d", escrow.ErrConcurrentUpdate, inv.ID, cur.Version, expectedVersion)
	}

	inv.Version = expectedVersion + 1
	s.invoices[inv.ID] = inv.Clone()
	s.appendEvent(ev)
	return nil
}

func (s *Store) ListBySupplier(_ context.Context, principal string, opts invoice.ListOpts) ([]*invoice.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, escrow.ErrStoreClosed
	}
	return s.collect(s.bySupplier[principal], opts), nil
}

func (s *Store) ListByBuyer(_ context.Context, principal string, opts invoice.ListOpts) ([]*invoice.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, escrow.ErrStoreClosed
	}
	return s.collect(s.byBuyer[principal], opts), nil
}

func (s *Store) CountInvoices(_ context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, escrow.ErrStoreClosed
	}
	return uint64(len(s.invoices)), nil
}

// Event journal implementation
func (s *Store) ListEvents(_ context.Context, invoiceID uint64) ([]*event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, escrow.ErrStoreClosed
	}
	evs := s.events[invoiceID]
	result := make([]*event.Event, len(evs))
	for i, ev := range evs {
		cp := *ev
		result[i] = &cp
	}
	return result, nil
}

// Core methods
func (s *Store) Migrate(_ context.Context) error {
	return nil // No migration needed for memory store
}

func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return escrow.ErrStoreClosed
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}

// Helper functions

// collect clones the invoices behind ids in ascending id order and applies
// the paging window. Callers hold s.mu.
func (s *Store) collect(ids []uint64, opts invoice.ListOpts) []*invoice.Invoice {
	sorted := append([]uint64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	start, end := opts.Window(len(sorted))
	result := make([]*invoice.Invoice, 0, end-start)
	for _, invID := range sorted[start:end] {
		result = append(result, s.invoices[invID].Clone())
	}
	return result
}

func (s *Store) appendEvent(ev *event.Event) {
	cp := *ev
	s.events[ev.InvoiceID] = append(s.events[ev.InvoiceID], &cp)
}
