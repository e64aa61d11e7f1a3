// Package storetest is a conformance suite run against every store.Store
// backend.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/satsprocure/escrow"
	"github.com/satsprocure/escrow/event"
	"github.com/satsprocure/escrow/invoice"
	"github.com/satsprocure/escrow/store"
	"github.com/satsprocure/escrow/types"
)

// Factory returns a fresh, migrated, empty store. The suite closes it.
type Factory func(t *testing.T) store.Store

// Run executes the suite. Each subtest gets its own store.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"CreateAssignsSequentialIDs", testCreateAssignsSequentialIDs},
		{"DuplicateNumberConsumesNoID", testDuplicateNumber},
		{"RoundTrip", testRoundTrip},
		{"NotFound", testNotFound},
		{"UpdateWithVersion", testUpdateWithVersion},
		{"UpdateAssignsVersion", testUpdateAssignsVersion},
		{"ListByCounterparty", testListByCounterparty},
		{"EventJournal", testEventJournal},
		{"ConcurrentCreate", testConcurrentCreate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			if err := s.Ping(context.Background()); err != nil {
				t.Fatalf("ping: %v", err)
			}
			tt.fn(t, s)
		})
	}
}

var epoch = time.Date(2025, 3, 14, 9, 26, 53, 589000000, time.UTC)

func newInvoice(number, supplier, buyer string, amount types.Amount) *invoice.Invoice {
	return &invoice.Invoice{
		Entity:        types.NewEntity(epoch),
		InvoiceNumber: number,
		Supplier:      supplier,
		Buyer:         buyer,
		Amount:        amount,
		IsPaid:        amount == 0,
		Version:       1,
	}
}

func create(t *testing.T, s store.Store, inv *invoice.Invoice) *invoice.Invoice {
	t.Helper()
	ev := event.New(event.TypeInvoiceCreated, inv, inv.Supplier, inv.Amount, epoch)
	if err := s.CreateInvoice(context.Background(), inv, ev); err != nil {
		t.Fatalf("create %s: %v", inv.InvoiceNumber, err)
	}
	if ev.InvoiceID != inv.ID {
		t.Fatalf("event invoice id %d, invoice id %d", ev.InvoiceID, inv.ID)
	}
	return inv
}

func sameInstant(a, b time.Time) bool {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	// Mongo keeps millisecond precision.
	return d < time.Millisecond
}

func testCreateAssignsSequentialIDs(t *testing.T, s store.Store) {
	for i := 1; i <= 3; i++ {
		inv := create(t, s, newInvoice(fmt.Sprintf("SEQ-%d", i), "sup", "buy", 100))
		if inv.ID != uint64(i) {
			t.Fatalf("expected id %d, got %d", i, inv.ID)
		}
	}
	n, err := s.CountInvoices(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("expected count 3, got %d", n)
	}
}

func testDuplicateNumber(t *testing.T, s store.Store) {
	ctx := context.Background()
	first := create(t, s, newInvoice("DUP-1", "sup", "buy", 100))

	dup := newInvoice("DUP-1", "other", "buy", 5)
	err := s.CreateInvoice(ctx, dup, event.New(event.TypeInvoiceCreated, dup, "other", 5, epoch))
	if !errors.Is(err, escrow.ErrDuplicateInvoiceNumber) {
		t.Fatalf("expected ErrDuplicateInvoiceNumber, got %v", err)
	}

	got, err := s.GetInvoiceByNumber(ctx, "DUP-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Supplier != "sup" || got.Amount != 100 {
		t.Errorf("original invoice modified: %+v", got)
	}

	next := create(t, s, newInvoice("DUP-2", "sup", "buy", 1))
	if next.ID != first.ID+1 {
		t.Errorf("rejected create consumed an id: got %d", next.ID)
	}
}

func testRoundTrip(t *testing.T, s store.Store) {
	ctx := context.Background()

	in := newInvoice("RT-1", "sup", "buy", 3300)
	in.DueDate = time.Date(2030, 6, 30, 0, 0, 0, 0, time.UTC)
	in.Notes = "steel beams, net 30"
	in.Items = []invoice.LineItem{
		{Name: "beams", Quantity: 2, UnitPrice: 1500},
		{Name: "bolts", Quantity: 100, UnitPrice: 3},
	}
	create(t, s, in)

	got, err := s.GetInvoice(ctx, in.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.InvoiceNumber != in.InvoiceNumber || got.Supplier != in.Supplier || got.Buyer != in.Buyer ||
		got.Amount != in.Amount || got.Notes != in.Notes || got.Version != 1 {
		t.Errorf("scalar fields differ: %+v", got)
	}
	if !sameInstant(got.DueDate, in.DueDate) || !sameInstant(got.CreatedAt, in.CreatedAt) {
		t.Errorf("timestamps differ: due %s created %s", got.DueDate, got.CreatedAt)
	}
	if len(got.Items) != 2 || got.Items[1] != in.Items[1] {
		t.Errorf("items differ: %+v", got.Items)
	}
	if got.CancelledAt != nil || got.IsCancelled || got.IsPaid {
		t.Errorf("unexpected flags: %+v", got)
	}

	byNumber, err := s.GetInvoiceByNumber(ctx, "RT-1")
	if err != nil {
		t.Fatal(err)
	}
	if byNumber.ID != in.ID {
		t.Errorf("by number returned id %d", byNumber.ID)
	}
}

func testNotFound(t *testing.T, s store.Store) {
	ctx := context.Background()

	if _, err := s.GetInvoice(ctx, 999); !errors.Is(err, escrow.ErrInvoiceNotFound) {
		t.Errorf("GetInvoice: expected ErrInvoiceNotFound, got %v", err)
	}
	if _, err := s.GetInvoiceByNumber(ctx, "missing"); !errors.Is(err, escrow.ErrInvoiceNotFound) {
		t.Errorf("GetInvoiceByNumber: expected ErrInvoiceNotFound, got %v", err)
	}

	ghost := newInvoice("GHOST", "sup", "buy", 1)
	ghost.ID = 999
	err := s.UpdateInvoice(ctx, ghost, 1, event.New(event.TypePaymentReceived, ghost, "buy", 1, epoch))
	if !errors.Is(err, escrow.ErrInvoiceNotFound) {
		t.Errorf("UpdateInvoice: expected ErrInvoiceNotFound, got %v", err)
	}
}

func testUpdateWithVersion(t *testing.T, s store.Store) {
	ctx := context.Background()
	inv := create(t, s, newInvoice("UPD-1", "sup", "buy", 100))

	next := inv.Clone()
	next.AmountPaid = 100
	next.IsPaid = true
	next.Version = 2
	next.Touch(epoch.Add(time.Hour))
	if err := s.UpdateInvoice(ctx, next, 1, event.New(event.TypePaymentReceived, next, "buy", 100, epoch)); err != nil {
		t.Fatal(err)
	}

	// A writer that loaded version 1 must lose.
	stale := inv.Clone()
	stale.AmountPaid = 50
	stale.Version = 2
	err := s.UpdateInvoice(ctx, stale, 1, event.New(event.TypePaymentReceived, stale, "buy", 50, epoch))
	if !errors.Is(err, escrow.ErrConcurrentUpdate) {
		t.Fatalf("expected ErrConcurrentUpdate, got %v", err)
	}

	got, err := s.GetInvoice(ctx, inv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.AmountPaid != 100 || !got.IsPaid || got.Version != 2 {
		t.Errorf("unexpected stored state: %+v", got)
	}

	// Cancellation fields round-trip.
	cancelled := inv.Clone()
	cancelled.ID = create(t, s, newInvoice("UPD-2", "sup", "buy", 100)).ID
	cancelled.InvoiceNumber = "UPD-2"
	cancelled.AmountPaid = 40
	cancelled.AmountRefunded = 40
	cancelled.IsCancelled = true
	at := epoch.Add(2 * time.Hour)
	cancelled.CancelledAt = &at
	cancelled.Version = 2
	if err := s.UpdateInvoice(ctx, cancelled, 1, event.New(event.TypeInvoiceCancelled, cancelled, "sup", 40, at)); err != nil {
		t.Fatal(err)
	}
	got, err = s.GetInvoice(ctx, cancelled.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.IsCancelled || got.CancelledAt == nil || !sameInstant(*got.CancelledAt, at) || got.AmountRefunded != 40 {
		t.Errorf("cancellation not stored: %+v", got)
	}
	if got.Status() != invoice.StatusCancelled {
		t.Errorf("expected cancelled status, got %s", got.Status())
	}

	// Failed writes append no events.
	evs, err := s.ListEvents(ctx, inv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(evs) != 2 {
		t.Errorf("expected 2 events, got %d", len(evs))
	}
}

func testUpdateAssignsVersion(t *testing.T, s store.Store) {
	ctx := context.Background()
	inv := create(t, s, newInvoice("VER-1", "sup", "buy", 100))

	// The writer never bumps Version; the store must.
	next := inv.Clone()
	next.AmountPaid = 10
	if err := s.UpdateInvoice(ctx, next, 1, event.New(event.TypePaymentReceived, next, "buy", 10, epoch)); err != nil {
		t.Fatal(err)
	}
	if next.Version != 2 {
		t.Errorf("expected caller's invoice at version 2, got %d", next.Version)
	}

	again := inv.Clone()
	again.AmountPaid = 10
	err := s.UpdateInvoice(ctx, again, 1, event.New(event.TypePaymentReceived, again, "buy", 10, epoch))
	if !errors.Is(err, escrow.ErrConcurrentUpdate) {
		t.Fatalf("expected ErrConcurrentUpdate on replayed version, got %v", err)
	}

	got, err := s.GetInvoice(ctx, inv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Version != 2 || got.AmountPaid != 10 {
		t.Errorf("unexpected stored state: version %d, paid %d", got.Version, got.AmountPaid)
	}

	evs, err := s.ListEvents(ctx, inv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(evs) != 2 {
		t.Errorf("expected 2 events, got %d", len(evs))
	}
}

func testListByCounterparty(t *testing.T, s store.Store) {
	ctx := context.Background()

	create(t, s, newInvoice("L-1", "alice", "bob", 1))
	create(t, s, newInvoice("L-2", "carol", "alice", 2))
	create(t, s, newInvoice("L-3", "alice", "dave", 3))
	create(t, s, newInvoice("L-4", "alice", "alice", 4))

	supplied, err := s.ListBySupplier(ctx, "alice", invoice.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if ids := idsOf(supplied); fmt.Sprint(ids) != "[1 3 4]" {
		t.Errorf("supplier listing %v", ids)
	}

	bought, err := s.ListByBuyer(ctx, "alice", invoice.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if ids := idsOf(bought); fmt.Sprint(ids) != "[2 4]" {
		t.Errorf("buyer listing %v", ids)
	}

	page, err := s.ListBySupplier(ctx, "alice", invoice.ListOpts{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatal(err)
	}
	if ids := idsOf(page); fmt.Sprint(ids) != "[3]" {
		t.Errorf("paged listing %v", ids)
	}

	past, err := s.ListBySupplier(ctx, "alice", invoice.ListOpts{Offset: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(past) != 0 {
		t.Errorf("expected empty page, got %v", idsOf(past))
	}

	none, err := s.ListByBuyer(ctx, "nobody", invoice.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(none) != 0 {
		t.Errorf("expected no invoices, got %d", len(none))
	}
}

func testEventJournal(t *testing.T, s store.Store) {
	ctx := context.Background()
	inv := create(t, s, newInvoice("EV-1", "sup", "buy", 100))

	cur := inv
	for i, amt := range []types.Amount{30, 70} {
		next := cur.Clone()
		next.AmountPaid += amt
		next.IsPaid = next.AmountPaid == next.Amount
		next.Version++
		if err := s.UpdateInvoice(ctx, next, cur.Version, event.New(event.TypePaymentReceived, next, "buy", amt, epoch.Add(time.Duration(i+1)*time.Minute))); err != nil {
			t.Fatal(err)
		}
		cur = next
	}

	evs, err := s.ListEvents(ctx, inv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(evs) != 3 {
		t.Fatalf("expected 3 events, got %d", len(evs))
	}
	want := []struct {
		typ  event.Type
		amt  types.Amount
		paid types.Amount
	}{
		{event.TypeInvoiceCreated, 100, 0},
		{event.TypePaymentReceived, 30, 30},
		{event.TypePaymentReceived, 70, 100},
	}
	for i, w := range want {
		ev := evs[i]
		if ev.Type != w.typ || ev.Amount != w.amt || ev.AmountPaid != w.paid || ev.InvoiceID != inv.ID {
			t.Errorf("event %d = %+v", i, ev)
		}
		if ev.ID.IsNil() || ev.InvoiceNumber != "EV-1" {
			t.Errorf("event %d missing identity: %+v", i, ev)
		}
	}

	empty, err := s.ListEvents(ctx, 12345)
	if err != nil {
		t.Fatal(err)
	}
	if len(empty) != 0 {
		t.Errorf("expected no events, got %d", len(empty))
	}
}

func testConcurrentCreate(t *testing.T, s store.Store) {
	ctx := context.Background()

	const n = 16
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			inv := newInvoice(fmt.Sprintf("CC-%02d", i), "sup", "buy", 1)
			errs <- s.CreateInvoice(ctx, inv, event.New(event.TypeInvoiceCreated, inv, "sup", 1, epoch))
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent create: %v", err)
		}
	}

	all, err := s.ListBySupplier(ctx, "sup", invoice.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != n {
		t.Fatalf("expected %d invoices, got %d", n, len(all))
	}
	for i, inv := range all {
		if inv.ID != uint64(i+1) {
			t.Fatalf("ids must be dense and sequential, got %v", idsOf(all))
		}
	}
}

func idsOf(invs []*invoice.Invoice) []uint64 {
	ids := make([]uint64, len(invs))
	for i, inv := range invs {
		ids[i] = inv.ID
	}
	return ids
}
