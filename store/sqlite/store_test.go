package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/satsprocure/escrow"
	"github.com/satsprocure/escrow/store"
	"github.com/satsprocure/escrow/store/sqlite"
	"github.com/satsprocure/escrow/store/storetest"
	"github.com/satsprocure/escrow/transfer"
	"github.com/satsprocure/escrow/types"
)

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(filepath.Join(t.TempDir(), "escrow.db"))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatal(err)
	}
	return s
}

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return openStore(t)
	})
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := openStore(t)
	defer s.Close()

	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestLedgerSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "escrow.db")
	ctx := context.Background()

	s, err := sqlite.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	book := transfer.NewBook()
	if err := book.Credit("buyer", 1_000); err != nil {
		t.Fatal(err)
	}

	l := escrow.New(s, escrow.WithRail(book))
	if err := l.Start(ctx); err != nil {
		t.Fatal(err)
	}
	inv, err := l.CreateInvoice(ctx, "supplier", escrow.CreateInvoiceInput{InvoiceNumber: "P-1", Buyer: "buyer", Amount: 500})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := l.PayInvoice(ctx, "buyer", inv.ID, types.Sats(200)); err != nil {
		t.Fatal(err)
	}
	if err := l.Stop(); err != nil {
		t.Fatal(err)
	}

	reopened, err := sqlite.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	l2 := escrow.New(reopened, escrow.WithRail(book))
	if err := l2.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer l2.Stop()

	got, err := l2.GetInvoiceByNumber(ctx, "P-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.AmountPaid != 200 || got.Version != 2 {
		t.Fatalf("unexpected state after reopen: %+v", got)
	}

	res, err := l2.PayInvoice(ctx, "buyer", inv.ID, 300)
	if err != nil {
		t.Fatal(err)
	}
	if !res.FullyPaid {
		t.Error("expected invoice fully paid")
	}
	evs, err := l2.Events(ctx, inv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(evs) != 3 {
		t.Errorf("expected 3 journal events, got %d", len(evs))
	}
}
