package memory_test

import (
	"context"
	"errors"
	"testing"

	"github.com/satsprocure/escrow"
	"github.com/satsprocure/escrow/store"
	"github.com/satsprocure/escrow/store/memory"
	"github.com/satsprocure/escrow/store/storetest"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return memory.New()
	})
}

func TestClosedStore(t *testing.T) {
	s := memory.New()
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	if err := s.Ping(ctx); !errors.Is(err, escrow.ErrStoreClosed) {
		t.Errorf("Ping: expected ErrStoreClosed, got %v", err)
	}
	if _, err := s.GetInvoice(ctx, 1); !errors.Is(err, escrow.ErrStoreClosed) {
		t.Errorf("GetInvoice: expected ErrStoreClosed, got %v", err)
	}
}

func TestReturnedInvoicesAreCopies(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	l := escrow.New(s)
	inv, err := l.CreateInvoice(ctx, "sup", escrow.CreateInvoiceInput{InvoiceNumber: "C-1", Buyer: "buy", Amount: 10})
	if err != nil {
		t.Fatal(err)
	}

	got, err := s.GetInvoice(ctx, inv.ID)
	if err != nil {
		t.Fatal(err)
	}
	got.AmountPaid = 10

	again, err := s.GetInvoice(ctx, inv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if again.AmountPaid != 0 {
		t.Fatal("mutating a returned invoice changed stored state")
	}
}
