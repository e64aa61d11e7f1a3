package main

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/satsprocure/escrow"
	"github.com/satsprocure/escrow/internal/config"
	"github.com/satsprocure/escrow/transfer"
	"github.com/satsprocure/escrow/types"
)

func memoryEnv() *runtimeEnv {
	return &runtimeEnv{
		cfg: &config.Config{
			Store:          config.StoreMemory,
			LockTimeout:    time.Second,
			HTTPAddr:       ":0",
			MetricsEnabled: true,
			LogLevel:       "error",
			LogFormat:      "json",
		},
		logOut: io.Discard,
	}
}

func TestOpenStoreRejectsUnknownBackend(t *testing.T) {
	cfg := &config.Config{Store: "etcd"}
	if _, err := openStore(context.Background(), cfg); err == nil {
		t.Fatal("expected error for unknown store")
	}
}

func TestBuildStackRunsCommands(t *testing.T) {
	ctx := context.Background()
	s, err := buildStack(ctx, memoryEnv(), true)
	if err != nil {
		t.Fatalf("buildStack: %v", err)
	}
	t.Cleanup(func() { _ = s.close() })

	if s.metrics == nil {
		t.Fatal("metrics factory not wired")
	}
	if s.redis != nil {
		t.Fatal("redis client created without an address")
	}
	if err := s.ledger.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := s.ledger.Plugins().Count(); got != 2 {
		t.Fatalf("plugins = %d, want 2", got)
	}

	inv, err := s.ledger.CreateInvoice(ctx, "acme", escrow.CreateInvoiceInput{
		InvoiceNumber: "INV-1",
		Buyer:         "globex",
		Amount:        types.Amount(1000),
	})
	if err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}
	if err := s.book.Credit("globex", 1000); err != nil {
		t.Fatalf("Credit: %v", err)
	}
	if _, err := s.ledger.PayInvoice(ctx, "globex", inv.ID, 400); err != nil {
		t.Fatalf("PayInvoice: %v", err)
	}
	if got := s.book.Balance("globex"); got != 600 {
		t.Fatalf("buyer balance = %d, want 600", got)
	}
}

func TestRestartRestoresEscrow(t *testing.T) {
	ctx := context.Background()
	env := memoryEnv()
	env.cfg.Store = config.StoreSQLite
	env.cfg.SQLitePath = filepath.Join(t.TempDir(), "escrow.db")
	env.cfg.MetricsEnabled = false

	first, err := buildStack(ctx, env, true)
	if err != nil {
		t.Fatalf("buildStack: %v", err)
	}
	if _, err := first.start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	var ids []uint64
	for _, number := range []string{"INV-A", "INV-B", "INV-C"} {
		inv, err := first.ledger.CreateInvoice(ctx, "acme", escrow.CreateInvoiceInput{
			InvoiceNumber: number,
			Buyer:         "globex",
			Amount:        100,
		})
		if err != nil {
			t.Fatalf("CreateInvoice: %v", err)
		}
		ids = append(ids, inv.ID)
	}
	if err := first.book.Credit("globex", 1000); err != nil {
		t.Fatal(err)
	}
	for _, invoiceID := range ids[:2] {
		if _, err := first.ledger.PayInvoice(ctx, "globex", invoiceID, 50); err != nil {
			t.Fatalf("PayInvoice: %v", err)
		}
	}
	if _, err := first.ledger.ConfirmReceipt(ctx, "globex", ids[1]); err != nil {
		t.Fatalf("ConfirmReceipt: %v", err)
	}
	if err := first.close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	second, err := buildStack(ctx, env, true)
	if err != nil {
		t.Fatalf("buildStack after restart: %v", err)
	}
	t.Cleanup(func() { _ = second.close() })
	restored, err := second.start(ctx)
	if err != nil {
		t.Fatalf("start after restart: %v", err)
	}
	if restored != 1 {
		t.Fatalf("restored = %d, want 1", restored)
	}
	if got := second.book.Balance(transfer.EscrowAccount(ids[0])); got != 50 {
		t.Fatalf("escrow balance = %d, want 50", got)
	}

	res, err := second.ledger.ConfirmReceipt(ctx, "globex", ids[0])
	if err != nil {
		t.Fatalf("ConfirmReceipt after restart: %v", err)
	}
	if res.Released != 50 {
		t.Fatalf("released = %d, want 50", res.Released)
	}
	if got := second.book.Balance("acme"); got != 50 {
		t.Fatalf("supplier balance = %d, want 50", got)
	}
}

func TestVersionCommand(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.HasPrefix(out.String(), "escrowd ") {
		t.Fatalf("output = %q", out.String())
	}
}
