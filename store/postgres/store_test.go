package postgres_test

import (
	"context"
	"os"
	"testing"

	"github.com/satsprocure/escrow/store"
	"github.com/satsprocure/escrow/store/postgres"
	"github.com/satsprocure/escrow/store/storetest"
)

// openStore connects to ESCROW_TEST_POSTGRES_URL, migrates and empties the
// escrow tables. Tests sharing the database must not run in parallel.
func openStore(t *testing.T) *postgres.Store {
	t.Helper()

	url := os.Getenv("ESCROW_TEST_POSTGRES_URL")
	if url == "" {
		t.Skip("ESCROW_TEST_POSTGRES_URL not set")
	}

	ctx := context.Background()
	s, err := postgres.Open(ctx, url)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Migrate(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Pool().Exec(ctx, `TRUNCATE escrow_events, escrow_invoices`); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Pool().Exec(ctx, `UPDATE escrow_counters SET value = 0 WHERE name = 'invoice'`); err != nil {
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
