// Package sqlite implements store.Store on SQLite through modernc.org/sqlite,
// a cgo-free driver. The schema is managed with goose.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pressly/goose/v3"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/satsprocure/escrow"
	"github.com/satsprocure/escrow/event"
	"github.com/satsprocure/escrow/invoice"
	escrowstore "github.com/satsprocure/escrow/store"
)

// compile-time interface check
var _ escrowstore.Store = (*Store)(nil)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store implements store.Store using SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database file at path with WAL
// journaling and foreign keys enabled.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("escrow/sqlite: create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("escrow/sqlite: open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("escrow/sqlite: ping database: %w", err)
	}
	return New(db), nil
}

// New wraps an existing database handle. SQLite allows a single writer, so
// the pool is limited to one connection and every statement is serialized.
func New(db *sql.DB) *Store {
	db.SetMaxOpenConns(1)
	return &Store{db: db}
}

// DB returns the underlying database handle for direct access.
func (s *Store) DB() *sql.DB { return s.db }

// Migrate applies the embedded goose migrations.
func (s *Store) Migrate(ctx context.Context) error {
	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("%w: %w", escrow.ErrMigrationFailed, err)
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, s.db, sub)
	if err != nil {
		return fmt.Errorf("%w: create provider: %w", escrow.ErrMigrationFailed, err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("%w: sqlite: %w", escrow.ErrMigrationFailed, err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Invoice Store ====================

func (s *Store) CreateInvoice(ctx context.Context, inv *invoice.Invoice, ev *event.Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.wrap(err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var taken int
	err = tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM escrow_invoices WHERE invoice_number = ?`, inv.InvoiceNumber).Scan(&taken)
	if err != nil {
		return s.wrap(err)
	}
	if taken > 0 {
		return fmt.Errorf("%w: %q", escrow.ErrDuplicateInvoiceNumber, inv.InvoiceNumber)
	}

	var next int64
	err = tx.QueryRowContext(ctx,
		`UPDATE escrow_counters SET value = value + 1 WHERE name = 'invoice' RETURNING value`,
	).Scan(&next)
	if err != nil {
		return s.wrap(err)
	}

	created := inv.Clone()
	created.ID = uint64(next)
	m, err := toInvoiceModel(created)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO escrow_invoices (`+invoiceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.InvoiceNumber, m.Supplier, m.Buyer, m.Amount, m.DueDate, m.Notes, m.Items,
		m.AmountPaid, m.AmountReleased, m.AmountRefunded, m.IsPaid, m.IsCancelled, m.CancelledAt,
		m.Version, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %q", escrow.ErrDuplicateInvoiceNumber, inv.InvoiceNumber)
		}
		return s.wrap(err)
	}

	stored := *ev
	stored.InvoiceID = created.ID
	if err := insertEvent(ctx, tx, &stored); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return s.wrap(err)
	}

	inv.ID = created.ID
	ev.InvoiceID = created.ID
	return nil
}

func (s *Store) GetInvoice(ctx context.Context, invoiceID uint64) (*invoice.Invoice, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+invoiceColumns+` FROM escrow_invoices WHERE id = ?`, int64(invoiceID))
	inv, err := scanInvoice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", escrow.ErrInvoiceNotFound, invoiceID)
	}
	if err != nil {
		return nil, s.wrap(err)
	}
	return inv, nil
}

func (s *Store) GetInvoiceByNumber(ctx context.Context, number string) (*invoice.Invoice, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+invoiceColumns+` FROM escrow_invoices WHERE invoice_number = ?`, number)
	inv, err := scanInvoice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: number %q", escrow.ErrInvoiceNotFound, number)
	}
	if err != nil {
		return nil, s.wrap(err)
	}
	return inv, nil
}

func (s *Store) UpdateInvoice(ctx context.Context, inv *invoice.Invoice, expectedVersion int64, ev *event.Event) error {
	inv.Version = expectedVersion + 1
	m, err := toInvoiceModel(inv)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.wrap(err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	res, err := tx.ExecContext(ctx, `UPDATE escrow_invoices SET
			amount_paid = ?, amount_released = ?, amount_refunded = ?,
			is_paid = ?, is_cancelled = ?, cancelled_at = ?,
			version = ?, updated_at = ?
		WHERE id = ? AND version = ?`,
		m.AmountPaid, m.AmountReleased, m.AmountRefunded,
		m.IsPaid, m.IsCancelled, m.CancelledAt,
		m.Version, m.UpdatedAt,
		m.ID, expectedVersion,
	)
	if err != nil {
		return s.wrap(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return s.wrap(err)
	}
	if n == 0 {
		return s.missOrStale(ctx, tx, inv.ID, expectedVersion)
	}

	if err := insertEvent(ctx, tx, ev); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return s.wrap(err)
	}
	return nil
}

func (s *Store) ListBySupplier(ctx context.Context, principal string, opts invoice.ListOpts) ([]*invoice.Invoice, error) {
	return s.list(ctx, "supplier", principal, opts)
}

func (s *Store) ListByBuyer(ctx context.Context, principal string, opts invoice.ListOpts) ([]*invoice.Invoice, error) {
	return s.list(ctx, "buyer", principal, opts)
}

func (s *Store) CountInvoices(ctx context.Context) (uint64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM escrow_invoices`).Scan(&n); err != nil {
		return 0, s.wrap(err)
	}
	return uint64(n), nil
}

// ==================== Event Store ====================

func (s *Store) ListEvents(ctx context.Context, invoiceID uint64) ([]*event.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM escrow_events WHERE invoice_id = ? ORDER BY seq`, int64(invoiceID))
	if err != nil {
		return nil, s.wrap(err)
	}
	defer rows.Close()

	var result []*event.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, s.wrap(err)
		}
		result = append(result, ev)
	}
	return result, s.wrap(rows.Err())
}

// ==================== Helpers ====================

// list pages through invoices where column equals principal. column is one
// of the two fixed names used by the callers above.
func (s *Store) list(ctx context.Context, column, principal string, opts invoice.ListOpts) ([]*invoice.Invoice, error) {
	limit := int64(-1)
	if opts.Limit > 0 {
		limit = int64(opts.Limit)
	}
	offset := int64(0)
	if opts.Offset > 0 {
		offset = int64(opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+invoiceColumns+` FROM escrow_invoices WHERE `+column+` = ? ORDER BY id LIMIT ? OFFSET ?`,
		principal, limit, offset)
	if err != nil {
		return nil, s.wrap(err)
	}
	defer rows.Close()

	result := make([]*invoice.Invoice, 0)
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, s.wrap(err)
		}
		result = append(result, inv)
	}
	return result, s.wrap(rows.Err())
}

func (s *Store) missOrStale(ctx context.Context, tx *sql.Tx, invoiceID uint64, expectedVersion int64) error {
	var version int64
	err := tx.QueryRowContext(ctx, `SELECT version FROM escrow_invoices WHERE id = ?`, int64(invoiceID)).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %d", escrow.ErrInvoiceNotFound, invoiceID)
	}
	if err != nil {
		return s.wrap(err)
	}
	return fmt.Errorf("%w: invoice %d at version %d, expected %d", escrow.ErrConcurrentUpdate, invoiceID, version, expectedVersion)
}

func insertEvent(ctx context.Context, tx *sql.Tx, ev *event.Event) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO escrow_events (`+eventColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		eventArgs(ev)...)
	if err != nil {
		return fmt.Errorf("escrow/sqlite: insert event: %w", err)
	}
	return nil
}

func (s *Store) wrap(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrConnDone) || err.Error() == "sql: database is closed" {
		return fmt.Errorf("%w: %w", escrow.ErrStoreClosed, err)
	}
	return fmt.Errorf("escrow/sqlite: %w", err)
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	return errors.As(err, &se) && se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
}
