// Package postgres implements store.Store on PostgreSQL through pgx. The
// schema is managed with goose over the pgx database/sql bridge.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sync/atomic"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/satsprocure/escrow"
	"github.com/satsprocure/escrow/event"
	"github.com/satsprocure/escrow/invoice"
	escrowstore "github.com/satsprocure/escrow/store"
)

// compile-time interface check
var _ escrowstore.Store = (*Store)(nil)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const uniqueViolation = "23505"

// Store implements store.Store using PostgreSQL.
type Store struct {
	pool   *pgxpool.Pool
	closed atomic.Bool
}

// Open connects a pool to the database at url.
func Open(ctx context.Context, url string) (*Store, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("escrow/postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("escrow/postgres: ping: %w", err)
	}
	return New(pool), nil
}

// New creates a store on an existing pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Pool returns the underlying pgx pool for direct access.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Migrate applies the embedded goose migrations.
func (s *Store) Migrate(ctx context.Context) error {
	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("%w: %w", escrow.ErrMigrationFailed, err)
	}

	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()

	provider, err := goose.NewProvider(goose.DialectPostgres, db, sub)
	if err != nil {
		return fmt.Errorf("%w: create provider: %w", escrow.ErrMigrationFailed, err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("%w: postgres: %w", escrow.ErrMigrationFailed, err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the pool.
func (s *Store) Close() error {
	s.closed.Store(true)
	s.pool.Close()
	return nil
}

// ==================== Invoice Store ====================

func (s *Store) CreateInvoice(ctx context.Context, inv *invoice.Invoice, ev *event.Event) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return s.wrap(err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	// The counter row lock serializes creators; a rollback returns the id.
	var next int64
	err = tx.QueryRow(ctx,
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

	_, err = tx.Exec(ctx, `INSERT INTO escrow_invoices (`+invoiceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
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

	if err := tx.Commit(ctx); err != nil {
		return s.wrap(err)
	}

	inv.ID = created.ID
	ev.InvoiceID = created.ID
	return nil
}

func (s *Store) GetInvoice(ctx context.Context, invoiceID uint64) (*invoice.Invoice, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM escrow_invoices WHERE id = $1`, int64(invoiceID))
	inv, err := scanInvoice(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", escrow.ErrInvoiceNotFound, invoiceID)
	}
	if err != nil {
		return nil, s.wrap(err)
	}
	return inv, nil
}

func (s *Store) GetInvoiceByNumber(ctx context.Context, number string) (*invoice.Invoice, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM escrow_invoices WHERE invoice_number = $1`, number)
	inv, err := scanInvoice(row)
	if errors.Is(err, pgx.ErrNoRows) {
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

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return s.wrap(err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	tag, err := tx.Exec(ctx, `UPDATE escrow_invoices SET
			amount_paid = $1, amount_released = $2, amount_refunded = $3,
			is_paid = $4, is_cancelled = $5, cancelled_at = $6,
			version = $7, updated_at = $8
		WHERE id = $9 AND version = $10`,
		m.AmountPaid, m.AmountReleased, m.AmountRefunded,
		m.IsPaid, m.IsCancelled, m.CancelledAt,
		m.Version, m.UpdatedAt,
		m.ID, expectedVersion,
	)
	if err != nil {
		return s.wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return s.missOrStale(ctx, tx, inv.ID, expectedVersion)
	}

	if err := insertEvent(ctx, tx, ev); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
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
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(1) FROM escrow_invoices`).Scan(&n); err != nil {
		return 0, s.wrap(err)
	}
	return uint64(n), nil
}

// ==================== Event Store ====================

func (s *Store) ListEvents(ctx context.Context, invoiceID uint64) ([]*event.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+eventColumns+` FROM escrow_events WHERE invoice_id = $1 ORDER BY seq`, int64(invoiceID))
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
	var limit *int64
	if opts.Limit > 0 {
		l := int64(opts.Limit)
		limit = &l
	}
	offset := int64(0)
	if opts.Offset > 0 {
		offset = int64(opts.Offset)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+invoiceColumns+` FROM escrow_invoices WHERE `+column+` = $1 ORDER BY id LIMIT $2 OFFSET $3`,
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

func (s *Store) missOrStale(ctx context.Context, tx pgx.Tx, invoiceID uint64, expectedVersion int64) error {
	var version int64
	err := tx.QueryRow(ctx, `SELECT version FROM escrow_invoices WHERE id = $1`, int64(invoiceID)).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %d", escrow.ErrInvoiceNotFound, invoiceID)
	}
	if err != nil {
		return s.wrap(err)
	}
	return fmt.Errorf("%w: invoice %d at version %d, expected %d", escrow.ErrConcurrentUpdate, invoiceID, version, expectedVersion)
}

func insertEvent(ctx context.Context, tx pgx.Tx, ev *event.Event) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO escrow_events (`+eventColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		eventArgs(ev)...)
	if err != nil {
		return fmt.Errorf("escrow/postgres: insert event: %w", err)
	}
	return nil
}

func (s *Store) wrap(err error) error {
	if err == nil {
		return nil
	}
	if s.closed.Load() {
		return fmt.Errorf("%w: %w", escrow.ErrStoreClosed, err)
	}
	return fmt.Errorf("escrow/postgres: %w", err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
