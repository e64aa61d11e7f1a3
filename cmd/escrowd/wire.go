package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/satsprocure/escrow"
	audithook "github.com/satsprocure/escrow/audit_hook"
	"github.com/satsprocure/escrow/internal/config"
	"github.com/satsprocure/escrow/internal/logger"
	"github.com/satsprocure/escrow/lock"
	"github.com/satsprocure/escrow/observability"
	"github.com/satsprocure/escrow/store"
	"github.com/satsprocure/escrow/store/memory"
	"github.com/satsprocure/escrow/store/mongo"
	"github.com/satsprocure/escrow/store/postgres"
	"github.com/satsprocure/escrow/store/sqlite"
	"github.com/satsprocure/escrow/transfer"
)

// openStore connects the configured backend.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Store {
	case config.StoreMemory:
		return memory.New(), nil
	case config.StoreSQLite:
		return sqlite.Open(cfg.SQLitePath)
	case config.StorePostgres:
		return postgres.Open(ctx, cfg.PostgresURL)
	case config.StoreMongo:
		return mongo.Open(ctx, cfg.MongoURI, cfg.MongoDatabase)
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}

// stack is a fully wired ledger and the pieces the HTTP layer exposes.
type stack struct {
	ledger  *escrow.Ledger
	book    *transfer.Book
	metrics *observability.PrometheusFactory
	redis   *redis.Client
}

// start migrates and starts the ledger, then restores the book's escrow
// accounts from the store.
func (s *stack) start(ctx context.Context) (int, error) {
	if err := s.ledger.Start(ctx); err != nil {
		return 0, err
	}
	return restoreEscrow(ctx, s.ledger, s.book)
}

func (s *stack) close() error {
	err := s.ledger.Stop()
	if s.redis != nil {
		_ = s.redis.Close()
	}
	return err
}

func buildStack(ctx context.Context, env *runtimeEnv, migrate bool) (*stack, error) {
	cfg := env.cfg
	slogger := logger.Slog(cfg.GetLoggerConfig(), env.logOut)

	st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	s := &stack{book: transfer.NewBook()}
	opts := []escrow.Option{
		escrow.WithLogger(slogger),
		escrow.WithRail(s.book),
		escrow.WithLockTimeout(cfg.LockTimeout),
		escrow.WithBuyerOnlyPayments(cfg.BuyerOnlyPayments),
		escrow.WithStrictInvariants(cfg.StrictInvariants),
		escrow.WithAutoMigrate(migrate),
		escrow.WithPlugin(audithook.New(auditLog(), audithook.WithLogger(slogger))),
	}

	if cfg.RedisAddress != "" {
		s.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddress})
		if err := s.redis.Ping(ctx).Err(); err != nil {
			_ = s.redis.Close()
			_ = st.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		// The lock must outlive the longest command, bounded by the wait.
		opts = append(opts, escrow.WithLocker(lock.NewRedis(s.redis, 2*cfg.LockTimeout, lock.WithRedisLogger(slogger))))
	}

	if cfg.MetricsEnabled {
		s.metrics = observability.NewPrometheusFactory(nil)
		opts = append(opts, escrow.WithPlugin(observability.NewMetricsExtension(s.metrics)))
	}

	s.ledger = escrow.New(st, opts...)
	return s, nil
}

// auditLog records audit events as structured zerolog lines.
func auditLog() audithook.Recorder {
	log := logger.WithComponent("audit")
	return audithook.RecorderFunc(func(_ context.Context, ev *audithook.AuditEvent) error {
		log.Info().
			Str("action", ev.Action).
			Str("resource", ev.Resource).
			Str("category", ev.Category).
			Str("resource_id", ev.ResourceID).
			Str("actor", ev.Actor).
			Str("outcome", ev.Outcome).
			Str("severity", ev.Severity).
			Str("reason", ev.Reason).
			Fields(ev.Metadata).
			Msg("audit")
		return nil
	})
}

// restoreEscrow credits each open invoice's escrow account on a fresh book
// with the value the store says is still held, so escrow deposited before a
// restart can be released or refunded. Principal balances are not restored.
func restoreEscrow(ctx context.Context, l *escrow.Ledger, book *transfer.Book) (int, error) {
	n, err := l.InvoiceCount(ctx)
	if err != nil {
		return 0, err
	}

	restored := 0
	for invoiceID := uint64(1); invoiceID <= n; invoiceID++ {
		inv, err := l.GetInvoice(ctx, invoiceID)
		if err != nil {
			return restored, fmt.Errorf("restore escrow for invoice %d: %w", invoiceID, err)
		}
		held := inv.Unreleased()
		if inv.IsCancelled || held <= 0 {
			continue
		}
		if err := book.Credit(transfer.EscrowAccount(invoiceID), held); err != nil {
			return restored, fmt.Errorf("restore escrow for invoice %d: %w", invoiceID, err)
		}
		restored++
	}
	return restored, nil
}
