package escrow

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/satsprocure/escrow/lock"
	"github.com/satsprocure/escrow/plugin"
	"github.com/satsprocure/escrow/store"
	"github.com/satsprocure/escrow/transfer"
)

// DefaultLockTimeout bounds how long a command waits for its invoice lock.
const DefaultLockTimeout = 5 * time.Second

// Ledger is the escrow state machine. It owns no invoice state itself: the
// store is the single source of truth and every command runs under a per-key
// lock from the configured Locker.
type Ledger struct {
	store    store.Store
	plugins  *plugin.Registry
	logger   *slog.Logger
	rail     transfer.Rail
	locker   lock.Locker
	validate *validator.Validate
	now      func() time.Time

	// Configuration
	lockTimeout       time.Duration
	buyerOnlyPayments bool
	strictInvariants  bool
	autoMigrate       bool
}

// New creates a new Ledger instance. Without WithRail the ledger moves value
// on a fresh in-memory transfer.Book, reachable through Rail.
func New(s store.Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:       s,
		plugins:     plugin.NewRegistry(),
		logger:      slog.Default(),
		rail:        transfer.NewBook(),
		locker:      lock.NewMemory(),
		validate:    newValidator(),
		now:         time.Now,
		lockTimeout: DefaultLockTimeout,
		autoMigrate: true,
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Option configures a Ledger instance.
type Option func(*Ledger)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		l.logger = logger
		l.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(l *Ledger) {
		_ = l.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithRail sets the value-transfer collaborator.
func WithRail(r transfer.Rail) Option {
	return func(l *Ledger) {
		l.rail = r
	}
}

// WithLocker sets the per-invoice locker. Use lock.NewRedis when several
// processes share one store.
func WithLocker(lk lock.Locker) Option {
	return func(l *Ledger) {
		l.locker = lk
	}
}

// WithLockTimeout bounds every lock wait. Non-positive values keep the default.
func WithLockTimeout(d time.Duration) Option {
	return func(l *Ledger) {
		if d > 0 {
			l.lockTimeout = d
		}
	}
}

// WithBuyerOnlyPayments restricts PayInvoice to the invoice's buyer.
func WithBuyerOnlyPayments(enabled bool) Option {
	return func(l *Ledger) {
		l.buyerOnlyPayments = enabled
	}
}

// WithStrictInvariants makes an invariant violation panic instead of
// rejecting the command.
func WithStrictInvariants(enabled bool) Option {
	return func(l *Ledger) {
		l.strictInvariants = enabled
	}
}

// WithAutoMigrate controls whether Start migrates the store (default true).
func WithAutoMigrate(enabled bool) Option {
	return func(l *Ledger) {
		l.autoMigrate = enabled
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		l.now = now
	}
}

// Start migrates the store unless disabled and initializes plugins.
func (l *Ledger) Start(ctx context.Context) error {
	if l.autoMigrate {
		if err := l.store.Migrate(ctx); err != nil {
			return err
		}
	}

	l.plugins.EmitInit(ctx, l)

	l.logger.Info("escrow ledger started",
		"lock_timeout", l.lockTimeout,
		"buyer_only_payments", l.buyerOnlyPayments,
		"strict_invariants", l.strictInvariants,
		"plugins", l.plugins.Count(),
	)

	return nil
}

// Stop shuts down plugins and closes the store.
func (l *Ledger) Stop() error {
	ctx := context.Background()
	l.plugins.EmitShutdown(ctx)

	return l.store.Close()
}

// Store returns the underlying store.
func (l *Ledger) Store() store.Store { return l.store }

// Rail returns the value-transfer collaborator.
func (l *Ledger) Rail() transfer.Rail { return l.rail }

// Plugins returns the plugin registry.
func (l *Ledger) Plugins() *plugin.Registry { return l.plugins }

// Logger returns the ledger's logger.
func (l *Ledger) Logger() *slog.Logger { return l.logger }
