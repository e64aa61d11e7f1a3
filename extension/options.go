package extension

import (
	"time"

	"github.com/satsprocure/escrow"
	"github.com/satsprocure/escrow/plugin"
	"github.com/satsprocure/escrow/store"
)

// Option configures the escrow Forge extension.
type Option func(*Extension)

// WithStore sets the store for the ledger.
func WithStore(s store.Store) Option {
	return func(e *Extension) {
		e.store = s
	}
}

// WithLedgerOption passes an escrow.Option through to the underlying ledger.
func WithLedgerOption(opt escrow.Option) Option {
	return func(e *Extension) {
		e.ledgerOpts = append(e.ledgerOpts, opt)
	}
}

// WithPlugin registers a ledger plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.ledgerOpts = append(e.ledgerOpts, escrow.WithPlugin(p))
	}
}

// WithConfig sets the Forge extension configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithDisableMigrate prevents auto-migration on start.
func WithDisableMigrate() Option {
	return func(e *Extension) { e.config.DisableMigrate = true }
}

// WithLockTimeout sets the per-command lock wait bound.
func WithLockTimeout(d time.Duration) Option {
	return func(e *Extension) { e.config.LockTimeout = d }
}

// WithBuyerOnlyPayments restricts payments to the invoice's buyer.
func WithBuyerOnlyPayments() Option {
	return func(e *Extension) { e.config.BuyerOnlyPayments = true }
}

// WithStrictInvariants panics on invariant violations.
func WithStrictInvariants() Option {
	return func(e *Extension) { e.config.StrictInvariants = true }
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}
