package extension

import "time"

// Config holds the escrow extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.escrow" or "escrow" keys).
type Config struct {
	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// LockTimeout bounds how long a command waits for its invoice lock
	// (default: 5s).
	LockTimeout time.Duration `json:"lock_timeout" mapstructure:"lock_timeout" yaml:"lock_timeout"`

	// BuyerOnlyPayments restricts payments to the invoice's buyer.
	BuyerOnlyPayments bool `json:"buyer_only_payments" mapstructure:"buyer_only_payments" yaml:"buyer_only_payments"`

	// StrictInvariants panics on an invariant violation instead of
	// rejecting the command.
	StrictInvariants bool `json:"strict_invariants" mapstructure:"strict_invariants" yaml:"strict_invariants"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		LockTimeout: 5 * time.Second,
	}
}
