package extension

import (
	"testing"
	"time"
)

func TestMergeWithDefaults(t *testing.T) {
	got := mergeWithDefaults(Config{BuyerOnlyPayments: true})
	if got.LockTimeout != 5*time.Second {
		t.Errorf("expected default lock timeout, got %s", got.LockTimeout)
	}
	if !got.BuyerOnlyPayments {
		t.Error("explicit flag lost")
	}

	kept := mergeWithDefaults(Config{LockTimeout: time.Second})
	if kept.LockTimeout != time.Second {
		t.Errorf("explicit lock timeout overwritten: %s", kept.LockTimeout)
	}
}

func TestMergeConfigurations(t *testing.T) {
	tests := []struct {
		name        string
		yaml, prog  Config
		wantTimeout time.Duration
		wantBuyer   bool
		wantMigrate bool
		wantStrict  bool
	}{
		{
			name:        "yaml wins on duration",
			yaml:        Config{LockTimeout: 2 * time.Second},
			prog:        Config{LockTimeout: 9 * time.Second},
			wantTimeout: 2 * time.Second,
		},
		{
			name:        "programmatic fills gaps",
			prog:        Config{LockTimeout: 9 * time.Second},
			wantTimeout: 9 * time.Second,
		},
		{
			name:        "programmatic flags override",
			prog:        Config{BuyerOnlyPayments: true, DisableMigrate: true, StrictInvariants: true},
			wantTimeout: 5 * time.Second,
			wantBuyer:   true,
			wantMigrate: true,
			wantStrict:  true,
		},
		{
			name:        "yaml flags kept",
			yaml:        Config{BuyerOnlyPayments: true},
			wantTimeout: 5 * time.Second,
			wantBuyer:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mergeConfigurations(tt.yaml, tt.prog)
			if got.LockTimeout != tt.wantTimeout {
				t.Errorf("lock timeout = %s, want %s", got.LockTimeout, tt.wantTimeout)
			}
			if got.BuyerOnlyPayments != tt.wantBuyer || got.DisableMigrate != tt.wantMigrate || got.StrictInvariants != tt.wantStrict {
				t.Errorf("flags = %+v", got)
			}
		})
	}
}

func TestOptionsApplyToConfig(t *testing.T) {
	e := New(
		WithLockTimeout(3*time.Second),
		WithBuyerOnlyPayments(),
		WithStrictInvariants(),
		WithDisableMigrate(),
		WithRequireConfig(true),
	)
	if e.config.LockTimeout != 3*time.Second || !e.config.BuyerOnlyPayments ||
		!e.config.StrictInvariants || !e.config.DisableMigrate || !e.config.RequireConfig {
		t.Errorf("options not applied: %+v", e.config)
	}
	if e.Ledger() != nil {
		t.Error("ledger built before Register")
	}
	if got := len(e.buildLedgerOpts()); got != 4 {
		t.Errorf("expected 4 derived ledger options, got %d", got)
	}
}
