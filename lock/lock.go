// Package lock serializes escrow commands per key. The ledger obtains one
// lock per invoice id (or per invoice number during creation) for the whole
// validate-transfer-commit-emit unit.
package lock

import (
	"context"
	"errors"
)

// ErrNotObtained is returned when the context expires before the lock is
// acquired.
var ErrNotObtained = errors.New("lock: not obtained")

// Locker hands out exclusive locks by key.
type Locker interface {
	// Obtain blocks until the key is held or ctx is done. The returned
	// release func must be called exactly once.
	Obtain(ctx context.Context, key string) (release func(), err error)
}
