package escrow

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure scenarios.
var (
	// General errors
	ErrInvalidInput = errors.New("escrow: invalid input")
	ErrUnauthorized = errors.New("escrow: unauthorized")

	// Invoice errors
	ErrInvoiceNotFound        = errors.New("escrow: invoice not found")
	ErrDuplicateInvoiceNumber = errors.New("escrow: duplicate invoice number")

	// Payment errors
	ErrInvalidAmount           = errors.New("escrow: invalid amount")
	ErrInvoiceCancelled        = errors.New("escrow: invoice is cancelled")
	ErrAlreadyFullyPaid        = errors.New("escrow: invoice already fully paid")
	ErrPaymentExceedsRemaining = errors.New("escrow: payment exceeds remaining amount")

	// Release errors
	ErrNothingToRelease = errors.New("escrow: no funds to release")

	// Cancellation errors
	ErrAlreadyCancelled      = errors.New("escrow: invoice already cancelled")
	ErrCannotCancelFullyPaid = errors.New("escrow: cannot cancel fully paid invoice")

	// Integrity errors
	ErrInvariantViolation = errors.New("escrow: invariant violation")
	ErrTransferFailed     = errors.New("escrow: transfer failed")

	// Concurrency errors
	ErrConcurrentUpdate = errors.New("escrow: concurrent update")
	ErrLockTimeout      = errors.New("escrow: lock timeout")

	// Store errors
	ErrStoreClosed     = errors.New("escrow: store is closed")
	ErrMigrationFailed = errors.New("escrow: migration failed")
)

// ValidationError represents a validation failure with details.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("escrow: validation failed for %s: %s", e.Field, e.Message)
}

// Unwrap makes every validation error match ErrInvalidInput.
func (e ValidationError) Unwrap() error { return ErrInvalidInput }

// MultiError represents multiple errors that occurred.
type MultiError struct {
	Errors []error
}

func (e MultiError) Error() string {
	if len(e.Errors) == 0 {
		return "escrow: no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("escrow: %d errors occurred: %v", len(e.Errors), e.Errors[0])
}

// Unwrap exposes the collected errors to errors.Is and errors.As.
func (e MultiError) Unwrap() []error { return e.Errors }

// Add adds an error to the multi-error.
func (e *MultiError) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

// HasErrors returns true if there are any errors.
func (e MultiError) HasErrors() bool {
	return len(e.Errors) > 0
}

// First returns the first error or nil.
func (e MultiError) First() error {
	if len(e.Errors) > 0 {
		return e.Errors[0]
	}
	return nil
}

// ErrOrNil returns e when it holds errors, nil otherwise.
func (e MultiError) ErrOrNil() error {
	if e.HasErrors() {
		return e
	}
	return nil
}

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrInvoiceNotFound)
}

// IsRejection returns true if the command was refused by validation,
// authorization or the invoice's state. Rejections change nothing.
func IsRejection(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrInvoiceNotFound) ||
		errors.Is(err, ErrDuplicateInvoiceNumber) ||
		IsConflict(err)
}

// IsConflict returns true if the invoice's current state forbids the command.
func IsConflict(err error) bool {
	return errors.Is(err, ErrInvoiceCancelled) ||
		errors.Is(err, ErrAlreadyFullyPaid) ||
		errors.Is(err, ErrPaymentExceedsRemaining) ||
		errors.Is(err, ErrNothingToRelease) ||
		errors.Is(err, ErrAlreadyCancelled) ||
		errors.Is(err, ErrCannotCancelFullyPaid) ||
		errors.Is(err, ErrDuplicateInvoiceNumber)
}

// IsRetryable returns true if the error is temporary and the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrLockTimeout) ||
		errors.Is(err, ErrConcurrentUpdate)
}
