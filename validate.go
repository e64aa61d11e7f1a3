package escrow

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/satsprocure/escrow/transfer"
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validateStruct converts validator failures into ValidationErrors.
func (l *Ledger) validateStruct(s any) error {
	err := l.validate.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	var errs MultiError
	for _, fe := range fieldErrs {
		// Namespace is "Struct.field[0].sub"; drop the struct name.
		_, field, _ := strings.Cut(fe.Namespace(), ".")
		errs.Add(ValidationError{Field: field, Message: describe(fe)})
	}
	if len(errs.Errors) == 1 {
		return errs.Errors[0]
	}
	return errs
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "excludes", "excludesall":
		return "contains forbidden characters"
	default:
		return "failed " + fe.Tag() + " check"
	}
}

// validatePrincipal rejects empty principals and names that collide with
// the rail's per-invoice escrow accounts.
func validatePrincipal(field, principal string) error {
	if strings.TrimSpace(principal) == "" {
		return ValidationError{Field: field, Message: "is required"}
	}
	if transfer.IsEscrowAccount(principal) {
		return ValidationError{Field: field, Message: "must not name an escrow account"}
	}
	return nil
}
