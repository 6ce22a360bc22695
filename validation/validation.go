// Package validation wraps go-playground/validator for request and input
// structs, with decimal.Decimal support and errors that classify as
// payout.ErrValidation.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/warp/sacco-engine/payout"
)

// FieldErrors lists every failing field of one struct, keyed by its json name.
type FieldErrors struct {
	Fields map[string]string
}

func (e *FieldErrors) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = name + ": " + e.Fields[name]
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

func (e *FieldErrors) Unwrap() error { return payout.ErrValidation }

// Helper provides shared validation functionality.
type Helper struct {
	validator *validator.Validate
}

func New() *Helper {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Report json names so details match the request body.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})

	// Let numeric tags (gt, gte, lte) apply to decimals.
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			return d.InexactFloat64()
		}
		return nil
	}, decimal.Decimal{})

	return &Helper{validator: v}
}

// ValidateStruct returns nil or a *FieldErrors.
func (h *Helper) ValidateStruct(s any) error {
	err := h.validator.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", payout.ErrValidation, err)
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = message(fe)
	}
	return &FieldErrors{Fields: fields}
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "oneof":
		return "must be one of " + fe.Param()
	default:
		return fmt.Sprintf("failed on '%s' tag", fe.Tag())
	}
}
