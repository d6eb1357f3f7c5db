package render

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// Money amounts are kept in cents
const moneyPlaces = 2

// Human readable message per validation tag. Unknown tags get a generic one
var fieldMessages = map[string]func(param string) string{
	"required": func(string) string { return "This field is required" },
	"min":      func(p string) string { return fmt.Sprintf("Value is too short (minimum %s)", p) },
	"max":      func(p string) string { return fmt.Sprintf("Value is too long (maximum %s)", p) },
	"gt":       func(p string) string { return fmt.Sprintf("Value must be greater than %s", p) },
	"gte":      func(p string) string { return fmt.Sprintf("Value must be greater than or equal to %s", p) },
	"oneof":    func(p string) string { return fmt.Sprintf("Value must be one of: %s", p) },
	"money":    func(string) string { return fmt.Sprintf("Amount must have at most %d decimal places", moneyPlaces) },
}

func fieldMessage(fe validator.FieldError) string {
	if msg, ok := fieldMessages[fe.Tag()]; ok {
		return msg(fe.Param())
	}
	return "Invalid value"
}

func newValidator() *validator.Validate {
	v := validator.New()

	// Errors are reported by json names, the client knows nothing about struct fields
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	_ = v.RegisterValidation("money", isMoney)

	// Compare decimals as numbers so 'gt', 'gte' and friends work
	v.RegisterCustomTypeFunc(func(v reflect.Value) any {
		d, ok := v.Interface().(decimal.Decimal)
		if !ok {
			return nil
		}
		f, _ := d.Float64()
		return f
	}, decimal.Decimal{})

	return v
}

// Amount representable in cents
// Decimals reach validations already converted to float64 by the custom type func
func isMoney(fl validator.FieldLevel) bool {
	switch v := fl.Field().Interface().(type) {
	case decimal.Decimal:
		return v.Equal(v.Round(moneyPlaces))
	case float64:
		d := decimal.NewFromFloat(v)
		return d.Equal(d.Round(moneyPlaces))
	default:
		return false
	}
}
