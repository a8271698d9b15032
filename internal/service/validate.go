package service

import (
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// DefaultCurrencies is the supported currency set when none is configured.
var DefaultCurrencies = []string{"USD", "EUR", "GBP", "ETB", "KES", "NGN"}

func newValidator(currencies []string) *validator.Validate {
	supported := make(map[string]struct{}, len(currencies))
	for _, c := range currencies {
		supported[strings.ToUpper(c)] = struct{}{}
	}

	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.Split(field.Tag.Get("json"), ",")[0]
		if name == "" || name == "-" {
			return field.Name
		}
		return name
	})

	if err := v.RegisterValidation("currency", func(fl validator.FieldLevel) bool {
		value, ok := fl.Field().Interface().(string)
		if !ok {
			return false
		}
		_, ok = supported[value]
		return ok
	}); err != nil {
		panic(err)
	}

	if err := v.RegisterValidation("weburl", func(fl validator.FieldLevel) bool {
		value, ok := fl.Field().Interface().(string)
		if !ok {
			return false
		}
		return isWebURL(value)
	}); err != nil {
		panic(err)
	}

	return v
}

func isWebURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// normalizeValidationError wraps the first field failure in ErrValidation.
func normalizeValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	first := validationErrs[0]
	return fmt.Errorf("%w: %s %s", ErrValidation, first.Field(), validationMessage(first))
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "max":
		return fmt.Sprintf("cannot exceed %s characters", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", strings.ReplaceAll(fe.Param(), " ", ", "))
	case "currency":
		return "must be a supported ISO-4217 currency code"
	case "weburl":
		return "must be an absolute http(s) URL"
	default:
		return fmt.Sprintf("failed validation: %s", fe.Tag())
	}
}
