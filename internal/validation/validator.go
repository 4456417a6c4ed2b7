// Package validation wraps go-playground/validator with the rules used by research
// job requests and converts failures into validation AppErrors.
package validation

import (
	"bytes"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	apperrors "github.com/target/mmk-research-api/internal/errors"
)

// Rule registers a custom validation on the underlying validator.
type Rule func(v *validator.Validate) error

// Validator is a thin wrapper that reports the first failing field by its JSON name.
type Validator struct {
	validate *validator.Validate
}

// New builds a Validator with the built-in research job rules and any extra rules.
func New(rules ...Rule) (*Validator, error) {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(jsonFieldName)

	for _, r := range append([]Rule{jsonObjectRule}, rules...) {
		if err := r(v); err != nil {
			return nil, err
		}
	}
	return &Validator{validate: v}, nil
}

var (
	defaultOnce sync.Once
	defaultV    *Validator
)

// Default returns a shared Validator with the built-in rules.
func Default() *Validator {
	defaultOnce.Do(func() {
		v, err := New()
		if err != nil {
			panic(err)
		}
		defaultV = v
	})
	return defaultV
}

// Struct validates s. A failure is returned as a validation AppError whose Field
// is the JSON name of the first offending field.
func (v *Validator) Struct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid request")
	}
	fe := fieldErrs[0]
	return apperrors.ValidationField(fe.Field(), message(fe))
}

// Struct validates s with the Default validator.
func Struct(s any) error {
	return Default().Struct(s)
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "uuid":
		return fe.Field() + " must be a UUID"
	case "json_object":
		return fe.Field() + " must be a JSON object"
	default:
		return fe.Field() + " failed " + fe.Tag() + " validation"
	}
}

func jsonFieldName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	if name == "-" {
		return ""
	}
	if name == "" {
		return f.Name
	}
	return name
}

// jsonObjectRule accepts byte slices (json.RawMessage) holding a JSON object.
func jsonObjectRule(v *validator.Validate) error {
	return v.RegisterValidation("json_object", func(fl validator.FieldLevel) bool {
		field := fl.Field()
		if field.Kind() != reflect.Slice || field.Type().Elem().Kind() != reflect.Uint8 {
			return false
		}
		raw := bytes.TrimSpace(field.Bytes())
		return len(raw) > 0 && raw[0] == '{' && json.Valid(raw)
	})
}
