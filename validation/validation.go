// Package validation bridges schema-less JSON payloads to typed, validated
// values. A route may register a schema (a struct prototype carrying
// `validate` tags); dispatch decodes the incoming data into a fresh
// instance of that type and validates it before the handler runs.
package validation

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validator is the contract the dispatch pipeline consumes. A nil error
// map means the value passed.
type Validator interface {
	Validate(v any) map[string]string
}

// StructValidator is the default Validator, built on go-playground's
// tag-driven struct validation.
type StructValidator struct {
	v *validator.Validate
}

// NewStruct returns a StructValidator with JSON field names reported in
// error maps instead of Go field names.
func NewStruct() *StructValidator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
	return &StructValidator{v: v}
}

// Validate checks v and returns a field→message map of failures, or nil.
func (s *StructValidator) Validate(v any) map[string]string {
	err := s.v.Struct(v)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return map[string]string{"_": err.Error()}
	}
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		out[fe.Field()] = failureMessage(fe)
	}
	return out
}

func failureMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "this field is required"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "email":
		return "must be a valid email address"
	default:
		return fmt.Sprintf("failed %q validation", fe.Tag())
	}
}

// DecodeInto builds a new instance of schema's type and fills it from
// data via a JSON round-trip, returning a pointer to the typed value.
// Unknown fields in data are rejected.
func DecodeInto(schema any, data any) (any, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("validation: payload not encodable: %w", err)
	}

	t := reflect.TypeOf(schema)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	target := reflect.New(t).Interface()

	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		return nil, fmt.Errorf("validation: payload does not match schema: %w", err)
	}
	return target, nil
}
