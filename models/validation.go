package models

import (
	"fmt"
	"strings"
)

const (
	FieldSquareFootage = "square_footage"
	FieldBedrooms      = "bedrooms"
)

type FieldError struct {
	Field   string
	Message string
}

// ValidationErrors lists every failed field check in request order.
type ValidationErrors []FieldError

func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return "validation passed"
	}
	msg := v[0].Message
	if n := len(v) - 1; n == 1 {
		msg += " (and 1 more error)"
	} else if n > 1 {
		msg += fmt.Sprintf(" (and %d more errors)", n)
	}
	return msg
}

// Fields returns the distinct failing field names in the order they failed.
func (v ValidationErrors) Fields() []string {
	seen := make(map[string]bool, len(v))
	var fields []string
	for _, fe := range v {
		if !seen[fe.Field] {
			seen[fe.Field] = true
			fields = append(fields, fe.Field)
		}
	}
	return fields
}

func (v ValidationErrors) ByField() map[string][]string {
	out := make(map[string][]string, len(v))
	for _, fe := range v {
		out[fe.Field] = append(out[fe.Field], fe.Message)
	}
	return out
}

func (v ValidationErrors) Has(field string) bool {
	for _, fe := range v {
		if fe.Field == field {
			return true
		}
	}
	return false
}

// ValidateInput checks both request fields against their accepted ranges and
// returns nil when they are valid.
func ValidateInput(squareFootage, bedrooms int) ValidationErrors {
	var errs ValidationErrors
	if fe, ok := checkRange(FieldSquareFootage, squareFootage, MinSquareFootage, MaxSquareFootage); !ok {
		errs = append(errs, fe)
	}
	if fe, ok := checkRange(FieldBedrooms, bedrooms, MinBedrooms, MaxBedrooms); !ok {
		errs = append(errs, fe)
	}
	return errs
}

func checkRange(field string, value, min, max int) (FieldError, bool) {
	switch {
	case value < min:
		return MinError(field, min), false
	case value > max:
		return MaxError(field, max), false
	}
	return FieldError{}, true
}

func RequiredError(field string) FieldError {
	return FieldError{Field: field, Message: fmt.Sprintf("The %s field is required.", label(field))}
}

func IntegerError(field string) FieldError {
	return FieldError{Field: field, Message: fmt.Sprintf("The %s field must be an integer.", label(field))}
}

func MinError(field string, min int) FieldError {
	return FieldError{Field: field, Message: fmt.Sprintf("The %s field must be at least %d.", label(field), min)}
}

func MaxError(field string, max int) FieldError {
	return FieldError{Field: field, Message: fmt.Sprintf("The %s field must not be greater than %d.", label(field), max)}
}

func label(field string) string {
	return strings.ReplaceAll(field, "_", " ")
}
