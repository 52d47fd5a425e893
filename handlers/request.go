package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/mkulina/housing-pricing/models"
)

// PredictRequest is the validated body of POST /predict.
type PredictRequest struct {
	SquareFootage *int `json:"square_footage" validate:"required,min=100,max=10000"`
	Bedrooms      *int `json:"bedrooms" validate:"required,min=1,max=10"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

var requestFields = []string{models.FieldSquareFootage, models.FieldBedrooms}

// ParsePredictRequest decodes and validates a prediction body. Every failing
// field is reported; a body that is not a JSON object counts as both fields
// missing. Integers may arrive as JSON numbers or numeric strings.
func ParsePredictRequest(body io.Reader) (*PredictRequest, models.ValidationErrors) {
	raw := map[string]json.RawMessage{}
	if data, err := io.ReadAll(body); err == nil && len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &raw); err != nil {
			raw = map[string]json.RawMessage{}
		}
	}

	var req PredictRequest
	var errs models.ValidationErrors
	typeFailed := map[string]bool{}
	for _, field := range requestFields {
		value, ok := raw[field]
		if !ok || isNull(value) {
			continue
		}
		n, err := parseInteger(value)
		if err != nil {
			errs = append(errs, models.IntegerError(field))
			typeFailed[field] = true
			continue
		}
		switch field {
		case models.FieldSquareFootage:
			req.SquareFootage = &n
		case models.FieldBedrooms:
			req.Bedrooms = &n
		}
	}

	if err := validate.Struct(&req); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return nil, append(errs, models.RequiredError(models.FieldSquareFootage))
		}
		for _, fe := range verrs {
			if typeFailed[fe.Field()] {
				continue
			}
			errs = append(errs, fieldError(fe))
		}
	}

	if len(errs) > 0 {
		return nil, ordered(errs)
	}
	return &req, nil
}

func fieldError(fe validator.FieldError) models.FieldError {
	param, _ := strconv.Atoi(fe.Param())
	switch fe.Tag() {
	case "min":
		return models.MinError(fe.Field(), param)
	case "max":
		return models.MaxError(fe.Field(), param)
	default:
		return models.RequiredError(fe.Field())
	}
}

// ordered sorts errors into request field order.
func ordered(errs models.ValidationErrors) models.ValidationErrors {
	out := make(models.ValidationErrors, 0, len(errs))
	for _, field := range requestFields {
		for _, fe := range errs {
			if fe.Field == field {
				out = append(out, fe)
			}
		}
	}
	return out
}

func isNull(value json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(value), []byte("null"))
}

func parseInteger(value json.RawMessage) (int, error) {
	var n int
	if err := json.Unmarshal(value, &n); err == nil {
		return n, nil
	}
	var s string
	if err := json.Unmarshal(value, &s); err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(s))
}
