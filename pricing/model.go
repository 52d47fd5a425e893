// Package pricing evaluates the linear house price model shipped with the
// service. The model file is produced offline; nothing here trains it.
package pricing

import (
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/floats"
	"gopkg.in/yaml.v3"

	"github.com/mkulina/housing-pricing/models"
)

// ErrOutOfRange is returned when an input falls outside the range the model
// was fitted on.
var ErrOutOfRange = errors.New("input out of range")

type Coefficients struct {
	SquareFootage float64 `yaml:"square_footage"`
	Bedrooms      float64 `yaml:"bedrooms"`
}

// Model is price = intercept + coefficients . (square_footage, bedrooms).
type Model struct {
	Version      string       `yaml:"version"`
	Intercept    float64      `yaml:"intercept"`
	Coefficients Coefficients `yaml:"coefficients"`
}

func LoadModel(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, eris.Errorf("pricing: model not found at %s", path)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "pricing: read model %s", path)
	}
	return ParseModel(data)
}

func ParseModel(data []byte) (*Model, error) {
	var m Model
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, eris.Wrap(err, "pricing: decode model")
	}
	for _, v := range []float64{m.Intercept, m.Coefficients.SquareFootage, m.Coefficients.Bedrooms} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, eris.New("pricing: model has non-finite parameters")
		}
	}
	return &m, nil
}

func (m *Model) weights() []float64 {
	return []float64{m.Coefficients.SquareFootage, m.Coefficients.Bedrooms}
}

// Predict returns the estimated price, never negative.
func (m *Model) Predict(squareFootage, bedrooms float64) (float64, error) {
	if err := CheckRange(squareFootage, bedrooms); err != nil {
		return 0, err
	}
	price := m.Intercept + floats.Dot(m.weights(), []float64{squareFootage, bedrooms})
	return math.Max(0, price), nil
}

func CheckRange(squareFootage, bedrooms float64) error {
	if squareFootage < models.MinSquareFootage || squareFootage > models.MaxSquareFootage {
		return fmt.Errorf("%w: square footage must be between %d and %d",
			ErrOutOfRange, models.MinSquareFootage, models.MaxSquareFootage)
	}
	if bedrooms < models.MinBedrooms || bedrooms > models.MaxBedrooms {
		return fmt.Errorf("%w: bedrooms must be between %d and %d",
			ErrOutOfRange, models.MinBedrooms, models.MaxBedrooms)
	}
	return nil
}
