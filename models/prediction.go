package models

import "time"

// Accepted input ranges for a prediction request.
const (
	MinSquareFootage = 100
	MaxSquareFootage = 10000
	MinBedrooms      = 1
	MaxBedrooms      = 10
)

// MaxHistoryLimit caps how many predictions a history listing returns.
const MaxHistoryLimit = 20

// Prediction is a stored price estimate. Values are never mutated after the
// store hands them out.
type Prediction struct {
	ID             int64     `json:"id"`
	SquareFootage  int       `json:"square_footage"`
	Bedrooms       int       `json:"bedrooms"`
	PredictedPrice float64   `json:"predicted_price"`
	CreatedAt      time.Time `json:"created_at"`
}
