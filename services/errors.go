package services

import (
	"errors"
	"fmt"
)

// ErrPredictionFailed matches every failure of Predict after validation.
// Callers only ever see this generic kind; the cause is for logs.
var ErrPredictionFailed = errors.New("prediction failed")

// EstimationFailure reports an estimator run that exited abnormally, could not
// start, or ran past its timeout.
type EstimationFailure struct {
	ExitCode int
	Stderr   string
	TimedOut bool
	Err      error
}

func (e *EstimationFailure) Error() string {
	switch {
	case e.TimedOut:
		return "estimator timed out"
	case e.ExitCode > 0:
		return fmt.Sprintf("estimator exited with status %d: %s", e.ExitCode, e.Stderr)
	case e.Err != nil:
		return fmt.Sprintf("estimator failed: %v", e.Err)
	}
	return "estimator failed"
}

func (e *EstimationFailure) Unwrap() error { return e.Err }

// EstimationParseError reports estimator output that is not a single
// finite, non-negative number.
type EstimationParseError struct {
	Output string
	Err    error
}

func (e *EstimationParseError) Error() string {
	return fmt.Sprintf("estimator output %q is not a price", e.Output)
}

func (e *EstimationParseError) Unwrap() error { return e.Err }

// predictionError carries the stage that failed and the underlying cause.
type predictionError struct {
	stage string
	err   error
}

func (e *predictionError) Error() string {
	return fmt.Sprintf("prediction failed at %s: %v", e.stage, e.err)
}

func (e *predictionError) Unwrap() error { return e.err }

func (e *predictionError) Is(target error) bool { return target == ErrPredictionFailed }
