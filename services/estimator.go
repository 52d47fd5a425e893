package services

import (
	"bytes"
	"context"
	"errors"
	"math"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/mkulina/housing-pricing/metrics"
	"github.com/mkulina/housing-pricing/pricing"
)

// Estimator produces a price for already validated inputs. Implementations
// make exactly one attempt per call.
type Estimator interface {
	Estimate(ctx context.Context, squareFootage, bedrooms int) (float64, error)
}

// ProcessEstimator runs an external program with the two inputs appended as
// positional arguments and reads the price from its stdout.
type ProcessEstimator struct {
	argv    []string
	timeout time.Duration
	slots   *semaphore.Weighted
	logger  *zap.Logger
}

// NewProcessEstimator builds an estimator for argv (program plus leading
// arguments). At most maxConcurrent processes run at once.
func NewProcessEstimator(argv []string, timeout time.Duration, maxConcurrent int, logger *zap.Logger) *ProcessEstimator {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &ProcessEstimator{
		argv:    append([]string(nil), argv...),
		timeout: timeout,
		slots:   semaphore.NewWeighted(int64(maxConcurrent)),
		logger:  logger,
	}
}

func (e *ProcessEstimator) Estimate(ctx context.Context, squareFootage, bedrooms int) (float64, error) {
	if len(e.argv) == 0 {
		return 0, &EstimationFailure{Err: errors.New("no estimator command configured")}
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	if err := e.slots.Acquire(ctx, 1); err != nil {
		return 0, &EstimationFailure{TimedOut: errors.Is(err, context.DeadlineExceeded), Err: err}
	}
	defer e.slots.Release(1)

	start := time.Now()
	defer func() {
		metrics.EstimatorDuration.Observe(time.Since(start).Seconds())
	}()

	args := append(e.argv[1:len(e.argv):len(e.argv)],
		strconv.Itoa(squareFootage),
		strconv.Itoa(bedrooms),
	)
	cmd := exec.CommandContext(ctx, e.argv[0], args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		// Negative pid signals the whole process group.
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return 0, &EstimationFailure{
			TimedOut: errors.Is(ctxErr, context.DeadlineExceeded),
			Stderr:   strings.TrimSpace(stderr.String()),
			Err:      ctxErr,
		}
	}
	if err != nil {
		failure := &EstimationFailure{Stderr: strings.TrimSpace(stderr.String()), Err: err}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			failure.ExitCode = exitErr.ExitCode()
		}
		return 0, failure
	}

	price, err := ParsePrice(stdout.String())
	if err != nil {
		return 0, err
	}
	e.logger.Debug("estimator completed",
		zap.Int("square_footage", squareFootage),
		zap.Int("bedrooms", bedrooms),
		zap.Float64("price", price),
		zap.Duration("duration", time.Since(start)),
	)
	return price, nil
}

// decimalPrice is an unsigned decimal number with an optional exponent.
var decimalPrice = regexp.MustCompile(`^(?:[0-9]+(?:\.[0-9]*)?|\.[0-9]+)(?:[eE][+-]?[0-9]+)?$`)

// ParsePrice converts trimmed estimator output into a price. Only plain
// unsigned decimals are accepted.
func ParsePrice(output string) (float64, error) {
	trimmed := strings.TrimSpace(output)
	if trimmed == "" {
		return 0, &EstimationParseError{Output: output, Err: errors.New("empty output")}
	}
	if !decimalPrice.MatchString(trimmed) {
		return 0, &EstimationParseError{Output: output, Err: errors.New("not an unsigned decimal number")}
	}
	price, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return 0, &EstimationParseError{Output: output, Err: err}
	}
	if math.IsInf(price, 0) {
		return 0, &EstimationParseError{Output: output, Err: errors.New("non-finite value")}
	}
	return price, nil
}

// ModelEstimator evaluates the pricing model in process.
type ModelEstimator struct {
	model *pricing.Model
}

func NewModelEstimator(model *pricing.Model) *ModelEstimator {
	return &ModelEstimator{model: model}
}

func (e *ModelEstimator) Estimate(ctx context.Context, squareFootage, bedrooms int) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, &EstimationFailure{TimedOut: errors.Is(err, context.DeadlineExceeded), Err: err}
	}

	start := time.Now()
	price, err := e.model.Predict(float64(squareFootage), float64(bedrooms))
	metrics.EstimatorDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return 0, &EstimationFailure{Stderr: err.Error(), Err: err}
	}
	return price, nil
}
