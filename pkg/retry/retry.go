// Package retry wraps an operation with bounded, sequential retries and
// escalating delays between attempts.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for retry operations.
var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dashboard_retries_total",
		Help: "Total number of retry attempts by operation",
	}, []string{"operation"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dashboard_retry_backoff_seconds",
		Help:    "Backoff duration before a retry by operation",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"operation"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dashboard_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by operation",
	}, []string{"operation"})
)

// ErrInvalidConfig is returned when the retry configuration cannot run.
var ErrInvalidConfig = errors.New("invalid retry config")

// Mode selects how the delay grows between attempts.
type Mode string

const (
	// Linear waits BaseDelay x completed attempts.
	Linear Mode = "linear"

	// Exponential waits BaseDelay x BackoffFactor^(completed-1).
	Exponential Mode = "exponential"
)

// Config holds the configuration for retry logic.
type Config struct {
	// MaxAttempts is the total number of attempts (including the first).
	MaxAttempts int

	// BaseDelay is the unit delay.
	BaseDelay time.Duration

	// BackoffFactor is the growth factor in Exponential mode.
	BackoffFactor float64

	// MaxDelay caps a single delay when > 0.
	MaxDelay time.Duration

	// Mode defaults to Linear.
	Mode Mode

	// Retryable decides whether err warrants another attempt.
	// Defaults to DefaultRetryable.
	Retryable func(error) bool

	// Sleep waits d or until ctx is done. Defaults to a timer.
	Sleep func(ctx context.Context, d time.Duration) error

	// Operation labels metrics and logs.
	Operation string

	// Logger overrides the component logger.
	Logger *zerolog.Logger
}

// DefaultConfig returns the default retry configuration.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:   3,
		BaseDelay:     1 * time.Second,
		BackoffFactor: 2.0,
		MaxDelay:      30 * time.Second,
		Mode:          Linear,
	}
}

// Delay returns the wait after completed attempts (completed >= 1).
func (c Config) Delay(completed int) time.Duration {
	if completed < 1 {
		return 0
	}

	// Computed in float space so large attempt counts clamp instead of
	// overflowing time.Duration
	var d float64
	switch c.Mode {
	case Exponential:
		factor := c.BackoffFactor
		if factor < 1 {
			factor = 1
		}
		d = float64(c.BaseDelay) * math.Pow(factor, float64(completed-1))
	default:
		d = float64(c.BaseDelay) * float64(completed)
	}

	if c.MaxDelay > 0 && d >= float64(c.MaxDelay) {
		return c.MaxDelay
	}
	if d >= float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

type permanent interface {
	Permanent() bool
}

// DefaultRetryable retries everything except errors that report
// Permanent() == true somewhere in their chain.
func DefaultRetryable(err error) bool {
	var p permanent
	if errors.As(err, &p) && p.Permanent() {
		return false
	}
	return true
}

// Do invokes op until it succeeds, returns a non-retryable error, or
// MaxAttempts is reached. Attempts are strictly sequential. On exhaustion
// the last error is returned unchanged.
func Do(ctx context.Context, cfg Config, op func(ctx context.Context) error) error {
	if op == nil {
		return fmt.Errorf("%w: operation is nil", ErrInvalidConfig)
	}
	_, err := DoValue(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// DoValue is Do for operations producing a value.
func DoValue[T any](ctx context.Context, cfg Config, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	if cfg.MaxAttempts < 1 {
		return zero, fmt.Errorf("%w: max attempts must be >= 1 (got %d)", ErrInvalidConfig, cfg.MaxAttempts)
	}
	if op == nil {
		return zero, fmt.Errorf("%w: operation is nil", ErrInvalidConfig)
	}
	if cfg.Retryable == nil {
		cfg.Retryable = DefaultRetryable
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleep
	}
	if cfg.Operation == "" {
		cfg.Operation = "default"
	}
	logger := log.With().Str("component", "retry").Logger()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		v, err := op(ctx)
		if err == nil {
			if attempt > 1 {
				logger.Info().
					Str("operation", cfg.Operation).
					Int("attempt", attempt).
					Msg("Operation succeeded after retry")
			}
			return v, nil
		}

		lastErr = err

		// A cancelled caller ends the loop; per-attempt timeouts do not
		if ctx.Err() != nil || !cfg.Retryable(err) {
			return zero, lastErr
		}

		if attempt >= cfg.MaxAttempts {
			break
		}

		delay := cfg.Delay(attempt)
		retriesTotal.WithLabelValues(cfg.Operation).Inc()
		retryBackoffSeconds.WithLabelValues(cfg.Operation).Observe(delay.Seconds())

		logger.Debug().
			Err(err).
			Str("operation", cfg.Operation).
			Int("attempt", attempt).
			Dur("backoff", delay).
			Msg("Retrying operation after backoff")

		if err := cfg.Sleep(ctx, delay); err != nil {
			logger.Warn().
				Str("operation", cfg.Operation).
				Int("attempt", attempt).
				Msg("Context cancelled during retry backoff")
			return zero, err
		}
	}

	retryExhaustedTotal.WithLabelValues(cfg.Operation).Inc()
	logger.Warn().
		Err(lastErr).
		Str("operation", cfg.Operation).
		Int("max_attempts", cfg.MaxAttempts).
		Msg("Retry attempts exhausted")

	return zero, lastErr
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
