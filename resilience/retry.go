package resilience

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/kbukum/dataflow/errors"
	"github.com/kbukum/dataflow/logger"
	"github.com/kbukum/dataflow/validation"
)

// RetryConfig configures retries of a stage function.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including the first).
	MaxAttempts int `yaml:"max_attempts" mapstructure:"max_attempts" validate:"gte=0,lte=100"`
	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration `yaml:"initial_backoff" mapstructure:"initial_backoff" validate:"gte=0"`
	// MaxBackoff caps the delay between retries.
	MaxBackoff time.Duration `yaml:"max_backoff" mapstructure:"max_backoff" validate:"gte=0"`
	// BackoffFactor is the multiplier for exponential backoff.
	BackoffFactor float64 `yaml:"backoff_factor" mapstructure:"backoff_factor" validate:"gte=0"`
	// Jitter adds randomness to backoff (0.0 to 1.0).
	Jitter float64 `yaml:"jitter" mapstructure:"jitter" validate:"gte=0,lte=1"`
	// RetryIf decides whether an error is worth another attempt.
	RetryIf func(error) bool `yaml:"-" mapstructure:"-"`
	// OnRetry is called before each retry.
	OnRetry func(attempt int, err error, backoff time.Duration) `yaml:"-" mapstructure:"-"`
}

// DefaultRetryConfig returns sensible defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		BackoffFactor:  2.0,
		Jitter:         0.1,
		RetryIf:        DefaultRetryIf,
	}
}

// ApplyDefaults fills zero values.
func (c *RetryConfig) ApplyDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 100 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 10 * time.Second
	}
	if c.BackoffFactor <= 0 {
		c.BackoffFactor = 2.0
	}
	if c.RetryIf == nil {
		c.RetryIf = DefaultRetryIf
	}
}

// Validate checks the configuration.
func (c *RetryConfig) Validate() error {
	return validation.Validate(c)
}

// DefaultRetryIf retries everything except cancellations and faults raised
// by the pipeline machinery, which another attempt cannot fix.
func DefaultRetryIf(err error) bool {
	if errors.IsCancellation(err) {
		return false
	}
	return !errors.IsFault(err)
}

// Retry calls fn until it succeeds, the error is not retryable, attempts run
// out or ctx is done. It returns the last error unchanged.
func Retry[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	cfg.ApplyDefaults()

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !cfg.RetryIf(err) || attempt == cfg.MaxAttempts {
			break
		}

		backoff := calculateBackoff(attempt, cfg)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err, backoff)
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}

	return zero, lastErr
}

// Stage wraps a transform so each item is retried under cfg. The result
// plugs into pipeline.Map.
func Stage[I, O any](cfg RetryConfig, fn func(ctx context.Context, item I) (O, error)) func(context.Context, I) (O, error) {
	return func(ctx context.Context, item I) (O, error) {
		return Retry(ctx, cfg, func(ctx context.Context) (O, error) {
			return fn(ctx, item)
		})
	}
}

// Action wraps a terminal action so each item is retried under cfg. The
// result plugs into Builder.Build.
func Action[T any](cfg RetryConfig, fn func(ctx context.Context, item T) error) func(context.Context, T) error {
	return func(ctx context.Context, item T) error {
		_, err := Retry(ctx, cfg, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, fn(ctx, item)
		})
		return err
	}
}

// LogRetries returns an OnRetry hook logging every retry on log.
func LogRetries(log *logger.Logger, stage string) func(int, error, time.Duration) {
	return func(attempt int, err error, backoff time.Duration) {
		log.WithError(err).Warn("retrying stage function", logger.Fields(
			logger.FieldStage, stage,
			"attempt", attempt,
			"backoff_ms", backoff.Milliseconds(),
		))
	}
}

// calculateBackoff calculates the backoff duration for an attempt.
func calculateBackoff(attempt int, cfg RetryConfig) time.Duration {
	// initial * factor^(attempt-1)
	backoff := float64(cfg.InitialBackoff) * math.Pow(cfg.BackoffFactor, float64(attempt-1))

	if cfg.Jitter > 0 {
		spread := backoff * cfg.Jitter
		backoff += (rand.Float64()*2 - 1) * spread
	}
	if backoff > float64(cfg.MaxBackoff) {
		backoff = float64(cfg.MaxBackoff)
	}
	if backoff < 0 {
		backoff = float64(cfg.InitialBackoff)
	}
	return time.Duration(backoff)
}
