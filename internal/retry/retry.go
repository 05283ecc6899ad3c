// internal/retry/retry.go
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/avantis-bot/internal/venue"
)

// Config bounds one retried operation.
type Config struct {
	MaxAttempts    int           // total attempts, including the first
	BaseDelay      time.Duration // first backoff interval
	MaxDelay       time.Duration // backoff ceiling
	AttemptTimeout time.Duration // per-attempt context deadline
}

const (
	DefaultMaxAttempts    = 3
	DefaultBaseDelay      = 1 * time.Second
	DefaultMaxDelay       = 30 * time.Second
	DefaultAttemptTimeout = 10 * time.Second
)

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = DefaultMaxDelay
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = DefaultAttemptTimeout
	}
	return c
}

// Executor runs venue calls with bounded exponential backoff. Only
// classified-transient errors are retried; validation, insufficient-funds
// and fatal errors fail fast so a rejected request never hits the venue
// twice.
type Executor struct {
	cfg    Config
	logger *zap.Logger
}

// NewExecutor builds an Executor, filling unset config fields with
// defaults.
func NewExecutor(cfg Config, logger *zap.Logger) *Executor {
	return &Executor{
		cfg:    cfg.withDefaults(),
		logger: logger.Named("retry"),
	}
}

// Config returns the effective configuration.
func (e *Executor) Config() Config {
	return e.cfg
}

// Do executes fn under the executor's retry policy. Each attempt gets its
// own deadline derived from ctx; delays grow as baseDelay*2^attempt with
// jitter, capped at maxDelay. The last error is returned wrapped once all
// attempts are spent.
func Do[T any](ctx context.Context, e *Executor, op string, fn func(context.Context) (T, error)) (T, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = e.cfg.BaseDelay
	policy.MaxInterval = e.cfg.MaxDelay
	policy.Multiplier = 2

	attempts := 0
	operation := func() (T, error) {
		attempts++
		attemptCtx, cancel := context.WithTimeout(ctx, e.cfg.AttemptTimeout)
		defer cancel()

		out, err := fn(attemptCtx)
		if err == nil {
			return out, nil
		}
		if !venue.IsTransient(err) {
			return out, backoff.Permanent(err)
		}
		return out, err
	}

	notify := func(err error, delay time.Duration) {
		e.logger.Warn("Retrying after transient error",
			zap.String("op", op),
			zap.Int("attempt", attempts),
			zap.Duration("backoff", delay),
			zap.Error(err))
	}

	out, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(e.cfg.MaxAttempts)),
		backoff.WithNotify(notify))
	if err != nil {
		// Fail-fast errors surface as-is; only exhausted transients get
		// the attempt count.
		if !venue.IsTransient(err) {
			return out, err
		}
		return out, fmt.Errorf("%s failed after %d attempt(s): %w", op, attempts, err)
	}
	return out, nil
}
