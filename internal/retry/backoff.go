// Package retry runs fallible operations with exponential backoff.
package retry

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultAttempts     = 3
	DefaultInitialDelay = time.Second
)

// Config configures retry behavior. The delay after a failed attempt n
// (zero-based) is InitialDelay * 2^n.
type Config struct {
	Attempts     int
	InitialDelay time.Duration
	Logger       *zap.Logger
}

// DefaultConfig returns 3 attempts starting at one second.
func DefaultConfig() Config {
	return Config{Attempts: DefaultAttempts, InitialDelay: DefaultInitialDelay}
}

func (c Config) normalized() Config {
	if c.Attempts <= 0 {
		c.Attempts = DefaultAttempts
	}
	if c.InitialDelay < 0 {
		c.InitialDelay = 0
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// Backoff returns the delay slept after the given zero-based failed attempt.
func (c Config) Backoff(attempt int) time.Duration {
	return c.InitialDelay << uint(attempt)
}

// Do calls fn until it succeeds or the attempts are exhausted. Errors from
// every attempt but the last are swallowed; the last one is returned as is.
func Do[T any](ctx context.Context, cfg Config, operation string, fn func(ctx context.Context) (T, error)) (T, error) {
	cfg = cfg.normalized()
	var zero T
	var lastErr error

	for attempt := 0; attempt < cfg.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return zero, errors.Join(lastErr, err)
			}
			return zero, err
		}

		out, err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				cfg.Logger.Debug("retry succeeded",
					zap.String("operation", operation),
					zap.Int("attempt", attempt+1))
			}
			return out, nil
		}
		lastErr = err

		if attempt == cfg.Attempts-1 {
			break
		}

		delay := cfg.Backoff(attempt)
		cfg.Logger.Warn("retrying after failure",
			zap.String("operation", operation),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", cfg.Attempts),
			zap.Duration("delay", delay),
			zap.Error(err))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, errors.Join(lastErr, ctx.Err())
		case <-timer.C:
		}
	}
	return zero, lastErr
}
