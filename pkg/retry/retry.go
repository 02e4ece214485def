// Package retry runs an operation again with exponential backoff while it
// fails with a retryable error.
package retry

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/c360/stagegraph/errors"
)

// Config controls the backoff.
type Config struct {
	MaxAttempts  int           // 0 or less runs the operation once
	InitialDelay time.Duration // delay after the first failure
	MaxDelay     time.Duration // upper bound for any delay
	Multiplier   float64       // growth factor per attempt
	AddJitter    bool          // add up to 25% to each delay

	// OnRetry, when set, is called before each backoff sleep.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultConfig is three attempts between 100ms and 5s.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		AddJitter:    true,
	}
}

// Startup is for dependencies that may come up shortly after the process,
// such as the NATS server: ten attempts between 50ms and 1s.
func Startup() Config {
	return Config{
		MaxAttempts:  10,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   1.5,
		AddJitter:    true,
	}
}

// Retryable reports whether err is worth another attempt. Errors classified
// invalid or fatal are not; everything else, including unclassified errors,
// is.
func Retryable(err error) bool {
	return err != nil && !errors.IsInvalid(err) && !errors.IsFatal(err)
}

func (c Config) normalize() (Config, error) {
	switch {
	case c.InitialDelay < 0:
		return c, fmt.Errorf("retry: InitialDelay cannot be negative: %w", errors.ErrInvalidConfig)
	case c.MaxDelay < 0:
		return c, fmt.Errorf("retry: MaxDelay cannot be negative: %w", errors.ErrInvalidConfig)
	case c.Multiplier < 0:
		return c, fmt.Errorf("retry: Multiplier cannot be negative: %w", errors.ErrInvalidConfig)
	}

	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 1
	}
	if c.InitialDelay == 0 {
		c.InitialDelay = 100 * time.Millisecond
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = 5 * time.Second
	}
	if c.Multiplier == 0 {
		c.Multiplier = 2.0
	}
	c.Multiplier = min(c.Multiplier, 1000)

	if c.MaxDelay < c.InitialDelay {
		return c, fmt.Errorf("retry: MaxDelay must be >= InitialDelay: %w", errors.ErrInvalidConfig)
	}
	return c, nil
}

// Do calls fn until it succeeds, returns an error that is not Retryable, the
// attempts run out or ctx ends.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	cfg, err := cfg.normalize()
	if err != nil {
		return errors.WrapInvalid(err, "retry", "Do", "check config")
	}

	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !Retryable(err) {
			return err
		}
		if ctx.Err() != nil {
			return fmt.Errorf("retry cancelled before attempt %d: %w", attempt+1, ctx.Err())
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		sleep := delay
		if cfg.AddJitter && delay >= 4 {
			sleep += time.Duration(rand.Int63n(int64(delay / 4)))
		}
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err, sleep)
		}

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled during backoff for attempt %d: %w", attempt+1, ctx.Err())
		case <-timer.C:
		}

		next := float64(delay) * cfg.Multiplier
		if next > float64(cfg.MaxDelay) {
			delay = cfg.MaxDelay
		} else {
			delay = time.Duration(next)
		}
	}

	return fmt.Errorf("retry failed after %d attempts: %w", cfg.MaxAttempts, lastErr)
}

// DoWithResult is Do for operations that produce a value.
func DoWithResult[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	var result T
	err := Do(ctx, cfg, func() error {
		var innerErr error
		result, innerErr = fn()
		return innerErr
	})
	return result, err
}
