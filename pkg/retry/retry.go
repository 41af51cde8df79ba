package retry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config bounds a retried call
type Config struct {
	Attempts       int           // total calls, including the first
	InitialBackoff time.Duration // wait before the second call
	MaxBackoff     time.Duration // 0 means uncapped
	Multiplier     float64

	// OnRetry, when set, is called after a failed attempt that will be retried
	OnRetry func(attempt int, err error, wait time.Duration)
}

// DefaultConfig is used for provider calls that don't configure their own policy
func DefaultConfig() Config {
	return Config{
		Attempts:       3,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
	}
}

func (c Config) next(wait time.Duration) time.Duration {
	m := c.Multiplier
	if m < 1 {
		m = 1
	}
	wait = time.Duration(float64(wait) * m)
	if c.MaxBackoff > 0 && wait > c.MaxBackoff {
		wait = c.MaxBackoff
	}
	return wait
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so Do returns it without further attempts
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Transient returns err unchanged when IsRetryable reports it as transient and
// wraps it with Permanent otherwise
func Transient(err error) error {
	if err == nil || IsRetryable(err) {
		return err
	}
	return Permanent(err)
}

// Do calls fn until it succeeds, returns a Permanent error or runs out of
// attempts, sleeping with exponential backoff in between
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	return DoWithClock(ctx, SystemClock{}, cfg, fn)
}

// DoWithClock is Do with the backoff sleeps taken from clock
func DoWithClock(ctx context.Context, clock Clock, cfg Config, fn func(ctx context.Context) error) error {
	attempts := max(cfg.Attempts, 1)
	wait := cfg.InitialBackoff

	var lastErr error
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("retry cancelled: %w", err)
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		lastErr = err

		if attempt == attempts {
			break
		}
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err, wait)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-clock.After(wait):
		}
		wait = cfg.next(wait)
	}

	return fmt.Errorf("gave up after %d attempts: %w", attempts, lastErr)
}

// transientMarkers are substrings of provider and transport errors worth
// another attempt. The Gemini and OpenAI clients surface HTTP status codes
// in their messages; the transcript service does the same.
var transientMarkers = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"timeout",
	"temporary failure",
	"unexpected eof",
	"resource exhausted",
	"rate limit",
	"overloaded",
	"unavailable",
	"429",
	"500",
	"502",
	"503",
	"504",
}

// IsRetryable reports whether err looks transient. Caller cancellation and
// errors wrapped with Permanent never are.
func IsRetryable(err error) bool {
	var perm *permanentError
	switch {
	case err == nil, errors.Is(err, context.Canceled), errors.As(err, &perm):
		return false
	case errors.Is(err, context.DeadlineExceeded):
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
