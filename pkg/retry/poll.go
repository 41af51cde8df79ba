package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrPollTimeout is returned when Poll gives up before the condition is met
var ErrPollTimeout = errors.New("poll timed out")

// Clock abstracts time so long waits can be driven from tests
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// SystemClock is the wall clock
type SystemClock struct{}

func (SystemClock) Now() time.Time                         { return time.Now() }
func (SystemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// PollConfig bounds a polling loop
type PollConfig struct {
	Interval time.Duration
	Timeout  time.Duration
}

// Poll calls check every Interval until it reports done, returns an error,
// or Timeout elapses on clock. The first check runs immediately.
func Poll(ctx context.Context, clock Clock, cfg PollConfig, check func(ctx context.Context) (bool, error)) error {
	if clock == nil {
		clock = SystemClock{}
	}
	deadline := clock.Now().Add(cfg.Timeout)

	for {
		done, err := check(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		if !clock.Now().Before(deadline) {
			return fmt.Errorf("%w after %s", ErrPollTimeout, cfg.Timeout)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("poll cancelled: %w", ctx.Err())
		case <-clock.After(cfg.Interval):
		}
	}
}
