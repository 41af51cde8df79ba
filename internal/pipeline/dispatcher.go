package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/psantana5/autofi/pkg/logging"
)

// DefaultConcurrency bounds simultaneous pipeline runs
const DefaultConcurrency = 4

// ErrDispatcherClosed is returned by Dispatch after Shutdown
var ErrDispatcherClosed = errors.New("dispatcher is shut down")

// RunFunc processes one job
type RunFunc func(ctx context.Context, jobID string) error

// Dispatcher hands jobs to background runs. Submission returns at once; at
// most the configured number of runs execute concurrently and the rest wait
// for a slot.
type Dispatcher struct {
	run    RunFunc
	sem    *semaphore.Weighted
	logger *logging.Logger

	base    context.Context
	stopAll context.CancelCauseFunc
	mu      sync.Mutex
	cancels map[string]context.CancelCauseFunc
	closed  bool
	wg      sync.WaitGroup
}

// NewDispatcher creates a dispatcher running up to concurrency jobs at once
func NewDispatcher(run RunFunc, concurrency int, logger *logging.Logger) *Dispatcher {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if logger == nil {
		logger = logging.Nop()
	}
	base, stopAll := context.WithCancelCause(context.Background())
	return &Dispatcher{
		run:     run,
		sem:     semaphore.NewWeighted(int64(concurrency)),
		logger:  logger,
		base:    base,
		stopAll: stopAll,
		cancels: make(map[string]context.CancelCauseFunc),
	}
}

// Dispatch schedules jobID. A job that is already scheduled is not
// scheduled twice.
func (d *Dispatcher) Dispatch(jobID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrDispatcherClosed
	}
	if _, ok := d.cancels[jobID]; ok {
		return nil
	}

	ctx, cancel := context.WithCancelCause(d.base)
	d.cancels[jobID] = cancel
	d.wg.Add(1)

	go func() {
		defer d.wg.Done()
		defer d.forget(jobID)

		// a job canceled while waiting still runs so it records the cancellation
		if err := d.sem.Acquire(ctx, 1); err == nil {
			defer d.sem.Release(1)
		}

		if err := d.run(ctx, jobID); err != nil {
			d.logger.Error("pipeline run failed", logging.Fields{"job_id": jobID, "error": err})
		}
	}()
	return nil
}

func (d *Dispatcher) forget(jobID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cancel, ok := d.cancels[jobID]; ok {
		cancel(nil)
		delete(d.cancels, jobID)
	}
}

// Cancel asks the run for jobID to stop. It reports whether the job was
// scheduled on this dispatcher.
func (d *Dispatcher) Cancel(jobID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	cancel, ok := d.cancels[jobID]
	if ok {
		cancel(ErrCanceled)
	}
	return ok
}

// Active returns the number of scheduled runs, waiting or executing
func (d *Dispatcher) Active() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.cancels)
}

// Shutdown stops accepting jobs and waits for scheduled runs. When ctx
// expires first, remaining runs are interrupted and left for recovery.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.stopAll(nil)
		return nil
	case <-ctx.Done():
		d.logger.Warn("interrupting unfinished pipeline runs", logging.Fields{"active": d.Active()})
		d.stopAll(ErrShuttingDown)
		select {
		case <-done:
		case <-time.After(5 * time.Second):
		}
		return ctx.Err()
	}
}
