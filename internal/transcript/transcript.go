// Package transcript obtains the spoken text of a media source by trying an
// ordered list of strategies until one yields a non-empty transcript.
package transcript

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/psantana5/autofi/pkg/logging"
	"github.com/psantana5/autofi/pkg/models"
)

// ErrUnavailable is returned when every strategy for a source failed
var ErrUnavailable = errors.New("transcript unavailable")

// Strategy is one way of obtaining a transcript
type Strategy interface {
	Name() string
	Fetch(ctx context.Context, src models.Source) (string, error)
}

// Step is a strategy with its own time budget
type Step struct {
	Strategy Strategy
	Timeout  time.Duration
}

// Recorder receives one outcome per strategy attempt
type Recorder interface {
	TranscriptAttempt(strategy, outcome string)
}

// Attempt outcomes
const (
	OutcomeSuccess = "success"
	OutcomeEmpty   = "empty"
	OutcomeError   = "error"
	OutcomeTimeout = "timeout"
	OutcomePanic   = "panic"
)

// Acquirer runs the strategies configured for each source kind
type Acquirer struct {
	steps    map[models.SourceKind][]Step
	recorder Recorder
	logger   *logging.Logger
}

// NewAcquirer creates an acquirer with ordered steps per source kind
func NewAcquirer(youtube, upload []Step, recorder Recorder, logger *logging.Logger) *Acquirer {
	return &Acquirer{
		steps: map[models.SourceKind][]Step{
			models.SourceYouTube: youtube,
			models.SourceUpload:  upload,
		},
		recorder: recorder,
		logger:   logger,
	}
}

// Acquire returns the first non-empty transcript and the name of the
// strategy that produced it. Strategy errors, timeouts and panics move on to
// the next strategy; only cancellation of ctx stops the chain early.
func (a *Acquirer) Acquire(ctx context.Context, src models.Source) (string, string, error) {
	steps := a.steps[src.Kind]
	if len(steps) == 0 {
		return "", "", fmt.Errorf("%w: no strategy for %s sources", ErrUnavailable, src.Kind)
	}

	var errs []error
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return "", "", err
		}

		name := step.Strategy.Name()
		start := time.Now()
		text, outcome, err := a.run(ctx, step, src)
		a.record(name, outcome)

		fields := logging.Fields{
			"strategy": name,
			"outcome":  outcome,
			"duration": time.Since(start).String(),
		}
		if outcome == OutcomeSuccess {
			a.logger.Info("transcript acquired", fields)
			return text, name, nil
		}
		if ctx.Err() != nil {
			return "", "", ctx.Err()
		}

		if err != nil {
			fields["error"] = err
		}
		a.logger.Warn("transcript strategy failed", fields)
		errs = append(errs, fmt.Errorf("%s: %s", name, outcomeError(outcome, err)))
	}
	return "", "", fmt.Errorf("%w: %v", ErrUnavailable, errors.Join(errs...))
}

type result struct {
	text string
	err  error
	pan  interface{}
}

func (a *Acquirer) run(ctx context.Context, step Step, src models.Source) (string, string, error) {
	runCtx := ctx
	if step.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, step.Timeout)
		defer cancel()
	}

	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{pan: r}
			}
		}()
		text, err := step.Strategy.Fetch(runCtx, src)
		done <- result{text: text, err: err}
	}()

	select {
	case <-runCtx.Done():
		if ctx.Err() == nil {
			return "", OutcomeTimeout, fmt.Errorf("timed out after %s", step.Timeout)
		}
		return "", OutcomeError, ctx.Err()
	case r := <-done:
		switch {
		case r.pan != nil:
			return "", OutcomePanic, fmt.Errorf("strategy panicked: %v", r.pan)
		case r.err != nil:
			if errors.Is(r.err, context.DeadlineExceeded) && ctx.Err() == nil {
				return "", OutcomeTimeout, r.err
			}
			return "", OutcomeError, r.err
		}
		text := strings.TrimSpace(r.text)
		if text == "" {
			return "", OutcomeEmpty, nil
		}
		return text, OutcomeSuccess, nil
	}
}

func (a *Acquirer) record(strategy, outcome string) {
	if a.recorder != nil {
		a.recorder.TranscriptAttempt(strategy, outcome)
	}
}

func outcomeError(outcome string, err error) string {
	if err != nil {
		return err.Error()
	}
	return outcome
}
