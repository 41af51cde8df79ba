// Package pipeline drives a job through transcription, keyword extraction,
// content generation and scoring, persisting the record at every stage.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/psantana5/autofi/internal/analytics"
	"github.com/psantana5/autofi/internal/content"
	"github.com/psantana5/autofi/internal/transcript"
	"github.com/psantana5/autofi/pkg/logging"
	"github.com/psantana5/autofi/pkg/metrics"
	"github.com/psantana5/autofi/pkg/models"
	"github.com/psantana5/autofi/pkg/store"
	"github.com/psantana5/autofi/pkg/tracing"
)

// Terminal error messages
const (
	MsgTranscriptUnavailable = "transcript unavailable"
	MsgCanceled              = "processing canceled"
)

var (
	// ErrCanceled is the cancellation cause for a user-requested cancel
	ErrCanceled = errors.New("job canceled")
	// ErrShuttingDown is the cancellation cause when the process stops; the
	// job is left in place for recovery
	ErrShuttingDown = errors.New("service shutting down")
)

// TranscriptSource obtains transcripts
type TranscriptSource interface {
	Acquire(ctx context.Context, src models.Source) (string, string, error)
}

// KeywordExtractor extracts topical and SEO keywords
type KeywordExtractor interface {
	ExtractKeywords(ctx context.Context, transcript string) ([]string, []string, error)
}

// ContentGenerator writes titles, descriptions and tags
type ContentGenerator interface {
	Generate(ctx context.Context, in content.Input) (content.Output, error)
}

// Scorer produces analytics metrics
type Scorer interface {
	Score(ctx context.Context, transcript string, titles []models.TitleCandidate) (models.AnalyticsMetrics, error)
}

// MetadataFetcher reads a YouTube video's current title and description
type MetadataFetcher interface {
	FetchTitleAndDescription(ctx context.Context, videoID string) (string, string, error)
}

// Deps are the collaborators of an Orchestrator. Metadata is optional.
type Deps struct {
	Store       store.Store
	Transcripts TranscriptSource
	Keywords    KeywordExtractor
	Content     ContentGenerator
	Scorer      Scorer
	Metadata    MetadataFetcher
	Metrics     *metrics.Pipeline
	Tracer      *tracing.Provider
	Logger      *logging.Logger
}

// Timeouts bound each external call made by the orchestrator
type Timeouts struct {
	Metadata   time.Duration
	Keywords   time.Duration
	Generation time.Duration
	Scoring    time.Duration
}

// DefaultTimeouts returns the timeouts used when configuration is silent
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Metadata:   15 * time.Second,
		Keywords:   2 * time.Minute,
		Generation: 3 * time.Minute,
		Scoring:    2 * time.Minute,
	}
}

// Orchestrator advances jobs through the pipeline stages
type Orchestrator struct {
	deps     Deps
	timeouts Timeouts
	now      func() time.Time
}

// NewOrchestrator creates an orchestrator
func NewOrchestrator(deps Deps, timeouts Timeouts) *Orchestrator {
	if deps.Logger == nil {
		deps.Logger = logging.Nop()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewPipeline(prometheus.NewRegistry())
	}
	if deps.Tracer == nil {
		deps.Tracer = tracing.NewProvider(sdktrace.NewTracerProvider(), "autofi")
	}
	return &Orchestrator{deps: deps, timeouts: timeouts, now: time.Now}
}

// run carries the per-job state of one Run call
type run struct {
	o      *Orchestrator
	job    *models.Job
	logger *logging.Logger
	// persist outlives cancellation of the run context so the final state
	// can always be written
	persist context.Context
}

// Run processes jobID until it reaches a terminal state. A job that is
// already terminal is left untouched. Runs resume from the stored status, so
// a job recovered after a restart does not repeat finished stages.
func (o *Orchestrator) Run(ctx context.Context, jobID string) error {
	ctx, span := o.deps.Tracer.StartJob(ctx, jobID)
	defer span.End()

	o.deps.Metrics.RunStarted()
	defer o.deps.Metrics.RunEnded()

	logger := o.deps.Logger.WithField("job_id", jobID)
	persist := context.WithoutCancel(ctx)

	job, err := o.deps.Store.GetJob(persist, jobID)
	if err != nil {
		tracing.SetError(ctx, err)
		return fmt.Errorf("load job %s: %w", jobID, err)
	}
	if models.IsTerminalState(job.Status) {
		logger.Debug("job already finished", logging.Fields{"status": string(job.Status)})
		return nil
	}
	span.SetAttributes(tracing.AttrSource.String(string(job.Source.Kind)))

	r := &run{o: o, job: job, logger: logger, persist: persist}
	logger.Info("pipeline started", logging.Fields{"status": string(job.Status)})

	for !models.IsTerminalState(r.job.Status) {
		if ctx.Err() != nil {
			return r.interrupted(ctx)
		}

		var err error
		switch r.job.Status {
		case models.JobStatusPending:
			err = r.start()
		case models.JobStatusTranscribing:
			err = r.transcribe(ctx)
		case models.JobStatusKeywording:
			err = r.keywords(ctx)
		case models.JobStatusGenerating:
			err = r.generate(ctx)
		case models.JobStatusScoring:
			err = r.score(ctx)
		default:
			err = fmt.Errorf("unexpected status %s", r.job.Status)
		}

		if err != nil {
			if ctx.Err() != nil {
				return r.interrupted(ctx)
			}
			tracing.SetError(ctx, err)
			logger.Error("pipeline aborted", logging.Fields{"status": string(r.job.Status), "error": err})
			return err
		}
	}

	if r.job.Status == models.JobStatusCompleted {
		o.deps.Metrics.JobFinished(string(r.job.Status), r.job.Degraded)
	}
	logger.Info("pipeline finished", logging.Fields{
		"status":   string(r.job.Status),
		"degraded": r.job.Degraded,
		"warnings": len(r.job.Warnings),
	})
	return nil
}

// interrupted handles a canceled run context. User cancellation fails the
// job; shutdown leaves it in its current stage for recovery.
func (r *run) interrupted(ctx context.Context) error {
	if errors.Is(context.Cause(ctx), ErrShuttingDown) {
		r.logger.Warn("pipeline interrupted by shutdown", logging.Fields{"status": string(r.job.Status)})
		return nil
	}
	if err := r.fail("cancel", MsgCanceled); err != nil {
		return err
	}
	r.logger.Info("job canceled", logging.Fields{"stage": "cancel"})
	return nil
}

func (r *run) update(u models.JobUpdate) error {
	job, err := r.o.deps.Store.UpdateJob(r.persist, r.job.ID, u)
	if err != nil {
		return fmt.Errorf("update job %s: %w", r.job.ID, err)
	}
	r.job = job
	return nil
}

func (r *run) fail(stage, message string) error {
	err := r.update(models.JobUpdate{
		Status:                models.StatusPtr(models.JobStatusFailed),
		Reason:                stage + ": " + message,
		ErrorMessage:          models.StringPtr(message),
		ProcessingCompletedAt: models.TimePtr(r.o.now()),
	})
	if errors.Is(err, store.ErrTerminalJob) {
		// finished concurrently; reload so the caller sees the stored state
		if job, gerr := r.o.deps.Store.GetJob(r.persist, r.job.ID); gerr == nil {
			r.job = job
		}
		return nil
	}
	if err != nil {
		return err
	}
	r.o.deps.Metrics.JobFinished(string(r.job.Status), r.job.Degraded)
	return nil
}

// stage wraps one stage in a span and records its duration
func (r *run) stage(ctx context.Context, name string, fn func(ctx context.Context, logger *logging.Logger) error) error {
	ctx, span := r.o.deps.Tracer.StartStage(ctx, r.job.ID, name)
	defer span.End()

	start := time.Now()
	err := fn(ctx, r.logger.WithField("stage", name))
	r.o.deps.Metrics.ObserveStage(name, time.Since(start))
	if err != nil {
		tracing.SetError(ctx, err)
	}
	return err
}

// degrade records a soft stage failure
func (r *run) degrade(ctx context.Context, logger *logging.Logger, name string, err error) string {
	tracing.RecordFallback(ctx, err)
	r.o.deps.Metrics.StageFailed(name, "degraded")
	logger.Warn("stage failed, using fallback", logging.Fields{"error": err})
	return fmt.Sprintf("%s: %s", name, summarize(err))
}

func (r *run) start() error {
	u := models.JobUpdate{
		Status: models.StatusPtr(models.JobStatusTranscribing),
		Reason: "processing started",
	}
	if r.job.ProcessingStartedAt == nil {
		u.ProcessingStartedAt = models.TimePtr(r.o.now())
	}
	return r.update(u)
}

func (r *run) transcribe(ctx context.Context) error {
	return r.stage(ctx, "transcribe", func(ctx context.Context, logger *logging.Logger) error {
		text := r.job.Transcript
		reason := "transcript recovered"

		if text == "" {
			var strategy string
			var err error
			text, strategy, err = r.o.deps.Transcripts.Acquire(ctx, r.job.Source)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				r.o.deps.Metrics.StageFailed("transcribe", "fatal")
				tracing.SetError(ctx, err)
				logger.Error("transcript unavailable", logging.Fields{"error": err})
				return r.fail("transcribe", MsgTranscriptUnavailable)
			}
			reason = "transcript acquired via " + strategy
			logger.Info("transcript acquired", logging.Fields{"strategy": strategy, "chars": len(text)})
		}

		u := models.JobUpdate{
			Status:     models.StatusPtr(models.JobStatusKeywording),
			Reason:     reason,
			Transcript: models.StringPtr(text),
		}
		if title, desc, ok := r.pageMetadata(ctx, logger); ok {
			u.OriginalTitle = models.StringPtr(title)
			u.OriginalDescription = models.StringPtr(desc)
		}
		return r.update(u)
	})
}

// pageMetadata fetches the current YouTube title and description. Failures
// are logged and ignored.
func (r *run) pageMetadata(ctx context.Context, logger *logging.Logger) (string, string, bool) {
	src := r.job.Source
	if r.o.deps.Metadata == nil || src.Kind != models.SourceYouTube || r.job.OriginalTitle != "" {
		return "", "", false
	}
	ctx, cancel := withTimeout(ctx, r.o.timeouts.Metadata)
	defer cancel()

	title, desc, err := r.o.deps.Metadata.FetchTitleAndDescription(ctx, src.VideoID)
	if err != nil {
		logger.Warn("page metadata unavailable", logging.Fields{"error": err})
		return "", "", false
	}
	return title, desc, true
}

func (r *run) keywords(ctx context.Context) error {
	return r.stage(ctx, "keywords", func(ctx context.Context, logger *logging.Logger) error {
		callCtx, cancel := withTimeout(ctx, r.o.timeouts.Keywords)
		defer cancel()

		u := models.JobUpdate{
			Status: models.StatusPtr(models.JobStatusGenerating),
			Reason: "keywords extracted",
		}
		keywords, seo, err := r.o.deps.Keywords.ExtractKeywords(callCtx, r.job.Transcript)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			u.Reason = "keywords skipped"
			u.AddWarnings = []string{r.degrade(ctx, logger, "keywords", err)}
			keywords, seo = []string{}, []string{}
		}
		u.Keywords = nonNil(keywords)
		u.SEOKeywords = nonNil(seo)
		return r.update(u)
	})
}

func (r *run) generate(ctx context.Context) error {
	return r.stage(ctx, "generate", func(ctx context.Context, logger *logging.Logger) error {
		callCtx, cancel := withTimeout(ctx, r.o.timeouts.Generation)
		defer cancel()

		u := models.JobUpdate{
			Status: models.StatusPtr(models.JobStatusScoring),
			Reason: "content generated",
		}
		out, err := r.o.deps.Content.Generate(callCtx, content.Input{
			Transcript:          r.job.Transcript,
			Keywords:            r.job.Keywords,
			OriginalTitle:       r.job.OriginalTitle,
			OriginalDescription: r.job.OriginalDescription,
		})
		if err == nil && (len(out.Titles) == 0 || len(out.Descriptions) == 0 || len(out.Tags) == 0) {
			err = errors.New("provider returned no candidates")
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			u.Reason = "content generated locally"
			u.AddWarnings = []string{r.degrade(ctx, logger, "generate", err)}
			out = content.Fallback(r.job.Transcript)
		}
		content.SortCandidates(&out)

		u.SuggestedTitles = out.Titles
		u.SuggestedDescriptions = out.Descriptions
		u.SuggestedTags = nonNil(out.Tags)
		return r.update(u)
	})
}

func (r *run) score(ctx context.Context) error {
	return r.stage(ctx, "score", func(ctx context.Context, logger *logging.Logger) error {
		callCtx, cancel := withTimeout(ctx, r.o.timeouts.Scoring)
		defer cancel()

		u := models.JobUpdate{
			Status:                models.StatusPtr(models.JobStatusCompleted),
			Reason:                "scored",
			ProcessingCompletedAt: models.TimePtr(r.o.now()),
		}
		m, err := r.o.deps.Scorer.Score(callCtx, r.job.Transcript, r.job.SuggestedTitles)
		if err == nil {
			err = m.Validate()
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			u.Reason = "default scores"
			u.AddWarnings = []string{r.degrade(ctx, logger, "score", err)}
			m = analytics.Default()
		}
		u.Analytics = &m
		return r.update(u)
	})
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

const maxWarningLen = 200

// summarize keeps warnings short; provider chains can produce long errors
func summarize(err error) string {
	msg := strings.Join(strings.Fields(err.Error()), " ")
	if short := content.TruncateRunes(msg, maxWarningLen); short != msg {
		return short + "..."
	}
	return msg
}

var (
	_ TranscriptSource = (*transcript.Acquirer)(nil)
	_ KeywordExtractor = (*content.Generator)(nil)
	_ ContentGenerator = (*content.Generator)(nil)
	_ Scorer           = (*analytics.Scorer)(nil)
)
