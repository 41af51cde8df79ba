package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/psantana5/autofi/internal/content"
	"github.com/psantana5/autofi/internal/transcript"
	"github.com/psantana5/autofi/pkg/models"
	"github.com/psantana5/autofi/pkg/store"
)

var errProvider = errors.New("provider unavailable")

type fakeTranscripts struct {
	text  string
	err   error
	calls atomic.Int32
}

func (f *fakeTranscripts) Acquire(context.Context, models.Source) (string, string, error) {
	f.calls.Add(1)
	if f.err != nil {
		return "", "", f.err
	}
	return f.text, "fake", nil
}

type fakeCaptions struct {
	text  string
	calls atomic.Int32
}

func (f *fakeCaptions) Fetch(_ context.Context, videoID string) (string, error) {
	f.calls.Add(1)
	if videoID != "abc12345678" {
		return "", errors.New("unknown video")
	}
	return f.text, nil
}

type fakeKeywords struct {
	keywords []string
	seo      []string
	err      error
	calls    atomic.Int32
}

func (f *fakeKeywords) ExtractKeywords(context.Context, string) ([]string, []string, error) {
	f.calls.Add(1)
	return f.keywords, f.seo, f.err
}

// blockingKeywords waits for cancellation of its context
type blockingKeywords struct {
	started chan struct{}
	once    sync.Once
}

func newBlockingKeywords() *blockingKeywords {
	return &blockingKeywords{started: make(chan struct{})}
}

func (b *blockingKeywords) ExtractKeywords(ctx context.Context, _ string) ([]string, []string, error) {
	b.once.Do(func() { close(b.started) })
	<-ctx.Done()
	return nil, nil, ctx.Err()
}

type fakeContent struct {
	out   content.Output
	err   error
	calls atomic.Int32
	input content.Input
}

func (f *fakeContent) Generate(_ context.Context, in content.Input) (content.Output, error) {
	f.calls.Add(1)
	f.input = in
	return f.out, f.err
}

type fakeScorer struct {
	metrics models.AnalyticsMetrics
	err     error
	calls   atomic.Int32
}

func (f *fakeScorer) Score(context.Context, string, []models.TitleCandidate) (models.AnalyticsMetrics, error) {
	f.calls.Add(1)
	return f.metrics, f.err
}

type fakeMetadata struct {
	title, description string
	err                error
}

func (f *fakeMetadata) FetchTitleAndDescription(context.Context, string) (string, string, error) {
	return f.title, f.description, f.err
}

// recordingStore keeps a snapshot of the job after every successful update
type recordingStore struct {
	store.Store
	mu        sync.Mutex
	snapshots []*models.Job
}

func (r *recordingStore) UpdateJob(ctx context.Context, id string, u models.JobUpdate) (*models.Job, error) {
	job, err := r.Store.UpdateJob(ctx, id, u)
	if err == nil {
		r.mu.Lock()
		r.snapshots = append(r.snapshots, job.Clone())
		r.mu.Unlock()
	}
	return job, err
}

func (r *recordingStore) history() []*models.Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*models.Job(nil), r.snapshots...)
}

func goodContent() content.Output {
	return content.Output{
		Titles: []models.TitleCandidate{
			{Title: "Second best", Score: 70, Reasoning: "ok"},
			{Title: "Best", Score: 92, Reasoning: "strong hook"},
			{Title: "Also seventy", Score: 70, Reasoning: "ok"},
		},
		Descriptions: []models.DescriptionCandidate{
			{Description: "A description", Score: 80, Reasoning: "clear"},
		},
		Tags: []string{"testing", "golang"},
	}
}

func goodMetrics() models.AnalyticsMetrics {
	return models.AnalyticsMetrics{
		ViralityScore: 71, SEOScore: 66, EngagementPrediction: 60,
		ShareabilityScore: 55, TrendingPotential: 48, AudienceMatch: 77,
		KeyFactors: []models.KeyFactor{{Factor: "Hook", Impact: models.ImpactHigh, Score: 90, Description: "fast open"}},
		Predictions: models.Predictions{
			Views24h: "2K-4K", Views7d: "8K-15K", Views30d: "20K-40K",
			PeakTime: "12-24 hours", PlateauTime: "5-9 days",
		},
	}
}

var _ transcript.CaptionFetcher = (*fakeCaptions)(nil)
