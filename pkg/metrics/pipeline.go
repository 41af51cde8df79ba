package metrics

import (
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// Pipeline holds the Prometheus collectors updated by the orchestrator
type Pipeline struct {
	jobsSubmitted     *prometheus.CounterVec
	jobsFinished      *prometheus.CounterVec
	jobsInFlight      prometheus.Gauge
	stageDuration     *prometheus.HistogramVec
	stageFailures     *prometheus.CounterVec
	transcriptResults *prometheus.CounterVec
	providerCalls     *prometheus.CounterVec
}

// NewPipeline creates the pipeline collectors and registers them with reg
func NewPipeline(reg prometheus.Registerer) *Pipeline {
	p := &Pipeline{
		jobsSubmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autofi_jobs_submitted_total",
				Help: "Jobs accepted for processing by source kind",
			},
			[]string{"source"},
		),
		jobsFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autofi_jobs_finished_total",
				Help: "Jobs that reached a terminal state",
			},
			[]string{"status", "degraded"},
		),
		jobsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "autofi_jobs_in_flight",
				Help: "Pipeline runs currently executing",
			},
		),
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "autofi_stage_duration_seconds",
				Help:    "Wall time spent in each pipeline stage",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
			},
			[]string{"stage"},
		),
		stageFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autofi_stage_failures_total",
				Help: "Stage failures by stage and kind (fatal or degraded)",
			},
			[]string{"stage", "kind"},
		),
		transcriptResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autofi_transcript_strategy_total",
				Help: "Transcript strategy attempts by outcome",
			},
			[]string{"strategy", "outcome"},
		),
		providerCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autofi_llm_calls_total",
				Help: "Structured generation calls by provider and outcome",
			},
			[]string{"provider", "outcome"},
		),
	}

	reg.MustRegister(
		p.jobsSubmitted,
		p.jobsFinished,
		p.jobsInFlight,
		p.stageDuration,
		p.stageFailures,
		p.transcriptResults,
		p.providerCalls,
	)
	return p
}

// JobSubmitted counts a new job
func (p *Pipeline) JobSubmitted(source string) {
	p.jobsSubmitted.WithLabelValues(source).Inc()
}

// JobFinished counts a job reaching a terminal state
func (p *Pipeline) JobFinished(status string, degraded bool) {
	d := "false"
	if degraded {
		d = "true"
	}
	p.jobsFinished.WithLabelValues(status, d).Inc()
}

// RunStarted and RunEnded track in-flight pipeline runs
func (p *Pipeline) RunStarted() { p.jobsInFlight.Inc() }
func (p *Pipeline) RunEnded()   { p.jobsInFlight.Dec() }

// ObserveStage records how long a stage took
func (p *Pipeline) ObserveStage(stage string, d time.Duration) {
	p.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// StageFailed counts a stage failure; kind is "fatal" or "degraded"
func (p *Pipeline) StageFailed(stage, kind string) {
	p.stageFailures.WithLabelValues(stage, kind).Inc()
}

// TranscriptAttempt counts one strategy attempt; outcome is "success",
// "empty", "error", "timeout" or "panic"
func (p *Pipeline) TranscriptAttempt(strategy, outcome string) {
	p.transcriptResults.WithLabelValues(strategy, outcome).Inc()
}

// ProviderCall counts one structured generation call
func (p *Pipeline) ProviderCall(provider, outcome string) {
	p.providerCalls.WithLabelValues(provider, outcome).Inc()
}

// WriteText encodes every metric family from g in the Prometheus text format
func WriteText(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}
