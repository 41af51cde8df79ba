package analytics

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/autofi/internal/llm"
	"github.com/psantana5/autofi/pkg/logging"
	"github.com/psantana5/autofi/pkg/models"
)

type staticProvider struct {
	body   string
	prompt string
}

func (p *staticProvider) Name() string { return "static" }

func (p *staticProvider) GenerateStructured(_ context.Context, prompt string, _ *openapi3.Schema) ([]byte, error) {
	p.prompt = prompt
	return []byte(p.body), nil
}

func newScorer(body string) (*Scorer, *staticProvider) {
	p := &staticProvider{body: body}
	client := llm.NewClient([]llm.Provider{p}, llm.Config{Attempts: 1}, nil, logging.Nop())
	return NewScorer(client), p
}

const validMetrics = `{
	"viralityScore": 72, "seoScore": 64, "engagementPrediction": 58,
	"shareabilityScore": 61, "trendingPotential": 45, "audienceMatch": 80,
	"keyFactors": [{"factor": "Strong hook", "impact": "high", "score": 85, "description": "Opens with a question"}],
	"predictions": {"views24h": "2K-6K", "views7d": "10K-25K", "views30d": "30K-60K", "peakTime": "12-24 hours", "plateauTime": "5-10 days"}
}`

func TestScore(t *testing.T) {
	s, p := newScorer(validMetrics)

	m, err := s.Score(testContext(t), "transcript text", []models.TitleCandidate{{Title: "Best title"}})
	require.NoError(t, err)
	assert.Equal(t, 72.0, m.ViralityScore)
	assert.Equal(t, models.ImpactHigh, m.KeyFactors[0].Impact)
	assert.Equal(t, "5-10 days", m.Predictions.PlateauTime)
	assert.NoError(t, m.Validate())
	assert.Contains(t, p.prompt, "- Best title")
}

func TestScore_LongTranscriptCutOnRunes(t *testing.T) {
	s, p := newScorer(validMetrics)

	_, err := s.Score(testContext(t), strings.Repeat("ü", maxPromptTranscript+10), nil)
	require.NoError(t, err)
	assert.True(t, utf8.ValidString(p.prompt))
	assert.Contains(t, p.prompt, strings.Repeat("ü", maxPromptTranscript))
	assert.NotContains(t, p.prompt, strings.Repeat("ü", maxPromptTranscript+1))
}

func TestScore_RejectsInvalidMetrics(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"score above range", `{"viralityScore": 140, "seoScore": 64, "engagementPrediction": 58,
			"shareabilityScore": 61, "trendingPotential": 45, "audienceMatch": 80,
			"keyFactors": [{"factor": "f", "impact": "high", "score": 85, "description": "d"}],
			"predictions": {"views24h": "a", "views7d": "b", "views30d": "c", "peakTime": "d", "plateauTime": "e"}}`},
		{"unknown impact", `{"viralityScore": 40, "seoScore": 64, "engagementPrediction": 58,
			"shareabilityScore": 61, "trendingPotential": 45, "audienceMatch": 80,
			"keyFactors": [{"factor": "f", "impact": "huge", "score": 85, "description": "d"}],
			"predictions": {"views24h": "a", "views7d": "b", "views30d": "c", "peakTime": "d", "plateauTime": "e"}}`},
		{"missing predictions", `{"viralityScore": 40, "seoScore": 64, "engagementPrediction": 58,
			"shareabilityScore": 61, "trendingPotential": 45, "audienceMatch": 80,
			"keyFactors": [{"factor": "f", "impact": "low", "score": 85, "description": "d"}]}`},
		{"not json", `the video will do great`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newScorer(tt.body)
			_, err := s.Score(testContext(t), "transcript", nil)
			assert.ErrorIs(t, err, llm.ErrSchemaViolation)
		})
	}
}

func TestDefault(t *testing.T) {
	d := Default()
	require.NoError(t, d.Validate())
	assert.Equal(t, 50.0, d.ViralityScore)
	assert.Equal(t, 40.0, d.TrendingPotential)
	assert.Len(t, d.KeyFactors, 3)
	assert.Equal(t, "1K-5K", d.Predictions.Views24h)
	assert.Equal(t, "7-14 days", d.Predictions.PlateauTime)

	// callers may mutate their copy freely
	d.KeyFactors[0].Factor = "changed"
	assert.Equal(t, "Content quality", Default().KeyFactors[0].Factor)
}
