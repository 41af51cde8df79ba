// Package analytics produces advisory virality and SEO scores for a video.
// The numbers come from a generative model and are not measured data.
package analytics

import (
	"context"
	"fmt"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/psantana5/autofi/internal/content"
	"github.com/psantana5/autofi/internal/llm"
	"github.com/psantana5/autofi/pkg/models"
)

const maxPromptTranscript = 16000

var metricsSchema = llm.Object(map[string]*openapi3.Schema{
	"viralityScore":        llm.Score(),
	"seoScore":             llm.Score(),
	"engagementPrediction": llm.Score(),
	"shareabilityScore":    llm.Score(),
	"trendingPotential":    llm.Score(),
	"audienceMatch":        llm.Score(),
	"keyFactors": llm.Array(llm.Object(map[string]*openapi3.Schema{
		"factor":      llm.String(),
		"impact":      llm.Enum(string(models.ImpactHigh), string(models.ImpactMedium), string(models.ImpactLow)),
		"score":       llm.Score(),
		"description": llm.String(),
	}), 1),
	"predictions": llm.Object(map[string]*openapi3.Schema{
		"views24h":    llm.String(),
		"views7d":     llm.String(),
		"views30d":    llm.String(),
		"peakTime":    llm.String(),
		"plateauTime": llm.String(),
	}),
})

// Scorer rates a transcript and its title candidates
type Scorer struct {
	client *llm.Client
}

// NewScorer creates a scorer over client
func NewScorer(client *llm.Client) *Scorer {
	return &Scorer{client: client}
}

// Score returns validated metrics for the transcript and candidate titles
func (s *Scorer) Score(ctx context.Context, transcript string, titles []models.TitleCandidate) (models.AnalyticsMetrics, error) {
	var b strings.Builder
	b.WriteString("Estimate how this video will perform. Give viralityScore, seoScore, engagementPrediction, ")
	b.WriteString("shareabilityScore, trendingPotential and audienceMatch from 0 to 100, the key factors behind them ")
	b.WriteString("with impact high, medium or low, and view predictions for 24h, 7d and 30d plus peak and plateau times.\n\n")
	if len(titles) > 0 {
		b.WriteString("Candidate titles:\n")
		for _, t := range titles {
			fmt.Fprintf(&b, "- %s\n", t.Title)
		}
		b.WriteString("\n")
	}
	transcript = content.TruncateRunes(strings.TrimSpace(transcript), maxPromptTranscript)
	fmt.Fprintf(&b, "Transcript:\n%s", transcript)

	m, err := llm.Generate[models.AnalyticsMetrics](ctx, s.client, b.String(), metricsSchema)
	if err != nil {
		return models.AnalyticsMetrics{}, fmt.Errorf("score video: %w", err)
	}
	if err := m.Validate(); err != nil {
		return models.AnalyticsMetrics{}, fmt.Errorf("score video: %w: %v", llm.ErrSchemaViolation, err)
	}
	return m, nil
}

// Default is the conservative metrics object used when scoring fails
func Default() models.AnalyticsMetrics {
	return models.AnalyticsMetrics{
		ViralityScore:        50,
		SEOScore:             50,
		EngagementPrediction: 50,
		ShareabilityScore:    50,
		TrendingPotential:    40,
		AudienceMatch:        50,
		KeyFactors: []models.KeyFactor{
			{
				Factor:      "Content quality",
				Impact:      models.ImpactMedium,
				Score:       50,
				Description: "Baseline estimate; detailed scoring was unavailable",
			},
			{
				Factor:      "Title optimization",
				Impact:      models.ImpactMedium,
				Score:       50,
				Description: "Titles were not scored against search demand",
			},
			{
				Factor:      "Topic relevance",
				Impact:      models.ImpactLow,
				Score:       40,
				Description: "Trend data was not consulted",
			},
		},
		Predictions: models.Predictions{
			Views24h:    "1K-5K",
			Views7d:     "5K-20K",
			Views30d:    "20K-50K",
			PeakTime:    "24-48 hours",
			PlateauTime: "7-14 days",
		},
	}
}
