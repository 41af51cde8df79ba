package models

import "fmt"

// Impact grades how strongly a key factor drives the prediction
type Impact string

const (
	ImpactHigh   Impact = "high"
	ImpactMedium Impact = "medium"
	ImpactLow    Impact = "low"
)

// KeyFactor is one explained contributor to the analytics scores
type KeyFactor struct {
	Factor      string  `json:"factor" bson:"factor"`
	Impact      Impact  `json:"impact" bson:"impact"`
	Score       float64 `json:"score" bson:"score"`
	Description string  `json:"description" bson:"description"`
}

// Predictions holds display strings for expected reach over time
type Predictions struct {
	Views24h    string `json:"views24h" bson:"views24h"`
	Views7d     string `json:"views7d" bson:"views7d"`
	Views30d    string `json:"views30d" bson:"views30d"`
	PeakTime    string `json:"peakTime" bson:"peakTime"`
	PlateauTime string `json:"plateauTime" bson:"plateauTime"`
}

// AnalyticsMetrics is advisory, model-generated virality and SEO scoring.
// It is not measured ground truth.
type AnalyticsMetrics struct {
	ViralityScore        float64     `json:"viralityScore" bson:"viralityScore"`
	SEOScore             float64     `json:"seoScore" bson:"seoScore"`
	EngagementPrediction float64     `json:"engagementPrediction" bson:"engagementPrediction"`
	ShareabilityScore    float64     `json:"shareabilityScore" bson:"shareabilityScore"`
	TrendingPotential    float64     `json:"trendingPotential" bson:"trendingPotential"`
	AudienceMatch        float64     `json:"audienceMatch" bson:"audienceMatch"`
	KeyFactors           []KeyFactor `json:"keyFactors" bson:"keyFactors"`
	Predictions          Predictions `json:"predictions" bson:"predictions"`
}

// Clone returns a deep copy
func (m AnalyticsMetrics) Clone() AnalyticsMetrics {
	c := m
	if m.KeyFactors != nil {
		c.KeyFactors = append([]KeyFactor(nil), m.KeyFactors...)
	}
	return c
}

// Validate checks structural validity: every score in [0,100], known impact
// grades, and all prediction strings present.
func (m AnalyticsMetrics) Validate() error {
	scores := map[string]float64{
		"viralityScore":        m.ViralityScore,
		"seoScore":             m.SEOScore,
		"engagementPrediction": m.EngagementPrediction,
		"shareabilityScore":    m.ShareabilityScore,
		"trendingPotential":    m.TrendingPotential,
		"audienceMatch":        m.AudienceMatch,
	}
	for name, v := range scores {
		if v < 0 || v > 100 {
			return fmt.Errorf("%s out of range: %v", name, v)
		}
	}

	for i, f := range m.KeyFactors {
		if f.Factor == "" {
			return fmt.Errorf("keyFactors[%d]: factor is empty", i)
		}
		switch f.Impact {
		case ImpactHigh, ImpactMedium, ImpactLow:
		default:
			return fmt.Errorf("keyFactors[%d]: unknown impact %q", i, f.Impact)
		}
		if f.Score < 0 || f.Score > 100 {
			return fmt.Errorf("keyFactors[%d]: score out of range: %v", i, f.Score)
		}
	}

	p := m.Predictions
	if p.Views24h == "" || p.Views7d == "" || p.Views30d == "" || p.PeakTime == "" || p.PlateauTime == "" {
		return fmt.Errorf("predictions incomplete")
	}
	return nil
}
