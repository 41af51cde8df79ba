// Package content turns a transcript into keywords and publishable metadata
// (titles, descriptions, tags) using the structured generative boundary.
package content

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/psantana5/autofi/internal/llm"
	"github.com/psantana5/autofi/pkg/models"
)

// maxPromptTranscript bounds how much transcript text is sent per prompt
const maxPromptTranscript = 24000

// Input is everything the generator may use
type Input struct {
	Transcript          string
	Keywords            []string
	OriginalTitle       string
	OriginalDescription string
}

// Output is the generated metadata, candidates ordered best first
type Output struct {
	Titles       []models.TitleCandidate       `json:"titles"`
	Descriptions []models.DescriptionCandidate `json:"descriptions"`
	Tags         []string                      `json:"tags"`
}

type keywordResponse struct {
	Keywords    []string `json:"keywords"`
	SEOKeywords []string `json:"seoKeywords"`
}

var keywordSchema = llm.Object(map[string]*openapi3.Schema{
	"keywords":    llm.Array(llm.String(), 1),
	"seoKeywords": llm.Array(llm.String(), 0),
})

var candidateFields = map[string]*openapi3.Schema{
	"score":            llm.Score(),
	"reasoning":        llm.String(),
	"viralityIncrease": llm.Number(),
	"seoImprovement":   llm.Number(),
}

func candidateSchema(textField string) *openapi3.Schema {
	props := map[string]*openapi3.Schema{textField: llm.String()}
	for k, v := range candidateFields {
		props[k] = v
	}
	return llm.Object(props)
}

var generationSchema = llm.Object(map[string]*openapi3.Schema{
	"titles":       llm.Array(candidateSchema("title"), 1),
	"descriptions": llm.Array(candidateSchema("description"), 1),
	"tags":         llm.Array(llm.String(), 1),
})

// Generator produces keywords and metadata through an llm.Client
type Generator struct {
	client *llm.Client
}

// NewGenerator creates a generator over client
func NewGenerator(client *llm.Client) *Generator {
	return &Generator{client: client}
}

// ExtractKeywords returns topical keywords and search-oriented keywords
func (g *Generator) ExtractKeywords(ctx context.Context, transcript string) ([]string, []string, error) {
	prompt := fmt.Sprintf(`Extract the main topical keywords and the search (SEO) keywords a viewer would use to find this video.
Respond with JSON: {"keywords": [...], "seoKeywords": [...]}.

Transcript:
%s`, clip(transcript, maxPromptTranscript))

	resp, err := llm.Generate[keywordResponse](ctx, g.client, prompt, keywordSchema)
	if err != nil {
		return nil, nil, fmt.Errorf("extract keywords: %w", err)
	}
	return dedupe(resp.Keywords, 0), dedupe(resp.SEOKeywords, 0), nil
}

// Generate asks the provider chain for title, description and tag candidates
func (g *Generator) Generate(ctx context.Context, in Input) (Output, error) {
	var b strings.Builder
	b.WriteString("Write optimized YouTube metadata for the video below. ")
	b.WriteString("Propose several titles and descriptions, each with a score from 0 to 100, a short reasoning, ")
	b.WriteString("and the expected virality and SEO improvement in percent. Also propose tags.\n")
	b.WriteString(`Respond with JSON: {"titles": [...], "descriptions": [...], "tags": [...]}.` + "\n\n")
	if in.OriginalTitle != "" {
		fmt.Fprintf(&b, "Current title: %s\n", in.OriginalTitle)
	}
	if in.OriginalDescription != "" {
		fmt.Fprintf(&b, "Current description: %s\n", clip(in.OriginalDescription, 2000))
	}
	if len(in.Keywords) > 0 {
		fmt.Fprintf(&b, "Keywords: %s\n", strings.Join(in.Keywords, ", "))
	}
	fmt.Fprintf(&b, "\nTranscript:\n%s", clip(in.Transcript, maxPromptTranscript))

	out, err := llm.Generate[Output](ctx, g.client, b.String(), generationSchema)
	if err != nil {
		return Output{}, fmt.Errorf("generate content: %w", err)
	}
	out.Tags = dedupe(out.Tags, MaxTags)
	SortCandidates(&out)
	return out, nil
}

// SortCandidates orders titles and descriptions by descending score. Equal
// scores keep their original order.
func SortCandidates(out *Output) {
	sort.SliceStable(out.Titles, func(i, j int) bool {
		return out.Titles[i].Score > out.Titles[j].Score
	})
	sort.SliceStable(out.Descriptions, func(i, j int) bool {
		return out.Descriptions[i].Score > out.Descriptions[j].Score
	})
}

// dedupe trims entries, drops blanks and case-insensitive duplicates, and
// caps the result at limit when limit > 0
func dedupe(values []string, limit int) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		key := strings.ToLower(v)
		if v == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, v)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return truncateWords(s, max)
}
