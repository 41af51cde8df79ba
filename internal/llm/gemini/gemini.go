// Package gemini adapts Google's Gemini API to the structured generation
// and media transcription interfaces.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/psantana5/autofi/pkg/retry"
)

const DefaultModel = "gemini-1.5-flash"

// Provider calls a Gemini model
type Provider struct {
	client *genai.Client
	model  string
}

// New creates a provider authenticated with apiKey
func New(ctx context.Context, apiKey, model string) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}
	if model == "" {
		model = DefaultModel
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &Provider{client: client, model: model}, nil
}

// Name identifies the provider in logs and metrics
func (p *Provider) Name() string { return "gemini" }

// GenerateStructured asks the model for JSON constrained by schema
func (p *Provider) GenerateStructured(ctx context.Context, prompt string, schema *openapi3.Schema) ([]byte, error) {
	model := p.client.GenerativeModel(p.model)
	model.ResponseMIMEType = "application/json"
	model.ResponseSchema = ToGenaiSchema(schema)

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return nil, fmt.Errorf("gemini generate: %w", err)
	}
	text := responseText(resp)
	if text == "" {
		return nil, errors.New("gemini returned an empty response")
	}
	return []byte(text), nil
}

// TranscribeMedia asks the model to transcribe the media at uri. YouTube
// watch URLs and fetchable object URLs are both accepted by the API.
func (p *Provider) TranscribeMedia(ctx context.Context, uri, mimeType string) (string, error) {
	model := p.client.GenerativeModel(p.model)
	resp, err := model.GenerateContent(ctx,
		genai.FileData{MIMEType: mimeType, URI: uri},
		genai.Text("Transcribe the spoken content of this video verbatim. Return only the transcript text."),
	)
	if err != nil {
		return "", fmt.Errorf("gemini transcribe: %w", err)
	}
	return strings.TrimSpace(responseText(resp)), nil
}

// activation bounds for files pushed through the Files API
var fileActivation = retry.PollConfig{Interval: 2 * time.Second, Timeout: 5 * time.Minute}

// TranscribeStream uploads r to the Files API, waits for it to become
// active, transcribes it and deletes the uploaded copy.
func (p *Provider) TranscribeStream(ctx context.Context, r io.Reader, mimeType, displayName string) (string, error) {
	file, err := p.client.UploadFile(ctx, "", r, &genai.UploadFileOptions{
		DisplayName: displayName,
		MIMEType:    mimeType,
	})
	if err != nil {
		return "", fmt.Errorf("gemini upload: %w", err)
	}
	defer func() {
		_ = p.client.DeleteFile(context.WithoutCancel(ctx), file.Name)
	}()

	err = retry.Poll(ctx, retry.SystemClock{}, fileActivation, func(ctx context.Context) (bool, error) {
		f, err := p.client.GetFile(ctx, file.Name)
		if err != nil {
			return false, err
		}
		switch f.State {
		case genai.FileStateActive:
			return true, nil
		case genai.FileStateFailed:
			return false, fmt.Errorf("gemini could not process %s", file.Name)
		}
		return false, nil
	})
	if err != nil {
		return "", fmt.Errorf("gemini file activation: %w", err)
	}
	return p.TranscribeMedia(ctx, file.URI, mimeType)
}

// Close releases the underlying client
func (p *Provider) Close() error {
	return p.client.Close()
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var b strings.Builder
	for _, c := range resp.Candidates {
		if c.Content == nil {
			continue
		}
		for _, part := range c.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				b.WriteString(string(text))
			}
		}
	}
	return b.String()
}

// ToGenaiSchema converts the subset of OpenAPI schema used by this service
// into Gemini's response schema
func ToGenaiSchema(s *openapi3.Schema) *genai.Schema {
	if s == nil {
		return nil
	}
	out := &genai.Schema{
		Description: s.Description,
		Format:      s.Format,
		Nullable:    s.Nullable,
		Required:    append([]string(nil), s.Required...),
	}

	switch {
	case s.Type.Is(openapi3.TypeObject):
		out.Type = genai.TypeObject
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for name, ref := range s.Properties {
			if ref != nil {
				out.Properties[name] = ToGenaiSchema(ref.Value)
			}
		}
	case s.Type.Is(openapi3.TypeArray):
		out.Type = genai.TypeArray
		if s.Items != nil {
			out.Items = ToGenaiSchema(s.Items.Value)
		}
	case s.Type.Is(openapi3.TypeInteger):
		out.Type = genai.TypeInteger
	case s.Type.Is(openapi3.TypeNumber):
		out.Type = genai.TypeNumber
		// gemini only accepts float/double here
		if out.Format != "float" && out.Format != "double" {
			out.Format = ""
		}
	case s.Type.Is(openapi3.TypeBoolean):
		out.Type = genai.TypeBoolean
	default:
		out.Type = genai.TypeString
		for _, v := range s.Enum {
			if str, ok := v.(string); ok {
				out.Enum = append(out.Enum, str)
			}
		}
		if len(out.Enum) > 0 {
			out.Format = "enum"
		}
	}
	return out
}
