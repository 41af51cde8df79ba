// Package llm is the boundary to generative providers. Every response is
// decoded and validated against a JSON schema before callers see it, so
// malformed model output never reaches downstream code untyped.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/psantana5/autofi/pkg/logging"
	"github.com/psantana5/autofi/pkg/retry"
)

var (
	// ErrSchemaViolation means a provider answered with JSON that does not
	// match the requested schema. It counts as a provider failure.
	ErrSchemaViolation = errors.New("response violates schema")
	// ErrNoProviders is returned when the client has nothing configured
	ErrNoProviders = errors.New("no generative provider configured")
)

// Provider produces a JSON document for prompt shaped like schema
type Provider interface {
	Name() string
	GenerateStructured(ctx context.Context, prompt string, schema *openapi3.Schema) ([]byte, error)
}

// Recorder receives one outcome per provider call
type Recorder interface {
	ProviderCall(provider, outcome string)
}

// Config bounds each provider call
type Config struct {
	// Attempts per provider; schema violations and transient errors retry
	Attempts int
	// Timeout for a single call
	Timeout time.Duration
	// Backoff between attempts
	InitialBackoff time.Duration
}

// DefaultConfig returns the defaults used when configuration is silent
func DefaultConfig() Config {
	return Config{Attempts: 2, Timeout: 60 * time.Second, InitialBackoff: time.Second}
}

// Client runs a prompt through an ordered provider chain
type Client struct {
	providers []Provider
	cfg       Config
	recorder  Recorder
	logger    *logging.Logger
}

// NewClient creates a client over providers, tried in order
func NewClient(providers []Provider, cfg Config, recorder Recorder, logger *logging.Logger) *Client {
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	return &Client{providers: providers, cfg: cfg, recorder: recorder, logger: logger}
}

// Providers lists the configured provider names in order
func (c *Client) Providers() []string {
	names := make([]string, len(c.providers))
	for i, p := range c.providers {
		names[i] = p.Name()
	}
	return names
}

// GenerateJSON returns the first schema-conforming document produced by any
// provider in the chain
func (c *Client) GenerateJSON(ctx context.Context, prompt string, schema *openapi3.Schema) ([]byte, error) {
	if len(c.providers) == 0 {
		return nil, ErrNoProviders
	}

	var errs []error
	for _, p := range c.providers {
		raw, err := c.callProvider(ctx, p, prompt, schema)
		if err == nil {
			return raw, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.Warn("generative provider failed", logging.Fields{"provider": p.Name(), "error": err})
		errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
	}
	return nil, fmt.Errorf("all generative providers failed: %w", errors.Join(errs...))
}

func (c *Client) callProvider(ctx context.Context, p Provider, prompt string, schema *openapi3.Schema) ([]byte, error) {
	var out []byte
	policy := retry.Config{
		Attempts:       c.cfg.Attempts,
		InitialBackoff: c.cfg.InitialBackoff,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
		OnRetry: func(attempt int, err error, wait time.Duration) {
			c.logger.Debug("retrying generative call", logging.Fields{
				"provider": p.Name(),
				"attempt":  attempt,
				"wait":     wait.String(),
				"error":    err,
			})
		},
	}

	err := retry.Do(ctx, policy, func(ctx context.Context) error {
		if c.cfg.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
			defer cancel()
		}

		raw, err := p.GenerateStructured(ctx, prompt, schema)
		if err != nil {
			c.record(p.Name(), "error")
			return retry.Transient(err)
		}

		doc, err := Validate(schema, raw)
		if err != nil {
			c.record(p.Name(), "schema_violation")
			return err
		}
		c.record(p.Name(), "success")
		out = doc
		return nil
	})
	return out, err
}

func (c *Client) record(provider, outcome string) {
	if c.recorder != nil {
		c.recorder.ProviderCall(provider, outcome)
	}
}

// Generate runs prompt through the client and decodes the validated
// document into T
func Generate[T any](ctx context.Context, c *Client, prompt string, schema *openapi3.Schema) (T, error) {
	var out T
	raw, err := c.GenerateJSON(ctx, prompt, schema)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("%w: %v", ErrSchemaViolation, err)
	}
	return out, nil
}

// Validate parses raw as JSON, tolerating a surrounding markdown code fence,
// and checks it against schema. It returns the cleaned document.
func Validate(schema *openapi3.Schema, raw []byte) ([]byte, error) {
	doc := StripCodeFence(raw)

	var value interface{}
	if err := json.Unmarshal(doc, &value); err != nil {
		return nil, fmt.Errorf("%w: invalid json: %v", ErrSchemaViolation, err)
	}
	if err := schema.VisitJSON(value); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchemaViolation, err)
	}
	return doc, nil
}

// StripCodeFence removes a ```json ... ``` wrapper some models add
func StripCodeFence(raw []byte) []byte {
	s := strings.TrimSpace(string(raw))
	if !strings.HasPrefix(s, "```") {
		return []byte(s)
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return []byte(strings.TrimSpace(s))
}
