package llm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/autofi/pkg/logging"
)

// scriptedProvider replays canned responses in order
type scriptedProvider struct {
	name      string
	responses []string
	errs      []error
	calls     int
}

func (p *scriptedProvider) Name() string { return p.name }

func (p *scriptedProvider) GenerateStructured(ctx context.Context, prompt string, schema *openapi3.Schema) ([]byte, error) {
	i := p.calls
	p.calls++
	if i < len(p.errs) && p.errs[i] != nil {
		return nil, p.errs[i]
	}
	if i < len(p.responses) {
		return []byte(p.responses[i]), nil
	}
	return nil, errors.New("script exhausted")
}

type countingRecorder struct {
	mu       sync.Mutex
	outcomes map[string]int
}

func (r *countingRecorder) ProviderCall(provider, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.outcomes == nil {
		r.outcomes = map[string]int{}
	}
	r.outcomes[provider+"/"+outcome]++
}

type keywords struct {
	Keywords []string `json:"keywords"`
}

func keywordSchema() *openapi3.Schema {
	return Object(map[string]*openapi3.Schema{"keywords": Array(String(), 1)})
}

func fastConfig() Config {
	return Config{Attempts: 2, Timeout: time.Second, InitialBackoff: time.Millisecond}
}

func TestGenerate_RetriesSchemaViolation(t *testing.T) {
	p := &scriptedProvider{name: "primary", responses: []string{`{"keywords": []}`, "```json\n{\"keywords\": [\"go\"]}\n```"}}
	rec := &countingRecorder{}
	c := NewClient([]Provider{p}, fastConfig(), rec, logging.Nop())

	out, err := Generate[keywords](context.Background(), c, "prompt", keywordSchema())
	require.NoError(t, err)
	assert.Equal(t, []string{"go"}, out.Keywords)
	assert.Equal(t, 2, p.calls)
	assert.Equal(t, 1, rec.outcomes["primary/schema_violation"])
	assert.Equal(t, 1, rec.outcomes["primary/success"])
}

func TestGenerate_FallsBackToNextProvider(t *testing.T) {
	primary := &scriptedProvider{name: "primary", errs: []error{errors.New("invalid api key")}}
	secondary := &scriptedProvider{name: "secondary", responses: []string{`{"keywords": ["video"]}`}}
	c := NewClient([]Provider{primary, secondary}, fastConfig(), nil, logging.Nop())

	out, err := Generate[keywords](context.Background(), c, "prompt", keywordSchema())
	require.NoError(t, err)
	assert.Equal(t, []string{"video"}, out.Keywords)
	// a permanent error is not retried on the same provider
	assert.Equal(t, 1, primary.calls)
}

func TestGenerate_AllProvidersViolateSchema(t *testing.T) {
	p := &scriptedProvider{name: "primary", responses: []string{`not json`, `{"other": 1}`}}
	c := NewClient([]Provider{p}, fastConfig(), nil, logging.Nop())

	_, err := Generate[keywords](context.Background(), c, "prompt", keywordSchema())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSchemaViolation)
	assert.Equal(t, 2, p.calls)
}

func TestGenerate_NoProviders(t *testing.T) {
	c := NewClient(nil, fastConfig(), nil, logging.Nop())
	_, err := Generate[keywords](context.Background(), c, "prompt", keywordSchema())
	assert.ErrorIs(t, err, ErrNoProviders)
}

func TestValidate(t *testing.T) {
	schema := Object(map[string]*openapi3.Schema{
		"score":  Score(),
		"impact": Enum("high", "medium", "low"),
	})

	_, err := Validate(schema, []byte(`{"score": 55, "impact": "high"}`))
	assert.NoError(t, err)

	_, err = Validate(schema, []byte(`{"score": 140, "impact": "high"}`))
	assert.ErrorIs(t, err, ErrSchemaViolation)

	_, err = Validate(schema, []byte(`{"score": 10, "impact": "extreme"}`))
	assert.ErrorIs(t, err, ErrSchemaViolation)

	_, err = Validate(schema, []byte(`{"score": 10}`))
	assert.ErrorIs(t, err, ErrSchemaViolation)
}

func TestStripCodeFence(t *testing.T) {
	assert.Equal(t, `{"a":1}`, string(StripCodeFence([]byte("```json\n{\"a\":1}\n```"))))
	assert.Equal(t, `{"a":1}`, string(StripCodeFence([]byte("  {\"a\":1} "))))
}
