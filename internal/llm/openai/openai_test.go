package openai

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/autofi/internal/llm"
	"github.com/psantana5/autofi/pkg/retry"
)

func testSchema() *openapi3.Schema {
	return llm.Object(map[string]*openapi3.Schema{"keywords": llm.Array(llm.String(), 1)})
}

func TestGenerateStructured(t *testing.T) {
	var got chatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"content":"{\"keywords\":[\"golang\"]}"}}]}`))
	}))
	defer server.Close()

	p, err := New(server.URL, "sk-test", "")
	require.NoError(t, err)

	raw, err := p.GenerateStructured(testContext(t), "extract keywords", testSchema())
	require.NoError(t, err)
	assert.JSONEq(t, `{"keywords":["golang"]}`, string(raw))

	assert.Equal(t, DefaultModel, got.Model)
	require.NotNil(t, got.ResponseFormat)
	assert.Equal(t, "json_schema", got.ResponseFormat.Type)
	assert.Equal(t, "extract keywords", got.Messages[1].Content)
}

func TestGenerateStructured_APIErrorIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit"}}`))
	}))
	defer server.Close()

	p, err := New(server.URL, "sk-test", "gpt-test")
	require.NoError(t, err)

	_, err = p.GenerateStructured(testContext(t), "x", testSchema())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
	assert.True(t, retry.IsRetryable(err))
}

func TestNew_RequiresKey(t *testing.T) {
	_, err := New("", "", "")
	assert.Error(t, err)
}
