package youtubemeta

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func TestFetchTitleAndDescription(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "abc12345678", r.URL.Query().Get("id"))
		assert.Equal(t, "key", r.URL.Query().Get("key"))
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("id") != "abc12345678" {
			_, _ = w.Write([]byte(`{"items": []}`))
			return
		}
		_, _ = w.Write([]byte(`{"items": [{"id": "abc12345678", "snippet": {"title": "Original", "description": "Old description"}}]}`))
	}))
	defer server.Close()

	f, err := New(testContext(t), "key", option.WithEndpoint(server.URL+"/"))
	require.NoError(t, err)

	title, desc, err := f.FetchTitleAndDescription(testContext(t), "abc12345678")
	require.NoError(t, err)
	assert.Equal(t, "Original", title)
	assert.Equal(t, "Old description", desc)
}

func TestFetchTitleAndDescription_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items": []}`))
	}))
	defer server.Close()

	f, err := New(testContext(t), "key", option.WithEndpoint(server.URL+"/"))
	require.NoError(t, err)

	_, _, err = f.FetchTitleAndDescription(testContext(t), "zzz12345678")
	assert.ErrorIs(t, err, ErrVideoNotFound)
}

func TestNewRequiresKey(t *testing.T) {
	_, err := New(testContext(t), "")
	assert.Error(t, err)
}
