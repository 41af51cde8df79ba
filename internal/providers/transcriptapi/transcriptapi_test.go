package transcriptapi

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(url string) *Client {
	c := NewClient(url, "secret")
	c.retry.InitialBackoff = time.Millisecond
	c.retry.MaxBackoff = time.Millisecond
	return c
}

func TestFetch(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"plain text", `{"videoId": "abc12345678", "text": "hello world this is a test"}`, "hello world this is a test"},
		{"segments", `{"videoId": "abc12345678", "segments": [{"text": "hello world"}, {"text": " "}, {"text": "this is a test"}]}`, "hello world this is a test"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/v1/transcripts/abc12345678", r.URL.Path)
				assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			text, err := newTestClient(server.URL).Fetch(testContext(t), "abc12345678")
			require.NoError(t, err)
			assert.Equal(t, tt.want, text)
		})
	}
}

func TestFetch_NotFoundIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).Fetch(testContext(t), "abc12345678")
	assert.ErrorIs(t, err, ErrNoTranscript)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetch_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"text": "recovered"}`))
	}))
	defer server.Close()

	text, err := newTestClient(server.URL).Fetch(testContext(t), "abc12345678")
	require.NoError(t, err)
	assert.Equal(t, "recovered", text)
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetch_EmptyTranscript(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"videoId": "abc12345678", "segments": []}`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).Fetch(testContext(t), "abc12345678")
	assert.ErrorIs(t, err, ErrNoTranscript)
}
