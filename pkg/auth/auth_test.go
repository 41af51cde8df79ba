package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func hashForTest(t *testing.T, key string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.MinCost)
	require.NoError(t, err)
	return string(h)
}

func TestKeyRing_Verify(t *testing.T) {
	kr, err := NewKeyRing([]string{hashForTest(t, "secret-1"), "", hashForTest(t, "secret-2")})
	require.NoError(t, err)
	assert.True(t, kr.Enabled())

	assert.NoError(t, kr.Verify("secret-1"))
	assert.NoError(t, kr.Verify("secret-2"))
	// second lookup hits the fingerprint cache
	assert.NoError(t, kr.Verify("secret-2"))
	assert.ErrorIs(t, kr.Verify("wrong"), ErrInvalidKey)
	assert.ErrorIs(t, kr.Verify(""), ErrMissingKey)
}

func TestNewKeyRing_RejectsPlaintext(t *testing.T) {
	_, err := NewKeyRing([]string{"not-a-hash"})
	assert.Error(t, err)
}

func TestKeyRing_Middleware(t *testing.T) {
	kr, err := NewKeyRing([]string{hashForTest(t, "secret")})
	require.NoError(t, err)

	handler := kr.Middleware("/health")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"public path", "/health", "", http.StatusOK},
		{"missing key", "/api/v1/videos", "", http.StatusUnauthorized},
		{"wrong key", "/api/v1/videos", "Bearer nope", http.StatusUnauthorized},
		{"valid key", "/api/v1/videos", "Bearer secret", http.StatusOK},
		{"case insensitive scheme", "/api/v1/videos", "bearer secret", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestKeyRing_DisabledPassesThrough(t *testing.T) {
	kr, err := NewKeyRing(nil)
	require.NoError(t, err)
	assert.False(t, kr.Enabled())

	handler := kr.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/videos", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestGenerateAPIKey(t *testing.T) {
	key, hash, err := GenerateAPIKey()
	require.NoError(t, err)
	assert.NotEmpty(t, key)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)))
	assert.True(t, SecureCompare(key, key))
	assert.False(t, SecureCompare(key, key+"x"))
}
