package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrMissingKey = errors.New("missing api key")
	ErrInvalidKey = errors.New("invalid api key")
)

// KeyRing verifies bearer API keys against bcrypt hashes loaded from config.
// Verified keys are remembered by SHA-256 fingerprint so bcrypt runs once
// per key rather than once per request.
type KeyRing struct {
	hashes   [][]byte
	verified map[string]bool
	mu       sync.RWMutex
}

// NewKeyRing builds a key ring from bcrypt hashes. An empty ring disables
// authentication.
func NewKeyRing(hashes []string) (*KeyRing, error) {
	kr := &KeyRing{verified: make(map[string]bool)}
	for i, h := range hashes {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		if _, err := bcrypt.Cost([]byte(h)); err != nil {
			return nil, fmt.Errorf("api key hash %d is not a bcrypt hash: %w", i, err)
		}
		kr.hashes = append(kr.hashes, []byte(h))
	}
	return kr, nil
}

// Enabled reports whether any key is configured
func (kr *KeyRing) Enabled() bool {
	return len(kr.hashes) > 0
}

// Verify checks key against every configured hash
func (kr *KeyRing) Verify(key string) error {
	if key == "" {
		return ErrMissingKey
	}
	fp := fingerprint(key)

	kr.mu.RLock()
	ok := kr.verified[fp]
	kr.mu.RUnlock()
	if ok {
		return nil
	}

	for _, h := range kr.hashes {
		if bcrypt.CompareHashAndPassword(h, []byte(key)) == nil {
			kr.mu.Lock()
			kr.verified[fp] = true
			kr.mu.Unlock()
			return nil
		}
	}
	return ErrInvalidKey
}

// Middleware requires "Authorization: Bearer <key>" on every request except
// the listed public paths. A disabled ring lets everything through.
func (kr *KeyRing) Middleware(publicPaths ...string) func(http.Handler) http.Handler {
	public := make(map[string]bool, len(publicPaths))
	for _, p := range publicPaths {
		public[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !kr.Enabled() || public[r.URL.Path] || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			if err := kr.Verify(BearerToken(r)); err != nil {
				w.Header().Set("WWW-Authenticate", `Bearer realm="autofi"`)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// BearerToken extracts the token from an Authorization header
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return strings.TrimSpace(h[len(prefix):])
	}
	return ""
}

// GenerateAPIKey returns a new random key and its bcrypt hash
func GenerateAPIKey() (key, hash string, err error) {
	keyBytes := make([]byte, 32)
	if _, err := rand.Read(keyBytes); err != nil {
		return "", "", fmt.Errorf("failed to generate API key: %w", err)
	}
	key = base64.RawURLEncoding.EncodeToString(keyBytes)
	hash, err = HashAPIKey(key)
	return key, hash, err
}

// HashAPIKey hashes a key for storage in configuration
func HashAPIKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash API key: %w", err)
	}
	return string(hash), nil
}

// SecureCompare performs constant-time comparison
func SecureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func fingerprint(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
