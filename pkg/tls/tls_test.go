package tls

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSelfSignedCert(t *testing.T) {
	dir := t.TempDir()
	certFile := filepath.Join(dir, "certs", "server.crt")
	keyFile := filepath.Join(dir, "certs", "server.key")

	require.NoError(t, GenerateSelfSignedCert(certFile, keyFile, "autofi", "10.0.0.5", "api.internal"))

	raw, err := os.ReadFile(certFile)
	require.NoError(t, err)
	block, _ := pem.Decode(raw)
	require.NotNil(t, block)
	cert, err := x509.ParseCertificate(block.Bytes)
	require.NoError(t, err)

	assert.Equal(t, "autofi", cert.Subject.CommonName)
	assert.ElementsMatch(t, []string{"autofi", "localhost", "api.internal"}, cert.DNSNames)
	assert.Len(t, cert.IPAddresses, 3)

	info, err := os.Stat(keyFile)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestServerAndClientConfig_Handshake(t *testing.T) {
	dir := t.TempDir()
	certFile := filepath.Join(dir, "server.crt")
	keyFile := filepath.Join(dir, "server.key")
	require.NoError(t, GenerateSelfSignedCert(certFile, keyFile, "autofi"))

	serverCfg, err := LoadServerConfig(certFile, keyFile, "")
	require.NoError(t, err)
	assert.Equal(t, tls.NoClientCert, serverCfg.ClientAuth)

	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "ok")
	}))
	srv.TLS = serverCfg
	srv.StartTLS()
	defer srv.Close()

	clientCfg, err := LoadClientConfig(certFile)
	require.NoError(t, err)
	client := &http.Client{Transport: &http.Transport{TLSClientConfig: clientCfg}}

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "ok", string(body))
}

func TestLoadServerConfig_ClientCA(t *testing.T) {
	dir := t.TempDir()
	certFile := filepath.Join(dir, "server.crt")
	keyFile := filepath.Join(dir, "server.key")
	require.NoError(t, GenerateSelfSignedCert(certFile, keyFile, "autofi"))

	cfg, err := LoadServerConfig(certFile, keyFile, certFile)
	require.NoError(t, err)
	assert.Equal(t, tls.RequireAndVerifyClientCert, cfg.ClientAuth)
	assert.NotNil(t, cfg.ClientCAs)
}

func TestLoadConfig_Errors(t *testing.T) {
	dir := t.TempDir()
	_, err := LoadServerConfig(filepath.Join(dir, "missing.crt"), filepath.Join(dir, "missing.key"), "")
	assert.Error(t, err)

	bogus := filepath.Join(dir, "bogus.pem")
	require.NoError(t, os.WriteFile(bogus, []byte("not a certificate"), 0o644))
	_, err = LoadClientConfig(bogus)
	assert.Error(t, err)

	cfg, err := LoadClientConfig("")
	require.NoError(t, err)
	assert.Nil(t, cfg.RootCAs)
}
