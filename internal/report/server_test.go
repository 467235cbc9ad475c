package report

import (
	"context"
	"io"
	"net/http"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/wflatency/internal/tlsutil"
)

func TestServer_StartAndShutdown(t *testing.T) {
	srv := NewServer("127.0.0.1:0", NewMetrics("Pings"), nil)
	require.NoError(t, srv.Start())
	defer srv.Shutdown(context.Background())

	resp, err := http.Get("http://" + srv.Addr() + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"status":"healthy"`)
}

func TestServer_TLS(t *testing.T) {
	dir := t.TempDir()
	certFile := filepath.Join(dir, "cert.pem")
	keyFile := filepath.Join(dir, "key.pem")
	require.NoError(t, tlsutil.GenerateSelfSigned(certFile, keyFile, "probe.local"))

	serverTLS, err := tlsutil.ServerConfig(certFile, keyFile)
	require.NoError(t, err)
	srv := NewServer("127.0.0.1:0", NewMetrics("Pings"), nil)
	srv.UseTLS(serverTLS)
	require.NoError(t, srv.Start())
	defer srv.Shutdown(context.Background())

	clientTLS, err := tlsutil.ClientConfig(tlsutil.ClientOptions{CAFile: certFile})
	require.NoError(t, err)
	client := &http.Client{Transport: &http.Transport{TLSClientConfig: clientTLS}}

	resp, err := client.Get("https://" + srv.Addr() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "wflatency_host_cpu_percent")

	_, err = http.Get("https://" + srv.Addr() + "/healthz")
	assert.Error(t, err, "unknown authority")
}

func TestServer_StartFailsOnBusyPort(t *testing.T) {
	first := NewServer("127.0.0.1:0", NewMetrics("Pings"), nil)
	require.NoError(t, first.Start())
	defer first.Shutdown(context.Background())

	second := NewServer(first.Addr(), NewMetrics("Pings"), nil)
	assert.Error(t, second.Start())
}
