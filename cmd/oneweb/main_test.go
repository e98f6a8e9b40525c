package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// portOf returns ":<port>" of a test server so runHealthCheck reaches it via
// localhost.
func portOf(srv *httptest.Server) string {
	host := strings.TrimPrefix(srv.URL, "http://")
	return host[strings.LastIndex(host, ":"):]
}

func TestRunHealthCheck_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/healthz", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok","backend":"sqlite"}`))
	}))
	defer srv.Close()

	require.NoError(t, runHealthCheck(portOf(srv)))
}

func TestRunHealthCheck_Unhealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := runHealthCheck(portOf(srv))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "health check returned status 503")
}

func TestRunHealthCheck_ConnectionError(t *testing.T) {
	err := runHealthCheck(":19")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "health check request failed")
}

func TestEnvOr(t *testing.T) {
	t.Setenv("ONEWEB_TEST_ENV_OR", "")
	assert.Equal(t, "fallback", envOr("ONEWEB_TEST_ENV_OR", "fallback"))
	t.Setenv("ONEWEB_TEST_ENV_OR", "set")
	assert.Equal(t, "set", envOr("ONEWEB_TEST_ENV_OR", "fallback"))
}

func TestVersionDefault(t *testing.T) {
	assert.Equal(t, "dev", version)
}
