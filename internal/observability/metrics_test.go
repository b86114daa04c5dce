package observability

import (
	"context"
	"io"
	"net"
	"net/http"
	"strconv"
	"testing"
	"time"

	"gateway/internal/auth"
	"gateway/internal/models"
	"gateway/internal/version"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsServer(t *testing.T) {
	metrics := models.MetricsConfig{
		Enabled: true,
		Path:    "/metrics",
		Port:    9090,
	}
	obs := models.ObservabilityConfig{
		ServiceName: "gateway-test",
		Tracing:     models.TracingConfig{Enabled: false},
	}

	provider, err := Setup(metrics, obs, version.Info{})
	require.NoError(t, err)
	defer provider.Shutdown(context.Background())

	ms := NewMetricsServer(metrics, provider)
	require.NotNil(t, ms)
	assert.Equal(t, ":9090", ms.server.Addr)
}

func TestMetricsServer_ServesPrometheus(t *testing.T) {
	// Reserve a free port.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	metrics := models.MetricsConfig{Enabled: true, Path: "/metrics", Port: port}
	provider, err := Setup(metrics, models.ObservabilityConfig{ServiceName: "gateway-test"}, version.Info{})
	require.NoError(t, err)
	defer provider.Shutdown(context.Background())

	gm, err := NewGatewayMetrics(nil)
	require.NoError(t, err)
	gm.OnAuthEvent(auth.Event{Outcome: auth.OutcomeMissing})

	ms := NewMetricsServer(metrics, provider)
	errCh := make(chan error, 1)
	go func() {
		errCh <- ms.Start()
	}()

	var body string
	require.Eventually(t, func() bool {
		resp, err := http.Get("http://127.0.0.1:" + strconv.Itoa(port) + "/metrics")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		data, _ := io.ReadAll(resp.Body)
		body = string(data)
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)
	assert.Contains(t, body, "gateway_auth_attempts")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, ms.Shutdown(ctx))
	assert.Equal(t, http.ErrServerClosed, <-errCh)
}

func TestNewMetricsServer_NilProvider(t *testing.T) {
	ms := NewMetricsServer(models.MetricsConfig{Path: "/metrics", Port: 9090}, nil)
	assert.NotNil(t, ms)
}
