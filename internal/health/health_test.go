package health_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NodeJSmith/hassette-go/internal/health"
	"github.com/NodeJSmith/hassette-go/internal/resource"
)

type fakeWebsocket struct {
	status resource.Status
}

func (f *fakeWebsocket) Status() resource.Status { return f.status }

func TestHealthzReportsConnectedWhenRunning(t *testing.T) {
	ws := &fakeWebsocket{status: resource.Running}
	srv := health.New(0, ws, zerolog.Nop())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "connected", body["ws"])
}

func TestHealthzReportsDegradedWhenNotRunning(t *testing.T) {
	ws := &fakeWebsocket{status: resource.Starting}
	srv := health.New(0, ws, zerolog.Nop())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, "disconnected", body["ws"])
}

func TestMetricsEndpointServesPrometheusFormat(t *testing.T) {
	srv := health.New(0, &fakeWebsocket{status: resource.Running}, zerolog.Nop())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestServeStartsAndShutsDownCleanly(t *testing.T) {
	ws := &fakeWebsocket{status: resource.Running}
	srv := health.New(0, ws, zerolog.Nop())

	srv.Start(context.Background())
	require.NoError(t, srv.WaitReady(context.Background()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer shutdownCancel()
	require.NoError(t, srv.Shutdown(shutdownCtx))
}
