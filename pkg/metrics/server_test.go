package metrics

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestServer_ServesMetricsInPrometheusFormat(t *testing.T) {
	srv := NewServer(":0", discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.server.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestServer_StartAndStop(t *testing.T) {
	srv := NewServer("127.0.0.1:0", discardLogger())
	srv.StartAsync()
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Stop(ctx))
}

func TestRecordFunctions_UpdateUnderlyingCollectors(t *testing.T) {
	RecordJobCompleted("completed")
	RecordJobRetry()
	RecordOrphanReclaimed(2)
	RecordStageDuration("stage1_initial_analysis", 250*time.Millisecond)
	RecordProviderCall("openai", "success")
	SetProviderCircuitState("openai", 0)
	SetQuotaUtilization("openai", "daily", 0.42)
}
