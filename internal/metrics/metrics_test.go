package metrics

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(stageAttemptsMetric.WithLabelValues("upload", "retry"))
	ObserveStageAttempt("upload", "retry")
	ObserveStageAttempt("upload", "retry")
	assert.Equal(t, before+2, testutil.ToFloat64(stageAttemptsMetric.WithLabelValues("upload", "retry")))

	before = testutil.ToFloat64(batchRecordsMetric.WithLabelValues("skipped"))
	ObserveBatch("completed", 2, 1, 1, 1, 0)
	assert.Equal(t, before+1, testutil.ToFloat64(batchRecordsMetric.WithLabelValues("skipped")))

	before = testutil.ToFloat64(pipelineOutcomesMetric.WithLabelValues("order", "failure", "convert"))
	ObservePipeline("order", "failure", "convert", time.Second)
	assert.Equal(t, before+1, testutil.ToFloat64(pipelineOutcomesMetric.WithLabelValues("order", "failure", "convert")))
}

func TestServer_Endpoints(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	var failing atomic.Bool
	srv := NewServer(":0", func(ctx context.Context) error {
		if failing.Load() {
			return errors.New("database unavailable")
		}
		return nil
	}, logger)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	get := func(path string) (int, string) {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, string(body)
	}

	IncreaseScheduleFires("started")
	code, body := get("/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "relay_schedule_fires_total")

	code, _ = get("/healthz")
	assert.Equal(t, http.StatusOK, code)

	code, _ = get("/readyz")
	assert.Equal(t, http.StatusOK, code)

	failing.Store(true)
	code, body = get("/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, body, "database unavailable")
}
