package metrics_test

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-charstates/internal/metrics"
)

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	m.ItemResolved("accepted")
	m.ItemResolved("accepted")
	m.ItemResolved("low_score")
	m.Attempt("extraction")
	m.Retry("rate_limited", 2*time.Second)
	m.Retry("low_score", 0)
	m.LLMRequest("extract", "ok", 150*time.Millisecond)
	m.RateLimited("local")
	m.TaskStarted()
	m.TaskStarted()
	m.TaskFinished()
	m.Progress(0.5)

	assert.InDelta(t, 2, testutil.ToFloat64(m.ItemsTotal.WithLabelValues("accepted")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.ItemsTotal.WithLabelValues("low_score")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.AttemptsTotal.WithLabelValues("extraction")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.RetriesTotal.WithLabelValues("rate_limited")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.LLMRequestsTotal.WithLabelValues("extract", "ok")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.RateLimitRejections.WithLabelValues("local")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.TasksInFlight), 0)
	assert.InDelta(t, 0.5, testutil.ToFloat64(m.RunProgress), 0)
	assert.Equal(t, 1, testutil.CollectAndCount(m.BackoffSeconds))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *metrics.Metrics
	m.ItemResolved("accepted")
	m.Attempt("evaluation")
	m.Retry("other_error", time.Second)
	m.LLMRequest("evaluate", "error", time.Second)
	m.RateLimited("global")
	m.TaskStarted()
	m.TaskFinished()
	m.Progress(1)
}

func TestHandlerExposesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.ItemResolved("accepted")

	srv := httptest.NewServer(metrics.Handler(reg))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `charstates_items_total{outcome="accepted"} 1`)
}
