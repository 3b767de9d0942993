package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
)

func TestHTTPMetrics_MetricsMiddleware(t *testing.T) {
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))

	m := &HTTPMetrics{
		meter:  mp.Meter(httpInstrumentationName),
		logger: zap.NewNop(),
	}
	m.init()

	e := echo.New()
	e.Use(m.MetricsMiddleware())
	e.GET("/v1/characters/:pubkey", func(c echo.Context) error {
		return c.String(http.StatusOK, "bob")
	})
	e.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	for _, path := range []string{"/v1/characters/abc", "/v1/characters/def", "/health"} {
		e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	found := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			found[md.Name] = true
			switch md.Name {
			case "daemon.http.requests_total":
				sum, ok := md.Data.(metricdata.Sum[int64])
				require.True(t, ok)
				byEndpoint := map[string]int64{}
				for _, dp := range sum.DataPoints {
					v, _ := dp.Attributes.Value(attribute.Key("endpoint"))
					byEndpoint[v.AsString()] += dp.Value
				}
				assert.Equal(t, map[string]int64{"/v1/characters/:pubkey": 2, "/health": 1}, byEndpoint,
					"route patterns keep label cardinality bounded")
			case "daemon.http.request_duration_seconds":
				hist, ok := md.Data.(metricdata.Histogram[float64])
				require.True(t, ok)
				var n uint64
				for _, dp := range hist.DataPoints {
					n += dp.Count
				}
				assert.Equal(t, uint64(3), n)
			}
		}
	}
	assert.True(t, found["daemon.http.requests_total"])
	assert.True(t, found["daemon.http.request_duration_seconds"])
	assert.True(t, found["daemon.http.response_size_bytes"])
	assert.True(t, found["daemon.http.active_requests"])
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"", "/"},
		{"/health", "/health"},
		{"/v1/characters/:pubkey", "/v1/characters/:pubkey"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, normalizePath(tt.input))
	}
}

func TestPipelineRuns(t *testing.T) {
	reg := prometheus.NewRegistry()
	runs := newPipelineRuns(reg)
	runs.observe(nil)
	runs.observe(nil)
	runs.observe(errors.New("boom"))

	assert.Equal(t, 2.0, testutil.ToFloat64(runs.total.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(runs.total.WithLabelValues("failed")))

	// A second server on the same registry shares the collector.
	again := newPipelineRuns(reg)
	again.observe(nil)
	assert.Equal(t, 3.0, testutil.ToFloat64(runs.total.WithLabelValues("ok")))
}
