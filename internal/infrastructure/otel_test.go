package infrastructure

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	semconv "go.opentelemetry.io/otel/semconv/v1.28.0"

	"entitle/internal/config"
)

func testTelemetryConfig() config.TelemetryConfig {
	return config.TelemetryConfig{
		Environment:    "test",
		TraceExporter:  "stdout",
		MetricExporter: "prometheus",
		SampleRatio:    1.0,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestOTelInitialization(t *testing.T) {
	providers, err := InitializeOTel(testTelemetryConfig(), discardLogger())
	require.NoError(t, err)
	require.NotNil(t, providers)

	assert.NotNil(t, providers.TracerProvider)
	assert.NotNil(t, providers.Tracer)
	assert.NotNil(t, providers.MeterProvider)
	assert.NotNil(t, providers.Meter)
	assert.NotNil(t, providers.PrometheusHTTP)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, providers.Shutdown(ctx))
}

func TestOTelInitialization_Disabled(t *testing.T) {
	providers, err := InitializeOTel(config.TelemetryConfig{
		TraceExporter:  "none",
		MetricExporter: "none",
	}, discardLogger())
	require.NoError(t, err)

	assert.Nil(t, providers.TracerProvider)
	assert.Nil(t, providers.MeterProvider)
	assert.Nil(t, providers.PrometheusHTTP)
	assert.NotNil(t, providers.Tracer, "no-op tracer is always available")
	assert.NotNil(t, providers.Meter, "no-op meter is always available")
	assert.NoError(t, providers.Shutdown(context.Background()))
}

func TestOTelInitialization_ZeroConfig(t *testing.T) {
	providers, err := InitializeOTel(config.TelemetryConfig{}, nil)
	require.NoError(t, err)
	require.NotNil(t, providers)
	assert.NoError(t, providers.Shutdown(context.Background()))
}

func TestCreateResource(t *testing.T) {
	res := createResource(config.TelemetryConfig{Environment: "test"})

	assert.Equal(t, semconv.SchemaURL, res.SchemaURL())
	name, ok := res.Set().Value(semconv.ServiceNameKey)
	require.True(t, ok)
	assert.Equal(t, ServiceName, name.AsString())
	env, ok := res.Set().Value(semconv.DeploymentEnvironmentNameKey)
	require.True(t, ok)
	assert.Equal(t, "test", env.AsString())
}

func TestOTelInitialization_UnsupportedExporter(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.TelemetryConfig
	}{
		{"trace", config.TelemetryConfig{TraceExporter: "jaeger", MetricExporter: "none"}},
		{"metric", config.TelemetryConfig{TraceExporter: "none", MetricExporter: "statsd"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := InitializeOTel(tt.cfg, discardLogger())
			assert.Error(t, err)
		})
	}
}

func TestTraceCorrelation(t *testing.T) {
	providers, err := InitializeOTel(testTelemetryConfig(), discardLogger())
	require.NoError(t, err)
	defer providers.Shutdown(context.Background())

	ctx, span := otel.Tracer("test").Start(context.Background(), "test-operation")
	defer span.End()

	assert.Equal(t, span.SpanContext().TraceID().String(), GetTraceID(ctx))

	var buf bytes.Buffer
	NewLoggerWithWriter(&buf, nil).InfoContext(ctx, "inside span")
	entry := lastJSONLine(t, buf.Bytes())
	assert.Equal(t, span.SpanContext().TraceID().String(), entry["trace_id"])
	assert.Equal(t, span.SpanContext().SpanID().String(), entry["span_id"])

	ctx = WithTraceID(ctx, "explicit")
	assert.Equal(t, "explicit", GetTraceID(ctx))

	RecordError(ctx, assert.AnError)
	RecordError(ctx, nil)
	assert.True(t, span.IsRecording())
}

func TestHTTPMetricsAndPrometheusEndpoint(t *testing.T) {
	providers, err := InitializeOTel(testTelemetryConfig(), discardLogger())
	require.NoError(t, err)
	defer providers.Shutdown(context.Background())

	metrics, err := NewHTTPMetrics(providers.Meter)
	require.NoError(t, err)
	metrics.RequestsTotal.Add(context.Background(), 1,
		metric.WithAttributes())
	metrics.RequestDuration.Record(context.Background(), 0.25)

	server := httptest.NewServer(providers.PrometheusHTTP)
	defer server.Close()

	resp, err := http.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "http_requests_total")
}
