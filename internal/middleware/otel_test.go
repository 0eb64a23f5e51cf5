package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"entitle/internal/infrastructure"
)

func TestOTelMiddleware(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	providers := &infrastructure.OTelProviders{
		Tracer: tp.Tracer("test"),
		Meter:  noop.NewMeterProvider().Meter("test"),
		Logger: discardLogger(),
	}
	mw, err := NewOTelMiddleware(providers)
	require.NoError(t, err)

	var traceID string
	r := chi.NewRouter()
	r.Use(mw.Handler)
	r.Get("/api/license/{op}", func(w http.ResponseWriter, r *http.Request) {
		traceID = infrastructure.GetTraceID(r.Context())
		w.WriteHeader(http.StatusAccepted)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/license/status", nil))

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Len(t, traceID, 32)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "GET /api/license/{op}", spans[0].Name())
	assert.Equal(t, traceID, spans[0].SpanContext().TraceID().String())
}
