package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/render"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"entitle/internal/errors"
)

// ActivateURL is where a rejected client submits a license key
const ActivateURL = "/api/license/activate"

// EntitlementGate rejects requests while the app is not usable. It reads the
// in-memory entitlement on every request and never contacts the license
// service.
type EntitlementGate struct {
	entitlement     Entitlement
	logger          *slog.Logger
	excludePaths    []string
	excludePrefixes []string
	enabled         bool
	metrics         *GateMetrics
}

// GateMetrics holds OpenTelemetry metrics for the entitlement gate
type GateMetrics struct {
	RequestsAllowed metric.Int64Counter
	RequestsDenied  metric.Int64Counter
	PathExclusions  metric.Int64Counter
}

// NewGateMetrics creates the gate instruments on meter
func NewGateMetrics(meter metric.Meter) (*GateMetrics, error) {
	allowed, err := meter.Int64Counter("entitlement_gate_allowed_total",
		metric.WithDescription("Requests passed by the entitlement gate"))
	if err != nil {
		return nil, err
	}
	denied, err := meter.Int64Counter("entitlement_gate_denied_total",
		metric.WithDescription("Requests rejected because the app is not usable"))
	if err != nil {
		return nil, err
	}
	excluded, err := meter.Int64Counter("entitlement_gate_excluded_total",
		metric.WithDescription("Requests on paths exempt from the entitlement gate"))
	if err != nil {
		return nil, err
	}
	return &GateMetrics{RequestsAllowed: allowed, RequestsDenied: denied, PathExclusions: excluded}, nil
}

// NewEntitlementGate creates the gate with the default exemptions: license
// management, health, metrics and the WebSocket stream stay reachable so an
// expired install can still be activated. Every rejected request gets a 402
// problem naming the activation endpoint.
func NewEntitlementGate(entitlement Entitlement, logger *slog.Logger) *EntitlementGate {
	if logger == nil {
		logger = slog.Default()
	}
	return &EntitlementGate{
		entitlement: entitlement,
		logger:      logger.With(slog.String("component", "entitlement_gate")),
		enabled:     true,
		excludePaths: []string{
			"/ws",
			"/metrics",
		},
		excludePrefixes: []string{
			"/api/license",
			"/api/health",
			"/api/version",
		},
	}
}

// Handler returns the middleware handler function
func (g *EntitlementGate) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if !g.enabled {
			next.ServeHTTP(w, r)
			return
		}

		if g.shouldExcludePath(r.URL.Path) {
			if g.metrics != nil {
				g.metrics.PathExclusions.Add(ctx, 1)
			}
			next.ServeHTTP(w, r)
			return
		}

		if g.entitlement.CanUseApp() {
			if g.metrics != nil {
				g.metrics.RequestsAllowed.Add(ctx, 1)
			}
			next.ServeHTTP(w, r)
			return
		}

		ctx, span := otel.Tracer("entitle/middleware").Start(ctx, "entitlement_gate.deny",
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.path", r.URL.Path),
			),
		)
		defer span.End()

		if g.metrics != nil {
			g.metrics.RequestsDenied.Add(ctx, 1)
		}
		g.handleNotEntitled(w, r.WithContext(ctx))
	})
}

func (g *EntitlementGate) handleNotEntitled(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	traceID := GetRequestID(ctx)

	g.logger.InfoContext(ctx, "request blocked, entitlement required",
		slog.String("path", r.URL.Path),
		slog.String("trace_id", traceID))

	problem := errors.NewProblemDetails(
		http.StatusPaymentRequired,
		errors.TypeEntitlementRequired,
		"Entitlement Required",
		"Your trial has expired. Activate a license to access this resource.",
		fmt.Sprintf("%s#%s", r.URL.Path, traceID),
	).WithExtension("error_code", "ENTITLEMENT_REQUIRED").
		WithExtension("activate_url", ActivateURL)
	if traceID != "" {
		problem.WithExtension("trace_id", traceID)
	}

	render.Render(w, r, problem)
}

// shouldExcludePath checks if a path is exempt from the gate
func (g *EntitlementGate) shouldExcludePath(path string) bool {
	for _, excluded := range g.excludePaths {
		if path == excluded {
			return true
		}
	}
	for _, prefix := range g.excludePrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// AddExcludePath exempts an exact path from the gate
func (g *EntitlementGate) AddExcludePath(path string) {
	g.excludePaths = append(g.excludePaths, path)
}

// AddExcludePrefix exempts every path under prefix from the gate
func (g *EntitlementGate) AddExcludePrefix(prefix string) {
	g.excludePrefixes = append(g.excludePrefixes, prefix)
}

// SetEnabled turns the gate on or off
func (g *EntitlementGate) SetEnabled(enabled bool) {
	g.enabled = enabled
}

// SetMetrics attaches OpenTelemetry counters
func (g *EntitlementGate) SetMetrics(metrics *GateMetrics) {
	g.metrics = metrics
}
