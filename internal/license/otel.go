package license

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	licenseErrors "entitle/internal/errors"
)

const (
	TracerName = "entitle/license"
	MeterName  = "entitle/license"
)

// LicenseMetrics holds all license-specific OpenTelemetry metrics
type LicenseMetrics struct {
	ValidationAttempts metric.Int64Counter
	ValidationSuccess  metric.Int64Counter
	ValidationFailures metric.Int64Counter
	ValidationDuration metric.Float64Histogram

	ActivationAttempts metric.Int64Counter
	ActivationSuccess  metric.Int64Counter
	ActivationFailures metric.Int64Counter

	StateChanges metric.Int64Counter
	Removals     metric.Int64Counter
}

// InitializeLicenseMetrics creates all license-specific metrics
func InitializeLicenseMetrics(meter metric.Meter) (*LicenseMetrics, error) {
	metrics := &LicenseMetrics{}
	var err error

	metrics.ValidationAttempts, err = meter.Int64Counter(
		"license_validation_attempts_total",
		metric.WithDescription("Total number of license validation attempts"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create validation attempts counter: %w", err)
	}

	metrics.ValidationSuccess, err = meter.Int64Counter(
		"license_validation_success_total",
		metric.WithDescription("Total number of license validations that ended licensed"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create validation success counter: %w", err)
	}

	metrics.ValidationFailures, err = meter.Int64Counter(
		"license_validation_failures_total",
		metric.WithDescription("Total number of failed license validations by error type"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create validation failures counter: %w", err)
	}

	metrics.ValidationDuration, err = meter.Float64Histogram(
		"license_validation_duration_seconds",
		metric.WithDescription("License validation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create validation duration histogram: %w", err)
	}

	metrics.ActivationAttempts, err = meter.Int64Counter(
		"license_activation_attempts_total",
		metric.WithDescription("Total number of device activation requests"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create activation attempts counter: %w", err)
	}

	metrics.ActivationSuccess, err = meter.Int64Counter(
		"license_activation_success_total",
		metric.WithDescription("Total number of successful device activations"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create activation success counter: %w", err)
	}

	metrics.ActivationFailures, err = meter.Int64Counter(
		"license_activation_failures_total",
		metric.WithDescription("Total number of failed device activations"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create activation failures counter: %w", err)
	}

	metrics.StateChanges, err = meter.Int64Counter(
		"license_state_changes_total",
		metric.WithDescription("Total number of StateChanged notifications by resulting status"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create state changes counter: %w", err)
	}

	metrics.Removals, err = meter.Int64Counter(
		"license_removals_total",
		metric.WithDescription("Total number of license removals"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create removals counter: %w", err)
	}

	return metrics, nil
}

// traceValidation wraps one ValidateLicense run in a span and records metrics
func (m *Manager) traceValidation(ctx context.Context, key string, fn func(context.Context) (Outcome, error)) (Outcome, error) {
	ctx, span := m.tracer.Start(ctx, "license.validate",
		trace.WithAttributes(
			attribute.String("license.operation", "validate"),
			attribute.String("license.key_prefix", maskLicenseKey(key)),
			attribute.String("component", "license_manager"),
		),
	)
	defer span.End()

	start := time.Now()
	outcome, err := fn(ctx)
	duration := time.Since(start)

	m.recordValidationMetrics(ctx, duration, outcome, err)

	span.SetAttributes(
		attribute.Float64("license.duration_ms", float64(duration.Milliseconds())),
		attribute.Bool("license.success", err == nil),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String("license.error_type", classifyLicenseError(err)))
	} else {
		span.SetAttributes(attribute.String("license.method", string(outcome.Method)))
		span.SetStatus(codes.Ok, "license validated")
	}

	return outcome, err
}

// traceRemote wraps one service call in a child span
func (m *Manager) traceRemote(ctx context.Context, op string, fn func(context.Context) error) error {
	ctx, span := m.tracer.Start(ctx, "license.service."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("license.operation", op)),
	)
	defer span.End()

	err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (m *Manager) recordValidationMetrics(ctx context.Context, duration time.Duration, outcome Outcome, err error) {
	if m.metrics == nil {
		return
	}

	m.metrics.ValidationAttempts.Add(ctx, 1)
	m.metrics.ValidationDuration.Record(ctx, duration.Seconds(),
		metric.WithAttributes(attribute.Bool("success", err == nil)))

	if err != nil {
		m.metrics.ValidationFailures.Add(ctx, 1,
			metric.WithAttributes(attribute.String("error_type", classifyLicenseError(err))))
		return
	}
	m.metrics.ValidationSuccess.Add(ctx, 1,
		metric.WithAttributes(attribute.String("method", string(outcome.Method))))
}

func (m *Manager) recordActivationMetrics(ctx context.Context, err error) {
	if m.metrics == nil {
		return
	}
	m.metrics.ActivationAttempts.Add(ctx, 1)
	if err != nil {
		m.metrics.ActivationFailures.Add(ctx, 1,
			metric.WithAttributes(attribute.String("error_type", classifyLicenseError(err))))
		return
	}
	m.metrics.ActivationSuccess.Add(ctx, 1)
}

func (m *Manager) recordStateChange(ctx context.Context, state EntitlementState) {
	if m.metrics == nil {
		return
	}
	m.metrics.StateChanges.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", state.Status().String())))
}

// classifyLicenseError maps an error onto a low-cardinality label
func classifyLicenseError(err error) string {
	var limitErr *licenseErrors.ActivationLimitReachedError
	var remoteErr *licenseErrors.RemoteError

	switch {
	case err == nil:
		return ""
	case errors.Is(err, licenseErrors.ErrEmptyKey):
		return "empty_key"
	case errors.Is(err, licenseErrors.ErrInvalidKey):
		return "invalid_key"
	case errors.Is(err, licenseErrors.ErrValidationInProgress):
		return "in_progress"
	case errors.As(err, &limitErr):
		return "activation_limit_reached"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.As(err, &remoteErr):
		return "remote_error"
	default:
		return "unknown_error"
	}
}
