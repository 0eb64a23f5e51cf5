package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"entitle/internal/infrastructure"
	"entitle/internal/license"
	"entitle/pkg/contracts/domain"
)

// LicenseManager is the part of *license.Manager the service depends on
type LicenseManager interface {
	ValidateLicense(ctx context.Context, key string) (license.Outcome, error)
	RemoveLicense(ctx context.Context) license.EntitlementState
	StartTrial(ctx context.Context) (license.EntitlementState, error)
	RefreshStoredLicense(ctx context.Context) (*license.Outcome, error)
	Snapshot() license.Snapshot
	CanUseApp() bool
}

var _ LicenseManager = (*license.Manager)(nil)

// LicenseService provides the entitlement operations exposed over HTTP
type LicenseService interface {
	GetStatus(ctx context.Context) (*domain.LicenseStatus, error)
	Activate(ctx context.Context, key string) (*domain.ActivationResult, error)
	StartTrial(ctx context.Context) (*domain.LicenseStatus, error)
	Remove(ctx context.Context) (*domain.LicenseStatus, error)
	Refresh(ctx context.Context) (*domain.LicenseStatus, error)
	CanUseApp() bool
	GetValidationMetrics(ctx context.Context) (*domain.ValidationMetrics, error)
}

// licenseService implements LicenseService
type licenseService struct {
	manager LicenseManager
	logger  *slog.Logger

	startTime         time.Time
	validationCount   atomic.Int64
	successCount      atomic.Int64
	errorCount        atomic.Int64
	totalResponseTime atomic.Int64
	lastValidation    atomic.Int64
}

// NewLicenseService creates a new license service
func NewLicenseService(manager LicenseManager, logger *slog.Logger) LicenseService {
	if logger == nil {
		logger = slog.Default()
	}
	return &licenseService{
		manager:   manager,
		logger:    logger.With(slog.String("service", "license")),
		startTime: time.Now(),
	}
}

// traceIDFrom prefers the chi request id and falls back to the trace id
func traceIDFrom(ctx context.Context) string {
	if id := middleware.GetReqID(ctx); id != "" {
		return id
	}
	return infrastructure.GetTraceID(ctx)
}

// GetStatus returns the current entitlement and stored record
func (s *licenseService) GetStatus(ctx context.Context) (*domain.LicenseStatus, error) {
	status := LicenseStatusFromSnapshot(s.manager.Snapshot())
	status.TraceID = traceIDFrom(ctx)

	s.logger.DebugContext(ctx, "license status requested",
		slog.String("trace_id", status.TraceID),
		slog.String("status", string(status.Status)),
		slog.Bool("can_use_app", status.CanUseApp),
	)
	return status, nil
}

// Activate validates key against the license service
func (s *licenseService) Activate(ctx context.Context, key string) (*domain.ActivationResult, error) {
	start := time.Now()
	traceID := traceIDFrom(ctx)

	s.logger.InfoContext(ctx, "license activation started",
		slog.String("trace_id", traceID),
		slog.String("operation", "activate"),
	)

	outcome, err := s.manager.ValidateLicense(ctx, key)
	s.track(start, err)
	if err != nil {
		s.logger.WarnContext(ctx, "license activation failed",
			slog.String("trace_id", traceID),
			slog.String("operation", "activate"),
			slog.Duration("latency", time.Since(start)),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("activation failed: %w", err)
	}

	status := LicenseStatusFromSnapshot(s.manager.Snapshot())
	status.TraceID = traceID

	s.logger.InfoContext(ctx, "license activation succeeded",
		slog.String("trace_id", traceID),
		slog.String("method", string(outcome.Method)),
		slog.Int("activations_limit", outcome.ActivationsLimit),
		slog.Duration("latency", time.Since(start)),
	)

	return &domain.ActivationResult{
		Success:          true,
		Method:           string(outcome.Method),
		ActivationsLimit: outcome.ActivationsLimit,
		Message:          activationMessage(outcome),
		License:          *status,
		TraceID:          traceID,
		Duration:         time.Since(start).String(),
	}, nil
}

// StartTrial records the trial start if none exists
func (s *licenseService) StartTrial(ctx context.Context) (*domain.LicenseStatus, error) {
	if _, err := s.manager.StartTrial(ctx); err != nil {
		s.logger.ErrorContext(ctx, "failed to start trial",
			slog.String("trace_id", traceIDFrom(ctx)),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	return s.GetStatus(ctx)
}

// Remove clears the stored license and re-arms a fresh trial
func (s *licenseService) Remove(ctx context.Context) (*domain.LicenseStatus, error) {
	state := s.manager.RemoveLicense(ctx)
	s.logger.InfoContext(ctx, "license removed",
		slog.String("trace_id", traceIDFrom(ctx)),
		slog.String("state", state.String()),
	)
	return s.GetStatus(ctx)
}

// Refresh re-validates the stored license key, if any
func (s *licenseService) Refresh(ctx context.Context) (*domain.LicenseStatus, error) {
	start := time.Now()
	outcome, err := s.manager.RefreshStoredLicense(ctx)
	if outcome == nil && err == nil {
		s.logger.DebugContext(ctx, "no stored license to refresh",
			slog.String("trace_id", traceIDFrom(ctx)))
		return s.GetStatus(ctx)
	}

	s.track(start, err)
	if err != nil {
		s.logger.WarnContext(ctx, "license refresh failed",
			slog.String("trace_id", traceIDFrom(ctx)),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("refresh failed: %w", err)
	}
	return s.GetStatus(ctx)
}

// CanUseApp reports whether the app is usable right now
func (s *licenseService) CanUseApp() bool {
	return s.manager.CanUseApp()
}

// GetValidationMetrics returns the per-process validation counters
func (s *licenseService) GetValidationMetrics(ctx context.Context) (*domain.ValidationMetrics, error) {
	total := s.validationCount.Load()
	metrics := &domain.ValidationMetrics{
		TotalValidations:      total,
		SuccessfulValidations: s.successCount.Load(),
		FailedValidations:     s.errorCount.Load(),
		Uptime:                time.Since(s.startTime),
	}
	if total > 0 {
		metrics.AverageResponseTime = time.Duration(s.totalResponseTime.Load() / total)
	}
	if last := s.lastValidation.Load(); last > 0 {
		metrics.LastValidationTime = time.Unix(0, last)
	}
	return metrics, nil
}

func (s *licenseService) track(start time.Time, err error) {
	s.validationCount.Add(1)
	s.totalResponseTime.Add(int64(time.Since(start)))
	s.lastValidation.Store(time.Now().UnixNano())
	if err != nil {
		s.errorCount.Add(1)
	} else {
		s.successCount.Add(1)
	}
}

// LicenseStatusFromSnapshot converts a manager snapshot into its API form
func LicenseStatusFromSnapshot(snap license.Snapshot) *domain.LicenseStatus {
	state := snap.State
	status := &domain.LicenseStatus{
		Status:             domain.EntitlementStatus(state.Status().String()),
		CanUseApp:          state.CanUseApp(),
		Message:            StatusMessage(state),
		HasLicenseKey:      snap.HasLicenseKey,
		LicenseKey:         snap.MaskedLicenseKey,
		RequiresActivation: snap.RequiresActivation,
		Activated:          snap.ActivationID != "",
		ActivationsLimit:   snap.ActivationsLimit,
		TrialPeriodDays:    snap.TrialPeriodDays,
		Timestamp:          time.Now(),
	}
	if state.Status() == license.StatusTrial {
		days := state.DaysRemaining()
		status.DaysRemaining = &days
	}
	if !snap.TrialStartedAt.IsZero() {
		started := snap.TrialStartedAt
		status.TrialStartedAt = &started
	}
	return status
}

// StatusMessage is the user-facing description of state
func StatusMessage(state license.EntitlementState) string {
	switch state.Status() {
	case license.StatusLicensed:
		return "License is active."
	case license.StatusTrialExpired:
		return "Your trial has expired. Enter a license key to continue."
	default:
		switch days := state.DaysRemaining(); days {
		case 0:
			return "Your trial ends today."
		case 1:
			return "1 day left in your trial."
		default:
			return fmt.Sprintf("%d days left in your trial.", days)
		}
	}
}

func activationMessage(outcome license.Outcome) string {
	switch outcome.Method {
	case license.MethodExistingActivation:
		return "License re-validated on this device."
	case license.MethodNewActivation:
		if outcome.ActivationsLimit > 0 {
			return fmt.Sprintf("License activated on this device (limit %d devices).", outcome.ActivationsLimit)
		}
		return "License activated on this device."
	default:
		return "License activated."
	}
}
