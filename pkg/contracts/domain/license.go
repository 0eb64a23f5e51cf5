// Package domain contains the entitlement models shared by the HTTP API, the
// WebSocket stream and service layer.
package domain

import (
	"time"
)

// EntitlementStatus is the wire form of an entitlement state
type EntitlementStatus string

const (
	EntitlementTrial        EntitlementStatus = "trial"
	EntitlementTrialExpired EntitlementStatus = "trial_expired"
	EntitlementLicensed     EntitlementStatus = "licensed"
)

// LicenseStatus is returned by GET /api/license/status
type LicenseStatus struct {
	Status             EntitlementStatus `json:"status"`
	DaysRemaining      *int              `json:"days_remaining,omitempty"`
	CanUseApp          bool              `json:"can_use_app"`
	Message            string            `json:"message"`
	HasLicenseKey      bool              `json:"has_license_key"`
	LicenseKey         string            `json:"license_key,omitempty"` // masked
	RequiresActivation bool              `json:"requires_activation"`
	Activated          bool              `json:"activated"`
	ActivationsLimit   int               `json:"activations_limit"`
	TrialPeriodDays    int               `json:"trial_period_days"`
	TrialStartedAt     *time.Time        `json:"trial_started_at,omitempty"`
	TraceID            string            `json:"trace_id,omitempty"`
	Timestamp          time.Time         `json:"timestamp"`
}

// ActivationResult is returned by a successful POST /api/license/activate
type ActivationResult struct {
	Success          bool          `json:"success"`
	Method           string        `json:"method"`
	ActivationsLimit int           `json:"activations_limit"`
	Message          string        `json:"message"`
	License          LicenseStatus `json:"license"`
	TraceID          string        `json:"trace_id,omitempty"`
	Duration         string        `json:"duration,omitempty"`
}

// ValidationMetrics counts license operations served by this process
type ValidationMetrics struct {
	TotalValidations      int64         `json:"total_validations"`
	SuccessfulValidations int64         `json:"successful_validations"`
	FailedValidations     int64         `json:"failed_validations"`
	AverageResponseTime   time.Duration `json:"average_response_time"`
	LastValidationTime    time.Time     `json:"last_validation_time,omitempty"`
	Uptime                time.Duration `json:"uptime"`
}
