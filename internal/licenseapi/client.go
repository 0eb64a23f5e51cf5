// Package licenseapi is the HTTP client for the remote license activation
// service. It implements license.Service.
package licenseapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	licenseErrors "entitle/internal/errors"
	"entitle/internal/license"
)

const (
	checkPath    = "/v1/licenses/check"
	validatePath = "/v1/licenses/validate"
	activatePath = "/v1/licenses/activate"

	maxResponseBytes = 1 << 20
	defaultTimeout   = 15 * time.Second
	userAgent        = "entitle-license-client/1.0"
)

// Service error codes with a dedicated meaning
const (
	CodeActivationLimitReached = "activation_limit_reached"
	CodeActivationNotRequired  = "activation_not_required"
)

// Config configures a Client
type Config struct {
	BaseURL      string
	ProductID    string
	InstanceName string
	Timeout      time.Duration
	// HTTPClient overrides the default client built from Timeout
	HTTPClient *http.Client
}

// Client talks JSON over HTTP to the license service
type Client struct {
	baseURL      *url.URL
	productID    string
	instanceName string
	http         *http.Client
	logger       *slog.Logger
}

var _ license.Service = (*Client)(nil)

// NewClient validates cfg and creates a Client
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid license service url %q", cfg.BaseURL)
	}
	if logger == nil {
		logger = slog.Default()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL:      base,
		productID:    cfg.ProductID,
		instanceName: cfg.InstanceName,
		http:         httpClient,
		logger:       logger.With(slog.String("component", "license_api_client")),
	}, nil
}

type checkRequest struct {
	LicenseKey string `json:"license_key"`
	ProductID  string `json:"product_id,omitempty"`
}

type checkResponse struct {
	Valid              bool `json:"valid"`
	RequiresActivation bool `json:"requires_activation"`
	ActivationsLimit   *int `json:"activations_limit"`
}

type validateRequest struct {
	LicenseKey   string `json:"license_key"`
	ActivationID string `json:"activation_id"`
	ProductID    string `json:"product_id,omitempty"`
}

type validateResponse struct {
	Valid bool `json:"valid"`
}

type activateRequest struct {
	LicenseKey   string `json:"license_key"`
	ProductID    string `json:"product_id,omitempty"`
	InstanceName string `json:"instance_name,omitempty"`
}

type activateResponse struct {
	ActivationID     string `json:"activation_id"`
	ActivationsLimit int    `json:"activations_limit"`
}

// ErrorResponse is the body the service sends with non-2xx statuses
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// StatusError is a non-2xx response without a recognized error code
type StatusError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *StatusError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("status %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	if e.Message != "" {
		return fmt.Sprintf("status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("status %d", e.StatusCode)
}

// CheckRequiresActivation asks whether key is valid and needs device binding
func (c *Client) CheckRequiresActivation(ctx context.Context, key string) (license.CheckResult, error) {
	var resp checkResponse
	if err := c.post(ctx, "check", checkPath, checkRequest{LicenseKey: key, ProductID: c.productID}, &resp); err != nil {
		return license.CheckResult{}, err
	}
	return license.CheckResult{
		IsValid:            resp.Valid,
		RequiresActivation: resp.RequiresActivation,
		ActivationsLimit:   resp.ActivationsLimit,
	}, nil
}

// ValidateWithActivation asks whether activationID is still bound to key
func (c *Client) ValidateWithActivation(ctx context.Context, key, activationID string) (bool, error) {
	var resp validateResponse
	req := validateRequest{LicenseKey: key, ActivationID: activationID, ProductID: c.productID}
	if err := c.post(ctx, "validate", validatePath, req, &resp); err != nil {
		return false, err
	}
	return resp.Valid, nil
}

// Activate binds key to this instance
func (c *Client) Activate(ctx context.Context, key string) (license.ActivationResult, error) {
	var resp activateResponse
	req := activateRequest{LicenseKey: key, ProductID: c.productID, InstanceName: c.instanceName}
	if err := c.post(ctx, "activate", activatePath, req, &resp); err != nil {
		return license.ActivationResult{}, err
	}
	return license.ActivationResult{
		ActivationID:     resp.ActivationID,
		ActivationsLimit: resp.ActivationsLimit,
	}, nil
}

func (c *Client) post(ctx context.Context, op, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return licenseErrors.NewRemoteError(op, fmt.Errorf("encode request: %w", err))
	}

	endpoint := c.baseURL.JoinPath(path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return licenseErrors.NewRemoteError(op, fmt.Errorf("create request: %w", err))
	}

	requestID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Request-ID", requestID)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.WarnContext(ctx, "License service request failed",
			slog.String("operation", op),
			slog.String("request_id", requestID),
			slog.Duration("duration", time.Since(start)),
			slog.String("error", err.Error()),
		)
		return licenseErrors.NewRemoteError(op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return licenseErrors.NewRemoteError(op, fmt.Errorf("read response: %w", err))
	}

	c.logger.DebugContext(ctx, "License service responded",
		slog.String("operation", op),
		slog.String("request_id", requestID),
		slog.Int("status_code", resp.StatusCode),
		slog.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return licenseErrors.NewRemoteError(op, decodeError(resp.StatusCode, data))
	}

	if err := json.Unmarshal(data, out); err != nil {
		return licenseErrors.NewRemoteError(op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// decodeError maps a non-2xx body onto the license error taxonomy
func decodeError(status int, body []byte) error {
	var er ErrorResponse
	if err := json.Unmarshal(body, &er); err != nil {
		er = ErrorResponse{Message: strings.TrimSpace(string(body))}
	}

	switch er.Code {
	case CodeActivationLimitReached:
		details := er.Details
		if details == "" {
			details = er.Message
		}
		return licenseErrors.NewActivationLimitReachedError(details)
	case CodeActivationNotRequired:
		return licenseErrors.ErrActivationNotRequired
	}

	if len(er.Message) > 200 {
		er.Message = er.Message[:200]
	}
	return &StatusError{StatusCode: status, Code: er.Code, Message: er.Message}
}

// IsStatus reports whether err carries the given HTTP status
func IsStatus(err error, status int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == status
}
