package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/render"
)

// License-specific errors (using errors package for sentinel errors)
var (
	ErrEmptyKey              = errors.New("license key must not be empty")
	ErrInvalidKey            = errors.New("license key is not valid")
	ErrActivationNotRequired = errors.New("license does not require activation")
	ErrValidationInProgress  = errors.New("license validation already in progress")
)

// ActivationLimitReachedError is returned when the license service refuses to
// bind another device because every activation slot is taken.
type ActivationLimitReachedError struct {
	Details string
}

func (e *ActivationLimitReachedError) Error() string {
	if e.Details == "" {
		return "activation limit reached"
	}
	return fmt.Sprintf("activation limit reached: %s", e.Details)
}

// NewActivationLimitReachedError creates an ActivationLimitReachedError
func NewActivationLimitReachedError(details string) *ActivationLimitReachedError {
	return &ActivationLimitReachedError{Details: details}
}

// RemoteError wraps transport, decode and otherwise unexpected failures from
// the license service.
type RemoteError struct {
	Op    string
	Cause error
}

func (e *RemoteError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("license service error: %v", e.Cause)
	}
	return fmt.Sprintf("license service %s failed: %v", e.Op, e.Cause)
}

// Unwrap exposes the underlying cause
func (e *RemoteError) Unwrap() error {
	return e.Cause
}

// NewRemoteError wraps cause as a RemoteError. A cause that is already part of
// the license taxonomy is returned unchanged.
func NewRemoteError(op string, cause error) error {
	if cause == nil {
		return nil
	}
	if IsLicenseError(cause) {
		return cause
	}
	return &RemoteError{Op: op, Cause: cause}
}

// IsLicenseError reports whether err belongs to the license error taxonomy
func IsLicenseError(err error) bool {
	var limitErr *ActivationLimitReachedError
	var remoteErr *RemoteError
	switch {
	case errors.Is(err, ErrEmptyKey),
		errors.Is(err, ErrInvalidKey),
		errors.Is(err, ErrActivationNotRequired),
		errors.Is(err, ErrValidationInProgress),
		errors.As(err, &limitErr),
		errors.As(err, &remoteErr):
		return true
	}
	return false
}

// UserMessage returns the human-readable message shown to the user for err
func UserMessage(err error) string {
	var limitErr *ActivationLimitReachedError
	var remoteErr *RemoteError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrEmptyKey):
		return "Please enter a license key."
	case errors.Is(err, ErrInvalidKey):
		return "The license key you entered is not valid."
	case errors.Is(err, ErrValidationInProgress):
		return "A license check is already running. Please wait for it to finish."
	case errors.As(err, &limitErr):
		if limitErr.Details != "" {
			return fmt.Sprintf("This license has reached its activation limit. %s", limitErr.Details)
		}
		return "This license has reached its activation limit. Deactivate another device and try again."
	case errors.As(err, &remoteErr):
		return fmt.Sprintf("Could not reach the license server: %v", remoteErr.Cause)
	default:
		return err.Error()
	}
}

// ProblemDetails implements RFC 7807 Problem Details for HTTP APIs
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`

	// Additional fields for extensibility
	Extensions map[string]interface{} `json:"-"`
}

// Render implements the render.Renderer interface
func (pd *ProblemDetails) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, pd.Status)
	return nil
}

// MarshalJSON custom marshaler to include extensions
func (pd *ProblemDetails) MarshalJSON() ([]byte, error) {
	data := make(map[string]interface{}, 5+len(pd.Extensions))

	data["type"] = pd.Type
	data["title"] = pd.Title
	data["status"] = pd.Status

	if pd.Detail != "" {
		data["detail"] = pd.Detail
	}
	if pd.Instance != "" {
		data["instance"] = pd.Instance
	}

	for k, v := range pd.Extensions {
		data[k] = v
	}

	return json.Marshal(data)
}

// NewProblemDetails creates a new RFC 7807 compliant error
func NewProblemDetails(status int, problemType, title, detail, instance string) *ProblemDetails {
	return &ProblemDetails{
		Type:       problemType,
		Title:      title,
		Status:     status,
		Detail:     detail,
		Instance:   instance,
		Extensions: make(map[string]interface{}),
	}
}

// WithExtension adds an extension field to the problem details
func (pd *ProblemDetails) WithExtension(key string, value interface{}) *ProblemDetails {
	if pd.Extensions == nil {
		pd.Extensions = make(map[string]interface{})
	}
	pd.Extensions[key] = value
	return pd
}

// LicenseProblem maps a license error to its problem details representation
func LicenseProblem(err error, traceID string) *ProblemDetails {
	instance := fmt.Sprintf("/api/license/activate#%s", traceID)
	var limitErr *ActivationLimitReachedError
	var remoteErr *RemoteError

	var problem *ProblemDetails
	switch {
	case errors.Is(err, ErrEmptyKey):
		problem = NewProblemDetails(http.StatusBadRequest, TypeLicenseEmptyKey,
			"License Key Required", UserMessage(err), instance)
		problem.WithExtension("error_type", "empty_key")
	case errors.Is(err, ErrInvalidKey):
		problem = NewProblemDetails(http.StatusUnprocessableEntity, TypeLicenseInvalidKey,
			"Invalid License Key", UserMessage(err), instance)
		problem.WithExtension("error_type", "invalid_key")
	case errors.Is(err, ErrValidationInProgress):
		problem = NewProblemDetails(http.StatusConflict, TypeLicenseBusy,
			"Validation In Progress", UserMessage(err), instance)
		problem.WithExtension("error_type", "validation_in_progress")
	case errors.As(err, &limitErr):
		problem = NewProblemDetails(http.StatusConflict, TypeLicenseActivationLimit,
			"Activation Limit Reached", UserMessage(err), instance)
		problem.WithExtension("error_type", "activation_limit_reached").
			WithExtension("details", limitErr.Details)
	case errors.As(err, &remoteErr):
		problem = NewProblemDetails(http.StatusBadGateway, TypeLicenseRemote,
			"License Server Error", UserMessage(err), instance)
		problem.WithExtension("error_type", "remote_error")
	default:
		problem = NewProblemDetails(http.StatusInternalServerError, TypeInternal,
			"Internal Server Error", "An unexpected error occurred", instance)
		problem.WithExtension("error_type", "internal")
	}

	if traceID != "" {
		problem.WithExtension("trace_id", traceID)
	}
	return problem
}
