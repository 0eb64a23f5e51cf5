package license

import "context"

// CheckResult is the answer to a requires-activation check
type CheckResult struct {
	IsValid            bool
	RequiresActivation bool
	// ActivationsLimit is nil when the service does not report one
	ActivationsLimit *int
}

// ActivationResult describes a new device activation
type ActivationResult struct {
	ActivationID     string
	ActivationsLimit int
}

// Service is the remote license service. Implementations return
// ActivationLimitReachedError and ErrActivationNotRequired from the errors
// package where the service reports them; any other failure may be a plain
// error and is surfaced to callers as a RemoteError.
type Service interface {
	CheckRequiresActivation(ctx context.Context, key string) (CheckResult, error)
	ValidateWithActivation(ctx context.Context, key, activationID string) (bool, error)
	Activate(ctx context.Context, key string) (ActivationResult, error)
}
