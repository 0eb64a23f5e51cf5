// Package license decides whether the application may be used. It tracks
// three mutually exclusive entitlement states (an active trial with a day
// countdown, an expired trial, and licensed) and reconciles the local record
// with a remote license activation service.
//
// # Components
//
//	- StateMachine: derives Trial(n), TrialExpired or Licensed from the stored
//	  trial start date and the clock
//	- Store: durable key-value storage of six named fields (MemoryStore,
//	  FileStore)
//	- Service: the remote check/validate/activate contract
//	- Manager: orchestrates activation and removal, serializes store access
//	  and publishes StateChanged through a Broadcaster
//
// # Activation Flow
//
//	outcome, err := manager.ValidateLicense(ctx, key)
//
// ValidateLicense checks the key with the service. An invalid key fails with
// ErrInvalidKey and changes nothing. A valid key is stored immediately, then:
//
//	1. Keys that need no activation are recorded as such and the state
//	   becomes Licensed
//	2. Keys that need activation first reuse a stored activation id when the
//	   service still accepts it, so repeated validation on the same device
//	   does not consume another activation slot
//	3. Otherwise the key is activated and the new activation id is stored
//
// An ActivationLimitReachedError leaves the entitlement untouched.
// ErrActivationNotRequired from any call is treated as success.
//
// Only one ValidateLicense call may be in flight per Manager. A concurrent
// call fails fast with ErrValidationInProgress.
//
// # Offline Startup
//
// On startup the state is derived from the store alone: a stored key plus a
// committed activation record means Licensed; otherwise the trial countdown
// is computed from the stored trial start date.
package license
