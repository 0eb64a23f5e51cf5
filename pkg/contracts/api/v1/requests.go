// Package api contains the request contracts of the entitlement HTTP API.
// Version v1 represents the current stable API version.
package api

// LicenseActivateRequest is the body of POST /api/license/activate
type LicenseActivateRequest struct {
	LicenseKey string `json:"license_key" validate:"max=128,licensekey"`
}

// LicenseRefreshRequest is the body of POST /api/license/refresh
type LicenseRefreshRequest struct {
	// Force re-validates even when the stored record is Licensed
	Force bool `json:"force,omitempty"`
}
