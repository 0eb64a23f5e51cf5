// Package services implements the business logic layer between the HTTP
// handlers and the license manager.
//
// # Services
//
//	LicenseService  maps entitlement operations onto API contracts and keeps
//	                per-process validation counters
//	HealthService   reports liveness, readiness and build information
//
// Services receive their dependencies through constructors and log with the
// injected *slog.Logger. Every operation takes a context.Context so request
// IDs and trace spans flow into the manager.
package services
