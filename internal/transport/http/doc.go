// Package http implements the HTTP handlers of the entitlement service. It is
// a thin layer between the chi router and the services package: handlers
// decode and validate requests, call a service, and render either JSON or an
// RFC 7807 problem.
//
// # Routes
//
//	GET    /api/license/status    current entitlement and stored record
//	POST   /api/license/activate  validate and bind a license key
//	POST   /api/license/refresh   re-validate the stored key
//	POST   /api/license/trial     start the trial if none exists
//	DELETE /api/license           remove the license and re-arm the trial
//	GET    /api/license/metrics   per-process validation counters
//	GET    /api/health[/ready|/live]
//	GET    /api/version
//	GET    /metrics               Prometheus scrape endpoint
package http
