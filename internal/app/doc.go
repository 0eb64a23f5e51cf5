// Package app wires the entitlement daemon together and manages its
// lifecycle.
//
// # Initialization Flow
//
//	1. Resolve paths and create the data and log directories
//	2. Initialize OpenTelemetry providers
//	3. Open the entitlement store and create the license service client
//	4. Build the license manager, services, WebSocket hub and router
//
// Launch then records the first launch, recomputes the trial countdown,
// optionally re-validates a stored key and starts the background workers:
// the clock watcher and the relay that pushes license:state messages to
// WebSocket clients.
//
// # Graceful Shutdown
//
// Run returns when its context is cancelled. Stop drains HTTP requests,
// stops the background workers, closes WebSocket clients and flushes
// telemetry. It is safe to call more than once.
//
// # Error Handling
//
// Initialization errors are returned to the caller. The package never calls
// os.Exit; cmd/entitled decides the exit code.
package app
