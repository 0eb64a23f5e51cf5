// Package shared groups helpers used by more than one package.
//
// The testutil subpackage provides:
//
//   - BufferedSlogHandler, a slog.Handler that records every entry, including
//     attributes bound with Logger.With, for assertions on log output
//   - LicenseServer, an in-process license service speaking the same JSON
//     protocol as the real one, used by the integration tests
//
// Example usage:
//
//	func TestActivation(t *testing.T) {
//	    server := testutil.NewLicenseServer(t, testutil.LicenseKey{Key: "ABCD-0000-0000-0001"})
//	    logger, logs := testutil.NewTestLogger(t)
//	    // build a licenseapi.Client against server.URL with logger
//	    _ = logs
//	}
//
// Nothing here is imported by production code.
package shared
