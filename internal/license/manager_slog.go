package license

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"
)

// maskLicenseKey keeps the first and last four characters of long keys
func maskLicenseKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****" + key[len(key)-4:]
}

// hashLicenseKey creates a short stable digest for correlating audit logs
func hashLicenseKey(key string) string {
	if key == "" {
		return ""
	}
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:8])
}

// logOperation logs the end of an operation with its duration and result
func (m *Manager) logOperation(ctx context.Context, operation string, start time.Time, err error, attrs ...slog.Attr) {
	all := append([]slog.Attr{
		slog.String("operation", operation),
		slog.Duration("duration", time.Since(start)),
	}, attrs...)

	if err != nil {
		all = append(all,
			slog.String("error", err.Error()),
			slog.String("error_type", classifyLicenseError(err)),
		)
		m.logger.LogAttrs(ctx, slog.LevelError, "License operation failed", all...)
		return
	}
	m.logger.LogAttrs(ctx, slog.LevelInfo, "License operation completed", all...)
}

// logLicenseAction logs a step that involves a license key, masking the key
func (m *Manager) logLicenseAction(ctx context.Context, level slog.Level, action, msg, key string, attrs ...slog.Attr) {
	all := append([]slog.Attr{
		slog.String("action", action),
		slog.String("license_key", maskLicenseKey(key)),
		slog.String("license_hash", hashLicenseKey(key)),
	}, attrs...)
	m.logger.LogAttrs(ctx, level, msg, all...)
}

// logStateChange records a transition between entitlement states
func (m *Manager) logStateChange(ctx context.Context, reason string, from, to EntitlementState) {
	m.logger.InfoContext(ctx, "Entitlement state changed",
		slog.String("reason", reason),
		slog.String("from", from.String()),
		slog.String("to", to.String()),
		slog.Bool("can_use_app", to.CanUseApp()),
	)
}
