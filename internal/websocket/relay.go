package websocket

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"entitle/internal/infrastructure"
)

// RunStateRelay pushes the entitlement to every client after each change
// signal until ctx is done. Bursts of changes collapse into one push of the
// latest state.
func RunStateRelay(ctx context.Context, hub *Hub, changes ChangeNotifier, status StatusProvider, logger *slog.Logger) {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	logger = logger.With(slog.String("component", "websocket.relay"))

	signals, unsubscribe := changes.SubscribeChan()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case <-signals:
			pushCtx := infrastructure.WithTraceID(ctx, uuid.New().String())
			current, err := status.GetStatus(pushCtx)
			if err != nil {
				logger.WarnContext(pushCtx, "Failed to read entitlement after change",
					slog.String("error", err.Error()))
				continue
			}
			if err := hub.BroadcastLicenseState(pushCtx, current); err != nil {
				continue
			}
			logger.DebugContext(pushCtx, "Entitlement pushed to clients",
				slog.String("status", string(current.Status)),
				slog.Int("clients", hub.ClientCount()))
		}
	}
}
