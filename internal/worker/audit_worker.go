package worker

import (
	"go.uber.org/zap"

	"github.com/spec-kit/session-gate/internal/service"
)

// StartAuditWorker attaches the audit notification sinks to the event dispatcher.
// Ban and role events published before this call are not replayed.
func StartAuditWorker(notifications *service.NotificationService, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if notifications == nil {
		logger.Warn("audit notifications disabled")
		return
	}
	subscribed := notifications.RegisterHandlers()
	names := make([]string, 0, len(subscribed))
	for _, eventType := range subscribed {
		names = append(names, string(eventType))
	}
	logger.Info("audit worker started", zap.Strings("events", names))
}
