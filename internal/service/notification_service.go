package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/session-gate/internal/config"
	"github.com/spec-kit/session-gate/internal/events"
)

// NotificationService emits audit notifications for account events.
type NotificationService struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger
	cfg        config.AuditConfig
}

// NewNotificationService creates the service.
func NewNotificationService(dispatcher events.Dispatcher, logger *zap.Logger, cfg config.AuditConfig) *NotificationService {
	return &NotificationService{
		dispatcher: dispatcher,
		logger:     logger,
		cfg:        cfg,
	}
}

// RegisterHandlers subscribes to events and returns the subscribed types.
func (n *NotificationService) RegisterHandlers() []events.EventType {
	if n.dispatcher == nil {
		return nil
	}
	handlers := map[events.EventType]events.EventHandler{
		events.EventUserBanned:   n.handleUserBanned,
		events.EventUserUnbanned: n.handleBanLifted,
		events.EventBanLapsed:    n.handleBanLifted,
		events.EventRoleChanged:  n.handleRoleChanged,
	}
	subscribed := make([]events.EventType, 0, len(handlers))
	for _, eventType := range []events.EventType{
		events.EventUserBanned, events.EventUserUnbanned, events.EventBanLapsed, events.EventRoleChanged,
	} {
		n.dispatcher.Subscribe(eventType, handlers[eventType])
		subscribed = append(subscribed, eventType)
	}
	return subscribed
}

func (n *NotificationService) handleUserBanned(ctx context.Context, event events.Event) error {
	n.logger.Info("UserBanned", zap.Int64("user_id", event.UserID), zap.String("actor", event.Actor), zap.Any("payload", event.Payload))
	n.sendEmailNotificationStub(ctx, event)
	n.sendWebhookNotificationStub(ctx, event)
	return nil
}

func (n *NotificationService) handleBanLifted(ctx context.Context, event events.Event) error {
	n.logger.Info("BanLifted", zap.Int64("user_id", event.UserID), zap.String("actor", event.Actor), zap.String("type", string(event.Type)))
	n.sendWebhookNotificationStub(ctx, event)
	return nil
}

func (n *NotificationService) handleRoleChanged(ctx context.Context, event events.Event) error {
	n.logger.Info("RoleChanged", zap.Int64("user_id", event.UserID), zap.String("actor", event.Actor), zap.Any("payload", event.Payload))
	n.sendWebhookNotificationStub(ctx, event)
	return nil
}

func (n *NotificationService) sendEmailNotificationStub(ctx context.Context, event events.Event) {
	if strings.TrimSpace(n.cfg.EmailFrom) == "" {
		return
	}
	n.logger.Debug("sendEmailNotificationStub",
		zap.String("from", n.cfg.EmailFrom),
		zap.Int64("user_id", event.UserID),
		zap.String("event_type", string(event.Type)))
}

func (n *NotificationService) sendWebhookNotificationStub(ctx context.Context, event events.Event) {
	if strings.TrimSpace(n.cfg.WebhookURL) == "" {
		return
	}
	n.logger.Debug("sendWebhookNotificationStub",
		zap.String("url", n.cfg.WebhookURL),
		zap.Int64("user_id", event.UserID),
		zap.String("event_type", string(event.Type)))
}
