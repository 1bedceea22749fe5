package events

import (
	"time"

	"github.com/spec-kit/session-gate/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventUserBanned   EventType = "user_banned"
	EventUserUnbanned EventType = "user_unbanned"
	EventBanLapsed    EventType = "ban_lapsed"
	EventRoleChanged  EventType = "role_changed"
)

// Event represents an account event emitted by services.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	UserID    int64       `json:"user_id"`
	Actor     string      `json:"actor"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// UserBannedPayload payload.
type UserBannedPayload struct {
	Reason      string     `json:"reason"`
	BannedUntil *time.Time `json:"banned_until,omitempty"`
}

// BanLiftedPayload payload for unban and lapse.
type BanLiftedPayload struct {
	PreviousReason *string `json:"previous_reason,omitempty"`
}

// RoleChangedPayload payload.
type RoleChangedPayload struct {
	OldRole domain.Role `json:"old_role"`
	NewRole domain.Role `json:"new_role"`
}
