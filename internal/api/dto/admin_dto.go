package dto

import "time"

// BanRequest payload for banning a user. A missing duration or 9999 days is permanent.
type BanRequest struct {
	Reason       string `json:"reason" validate:"required,max=512"`
	DurationDays *int   `json:"duration_days" validate:"omitempty,gt=0"`
}

// RoleChangeRequest payload for changing a user's role.
type RoleChangeRequest struct {
	Role string `json:"role" validate:"required,oneof=admin moderator support plus ultra member"`
}

// BanStateResponse reports the resulting ban state.
type BanStateResponse struct {
	IsBanned    bool       `json:"is_banned"`
	Reason      *string    `json:"reason,omitempty"`
	BannedUntil *time.Time `json:"banned_until,omitempty"`
	Permanent   bool       `json:"permanent"`
}

// BanHistoryEntryResponse is one row of the ban audit trail.
type BanHistoryEntryResponse struct {
	ID           string     `json:"id"`
	Action       string     `json:"action"`
	Description  string     `json:"description"`
	Actor        string     `json:"actor"`
	Reason       *string    `json:"reason,omitempty"`
	DurationDays *int       `json:"duration_days,omitempty"`
	BannedUntil  *time.Time `json:"banned_until,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	ClosedAt     *time.Time `json:"closed_at,omitempty"`
	ClosedBy     *string    `json:"closed_by,omitempty"`
}
