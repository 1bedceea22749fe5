package dto

import "time"

// LoginRequest payload for password login.
type LoginRequest struct {
	Username string `json:"username" validate:"required,min=3,max=50"`
	Password string `json:"password" validate:"required,max=128"`
}

// FederatedLoginRequest carries the identity assertion produced by the OAuth bridge.
type FederatedLoginRequest struct {
	Assertion string `json:"assertion" validate:"required"`
}

// AuthResponse standard response for auth endpoints.
type AuthResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// UserResponse is the public view of an account.
type UserResponse struct {
	ID          int64      `json:"id"`
	Username    string     `json:"username"`
	Email       string     `json:"email"`
	Role        string     `json:"role"`
	IsBanned    bool       `json:"is_banned"`
	BanReason   *string    `json:"ban_reason,omitempty"`
	BannedUntil *time.Time `json:"banned_until,omitempty"`
}

// SessionInfo reports the lifetime of the caller's token.
type SessionInfo struct {
	ExpiresAt        time.Time `json:"expires_at"`
	RemainingSeconds int64     `json:"remaining_seconds"`
}
