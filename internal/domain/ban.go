package domain

import (
	"time"

	"github.com/google/uuid"
)

// SystemExpirationActor is recorded as the actor when a temporary ban lapses on its own.
const SystemExpirationActor = "system/expiration"

// PermanentBanDays is the duration sentinel the admin UI sends for a permanent ban.
const PermanentBanDays = 9999

// BanState is the suspension state of an account.
// An active account never carries a reason or an end time.
type BanState struct {
	IsBanned    bool
	Reason      *string
	BannedUntil *time.Time
}

// Active returns the cleared state.
func Active() BanState {
	return BanState{}
}

// Permanent reports whether the ban has no end time.
func (b BanState) Permanent() bool {
	return b.IsBanned && b.BannedUntil == nil
}

// Lapsed reports whether a finite ban has passed its end time at now.
func (b BanState) Lapsed(now time.Time) bool {
	return b.IsBanned && b.BannedUntil != nil && now.After(*b.BannedUntil)
}

// BanAction captures what a history entry records.
type BanAction string

const (
	BanActionBanned   BanAction = "banned"
	BanActionUnbanned BanAction = "unbanned"
	BanActionLapsed   BanAction = "lapsed"
)

// BanHistoryEntry is an append-only record of a ban transition.
// A banned entry may be closed exactly once, when the ban ends.
type BanHistoryEntry struct {
	ID           uuid.UUID
	UserID       int64
	Action       BanAction
	Actor        string
	Reason       *string
	DurationDays *int
	BannedUntil  *time.Time
	CreatedAt    time.Time
	ClosedAt     *time.Time
	ClosedBy     *string
}

// Describe renders the entry as a short audit line.
func (e BanHistoryEntry) Describe() string {
	switch e.Action {
	case BanActionBanned:
		return "banned by " + e.Actor
	case BanActionUnbanned:
		return "unbanned by " + e.Actor
	case BanActionLapsed:
		return SystemExpirationActor
	default:
		return string(e.Action)
	}
}
