package domain

import "time"

// Session describes an issued session token as reported back to the client.
type Session struct {
	SubjectID int64
	Role      Role
	ExpiresAt time.Time
}

// Remaining returns how long the session stays valid after now.
func (s Session) Remaining(now time.Time) time.Duration {
	if d := s.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}
