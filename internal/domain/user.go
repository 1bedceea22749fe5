package domain

import "time"

// Role is the privilege level stored on a user record and embedded in session tokens.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleModerator Role = "moderator"
	RoleSupport   Role = "support"
	RolePlus      Role = "plus"
	RoleUltra     Role = "ultra"
	RoleMember    Role = "member"
)

var knownRoles = map[Role]struct{}{
	RoleAdmin:     {},
	RoleModerator: {},
	RoleSupport:   {},
	RolePlus:      {},
	RoleUltra:     {},
	RoleMember:    {},
}

// Valid reports whether the role belongs to the closed role set.
func (r Role) Valid() bool {
	_, ok := knownRoles[r]
	return ok
}

// User is the authoritative user record the session core reads on every validation.
type User struct {
	ID           int64
	Username     string
	Email        string
	PasswordHash string
	Role         Role
	Ban          BanState
	LastLoginAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
