package domain

import "github.com/google/uuid"

type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

func (r Role) IsAdmin() bool {
	return r == RoleAdmin
}

// Scope identifies the caller of a lifecycle operation. Non-admin scopes only
// see their own bookings, cart items and payments.
type Scope struct {
	UserID uuid.UUID
	Role   Role
}

func UserScope(userID uuid.UUID) Scope {
	return Scope{UserID: userID, Role: RoleUser}
}

func AdminScope() Scope {
	return Scope{Role: RoleAdmin}
}
