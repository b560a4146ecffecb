package profile

import (
	"strings"
	"time"
)

type Role string

const (
	RoleAdmin      Role = "ADMIN"
	RoleDoctor     Role = "DOCTOR"
	RoleAshaWorker Role = "ASHA_WORKER"
)

// ParseRole normalizes a role string to its canonical upper-case form.
// Comparison is case-insensitive at the boundary; everything downstream
// assumes the canonical spelling.
func ParseRole(raw string) (Role, bool) {
	role := Role(strings.ToUpper(strings.TrimSpace(raw)))
	if !role.Valid() {
		return "", false
	}
	return role, true
}

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleDoctor, RoleAshaWorker:
		return true
	default:
		return false
	}
}

// Profile is the system's authoritative record of a user's role and contact
// metadata, one row per identity. The role column is nullable: a profile can
// exist before any role has been assigned, in which case the holder is
// authenticated but authorized for nothing beyond public routes.
type Profile struct {
	ID           string
	Email        string
	FullName     string
	Role         *Role
	IsActive     bool
	Phone        *string
	AssignedArea *string
	AvatarURL    *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
