package identity

import "time"

// Metadata is the claims bag attached to an identity at signup time. The
// role claim here is a hint recorded by the signup surface, never an
// authoritative grant; the profile store owns the authoritative role.
type Metadata struct {
	FullName     string `json:"full_name,omitempty"`
	Role         string `json:"role,omitempty"`
	Phone        string `json:"phone,omitempty"`
	AssignedArea string `json:"assigned_area,omitempty"`
}

// Identity is an account managed by the identity provider.
type Identity struct {
	ID             string
	Email          string
	PasswordHash   string
	EmailConfirmed bool
	Metadata       Metadata
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Session pairs a bearer token with its refresh token and expiry.
type Session struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// RefreshSession mirrors a refresh_sessions row. Only the SHA-256 hash of
// the refresh token is stored.
type RefreshSession struct {
	ID         string
	IdentityID string
	TokenHash  string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	RevokedAt  *time.Time
}

// EventType enumerates auth state changes pushed to subscribers.
type EventType string

const (
	EventSignedIn       EventType = "SIGNED_IN"
	EventSignedOut      EventType = "SIGNED_OUT"
	EventTokenRefreshed EventType = "TOKEN_REFRESHED"
)

// AuthEvent is a state-change notification. Seq increases monotonically per
// provider instance; consumers treat the highest Seq seen as authoritative.
type AuthEvent struct {
	Type     EventType
	Seq      uint64
	Identity *Identity
	Session  *Session
}
