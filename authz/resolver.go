package authz

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"matricare/identity"
	"matricare/profile"
)

// MergedUser is the read-time composition of identity claims and profile
// fields. Role is canonical upper-case, or nil when neither source names
// one; a nil role authorizes nothing beyond public routes.
type MergedUser struct {
	ID           string          `json:"id"`
	Email        string          `json:"email"`
	Role         *profile.Role   `json:"role"`
	FullName     string          `json:"full_name"`
	Phone        *string         `json:"phone,omitempty"`
	AssignedArea *string         `json:"assigned_area,omitempty"`
	AvatarURL    *string         `json:"avatar_url,omitempty"`
	IsActive     bool            `json:"is_active"`
}

// HasRole reports whether the user's resolved role is in the allow-list.
// An empty allow-list admits any authenticated user.
func (u MergedUser) HasRole(allowed ...profile.Role) bool {
	if len(allowed) == 0 {
		return true
	}
	if u.Role == nil {
		return false
	}
	for _, role := range allowed {
		if *u.Role == role {
			return true
		}
	}
	return false
}

// ProfileStore is the subset of the profile repository the resolver needs.
type ProfileStore interface {
	GetByID(ctx context.Context, id string) (profile.Profile, error)
	RepairRole(ctx context.Context, id string, role profile.Role) (bool, error)
}

// Resolver produces one authoritative, normalized role per identity,
// reconciling the signup-time metadata claim with the profile store.
type Resolver struct {
	profiles ProfileStore
	log      *zap.Logger
}

// NewResolver builds a Resolver. A nil logger disables repair-failure logs.
func NewResolver(profiles ProfileStore, log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{profiles: profiles, log: log}
}

// Resolve composes the MergedUser for an identity. The profile role wins
// when present. A missing profile role with a non-admin metadata claim
// triggers a best-effort idempotent repair write; repair failure is logged
// and swallowed, and the claim-derived role still applies to this request.
// The claim can never elevate to ADMIN.
func (r *Resolver) Resolve(ctx context.Context, ident identity.Identity) (MergedUser, error) {
	prof, err := r.profiles.GetByID(ctx, ident.ID)
	if err != nil && !errors.Is(err, profile.ErrProfileNotFound) {
		return MergedUser{}, err
	}

	user := merge(ident, prof)
	if prof.Role != nil {
		return user, nil
	}

	claimRole, ok := profile.ParseRole(ident.Metadata.Role)
	if !ok || claimRole == profile.RoleAdmin {
		// No usable claim. ADMIN is never claim-derived.
		return user, nil
	}

	repaired, repairErr := r.profiles.RepairRole(ctx, ident.ID, claimRole)
	switch {
	case repairErr != nil:
		r.log.Warn("profile role repair failed; using claim-derived role for this request",
			zap.String("identity_id", ident.ID),
			zap.String("claim_role", string(claimRole)),
			zap.Error(repairErr),
		)
	case repaired:
		// Re-read so callers observe the persisted row, not our guess.
		if fresh, err := r.profiles.GetByID(ctx, ident.ID); err == nil {
			user = merge(ident, fresh)
		}
	}

	if user.Role == nil {
		role := claimRole
		user.Role = &role
	}
	return user, nil
}

func merge(ident identity.Identity, prof profile.Profile) MergedUser {
	user := MergedUser{
		ID:       ident.ID,
		Email:    ident.Email,
		FullName: prof.FullName,
		IsActive: prof.IsActive,
	}
	if prof.ID == "" {
		// No profile row yet; fall back to the claims bag for contact fields.
		user.FullName = ident.Metadata.FullName
		user.IsActive = true
		if ident.Metadata.Phone != "" {
			phone := ident.Metadata.Phone
			user.Phone = &phone
		}
		if ident.Metadata.AssignedArea != "" {
			area := ident.Metadata.AssignedArea
			user.AssignedArea = &area
		}
		return user
	}

	user.Role = prof.Role
	user.Phone = prof.Phone
	user.AssignedArea = prof.AssignedArea
	user.AvatarURL = prof.AvatarURL
	return user
}
