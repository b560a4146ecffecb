package authz

import (
	"context"
	"errors"
	"testing"

	"matricare/identity"
	"matricare/profile"
)

func TestResolveProfileRoleWins(t *testing.T) {
	doctor := profile.RoleDoctor
	store := &fakeProfileStore{
		profiles: map[string]profile.Profile{
			"ident-1": {ID: "ident-1", Email: "d@x.com", FullName: "Dr. D", Role: &doctor, IsActive: true},
		},
	}
	resolver := NewResolver(store, nil)

	// Claim disagrees with the profile; the profile wins.
	user, err := resolver.Resolve(context.Background(), identity.Identity{
		ID:       "ident-1",
		Email:    "d@x.com",
		Metadata: identity.Metadata{Role: "ASHA_WORKER"},
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if user.Role == nil || *user.Role != profile.RoleDoctor {
		t.Fatalf("expected DOCTOR from profile, got %v", user.Role)
	}
	if store.repairCalls != 0 {
		t.Fatalf("expected no repair write when profile role present, got %d", store.repairCalls)
	}
}

func TestResolveRepairsMissingRole(t *testing.T) {
	store := &fakeProfileStore{
		profiles: map[string]profile.Profile{
			"ident-1": {ID: "ident-1", Email: "a@x.com", FullName: "Asha", IsActive: true},
		},
	}
	resolver := NewResolver(store, nil)

	ident := identity.Identity{
		ID:       "ident-1",
		Email:    "a@x.com",
		Metadata: identity.Metadata{Role: "asha_worker"},
	}

	user, err := resolver.Resolve(context.Background(), ident)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if user.Role == nil || *user.Role != profile.RoleAshaWorker {
		t.Fatalf("expected claim-derived ASHA_WORKER, got %v", user.Role)
	}
	if store.repairCalls != 1 {
		t.Fatalf("expected exactly one repair write, got %d", store.repairCalls)
	}

	// Second resolution sees the repaired profile; no further writes.
	again, err := resolver.Resolve(context.Background(), ident)
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if again.Role == nil || *again.Role != *user.Role {
		t.Fatalf("expected idempotent resolution, got %v then %v", user.Role, again.Role)
	}
	if store.repairCalls != 1 {
		t.Fatalf("expected at most one repair write total, got %d", store.repairCalls)
	}
}

func TestResolveRepairFailureFailsOpenToClaim(t *testing.T) {
	store := &fakeProfileStore{
		profiles: map[string]profile.Profile{
			"ident-1": {ID: "ident-1", Email: "a@x.com", FullName: "Asha", IsActive: true},
		},
		repairErr: errors.New("permission denied"),
	}
	resolver := NewResolver(store, nil)

	user, err := resolver.Resolve(context.Background(), identity.Identity{
		ID:       "ident-1",
		Metadata: identity.Metadata{Role: "DOCTOR"},
	})
	if err != nil {
		t.Fatalf("repair failure must not block resolution: %v", err)
	}
	if user.Role == nil || *user.Role != profile.RoleDoctor {
		t.Fatalf("expected claim-derived DOCTOR despite repair failure, got %v", user.Role)
	}
}

func TestResolveNeverElevatesAdminFromClaim(t *testing.T) {
	store := &fakeProfileStore{
		profiles: map[string]profile.Profile{
			"ident-1": {ID: "ident-1", Email: "a@x.com", FullName: "A", IsActive: true},
		},
	}
	resolver := NewResolver(store, nil)

	user, err := resolver.Resolve(context.Background(), identity.Identity{
		ID:       "ident-1",
		Metadata: identity.Metadata{Role: "ADMIN"},
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if user.Role != nil {
		t.Fatalf("ADMIN claim must not resolve to a role, got %v", *user.Role)
	}
	if store.repairCalls != 0 {
		t.Fatalf("ADMIN claim must not trigger a repair write, got %d", store.repairCalls)
	}
}

func TestResolveNoRoleAnywhere(t *testing.T) {
	store := &fakeProfileStore{
		profiles: map[string]profile.Profile{
			"ident-1": {ID: "ident-1", Email: "a@x.com", FullName: "A", IsActive: true},
		},
	}
	resolver := NewResolver(store, nil)

	user, err := resolver.Resolve(context.Background(), identity.Identity{ID: "ident-1"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if user.Role != nil {
		t.Fatalf("expected nil role, got %v", *user.Role)
	}
	if user.HasRole(profile.RoleAshaWorker) {
		t.Fatal("nil role must not satisfy any allow-list")
	}
	if !user.HasRole() {
		t.Fatal("empty allow-list must admit any authenticated user")
	}
}

func TestResolveMissingProfileFallsBackToClaims(t *testing.T) {
	store := &fakeProfileStore{profiles: map[string]profile.Profile{}}
	resolver := NewResolver(store, nil)

	user, err := resolver.Resolve(context.Background(), identity.Identity{
		ID:    "ident-1",
		Email: "a@x.com",
		Metadata: identity.Metadata{
			FullName:     "Asha Devi",
			Role:         "ASHA_WORKER",
			Phone:        "555-0101",
			AssignedArea: "Ward 4",
		},
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if user.FullName != "Asha Devi" {
		t.Fatalf("expected claims-bag full name, got %q", user.FullName)
	}
	if user.Role == nil || *user.Role != profile.RoleAshaWorker {
		t.Fatalf("expected claim-derived role, got %v", user.Role)
	}
	if user.Phone == nil || *user.Phone != "555-0101" {
		t.Fatalf("expected claims-bag phone, got %v", user.Phone)
	}
}

type fakeProfileStore struct {
	profiles    map[string]profile.Profile
	repairErr   error
	repairCalls int
}

func (f *fakeProfileStore) GetByID(ctx context.Context, id string) (profile.Profile, error) {
	p, ok := f.profiles[id]
	if !ok {
		return profile.Profile{}, profile.ErrProfileNotFound
	}
	return p, nil
}

func (f *fakeProfileStore) RepairRole(ctx context.Context, id string, role profile.Role) (bool, error) {
	f.repairCalls++
	if f.repairErr != nil {
		return false, f.repairErr
	}
	p, ok := f.profiles[id]
	if !ok || p.Role != nil {
		return false, nil
	}
	p.Role = &role
	f.profiles[id] = p
	return true, nil
}
