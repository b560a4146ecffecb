package session

import (
	"testing"

	"matricare/authz"
	"matricare/profile"
)

func authedSnapshot(role *profile.Role) Snapshot {
	return Snapshot{
		State: StateAuthenticated,
		User:  &authz.MergedUser{ID: "ident-1", Role: role, IsActive: true},
	}
}

func TestAuthorizeWhileInitializing(t *testing.T) {
	result := Authorize(Snapshot{State: StateInitializing}, []profile.Role{profile.RoleAdmin})
	if result.Decision != DecisionPending {
		t.Fatalf("initializing session must not leak protected content, got %s", result.Decision)
	}
}

func TestAuthorizeAnonymousRedirects(t *testing.T) {
	result := Authorize(Snapshot{State: StateAnonymous}, nil)
	if result.Decision != DecisionRedirectLogin {
		t.Fatalf("expected REDIRECT_LOGIN, got %s", result.Decision)
	}
}

func TestAuthorizeEmptyAllowListAdmitsAnyAuthenticated(t *testing.T) {
	doctor := profile.RoleDoctor
	result := Authorize(authedSnapshot(&doctor), nil)
	if result.Decision != DecisionRender {
		t.Fatalf("expected RENDER for empty allow-list, got %s", result.Decision)
	}

	// Even a roleless authenticated session may render unrestricted routes.
	result = Authorize(authedSnapshot(nil), nil)
	if result.Decision != DecisionRender {
		t.Fatalf("expected RENDER for roleless session on unrestricted route, got %s", result.Decision)
	}
}

func TestAuthorizeDeniesWrongRole(t *testing.T) {
	doctor := profile.RoleDoctor
	result := Authorize(authedSnapshot(&doctor), []profile.Role{profile.RoleAdmin})
	if result.Decision != DecisionDeny {
		t.Fatalf("expected DENY for DOCTOR on admin route, got %s", result.Decision)
	}
	if len(result.RequiredRoles) != 1 || result.RequiredRoles[0] != profile.RoleAdmin {
		t.Fatalf("denied result must name required roles, got %v", result.RequiredRoles)
	}
	if result.ActualRole == nil || *result.ActualRole != profile.RoleDoctor {
		t.Fatalf("denied result must name the actual role, got %v", result.ActualRole)
	}
}

func TestAuthorizeRendersAllowedRole(t *testing.T) {
	admin := profile.RoleAdmin
	result := Authorize(authedSnapshot(&admin), []profile.Role{profile.RoleAdmin})
	if result.Decision != DecisionRender {
		t.Fatalf("expected RENDER for ADMIN on admin route, got %s", result.Decision)
	}

	doctor := profile.RoleDoctor
	result = Authorize(authedSnapshot(&doctor), []profile.Role{profile.RoleDoctor, profile.RoleAdmin})
	if result.Decision != DecisionRender {
		t.Fatalf("expected RENDER for DOCTOR on doctor route, got %s", result.Decision)
	}
}

func TestAuthorizeRolelessSessionDeniedOnRestrictedRoute(t *testing.T) {
	result := Authorize(authedSnapshot(nil), []profile.Role{profile.RoleAshaWorker, profile.RoleDoctor, profile.RoleAdmin})
	if result.Decision != DecisionDeny {
		t.Fatalf("roleless session must be denied on restricted routes, got %s", result.Decision)
	}
}
