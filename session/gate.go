package session

import "matricare/profile"

// Decision is the route-guard outcome for a protected view.
type Decision string

const (
	// DecisionPending renders a loading placeholder; the session has not
	// resolved yet, so protected content must not leak.
	DecisionPending Decision = "PENDING"
	// DecisionRender allows the protected view.
	DecisionRender Decision = "RENDER"
	// DecisionRedirectLogin sends an anonymous visitor to sign-in.
	DecisionRedirectLogin Decision = "REDIRECT_LOGIN"
	// DecisionDeny renders an explicit access-denied view naming the
	// required and actual roles, never a silent redirect.
	DecisionDeny Decision = "DENY"
)

// GateResult carries the decision plus the role context a denied view needs
// so the user can self-diagnose.
type GateResult struct {
	Decision      Decision
	RequiredRoles []profile.Role
	ActualRole    *profile.Role
}

// Authorize evaluates a session snapshot against a route's role allow-list.
// An empty allow-list admits any authenticated session. Membership is
// checked against the canonical resolved role, never a raw claim.
func Authorize(snapshot Snapshot, allowedRoles []profile.Role) GateResult {
	switch snapshot.State {
	case StateInitializing:
		return GateResult{Decision: DecisionPending, RequiredRoles: allowedRoles}
	case StateAnonymous:
		return GateResult{Decision: DecisionRedirectLogin, RequiredRoles: allowedRoles}
	}

	if snapshot.User == nil {
		return GateResult{Decision: DecisionRedirectLogin, RequiredRoles: allowedRoles}
	}
	if snapshot.User.HasRole(allowedRoles...) {
		return GateResult{Decision: DecisionRender, RequiredRoles: allowedRoles, ActualRole: snapshot.User.Role}
	}
	return GateResult{
		Decision:      DecisionDeny,
		RequiredRoles: allowedRoles,
		ActualRole:    snapshot.User.Role,
	}
}
