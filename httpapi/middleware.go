package httpapi

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"matricare/authz"
	"matricare/profile"
)

type authKey struct{}

type authContext struct {
	user  authz.MergedUser
	token string
}

func authFromContext(ctx context.Context) (authContext, bool) {
	value, ok := ctx.Value(authKey{}).(authContext)
	return value, ok
}

// requireAuth resolves the bearer token into a merged user before the
// handler runs. The resolved profile is authoritative; a cached resolution
// is reused until its TTL lapses or sign-out invalidates it.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			authnFailures.WithLabelValues("missing_token").Inc()
			writeError(w, http.StatusUnauthorized, "missing_token")
			return
		}

		user, cached := s.cache.Get(r.Context(), token)
		if !cached {
			ident, err := s.provider.GetUser(r.Context(), token)
			if err != nil {
				authnFailures.WithLabelValues("invalid_token").Inc()
				writeError(w, http.StatusUnauthorized, "invalid_token")
				return
			}
			user, err = s.resolver.Resolve(r.Context(), ident)
			if err != nil {
				s.log.Error("role resolution failed", zap.String("identity_id", ident.ID), zap.Error(err))
				writeError(w, http.StatusInternalServerError, "server_error")
				return
			}
			s.cache.Set(r.Context(), token, user)
		}

		if !user.IsActive {
			authnFailures.WithLabelValues("account_disabled").Inc()
			writeError(w, http.StatusForbidden, "account_disabled")
			return
		}

		ctx := context.WithValue(r.Context(), authKey{}, authContext{user: user, token: token})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireRoles gates a route on the canonical resolved role, never the raw
// token claim. The denial body names what was required and what the caller
// actually holds.
func (s *Server) requireRoles(allowed ...profile.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth, ok := authFromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "missing_token")
				return
			}
			if !auth.user.HasRole(allowed...) {
				authzDenials.WithLabelValues(routePattern(r)).Inc()
				writeJSON(w, http.StatusForbidden, errorResponse{
					Error:         "insufficient_role",
					RequiredRoles: allowed,
					ActualRole:    auth.user.Role,
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func routePattern(r *http.Request) string {
	return r.Method + " " + r.URL.Path
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
