package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"matricare/authz"
	"matricare/identity"
	"matricare/profile"
	"matricare/registration"
	"matricare/roster"
)

// Server exposes the coordination API over REST. All role checks run
// against the resolved profile role, so a stale or forged token claim
// never widens access.
type Server struct {
	provider      identity.Provider
	resolver      *authz.Resolver
	cache         *authz.Cache
	profiles      profile.Repository
	registrations *registration.Service
	mothers       *roster.Service
	log           *zap.Logger
}

func NewServer(provider identity.Provider, resolver *authz.Resolver, cache *authz.Cache, profiles profile.Repository, registrations *registration.Service, mothers *roster.Service, log *zap.Logger) *Server {
	if cache == nil {
		cache = authz.NewCache(nil, 0)
	}
	return &Server{
		provider:      provider,
		resolver:      resolver,
		cache:         cache,
		profiles:      profiles,
		registrations: registrations,
		mothers:       mothers,
		log:           log,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/auth/signup", s.handleSignUp)
	r.Post("/auth/signin", s.handleSignIn)
	r.Post("/auth/signin/google", s.handleSignInGoogle)
	r.Post("/auth/refresh", s.handleRefresh)
	r.Post("/auth/register-request", s.handleSubmitRegistration)

	r.With(s.requireAuth).Post("/auth/signout", s.handleSignOut)
	r.With(s.requireAuth).Get("/auth/me", s.handleGetMe)
	r.With(s.requireAuth).Put("/auth/profile", s.handleUpdateProfile)
	r.With(s.requireAuth).Get("/auth/users/role/{role}", s.handleListUsersByRole)

	adminOnly := s.requireRoles(profile.RoleAdmin)
	r.With(s.requireAuth, adminOnly).Get("/auth/register-requests", s.handleListRegistrations)
	r.With(s.requireAuth, adminOnly).Post("/auth/register-requests/{id}/decision", s.handleDecideRegistration)
	r.With(s.requireAuth, adminOnly).Get("/auth/users", s.handleListUsers)
	r.With(s.requireAuth, adminOnly).Get("/auth/users/{id}", s.handleGetUser)
	r.With(s.requireAuth, adminOnly).Put("/auth/users/{id}/activate", s.handleActivateUser)
	r.With(s.requireAuth, adminOnly).Put("/auth/users/{id}/deactivate", s.handleDeactivateUser)

	careTeam := s.requireRoles(profile.RoleAshaWorker, profile.RoleDoctor, profile.RoleAdmin)
	r.With(s.requireAuth, careTeam).Post("/mothers", s.handleCreateMother)
	r.With(s.requireAuth, careTeam).Get("/mothers", s.handleListMothers)
	r.With(s.requireAuth, careTeam).Put("/mothers/{id}/assign", s.handleAssignMother)

	clinical := s.requireRoles(profile.RoleDoctor, profile.RoleAdmin)
	r.With(s.requireAuth, clinical).Get("/mothers/{id}", s.handleGetMother)

	return r
}

type errorResponse struct {
	Error         string         `json:"error"`
	Detail        string         `json:"detail,omitempty"`
	RequiredRoles []profile.Role `json:"required_roles,omitempty"`
	ActualRole    *profile.Role  `json:"actual_role,omitempty"`
}

func decodeJSON(r *http.Request, out any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, errorResponse{Error: code})
}

func writeValidationError(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusUnprocessableEntity, errorResponse{
		Error:  "validation_failed",
		Detail: err.Error(),
	})
}
