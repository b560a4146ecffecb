package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"matricare/authz"
	"matricare/identity"
	"matricare/profile"
)

type signUpRequest struct {
	Email        string `json:"email"`
	Password     string `json:"password"`
	FullName     string `json:"full_name"`
	Role         string `json:"role"`
	Phone        string `json:"phone"`
	AssignedArea string `json:"assigned_area"`
}

type sessionResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

type authResponse struct {
	User    authz.MergedUser `json:"user"`
	Session sessionResponse  `json:"session"`
}

func toSessionResponse(session *identity.Session) sessionResponse {
	return sessionResponse{
		AccessToken:  session.AccessToken,
		RefreshToken: session.RefreshToken,
		ExpiresAt:    session.ExpiresAt,
	}
}

func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	req.FullName = strings.TrimSpace(req.FullName)
	if req.Email == "" || !strings.Contains(req.Email, "@") {
		writeError(w, http.StatusUnprocessableEntity, "invalid_email")
		return
	}
	if req.FullName == "" {
		writeError(w, http.StatusUnprocessableEntity, "missing_full_name")
		return
	}

	ident, session, err := s.provider.SignUp(r.Context(), identity.SignUpParams{
		Email:    req.Email,
		Password: req.Password,
		Metadata: identity.Metadata{
			FullName:     req.FullName,
			Role:         req.Role,
			Phone:        req.Phone,
			AssignedArea: req.AssignedArea,
		},
	})
	switch {
	case err == nil:
	case errors.Is(err, identity.ErrWeakPassword):
		writeError(w, http.StatusUnprocessableEntity, "weak_password")
		return
	case errors.Is(err, identity.ErrRoleNotClaimable):
		writeError(w, http.StatusUnprocessableEntity, "role_not_claimable")
		return
	case errors.Is(err, identity.ErrDuplicateEmail):
		writeError(w, http.StatusConflict, "email_in_use")
		return
	default:
		s.log.Error("signup failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	user, err := s.resolver.Resolve(r.Context(), ident)
	if err != nil {
		s.log.Error("post-signup resolution failed", zap.String("identity_id", ident.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	writeJSON(w, http.StatusCreated, authResponse{User: user, Session: toSessionResponse(session)})
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	ident, session, err := s.provider.SignInWithPassword(r.Context(), strings.TrimSpace(strings.ToLower(req.Email)), req.Password)
	if err != nil {
		// One failure shape for unknown emails and wrong passwords, so the
		// endpoint cannot be used to probe which addresses hold accounts.
		if errors.Is(err, identity.ErrInvalidCredentials) {
			authnFailures.WithLabelValues("invalid_credentials").Inc()
			writeError(w, http.StatusUnauthorized, "invalid_credentials")
			return
		}
		s.log.Error("signin failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	user, err := s.resolver.Resolve(r.Context(), ident)
	if err != nil {
		s.log.Error("post-signin resolution failed", zap.String("identity_id", ident.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	writeJSON(w, http.StatusOK, authResponse{User: user, Session: toSessionResponse(session)})
}

func (s *Server) handleSignInGoogle(w http.ResponseWriter, r *http.Request) {
	url, err := s.provider.SignInWithOAuth("google")
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "oauth_unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if req.RefreshToken == "" {
		writeError(w, http.StatusUnprocessableEntity, "missing_refresh_token")
		return
	}

	ident, session, err := s.provider.RefreshSession(r.Context(), req.RefreshToken)
	if err != nil {
		if errors.Is(err, identity.ErrRefreshTokenInvalid) {
			authnFailures.WithLabelValues("invalid_refresh_token").Inc()
			writeError(w, http.StatusUnauthorized, "invalid_refresh_token")
			return
		}
		s.log.Error("refresh failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	user, err := s.resolver.Resolve(r.Context(), ident)
	if err != nil {
		s.log.Error("post-refresh resolution failed", zap.String("identity_id", ident.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	writeJSON(w, http.StatusOK, authResponse{User: user, Session: toSessionResponse(session)})
}

func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	auth, ok := authFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}

	if err := s.provider.SignOut(r.Context(), auth.token); err != nil {
		s.log.Warn("signout failed", zap.String("user_id", auth.user.ID), zap.Error(err))
	}
	s.cache.Invalidate(r.Context(), auth.token)
	writeJSON(w, http.StatusOK, map[string]string{"status": "signed_out"})
}

func (s *Server) handleGetMe(w http.ResponseWriter, r *http.Request) {
	auth, ok := authFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}
	writeJSON(w, http.StatusOK, auth.user)
}

type updateProfileRequest struct {
	FullName     *string `json:"full_name,omitempty"`
	Phone        *string `json:"phone,omitempty"`
	AssignedArea *string `json:"assigned_area,omitempty"`
	AvatarURL    *string `json:"avatar_url,omitempty"`
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	auth, ok := authFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}

	var req updateProfileRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if req.FullName != nil && strings.TrimSpace(*req.FullName) == "" {
		writeError(w, http.StatusUnprocessableEntity, "empty_full_name")
		return
	}

	updated, err := s.profiles.Update(r.Context(), auth.user.ID, profile.UpdateParams{
		FullName:     req.FullName,
		Phone:        req.Phone,
		AssignedArea: req.AssignedArea,
		AvatarURL:    req.AvatarURL,
	})
	if err != nil {
		if errors.Is(err, profile.ErrProfileNotFound) {
			writeError(w, http.StatusNotFound, "profile_not_found")
			return
		}
		s.log.Error("profile update failed", zap.String("user_id", auth.user.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	// The cached resolution now carries stale contact details.
	s.cache.Invalidate(r.Context(), auth.token)

	writeJSON(w, http.StatusOK, toProfileResponse(updated))
}
