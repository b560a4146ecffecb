package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"matricare/profile"
	"matricare/registration"
)

type profileResponse struct {
	ID           string        `json:"id"`
	Email        string        `json:"email"`
	FullName     string        `json:"full_name"`
	Role         *profile.Role `json:"role"`
	IsActive     bool          `json:"is_active"`
	Phone        *string       `json:"phone,omitempty"`
	AssignedArea *string       `json:"assigned_area,omitempty"`
	AvatarURL    *string       `json:"avatar_url,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

func toProfileResponse(p profile.Profile) profileResponse {
	return profileResponse{
		ID:           p.ID,
		Email:        p.Email,
		FullName:     p.FullName,
		Role:         p.Role,
		IsActive:     p.IsActive,
		Phone:        p.Phone,
		AssignedArea: p.AssignedArea,
		AvatarURL:    p.AvatarURL,
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
	}
}

type registrationResponse struct {
	ID            string     `json:"id"`
	Email         string     `json:"email"`
	FullName      string     `json:"full_name"`
	RoleRequested string     `json:"role_requested"`
	Phone         *string    `json:"phone,omitempty"`
	AssignedArea  *string    `json:"assigned_area,omitempty"`
	DegreeCertURL *string    `json:"degree_cert_url,omitempty"`
	Status        string     `json:"status"`
	DecisionNote  *string    `json:"decision_note,omitempty"`
	ReviewedBy    *string    `json:"reviewed_by,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	DecidedAt     *time.Time `json:"decided_at,omitempty"`
}

func toRegistrationResponse(req registration.Request) registrationResponse {
	return registrationResponse{
		ID:            req.ID,
		Email:         req.Email,
		FullName:      req.FullName,
		RoleRequested: string(req.RoleRequested),
		Phone:         req.Phone,
		AssignedArea:  req.AssignedArea,
		DegreeCertURL: req.DegreeCertURL,
		Status:        string(req.Status),
		DecisionNote:  req.DecisionNote,
		ReviewedBy:    req.ReviewedBy,
		CreatedAt:     req.CreatedAt,
		DecidedAt:     req.DecidedAt,
	}
}

type submitRegistrationRequest struct {
	Email         string `json:"email"`
	FullName      string `json:"full_name"`
	RoleRequested string `json:"role_requested"`
	Phone         string `json:"phone"`
	AssignedArea  string `json:"assigned_area"`
	DegreeCertURL string `json:"degree_cert_url"`
}

func (s *Server) handleSubmitRegistration(w http.ResponseWriter, r *http.Request) {
	var req submitRegistrationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	stored, err := s.registrations.Submit(r.Context(), registration.SubmitParams{
		Email:         req.Email,
		FullName:      req.FullName,
		RoleRequested: req.RoleRequested,
		Phone:         req.Phone,
		AssignedArea:  req.AssignedArea,
		DegreeCertURL: req.DegreeCertURL,
	})
	switch {
	case err == nil:
	case errors.Is(err, registration.ErrValidation):
		writeValidationError(w, err)
		return
	case errors.Is(err, registration.ErrPendingRequestExists):
		writeError(w, http.StatusConflict, "pending_request_exists")
		return
	default:
		s.log.Error("registration submit failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	writeJSON(w, http.StatusCreated, toRegistrationResponse(stored))
}

func (s *Server) handleListRegistrations(w http.ResponseWriter, r *http.Request) {
	requests, err := s.registrations.List(r.Context(), r.URL.Query().Get("status"), queryLimit(r, 100))
	if err != nil {
		if errors.Is(err, registration.ErrValidation) {
			writeValidationError(w, err)
			return
		}
		s.log.Error("registration list failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	resp := make([]registrationResponse, 0, len(requests))
	for _, req := range requests {
		resp = append(resp, toRegistrationResponse(req))
	}
	writeJSON(w, http.StatusOK, resp)
}

type decisionRequest struct {
	Approved bool   `json:"approved"`
	Note     string `json:"note"`
}

type decisionResponse struct {
	Request      registrationResponse `json:"request"`
	IdentityID   string               `json:"identity_id,omitempty"`
	TempPassword string               `json:"temp_password,omitempty"`
}

func (s *Server) handleDecideRegistration(w http.ResponseWriter, r *http.Request) {
	auth, ok := authFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}

	var req decisionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	result, err := s.registrations.Decide(r.Context(), registration.DecideParams{
		RequestID:  chi.URLParam(r, "id"),
		ReviewerID: auth.user.ID,
		Approved:   req.Approved,
		Note:       req.Note,
	})
	switch {
	case err == nil:
	case errors.Is(err, registration.ErrRequestNotFound):
		writeError(w, http.StatusNotFound, "request_not_found")
		return
	case errors.Is(err, registration.ErrAlreadyDecided):
		writeError(w, http.StatusConflict, "already_decided")
		return
	case errors.Is(err, registration.ErrValidation):
		writeValidationError(w, err)
		return
	default:
		s.log.Error("registration decision failed", zap.String("request_id", chi.URLParam(r, "id")), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	writeJSON(w, http.StatusOK, decisionResponse{
		Request:      toRegistrationResponse(result.Request),
		IdentityID:   result.IdentityID,
		TempPassword: result.TempPassword,
	})
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	profiles, err := s.profiles.ListAll(r.Context(), queryLimit(r, 100))
	if err != nil {
		s.log.Error("user list failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	resp := make([]profileResponse, 0, len(profiles))
	for _, p := range profiles {
		resp = append(resp, toProfileResponse(p))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	p, err := s.profiles.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, profile.ErrProfileNotFound) {
			writeError(w, http.StatusNotFound, "user_not_found")
			return
		}
		s.log.Error("user fetch failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusOK, toProfileResponse(p))
}

func (s *Server) handleListUsersByRole(w http.ResponseWriter, r *http.Request) {
	role, ok := profile.ParseRole(chi.URLParam(r, "role"))
	if !ok {
		writeError(w, http.StatusUnprocessableEntity, "unknown_role")
		return
	}

	profiles, err := s.profiles.ListByRole(r.Context(), role, r.URL.Query().Get("area"))
	if err != nil {
		s.log.Error("role list failed", zap.String("role", string(role)), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	resp := make([]profileResponse, 0, len(profiles))
	for _, p := range profiles {
		resp = append(resp, toProfileResponse(p))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleActivateUser(w http.ResponseWriter, r *http.Request) {
	s.setUserActive(w, r, true)
}

func (s *Server) handleDeactivateUser(w http.ResponseWriter, r *http.Request) {
	s.setUserActive(w, r, false)
}

func (s *Server) setUserActive(w http.ResponseWriter, r *http.Request, active bool) {
	id := chi.URLParam(r, "id")
	if err := s.profiles.SetActive(r.Context(), id, active); err != nil {
		if errors.Is(err, profile.ErrProfileNotFound) {
			writeError(w, http.StatusNotFound, "user_not_found")
			return
		}
		s.log.Error("activation toggle failed", zap.String("user_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	status := "deactivated"
	if active {
		status = "activated"
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

func queryLimit(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}
