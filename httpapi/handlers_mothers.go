package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"matricare/roster"
)

type motherResponse struct {
	ID               string     `json:"id"`
	FullName         string     `json:"full_name"`
	Age              int        `json:"age"`
	Phone            *string    `json:"phone,omitempty"`
	Area             string     `json:"area"`
	ExpectedDelivery *time.Time `json:"expected_delivery,omitempty"`
	RegisteredBy     *string    `json:"registered_by,omitempty"`
	AssignedDoctorID *string    `json:"assigned_doctor_id,omitempty"`
	AssignedAshaID   *string    `json:"assigned_asha_id,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

func toMotherResponse(m roster.Mother) motherResponse {
	return motherResponse{
		ID:               m.ID,
		FullName:         m.FullName,
		Age:              m.Age,
		Phone:            m.Phone,
		Area:             m.Area,
		ExpectedDelivery: m.ExpectedDelivery,
		RegisteredBy:     m.RegisteredBy,
		AssignedDoctorID: m.AssignedDoctorID,
		AssignedAshaID:   m.AssignedAshaID,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

type createMotherRequest struct {
	FullName         string     `json:"full_name"`
	Age              int        `json:"age"`
	Phone            string     `json:"phone"`
	Area             string     `json:"area"`
	ExpectedDelivery *time.Time `json:"expected_delivery,omitempty"`
}

func (s *Server) handleCreateMother(w http.ResponseWriter, r *http.Request) {
	auth, ok := authFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}

	var req createMotherRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	m, err := s.mothers.Create(r.Context(), roster.CreateParams{
		FullName:         req.FullName,
		Age:              req.Age,
		Phone:            req.Phone,
		Area:             req.Area,
		ExpectedDelivery: req.ExpectedDelivery,
		RegisteredBy:     auth.user.ID,
	})
	if err != nil {
		if errors.Is(err, roster.ErrValidation) {
			writeValidationError(w, err)
			return
		}
		s.log.Error("mother create failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	writeJSON(w, http.StatusCreated, toMotherResponse(m))
}

func (s *Server) handleListMothers(w http.ResponseWriter, r *http.Request) {
	mothers, err := s.mothers.List(r.Context(), r.URL.Query().Get("area"), queryLimit(r, 100))
	if err != nil {
		s.log.Error("mother list failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	resp := make([]motherResponse, 0, len(mothers))
	for _, m := range mothers {
		resp = append(resp, toMotherResponse(m))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetMother(w http.ResponseWriter, r *http.Request) {
	m, err := s.mothers.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, roster.ErrMotherNotFound) {
			writeError(w, http.StatusNotFound, "mother_not_found")
			return
		}
		s.log.Error("mother fetch failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusOK, toMotherResponse(m))
}

type assignMotherRequest struct {
	DoctorID *string `json:"doctor_id,omitempty"`
	AshaID   *string `json:"asha_id,omitempty"`
}

func (s *Server) handleAssignMother(w http.ResponseWriter, r *http.Request) {
	var req assignMotherRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	m, err := s.mothers.Assign(r.Context(), chi.URLParam(r, "id"), roster.AssignParams{
		DoctorID: req.DoctorID,
		AshaID:   req.AshaID,
	})
	switch {
	case err == nil:
	case errors.Is(err, roster.ErrValidation):
		writeValidationError(w, err)
		return
	case errors.Is(err, roster.ErrMotherNotFound):
		writeError(w, http.StatusNotFound, "mother_not_found")
		return
	default:
		s.log.Error("mother assign failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	writeJSON(w, http.StatusOK, toMotherResponse(m))
}
