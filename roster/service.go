package roster

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrValidation marks bad roster payloads.
var ErrValidation = errors.New("roster: invalid request")

// Service owns case record creation and lookup for the care roster.
type Service struct {
	repo Repository

	now   func() time.Time
	idGen func() string
}

func NewService(repo Repository, opts ...ServiceOption) *Service {
	s := &Service{
		repo:  repo,
		now:   time.Now,
		idGen: func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type ServiceOption func(*Service)

func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

func WithIDGenerator(gen func() string) ServiceOption {
	return func(s *Service) { s.idGen = gen }
}

func (s *Service) Create(ctx context.Context, params CreateParams) (Mother, error) {
	name := strings.TrimSpace(params.FullName)
	area := strings.TrimSpace(params.Area)

	if name == "" {
		return Mother{}, fmt.Errorf("%w: full name is required", ErrValidation)
	}
	if area == "" {
		return Mother{}, fmt.Errorf("%w: area is required", ErrValidation)
	}
	if params.Age < 10 || params.Age > 70 {
		return Mother{}, fmt.Errorf("%w: age out of range", ErrValidation)
	}

	m := Mother{
		ID:               s.idGen(),
		FullName:         name,
		Age:              params.Age,
		Area:             area,
		ExpectedDelivery: params.ExpectedDelivery,
		CreatedAt:        s.now().UTC(),
	}
	if phone := strings.TrimSpace(params.Phone); phone != "" {
		m.Phone = &phone
	}
	if params.RegisteredBy != "" {
		registeredBy := params.RegisteredBy
		m.RegisteredBy = &registeredBy
	}

	return s.repo.Insert(ctx, m)
}

func (s *Service) Get(ctx context.Context, id string) (Mother, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, area string, limit int) ([]Mother, error) {
	return s.repo.List(ctx, strings.TrimSpace(area), limit)
}

// Assign links a doctor and/or an ASHA worker to a case. Nil fields leave
// the existing assignment untouched.
func (s *Service) Assign(ctx context.Context, id string, params AssignParams) (Mother, error) {
	if params.DoctorID == nil && params.AshaID == nil {
		return Mother{}, fmt.Errorf("%w: nothing to assign", ErrValidation)
	}
	return s.repo.Assign(ctx, id, params)
}
