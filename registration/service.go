package registration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"matricare/identity"
	"matricare/profile"
)

// ErrValidation marks applicant payload problems. Wrapped errors carry the
// concrete reason for API consumers.
var ErrValidation = errors.New("registration: invalid request")

// IdentityProvisioner is the slice of the identity provider the approval
// path needs.
type IdentityProvisioner interface {
	AdminCreateUser(ctx context.Context, params identity.AdminCreateParams) (identity.Identity, string, error)
}

// ProfileWriter repairs the auto-created profile row after provisioning.
type ProfileWriter interface {
	SetRole(ctx context.Context, id string, role profile.Role) error
	Update(ctx context.Context, id string, params profile.UpdateParams) (profile.Profile, error)
}

// Service owns the registration request lifecycle: applicants submit, an
// admin approves or rejects, approval provisions a login.
type Service struct {
	repo     Repository
	provider IdentityProvisioner
	profiles ProfileWriter
	log      *zap.Logger

	now   func() time.Time
	idGen func() string
}

func NewService(repo Repository, provider IdentityProvisioner, profiles ProfileWriter, log *zap.Logger, opts ...ServiceOption) *Service {
	s := &Service{
		repo:     repo,
		provider: provider,
		profiles: profiles,
		log:      log,
		now:      time.Now,
		idGen:    func() string { return uuid.NewString() },
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

// Submit validates and stores a new PENDING request. Admin access is never
// requestable, and doctors must attach their degree certification.
func (s *Service) Submit(ctx context.Context, params SubmitParams) (Request, error) {
	email := strings.ToLower(strings.TrimSpace(params.Email))
	fullName := strings.TrimSpace(params.FullName)

	if email == "" || !strings.Contains(email, "@") {
		return Request{}, fmt.Errorf("%w: a valid email is required", ErrValidation)
	}
	if fullName == "" {
		return Request{}, fmt.Errorf("%w: full name is required", ErrValidation)
	}

	role, ok := profile.ParseRole(params.RoleRequested)
	if !ok || role == profile.RoleAdmin {
		return Request{}, fmt.Errorf("%w: role must be DOCTOR or ASHA_WORKER", ErrValidation)
	}
	if role == profile.RoleDoctor && strings.TrimSpace(params.DegreeCertURL) == "" {
		return Request{}, fmt.Errorf("%w: degree certification is required for doctor applicants", ErrValidation)
	}

	req := Request{
		ID:            s.idGen(),
		Email:         email,
		FullName:      fullName,
		RoleRequested: role,
		Phone:         optional(params.Phone),
		AssignedArea:  optional(params.AssignedArea),
		DegreeCertURL: optional(params.DegreeCertURL),
		Status:        StatusPending,
		CreatedAt:     s.now().UTC(),
	}

	stored, err := s.repo.Insert(ctx, req)
	if err != nil {
		return Request{}, err
	}
	s.log.Info("registration request submitted",
		zap.String("request_id", stored.ID),
		zap.String("role_requested", string(stored.RoleRequested)))
	return stored, nil
}

func (s *Service) Get(ctx context.Context, id string) (Request, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns requests, newest first, optionally filtered by status.
func (s *Service) List(ctx context.Context, status string, limit int) ([]Request, error) {
	var filter Status
	if status != "" {
		switch Status(strings.ToUpper(status)) {
		case StatusPending, StatusApproved, StatusRejected:
			filter = Status(strings.ToUpper(status))
		default:
			return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, status)
		}
	}
	return s.repo.List(ctx, filter, limit)
}

// DecisionResult carries the decided request plus, on approval, the
// credentials to hand to the applicant out of band.
type DecisionResult struct {
	Request      Request
	IdentityID   string
	TempPassword string
}

// Decide settles a PENDING request. Approval creates the applicant's login
// with a temporary password and stamps the requested role and contact
// details onto the new profile; rejection only records the outcome. Either
// way the decision is final.
func (s *Service) Decide(ctx context.Context, params DecideParams) (DecisionResult, error) {
	if params.ReviewerID == "" {
		return DecisionResult{}, fmt.Errorf("%w: reviewer is required", ErrValidation)
	}

	next := StatusRejected
	if params.Approved {
		next = StatusApproved
	}
	var note *string
	if trimmed := strings.TrimSpace(params.Note); trimmed != "" {
		note = &trimmed
	}

	var result DecisionResult
	var provision ProvisionFunc
	if params.Approved {
		provision = func(ctx context.Context, req Request) error {
			ident, tempPassword, err := s.provision(ctx, req)
			if err != nil {
				return err
			}
			result.IdentityID = ident.ID
			result.TempPassword = tempPassword
			return nil
		}
	}

	decided, err := s.repo.Decide(ctx, params.RequestID, next, note, params.ReviewerID, s.now().UTC(), provision)
	if err != nil {
		return DecisionResult{}, err
	}
	result.Request = decided

	s.log.Info("registration request decided",
		zap.String("request_id", decided.ID),
		zap.String("status", string(decided.Status)),
		zap.String("reviewed_by", params.ReviewerID))
	return result, nil
}

func (s *Service) provision(ctx context.Context, req Request) (identity.Identity, string, error) {
	ident, tempPassword, err := s.provider.AdminCreateUser(ctx, identity.AdminCreateParams{
		Email: req.Email,
		Metadata: identity.Metadata{
			FullName:     req.FullName,
			Role:         string(req.RoleRequested),
			Phone:        deref(req.Phone),
			AssignedArea: deref(req.AssignedArea),
		},
		EmailConfirmed: true,
	})
	if err != nil {
		return identity.Identity{}, "", fmt.Errorf("registration: provision identity: %w", err)
	}

	// The identity trigger seeds the profile from metadata; these writes
	// make the role and contact details authoritative even if the metadata
	// bag was mangled upstream.
	if err := s.profiles.SetRole(ctx, ident.ID, req.RoleRequested); err != nil {
		return identity.Identity{}, "", fmt.Errorf("registration: assign role: %w", err)
	}
	if _, err := s.profiles.Update(ctx, ident.ID, profile.UpdateParams{
		FullName:     &req.FullName,
		Phone:        req.Phone,
		AssignedArea: req.AssignedArea,
	}); err != nil {
		return identity.Identity{}, "", fmt.Errorf("registration: repair profile: %w", err)
	}
	return ident, tempPassword, nil
}

func optional(v string) *string {
	trimmed := strings.TrimSpace(v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
