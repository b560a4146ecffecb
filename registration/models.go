package registration

import (
	"time"

	"matricare/profile"
)

type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
)

// Request is a pending application to assume the DOCTOR or ASHA_WORKER
// role. No identity exists for the applicant until approval; APPROVED and
// REJECTED are both terminal, and resubmission means a new row.
type Request struct {
	ID            string
	Email         string
	FullName      string
	RoleRequested profile.Role
	Phone         *string
	AssignedArea  *string
	DegreeCertURL *string
	Status        Status
	DecisionNote  *string
	ReviewedBy    *string
	CreatedAt     time.Time
	DecidedAt     *time.Time
}

// SubmitParams is the applicant-facing payload.
type SubmitParams struct {
	Email         string
	FullName      string
	RoleRequested string
	Phone         string
	AssignedArea  string
	DegreeCertURL string
}

// DecideParams is the admin-facing decision payload.
type DecideParams struct {
	RequestID  string
	ReviewerID string
	Approved   bool
	Note       string
}
