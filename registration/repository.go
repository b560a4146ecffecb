package registration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"matricare/profile"
)

var (
	ErrRequestNotFound      = errors.New("registration: request not found")
	ErrPendingRequestExists = errors.New("registration: pending request already exists for email")
	ErrAlreadyDecided       = errors.New("registration: request already decided")
)

// ProvisionFunc runs inside the decision transaction while the request row
// is locked, before the status flips. A non-nil error aborts the decision
// and the request stays PENDING.
type ProvisionFunc func(ctx context.Context, req Request) error

// Repository handles data access for registration requests.
type Repository interface {
	Insert(ctx context.Context, req Request) (Request, error)
	GetByID(ctx context.Context, id string) (Request, error)
	List(ctx context.Context, status Status, limit int) ([]Request, error)
	Decide(ctx context.Context, id string, next Status, note *string, reviewerID string, decidedAt time.Time, provision ProvisionFunc) (Request, error)
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const requestColumns = `id, email, full_name, role_requested, phone, assigned_area,
	degree_cert_url, status, decision_note, reviewed_by, created_at, decided_at`

func scanRequest(row pgx.Row) (Request, error) {
	var req Request
	var role string
	var status string
	err := row.Scan(&req.ID, &req.Email, &req.FullName, &role, &req.Phone,
		&req.AssignedArea, &req.DegreeCertURL, &status, &req.DecisionNote,
		&req.ReviewedBy, &req.CreatedAt, &req.DecidedAt)
	if err != nil {
		return Request{}, err
	}
	req.RoleRequested = profile.Role(role)
	req.Status = Status(status)
	return req, nil
}

// Insert stores a new PENDING request. A partial unique index on
// lower(email) over PENDING rows rejects duplicate open applications.
func (r *PGRepository) Insert(ctx context.Context, req Request) (Request, error) {
	const insertSQL = `
		INSERT INTO registration_requests
			(id, email, full_name, role_requested, phone, assigned_area, degree_cert_url, status, created_at)
		VALUES ($1, lower($2), $3, $4, $5, $6, $7, $8, $9)
		RETURNING ` + requestColumns

	stored, err := scanRequest(r.pool.QueryRow(ctx, insertSQL,
		req.ID, req.Email, req.FullName, string(req.RoleRequested),
		req.Phone, req.AssignedArea, req.DegreeCertURL, string(req.Status), req.CreatedAt))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Request{}, ErrPendingRequestExists
		}
		return Request{}, fmt.Errorf("registration: insert request: %w", err)
	}
	return stored, nil
}

func (r *PGRepository) GetByID(ctx context.Context, id string) (Request, error) {
	req, err := scanRequest(r.pool.QueryRow(ctx,
		`SELECT `+requestColumns+` FROM registration_requests WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Request{}, ErrRequestNotFound
		}
		return Request{}, fmt.Errorf("registration: get request: %w", err)
	}
	return req, nil
}

func (r *PGRepository) List(ctx context.Context, status Status, limit int) ([]Request, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT ` + requestColumns + ` FROM registration_requests`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(status))
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, limit)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("registration: list requests: %w", err)
	}
	defer rows.Close()

	var out []Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("registration: scan request: %w", err)
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

// Decide flips a PENDING request to its terminal status. The row is locked
// for the duration so concurrent decisions serialize; whoever loses the
// lock race observes the terminal status and gets ErrAlreadyDecided. The
// provision callback, when set, runs under the lock so a failed account
// creation leaves the request open.
func (r *PGRepository) Decide(ctx context.Context, id string, next Status, note *string, reviewerID string, decidedAt time.Time, provision ProvisionFunc) (Request, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Request{}, fmt.Errorf("registration: begin decision: %w", err)
	}
	defer tx.Rollback(ctx)

	req, err := scanRequest(tx.QueryRow(ctx,
		`SELECT `+requestColumns+` FROM registration_requests WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Request{}, ErrRequestNotFound
		}
		return Request{}, fmt.Errorf("registration: lock request: %w", err)
	}
	if req.Status != StatusPending {
		return Request{}, ErrAlreadyDecided
	}

	if provision != nil {
		if err := provision(ctx, req); err != nil {
			return Request{}, err
		}
	}

	updated, err := scanRequest(tx.QueryRow(ctx, `
		UPDATE registration_requests
		SET status = $2, decision_note = $3, reviewed_by = $4, decided_at = $5
		WHERE id = $1 AND status = 'PENDING'
		RETURNING `+requestColumns,
		id, string(next), note, reviewerID, decidedAt))
	if err != nil {
		return Request{}, fmt.Errorf("registration: update request: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Request{}, fmt.Errorf("registration: commit decision: %w", err)
	}
	return updated, nil
}
