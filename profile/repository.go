package profile

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrProfileNotFound signals that no profile row exists for the identity.
	ErrProfileNotFound = errors.New("profile: not found")
	// ErrInvalidRole signals a role value outside the allowed enum.
	ErrInvalidRole = errors.New("profile: invalid role")
)

// UpdateParams carries the owner-editable profile fields. Nil fields are
// left untouched.
type UpdateParams struct {
	FullName     *string
	Phone        *string
	AssignedArea *string
	AvatarURL    *string
}

// Repository handles data access for user profiles.
type Repository interface {
	GetByID(ctx context.Context, id string) (Profile, error)
	GetByEmail(ctx context.Context, email string) (Profile, error)
	ListByRole(ctx context.Context, role Role, assignedArea string) ([]Profile, error)
	ListAll(ctx context.Context, limit int) ([]Profile, error)
	Update(ctx context.Context, id string, params UpdateParams) (Profile, error)
	SetRole(ctx context.Context, id string, role Role) error
	SetActive(ctx context.Context, id string, active bool) error
	RepairRole(ctx context.Context, id string, role Role) (bool, error)
}

const profileColumns = `id, email, full_name, role, is_active, phone, assigned_area, avatar_url, created_at, updated_at`

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a PostgreSQL-backed profile repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

func (r *PGRepository) GetByID(ctx context.Context, id string) (Profile, error) {
	const selectSQL = `SELECT ` + profileColumns + ` FROM profiles WHERE id = $1`

	p, err := scanProfile(r.pool.QueryRow(ctx, selectSQL, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Profile{}, ErrProfileNotFound
		}
		return Profile{}, fmt.Errorf("profile: get by id: %w", err)
	}
	return p, nil
}

func (r *PGRepository) GetByEmail(ctx context.Context, email string) (Profile, error) {
	const selectSQL = `SELECT ` + profileColumns + ` FROM profiles WHERE lower(email) = lower($1)`

	p, err := scanProfile(r.pool.QueryRow(ctx, selectSQL, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Profile{}, ErrProfileNotFound
		}
		return Profile{}, fmt.Errorf("profile: get by email: %w", err)
	}
	return p, nil
}

func (r *PGRepository) ListByRole(ctx context.Context, role Role, assignedArea string) ([]Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE role = $1`
	args := []any{role}
	if assignedArea != "" {
		query += ` AND assigned_area = $2`
		args = append(args, assignedArea)
	}
	query += ` ORDER BY full_name`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("profile: list by role: %w", err)
	}
	defer rows.Close()

	return collectProfiles(rows)
}

func (r *PGRepository) ListAll(ctx context.Context, limit int) ([]Profile, error) {
	if limit <= 0 {
		limit = 100
	}
	const selectSQL = `SELECT ` + profileColumns + ` FROM profiles ORDER BY created_at LIMIT $1`

	rows, err := r.pool.Query(ctx, selectSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("profile: list all: %w", err)
	}
	defer rows.Close()

	return collectProfiles(rows)
}

func (r *PGRepository) Update(ctx context.Context, id string, params UpdateParams) (Profile, error) {
	const updateSQL = `
		UPDATE profiles
		SET full_name = COALESCE($2, full_name),
		    phone = COALESCE($3, phone),
		    assigned_area = COALESCE($4, assigned_area),
		    avatar_url = COALESCE($5, avatar_url),
		    updated_at = now()
		WHERE id = $1
		RETURNING ` + profileColumns

	p, err := scanProfile(r.pool.QueryRow(ctx, updateSQL, id, params.FullName, params.Phone, params.AssignedArea, params.AvatarURL))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Profile{}, ErrProfileNotFound
		}
		return Profile{}, fmt.Errorf("profile: update: %w", err)
	}
	return p, nil
}

// SetRole assigns a role unconditionally. Admin-only; the HTTP layer gates it.
func (r *PGRepository) SetRole(ctx context.Context, id string, role Role) error {
	if !role.Valid() {
		return ErrInvalidRole
	}
	tag, err := r.pool.Exec(ctx, `UPDATE profiles SET role = $2, updated_at = now() WHERE id = $1`, id, role)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23514" {
			return ErrInvalidRole
		}
		return fmt.Errorf("profile: set role: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrProfileNotFound
	}
	return nil
}

func (r *PGRepository) SetActive(ctx context.Context, id string, active bool) error {
	tag, err := r.pool.Exec(ctx, `UPDATE profiles SET is_active = $2, updated_at = now() WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("profile: set active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrProfileNotFound
	}
	return nil
}

// RepairRole fills in a missing role from an identity claim. The update is
// conditional on the role column still being NULL, so concurrent repair
// attempts converge and losing the race is not an error. It reports whether
// this call performed the write.
func (r *PGRepository) RepairRole(ctx context.Context, id string, role Role) (bool, error) {
	if !role.Valid() {
		return false, ErrInvalidRole
	}
	tag, err := r.pool.Exec(ctx,
		`UPDATE profiles SET role = $2, updated_at = now() WHERE id = $1 AND role IS NULL`,
		id, role,
	)
	if err != nil {
		return false, fmt.Errorf("profile: repair role: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func scanProfile(row pgx.Row) (Profile, error) {
	var (
		p    Profile
		role *string
	)
	err := row.Scan(
		&p.ID,
		&p.Email,
		&p.FullName,
		&role,
		&p.IsActive,
		&p.Phone,
		&p.AssignedArea,
		&p.AvatarURL,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return Profile{}, err
	}
	if role != nil {
		r := Role(*role)
		p.Role = &r
	}
	return p, nil
}

func collectProfiles(rows pgx.Rows) ([]Profile, error) {
	var out []Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("profile: scan row: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("profile: iterate rows: %w", err)
	}
	return out, nil
}
