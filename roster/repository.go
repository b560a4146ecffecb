package roster

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrMotherNotFound signals the requested case record does not exist.
var ErrMotherNotFound = errors.New("roster: mother not found")

// Repository handles data access for roster records.
type Repository interface {
	Insert(ctx context.Context, m Mother) (Mother, error)
	GetByID(ctx context.Context, id string) (Mother, error)
	List(ctx context.Context, area string, limit int) ([]Mother, error)
	Assign(ctx context.Context, id string, params AssignParams) (Mother, error)
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const motherColumns = `id, full_name, age, phone, area, expected_delivery,
	registered_by, assigned_doctor_id, assigned_asha_id, created_at, updated_at`

func scanMother(row pgx.Row) (Mother, error) {
	var m Mother
	err := row.Scan(&m.ID, &m.FullName, &m.Age, &m.Phone, &m.Area,
		&m.ExpectedDelivery, &m.RegisteredBy, &m.AssignedDoctorID,
		&m.AssignedAshaID, &m.CreatedAt, &m.UpdatedAt)
	return m, err
}

func (r *PGRepository) Insert(ctx context.Context, m Mother) (Mother, error) {
	const insertSQL = `
		INSERT INTO mothers
			(id, full_name, age, phone, area, expected_delivery, registered_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		RETURNING ` + motherColumns

	stored, err := scanMother(r.pool.QueryRow(ctx, insertSQL,
		m.ID, m.FullName, m.Age, m.Phone, m.Area, m.ExpectedDelivery, m.RegisteredBy, m.CreatedAt))
	if err != nil {
		return Mother{}, fmt.Errorf("roster: insert mother: %w", err)
	}
	return stored, nil
}

func (r *PGRepository) GetByID(ctx context.Context, id string) (Mother, error) {
	m, err := scanMother(r.pool.QueryRow(ctx,
		`SELECT `+motherColumns+` FROM mothers WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Mother{}, ErrMotherNotFound
		}
		return Mother{}, fmt.Errorf("roster: query by id: %w", err)
	}
	return m, nil
}

// List fetches up to limit records ordered by creation time, optionally
// scoped to one area.
func (r *PGRepository) List(ctx context.Context, area string, limit int) ([]Mother, error) {
	if limit <= 0 || limit > 200 {
		limit = 200
	}

	query := `SELECT ` + motherColumns + ` FROM mothers`
	args := []any{}
	if area != "" {
		query += ` WHERE area = $1`
		args = append(args, area)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, limit)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("roster: list: %w", err)
	}
	defer rows.Close()

	mothers := make([]Mother, 0, limit)
	for rows.Next() {
		m, err := scanMother(rows)
		if err != nil {
			return nil, fmt.Errorf("roster: scan mother: %w", err)
		}
		mothers = append(mothers, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("roster: iterate mothers: %w", err)
	}
	return mothers, nil
}

func (r *PGRepository) Assign(ctx context.Context, id string, params AssignParams) (Mother, error) {
	const assignSQL = `
		UPDATE mothers
		SET assigned_doctor_id = COALESCE($2, assigned_doctor_id),
		    assigned_asha_id = COALESCE($3, assigned_asha_id),
		    updated_at = now()
		WHERE id = $1
		RETURNING ` + motherColumns

	m, err := scanMother(r.pool.QueryRow(ctx, assignSQL, id, params.DoctorID, params.AshaID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Mother{}, ErrMotherNotFound
		}
		return Mother{}, fmt.Errorf("roster: assign: %w", err)
	}
	return m, nil
}
