package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrIdentityNotFound signals that the identity does not exist.
	ErrIdentityNotFound = errors.New("identity: not found")
	// ErrDuplicateEmail signals that the email is already registered.
	ErrDuplicateEmail = errors.New("identity: email already exists")
	// ErrRefreshSessionNotFound signals an unknown refresh token.
	ErrRefreshSessionNotFound = errors.New("identity: refresh session not found")
)

// CreateIdentityParams contains write parameters for creating identities.
type CreateIdentityParams struct {
	Email          string
	PasswordHash   string
	EmailConfirmed bool
	Metadata       Metadata
}

// Repository handles data access for identities and refresh sessions.
type Repository interface {
	CreateIdentity(ctx context.Context, params CreateIdentityParams) (Identity, error)
	GetByEmail(ctx context.Context, email string) (Identity, error)
	GetByID(ctx context.Context, id string) (Identity, error)
	CreateRefreshSession(ctx context.Context, session RefreshSession) error
	GetRefreshSession(ctx context.Context, tokenHash string) (RefreshSession, error)
	RevokeRefreshSession(ctx context.Context, id string, at time.Time) error
	RevokeRefreshSessionsByIdentity(ctx context.Context, identityID string, at time.Time) error
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a PostgreSQL-backed identity repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const identityColumns = `id, email, password_hash, email_confirmed, metadata, created_at, updated_at`

// CreateIdentity inserts a new identity. A database trigger creates the
// matching profile row as a side effect.
func (r *PGRepository) CreateIdentity(ctx context.Context, params CreateIdentityParams) (Identity, error) {
	const insertSQL = `
		INSERT INTO identities (email, password_hash, email_confirmed, metadata)
		VALUES (lower($1), $2, $3, $4)
		RETURNING ` + identityColumns

	meta, err := json.Marshal(params.Metadata)
	if err != nil {
		return Identity{}, fmt.Errorf("identity: marshal metadata: %w", err)
	}

	ident, err := scanIdentity(r.pool.QueryRow(ctx, insertSQL, params.Email, params.PasswordHash, params.EmailConfirmed, meta))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Identity{}, ErrDuplicateEmail
		}
		return Identity{}, fmt.Errorf("identity: create: %w", err)
	}
	return ident, nil
}

func (r *PGRepository) GetByEmail(ctx context.Context, email string) (Identity, error) {
	const selectSQL = `SELECT ` + identityColumns + ` FROM identities WHERE email = lower($1)`

	ident, err := scanIdentity(r.pool.QueryRow(ctx, selectSQL, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Identity{}, ErrIdentityNotFound
		}
		return Identity{}, fmt.Errorf("identity: get by email: %w", err)
	}
	return ident, nil
}

func (r *PGRepository) GetByID(ctx context.Context, id string) (Identity, error) {
	const selectSQL = `SELECT ` + identityColumns + ` FROM identities WHERE id = $1`

	ident, err := scanIdentity(r.pool.QueryRow(ctx, selectSQL, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Identity{}, ErrIdentityNotFound
		}
		return Identity{}, fmt.Errorf("identity: get by id: %w", err)
	}
	return ident, nil
}

func (r *PGRepository) CreateRefreshSession(ctx context.Context, session RefreshSession) error {
	const insertSQL = `
		INSERT INTO refresh_sessions (id, identity_id, token_hash, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := r.pool.Exec(ctx, insertSQL, session.ID, session.IdentityID, session.TokenHash, session.CreatedAt, session.ExpiresAt); err != nil {
		return fmt.Errorf("identity: create refresh session: %w", err)
	}
	return nil
}

func (r *PGRepository) GetRefreshSession(ctx context.Context, tokenHash string) (RefreshSession, error) {
	const selectSQL = `
		SELECT id, identity_id, token_hash, created_at, expires_at, revoked_at
		FROM refresh_sessions
		WHERE token_hash = $1
	`
	var s RefreshSession
	err := r.pool.QueryRow(ctx, selectSQL, tokenHash).Scan(&s.ID, &s.IdentityID, &s.TokenHash, &s.CreatedAt, &s.ExpiresAt, &s.RevokedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return RefreshSession{}, ErrRefreshSessionNotFound
		}
		return RefreshSession{}, fmt.Errorf("identity: get refresh session: %w", err)
	}
	return s, nil
}

func (r *PGRepository) RevokeRefreshSession(ctx context.Context, id string, at time.Time) error {
	if _, err := r.pool.Exec(ctx, `UPDATE refresh_sessions SET revoked_at = $2 WHERE id = $1 AND revoked_at IS NULL`, id, at); err != nil {
		return fmt.Errorf("identity: revoke refresh session: %w", err)
	}
	return nil
}

func (r *PGRepository) RevokeRefreshSessionsByIdentity(ctx context.Context, identityID string, at time.Time) error {
	if _, err := r.pool.Exec(ctx, `UPDATE refresh_sessions SET revoked_at = $2 WHERE identity_id = $1 AND revoked_at IS NULL`, identityID, at); err != nil {
		return fmt.Errorf("identity: revoke refresh sessions: %w", err)
	}
	return nil
}

func scanIdentity(row pgx.Row) (Identity, error) {
	var (
		ident Identity
		meta  []byte
	)
	err := row.Scan(
		&ident.ID,
		&ident.Email,
		&ident.PasswordHash,
		&ident.EmailConfirmed,
		&meta,
		&ident.CreatedAt,
		&ident.UpdatedAt,
	)
	if err != nil {
		return Identity{}, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &ident.Metadata); err != nil {
			return Identity{}, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return ident, nil
}
