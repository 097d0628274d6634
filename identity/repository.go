package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrPrincipalNotFound signals that the principal does not exist.
	ErrPrincipalNotFound = errors.New("identity: principal not found")
	// ErrDuplicateEmail signals that the email is already registered.
	ErrDuplicateEmail = errors.New("identity: email already exists")
)

// Repository handles data access for principals and role grants.
type Repository interface {
	CreatePrincipal(ctx context.Context, params CreatePrincipalParams) (Principal, error)
	GetByEmail(ctx context.Context, email string) (Principal, error)
	GetByID(ctx context.Context, principalID string) (Principal, error)
	GrantRole(ctx context.Context, principalID string, role Role, grantedBy string) error
	RevokeRole(ctx context.Context, principalID string, role Role) error
	HasRole(ctx context.Context, principalID string, role Role) (bool, error)
	ListRoles(ctx context.Context, principalID string) ([]Role, error)
	CountWithRole(ctx context.Context, role Role) (int, error)
}

// CreatePrincipalParams contains write parameters for creating principals.
type CreatePrincipalParams struct {
	Email        string
	DisplayName  string
	PasswordHash string
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a PostgreSQL-backed identity repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// CreatePrincipal inserts a new principal with hashed password.
func (r *PGRepository) CreatePrincipal(ctx context.Context, params CreatePrincipalParams) (Principal, error) {
	const insertSQL = `
		INSERT INTO principals (email, display_name, password_hash)
		VALUES ($1, $2, $3)
		RETURNING id, email, display_name, password_hash, created_at
	`

	p, err := scanPrincipal(r.pool.QueryRow(ctx, insertSQL, params.Email, params.DisplayName, params.PasswordHash))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Principal{}, ErrDuplicateEmail
		}
		return Principal{}, fmt.Errorf("identity: create principal: %w", err)
	}

	return p, nil
}

// GetByEmail retrieves a principal by email address.
func (r *PGRepository) GetByEmail(ctx context.Context, email string) (Principal, error) {
	const selectSQL = `
		SELECT id, email, display_name, password_hash, created_at
		FROM principals
		WHERE email = $1
	`

	p, err := scanPrincipal(r.pool.QueryRow(ctx, selectSQL, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Principal{}, ErrPrincipalNotFound
		}
		return Principal{}, fmt.Errorf("identity: get principal by email: %w", err)
	}

	return p, nil
}

// GetByID retrieves a principal by ID.
func (r *PGRepository) GetByID(ctx context.Context, principalID string) (Principal, error) {
	const selectSQL = `
		SELECT id, email, display_name, password_hash, created_at
		FROM principals
		WHERE id = $1
	`

	p, err := scanPrincipal(r.pool.QueryRow(ctx, selectSQL, principalID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Principal{}, ErrPrincipalNotFound
		}
		return Principal{}, fmt.Errorf("identity: get principal by id: %w", err)
	}

	return p, nil
}

// GrantRole records a capability edge. Granting an already-held role is a
// no-op rather than an error.
func (r *PGRepository) GrantRole(ctx context.Context, principalID string, role Role, grantedBy string) error {
	const insertSQL = `
		INSERT INTO role_grants (principal_id, role, granted_by)
		VALUES ($1, $2, $3)
		ON CONFLICT (principal_id, role) DO NOTHING
	`

	var grantedByArg any
	if grantedBy != "" {
		grantedByArg = grantedBy
	}
	if _, err := r.pool.Exec(ctx, insertSQL, principalID, string(role), grantedByArg); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return ErrPrincipalNotFound
		}
		return fmt.Errorf("identity: grant role: %w", err)
	}
	return nil
}

// RevokeRole removes a capability edge. Revoking a role the principal does
// not hold is a no-op.
func (r *PGRepository) RevokeRole(ctx context.Context, principalID string, role Role) error {
	const deleteSQL = `
		DELETE FROM role_grants
		WHERE principal_id = $1 AND role = $2
	`

	if _, err := r.pool.Exec(ctx, deleteSQL, principalID, string(role)); err != nil {
		return fmt.Errorf("identity: revoke role: %w", err)
	}
	return nil
}

// HasRole answers the capability lookup (principal, role) -> bool.
func (r *PGRepository) HasRole(ctx context.Context, principalID string, role Role) (bool, error) {
	const selectSQL = `
		SELECT EXISTS (
			SELECT 1 FROM role_grants WHERE principal_id = $1 AND role = $2
		)
	`

	var held bool
	if err := r.pool.QueryRow(ctx, selectSQL, principalID, string(role)).Scan(&held); err != nil {
		return false, fmt.Errorf("identity: has role: %w", err)
	}
	return held, nil
}

// ListRoles returns every role granted to the principal.
func (r *PGRepository) ListRoles(ctx context.Context, principalID string) ([]Role, error) {
	const selectSQL = `
		SELECT role FROM role_grants WHERE principal_id = $1 ORDER BY role
	`

	rows, err := r.pool.Query(ctx, selectSQL, principalID)
	if err != nil {
		return nil, fmt.Errorf("identity: list roles: %w", err)
	}
	defer rows.Close()

	roles := make([]Role, 0, 4)
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, fmt.Errorf("identity: scan role: %w", err)
		}
		roles = append(roles, Role(role))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("identity: iterate roles: %w", err)
	}
	return roles, nil
}

// CountWithRole counts principals holding the role. Used by the admin
// bootstrap to detect a fresh deployment.
func (r *PGRepository) CountWithRole(ctx context.Context, role Role) (int, error) {
	const selectSQL = `
		SELECT COUNT(*) FROM role_grants WHERE role = $1
	`

	var n int
	if err := r.pool.QueryRow(ctx, selectSQL, string(role)).Scan(&n); err != nil {
		return 0, fmt.Errorf("identity: count role holders: %w", err)
	}
	return n, nil
}

func scanPrincipal(row pgx.Row) (Principal, error) {
	var p Principal
	err := row.Scan(
		&p.ID,
		&p.Email,
		&p.DisplayName,
		&p.PasswordHash,
		&p.CreatedAt,
	)
	if err != nil {
		return Principal{}, err
	}
	return p, nil
}
