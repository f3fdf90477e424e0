// Package identity provides tenant and user/role lookups consumed by the
// lifecycle core. Authentication and permission checks live outside this
// service; only role membership and account status are resolved here.
package identity

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	RoleSales = "sales"
	RoleOwner = "owner"

	StatusActive   = "active"
	StatusInactive = "inactive"
)

var ErrUserNotFound = errors.New("user not found")

type User struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	Name      string
	Role      string
	Status    string
	CreatedAt time.Time
}

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) GetUser(ctx context.Context, id, tenantID uuid.UUID) (User, error) {
	var u User
	err := r.pool.QueryRow(ctx, `
		SELECT id, tenant_id, name, role, status, created_at
		FROM users WHERE id = $1 AND tenant_id = $2
	`, id, tenantID).Scan(&u.ID, &u.TenantID, &u.Name, &u.Role, &u.Status, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, err
	}
	return u, nil
}

// HasRole reports whether the user holds the given role.
func (r *Repository) HasRole(ctx context.Context, id, tenantID uuid.UUID, role string) (bool, error) {
	user, err := r.GetUser(ctx, id, tenantID)
	if errors.Is(err, ErrUserNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return user.Role == role, nil
}

// IsActive reports whether the user account is active.
func (r *Repository) IsActive(ctx context.Context, id, tenantID uuid.UUID) (bool, error) {
	user, err := r.GetUser(ctx, id, tenantID)
	if errors.Is(err, ErrUserNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return user.Status == StatusActive, nil
}

// ListTenantIDs returns every tenant known to the system, for sweep fan-out.
func (r *Repository) ListTenantIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM tenants ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]uuid.UUID, 0)
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetTenantSettings returns the raw settings document for a tenant.
func (r *Repository) GetTenantSettings(ctx context.Context, tenantID uuid.UUID) ([]byte, error) {
	var settings []byte
	err := r.pool.QueryRow(ctx, `SELECT settings FROM tenants WHERE id = $1`, tenantID).Scan(&settings)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return settings, err
}
