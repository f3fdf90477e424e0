package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("lead not found")

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type Lead struct {
	ID             uuid.UUID
	TenantID       uuid.UUID
	Status         string
	AssignedUserID *uuid.UUID
	TeamID         *uuid.UUID
	Source         *string
	PropertyType   *string
	Location       *string
	BudgetMin      *int64
	BudgetMax      *int64
	Tags           []string
	DeletedAt      *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

const leadColumns = `id, tenant_id, status, assigned_user_id, team_id, source, property_type, location,
	budget_min, budget_max, tags, deleted_at, created_at, updated_at`

func scanLead(row pgx.Row) (Lead, error) {
	var lead Lead
	err := row.Scan(
		&lead.ID, &lead.TenantID, &lead.Status, &lead.AssignedUserID, &lead.TeamID,
		&lead.Source, &lead.PropertyType, &lead.Location,
		&lead.BudgetMin, &lead.BudgetMax, &lead.Tags, &lead.DeletedAt,
		&lead.CreatedAt, &lead.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Lead{}, ErrNotFound
	}
	if err != nil {
		return Lead{}, err
	}
	return lead, nil
}

func (r *Repository) GetByID(ctx context.Context, id, tenantID uuid.UUID) (Lead, error) {
	return scanLead(r.pool.QueryRow(ctx, `
		SELECT `+leadColumns+`
		FROM leads WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL
	`, id, tenantID))
}
