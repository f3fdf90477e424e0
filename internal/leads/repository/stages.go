package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var ErrStageNotFound = errors.New("stage not found")

type StageDefinition struct {
	ID          uuid.UUID
	TenantID    uuid.UUID
	Code        string
	DisplayName string
	CreatedAt   time.Time
}

func (r *Repository) GetStageByID(ctx context.Context, id, tenantID uuid.UUID) (StageDefinition, error) {
	var stage StageDefinition
	err := r.pool.QueryRow(ctx, `
		SELECT id, tenant_id, code, display_name, created_at
		FROM stage_definitions WHERE id = $1 AND tenant_id = $2
	`, id, tenantID).Scan(&stage.ID, &stage.TenantID, &stage.Code, &stage.DisplayName, &stage.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return StageDefinition{}, ErrStageNotFound
	}
	if err != nil {
		return StageDefinition{}, err
	}
	return stage, nil
}

func (r *Repository) GetStageByCode(ctx context.Context, tenantID uuid.UUID, code string) (StageDefinition, error) {
	var stage StageDefinition
	err := r.pool.QueryRow(ctx, `
		SELECT id, tenant_id, code, display_name, created_at
		FROM stage_definitions WHERE tenant_id = $1 AND code = $2
	`, tenantID, code).Scan(&stage.ID, &stage.TenantID, &stage.Code, &stage.DisplayName, &stage.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return StageDefinition{}, ErrStageNotFound
	}
	if err != nil {
		return StageDefinition{}, err
	}
	return stage, nil
}

func (r *Repository) ListStages(ctx context.Context, tenantID uuid.UUID) ([]StageDefinition, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, tenant_id, code, display_name, created_at
		FROM stage_definitions WHERE tenant_id = $1 ORDER BY created_at ASC
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stages := make([]StageDefinition, 0)
	for rows.Next() {
		var stage StageDefinition
		if err := rows.Scan(&stage.ID, &stage.TenantID, &stage.Code, &stage.DisplayName, &stage.CreatedAt); err != nil {
			return nil, err
		}
		stages = append(stages, stage)
	}
	return stages, rows.Err()
}
