package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var ErrNoHistory = errors.New("no state history")

type StateHistory struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	LeadID    uuid.UUID
	FromState *uuid.UUID
	ToState   uuid.UUID
	ActorID   *uuid.UUID
	Metadata  json.RawMessage
	UndoneAt  *time.Time
	UndoneBy  *uuid.UUID
	CreatedAt time.Time
}

const historyColumns = `id, tenant_id, lead_id, from_state, to_state, actor_id, metadata, undone_at, undone_by, created_at`

func scanHistory(row pgx.Row) (StateHistory, error) {
	var h StateHistory
	err := row.Scan(
		&h.ID, &h.TenantID, &h.LeadID, &h.FromState, &h.ToState,
		&h.ActorID, &h.Metadata, &h.UndoneAt, &h.UndoneBy, &h.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return StateHistory{}, ErrNoHistory
	}
	if err != nil {
		return StateHistory{}, err
	}
	return h, nil
}

// LatestHistory returns the most recent state transition for a lead.
func (r *Repository) LatestHistory(ctx context.Context, leadID, tenantID uuid.UUID) (StateHistory, error) {
	return scanHistory(r.pool.QueryRow(ctx, `
		SELECT `+historyColumns+`
		FROM state_history
		WHERE lead_id = $1 AND tenant_id = $2
		ORDER BY created_at DESC
		LIMIT 1
	`, leadID, tenantID))
}

// ListHistory returns the full transition audit trail, newest first.
func (r *Repository) ListHistory(ctx context.Context, leadID, tenantID uuid.UUID) ([]StateHistory, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+historyColumns+`
		FROM state_history
		WHERE lead_id = $1 AND tenant_id = $2
		ORDER BY created_at DESC
	`, leadID, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]StateHistory, 0)
	for rows.Next() {
		h, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, h)
	}
	return items, rows.Err()
}
