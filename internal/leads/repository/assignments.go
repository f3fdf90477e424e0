package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// LastAssignedAt returns when each of the given users last received a lead.
// Users who never held an assignment are absent from the result.
func (r *Repository) LastAssignedAt(ctx context.Context, tenantID uuid.UUID, userIDs []uuid.UUID) (map[uuid.UUID]time.Time, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT user_id, MAX(assigned_at)
		FROM assignments
		WHERE tenant_id = $1 AND user_id = ANY($2)
		GROUP BY user_id
	`, tenantID, userIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[uuid.UUID]time.Time)
	for rows.Next() {
		var userID uuid.UUID
		var at time.Time
		if err := rows.Scan(&userID, &at); err != nil {
			return nil, err
		}
		result[userID] = at
	}
	return result, rows.Err()
}
