package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const (
	DeadlineActive    = "active"
	DeadlineOverdue   = "overdue"
	DeadlineCompleted = "completed"
)

var ErrNoActiveDeadline = errors.New("no active deadline")

type Deadline struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	LeadID    uuid.UUID
	StageID   uuid.UUID
	DueAt     time.Time
	Status    string
	CreatedAt time.Time
	ClosedAt  *time.Time
}

const deadlineColumns = `id, tenant_id, lead_id, stage_id, due_at, status, created_at, closed_at`

func scanDeadline(row pgx.Row) (Deadline, error) {
	var d Deadline
	err := row.Scan(&d.ID, &d.TenantID, &d.LeadID, &d.StageID, &d.DueAt, &d.Status, &d.CreatedAt, &d.ClosedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Deadline{}, ErrNoActiveDeadline
	}
	if err != nil {
		return Deadline{}, err
	}
	return d, nil
}

// ListOverdueDeadlines returns active deadlines whose due time has elapsed.
func (r *Repository) ListOverdueDeadlines(ctx context.Context, tenantID uuid.UUID, now time.Time) ([]Deadline, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+deadlineColumns+`
		FROM deadlines
		WHERE tenant_id = $1 AND status = 'active' AND due_at <= $2
		ORDER BY due_at ASC
	`, tenantID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]Deadline, 0)
	for rows.Next() {
		d, err := scanDeadline(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, d)
	}
	return items, rows.Err()
}

// ListLeadsMissingDeadline finds leads in a trackable status with no active
// deadline. These are self-healed by the backfill pass (e.g. after an import).
func (r *Repository) ListLeadsMissingDeadline(ctx context.Context, tenantID uuid.UUID, trackableStatuses []string) ([]Lead, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+prefixedLeadColumns("l")+`
		FROM leads l
		WHERE l.tenant_id = $1 AND l.status = ANY($2) AND l.deleted_at IS NULL
		  AND NOT EXISTS (
			SELECT 1 FROM deadlines d WHERE d.lead_id = l.id AND d.status = 'active'
		  )
	`, tenantID, trackableStatuses)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	leads := make([]Lead, 0)
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		leads = append(leads, lead)
	}
	return leads, rows.Err()
}

func prefixedLeadColumns(alias string) string {
	return alias + `.id, ` + alias + `.tenant_id, ` + alias + `.status, ` + alias + `.assigned_user_id, ` +
		alias + `.team_id, ` + alias + `.source, ` + alias + `.property_type, ` + alias + `.location, ` +
		alias + `.budget_min, ` + alias + `.budget_max, ` + alias + `.tags, ` + alias + `.deleted_at, ` +
		alias + `.created_at, ` + alias + `.updated_at`
}

type OpenDeadlineParams struct {
	TenantID uuid.UUID
	LeadID   uuid.UUID
	StageID  uuid.UUID
	DueAt    time.Time
}

// OpenDeadline creates a new active deadline. The partial unique index on
// (lead_id) WHERE status = 'active' guards the one-active-per-lead invariant.
func (r *Repository) OpenDeadline(ctx context.Context, p OpenDeadlineParams) (Deadline, error) {
	return scanDeadline(r.pool.QueryRow(ctx, `
		INSERT INTO deadlines (tenant_id, lead_id, stage_id, due_at, status)
		VALUES ($1, $2, $3, $4, 'active')
		RETURNING `+deadlineColumns+`
	`, p.TenantID, p.LeadID, p.StageID, p.DueAt))
}
