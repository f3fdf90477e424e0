package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TransitionParams describes one stage transition write unit.
type TransitionParams struct {
	TenantID     uuid.UUID
	LeadID       uuid.UUID
	FromStateID  *uuid.UUID
	ToStateID    uuid.UUID
	ToStatus     string
	ActorID      *uuid.UUID
	Metadata     []byte
	OpenDeadline bool
	DueAt        time.Time
}

// ApplyTransition updates the lead status, closes the previous active
// deadline, opens the next one and appends the history row in a single
// transaction so no reader observes a partially applied transition.
func (r *Repository) ApplyTransition(ctx context.Context, p TransitionParams) (StateHistory, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return StateHistory{}, fmt.Errorf("begin transition: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		UPDATE leads SET status = $3, updated_at = now()
		WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL
	`, p.LeadID, p.TenantID, p.ToStatus); err != nil {
		return StateHistory{}, fmt.Errorf("update lead status: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE deadlines SET status = 'completed', closed_at = now()
		WHERE lead_id = $1 AND status = 'active'
	`, p.LeadID); err != nil {
		return StateHistory{}, fmt.Errorf("close deadline: %w", err)
	}

	if p.OpenDeadline {
		if _, err := tx.Exec(ctx, `
			INSERT INTO deadlines (tenant_id, lead_id, stage_id, due_at, status)
			VALUES ($1, $2, $3, $4, 'active')
		`, p.TenantID, p.LeadID, p.ToStateID, p.DueAt); err != nil {
			return StateHistory{}, fmt.Errorf("open deadline: %w", err)
		}
	}

	history, err := scanHistory(tx.QueryRow(ctx, `
		INSERT INTO state_history (tenant_id, lead_id, from_state, to_state, actor_id, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+historyColumns+`
	`, p.TenantID, p.LeadID, p.FromStateID, p.ToStateID, p.ActorID, p.Metadata))
	if err != nil {
		return StateHistory{}, fmt.Errorf("append history: %w", err)
	}

	return history, tx.Commit(ctx)
}

// UndoParams describes the supersession of the latest transition.
type UndoParams struct {
	TenantID            uuid.UUID
	LeadID              uuid.UUID
	SupersededHistoryID uuid.UUID
	ActorID             *uuid.UUID
	CurrentStateID      uuid.UUID
	PriorStateID        uuid.UUID
	PriorStatus         string
	OpenDeadline        bool
	DueAt               time.Time
}

// ApplyUndo re-opens the prior stage with a fresh deadline window, appends an
// undo-marked history row and annotates the superseded row, atomically.
func (r *Repository) ApplyUndo(ctx context.Context, p UndoParams) (StateHistory, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return StateHistory{}, fmt.Errorf("begin undo: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE state_history SET undone_at = now(), undone_by = $3
		WHERE id = $1 AND tenant_id = $2 AND undone_at IS NULL
	`, p.SupersededHistoryID, p.TenantID, p.ActorID)
	if err != nil {
		return StateHistory{}, fmt.Errorf("mark superseded: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return StateHistory{}, ErrNoHistory
	}

	if _, err := tx.Exec(ctx, `
		UPDATE leads SET status = $3, updated_at = now()
		WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL
	`, p.LeadID, p.TenantID, p.PriorStatus); err != nil {
		return StateHistory{}, fmt.Errorf("update lead status: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE deadlines SET status = 'completed', closed_at = now()
		WHERE lead_id = $1 AND status = 'active'
	`, p.LeadID); err != nil {
		return StateHistory{}, fmt.Errorf("close deadline: %w", err)
	}

	if p.OpenDeadline {
		if _, err := tx.Exec(ctx, `
			INSERT INTO deadlines (tenant_id, lead_id, stage_id, due_at, status)
			VALUES ($1, $2, $3, $4, 'active')
		`, p.TenantID, p.LeadID, p.PriorStateID, p.DueAt); err != nil {
			return StateHistory{}, fmt.Errorf("open deadline: %w", err)
		}
	}

	history, err := scanHistory(tx.QueryRow(ctx, `
		INSERT INTO state_history (tenant_id, lead_id, from_state, to_state, actor_id, metadata)
		VALUES ($1, $2, $3, $4, $5, '{"undo": true}'::jsonb)
		RETURNING `+historyColumns+`
	`, p.TenantID, p.LeadID, p.CurrentStateID, p.PriorStateID, p.ActorID))
	if err != nil {
		return StateHistory{}, fmt.Errorf("append history: %w", err)
	}

	return history, tx.Commit(ctx)
}

// EscalationParams describes the SLA breach cascade for one lead.
type EscalationParams struct {
	TenantID         uuid.UUID
	LeadID           uuid.UUID
	DeadlineID       uuid.UUID
	PreviousAssignee *uuid.UUID
	CreateFailure    bool
	DeactivateUser   bool
	NegligenceReason string
}

// ApplyEscalation runs the breach cascade as one unit: deadline to overdue,
// failure record, lead to failed with assignment released, negligence point
// and assignee deactivation. Returns false without writing anything further
// when the deadline was already swept by a concurrent run.
func (r *Repository) ApplyEscalation(ctx context.Context, p EscalationParams) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin escalation: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE deadlines SET status = 'overdue'
		WHERE id = $1 AND tenant_id = $2 AND status = 'active'
	`, p.DeadlineID, p.TenantID)
	if err != nil {
		return false, fmt.Errorf("mark overdue: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	if p.CreateFailure {
		if _, err := tx.Exec(ctx, `
			INSERT INTO failures (tenant_id, lead_id, failure_type, status, failed_by)
			VALUES ($1, $2, 'overdue', 'pending', $3)
		`, p.TenantID, p.LeadID, p.PreviousAssignee); err != nil {
			return false, fmt.Errorf("create failure: %w", err)
		}
	}

	if _, err := tx.Exec(ctx, `
		UPDATE leads SET status = 'failed', assigned_user_id = NULL, updated_at = now()
		WHERE id = $1 AND tenant_id = $2
	`, p.LeadID, p.TenantID); err != nil {
		return false, fmt.Errorf("fail lead: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE deadlines SET status = 'overdue'
		WHERE lead_id = $1 AND status = 'active'
	`, p.LeadID); err != nil {
		return false, fmt.Errorf("sweep stray deadlines: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE assignments SET released_at = now()
		WHERE lead_id = $1 AND released_at IS NULL
	`, p.LeadID); err != nil {
		return false, fmt.Errorf("release assignment: %w", err)
	}

	if p.PreviousAssignee != nil {
		if _, err := tx.Exec(ctx, `
			INSERT INTO negligence_points (tenant_id, user_id, lead_id, points, reason)
			VALUES ($1, $2, $3, 1, $4)
		`, p.TenantID, *p.PreviousAssignee, p.LeadID, p.NegligenceReason); err != nil {
			return false, fmt.Errorf("record negligence: %w", err)
		}

		if p.DeactivateUser {
			if _, err := tx.Exec(ctx, `
				UPDATE users SET status = 'inactive'
				WHERE id = $1 AND tenant_id = $2 AND status = 'active'
			`, *p.PreviousAssignee, p.TenantID); err != nil {
				return false, fmt.Errorf("deactivate user: %w", err)
			}
		}
	}

	return true, tx.Commit(ctx)
}
