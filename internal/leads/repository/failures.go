package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const (
	FailureOverdue   = "overdue"
	FailureSurrender = "surrender"

	FailurePending  = "pending"
	FailureResolved = "resolved"
)

type Failure struct {
	ID          uuid.UUID
	TenantID    uuid.UUID
	LeadID      uuid.UUID
	FailureType string
	Reason      *string
	Status      string
	FailedBy    *uuid.UUID
	CreatedAt   time.Time
	ResolvedAt  *time.Time
}

// HasPendingOverdueFailure reports whether an unresolved overdue failure
// already exists for the lead. The sweep uses this for idempotency.
func (r *Repository) HasPendingOverdueFailure(ctx context.Context, leadID, tenantID uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM failures
			WHERE lead_id = $1 AND tenant_id = $2 AND failure_type = 'overdue' AND status = 'pending'
		)
	`, leadID, tenantID).Scan(&exists)
	return exists, err
}

// ApplySurrender records a manual surrender: resolved failure row, lead to
// failed, deadline closed and assignment released, as one unit.
func (r *Repository) ApplySurrender(ctx context.Context, tenantID, leadID uuid.UUID, actorID *uuid.UUID, reason string) (Failure, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Failure{}, fmt.Errorf("begin surrender: %w", err)
	}
	defer tx.Rollback(ctx)

	var f Failure
	err = tx.QueryRow(ctx, `
		INSERT INTO failures (tenant_id, lead_id, failure_type, reason, status, failed_by, resolved_at)
		VALUES ($1, $2, 'surrender', $3, 'resolved', $4, now())
		RETURNING id, tenant_id, lead_id, failure_type, reason, status, failed_by, created_at, resolved_at
	`, tenantID, leadID, reason, actorID).Scan(
		&f.ID, &f.TenantID, &f.LeadID, &f.FailureType, &f.Reason, &f.Status, &f.FailedBy, &f.CreatedAt, &f.ResolvedAt,
	)
	if err != nil {
		return Failure{}, fmt.Errorf("create surrender failure: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE leads SET status = 'failed', assigned_user_id = NULL, updated_at = now()
		WHERE id = $1 AND tenant_id = $2
	`, leadID, tenantID); err != nil {
		return Failure{}, fmt.Errorf("fail lead: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE deadlines SET status = 'completed', closed_at = now()
		WHERE lead_id = $1 AND status = 'active'
	`, leadID); err != nil {
		return Failure{}, fmt.Errorf("close deadline: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE assignments SET released_at = now()
		WHERE lead_id = $1 AND released_at IS NULL
	`, leadID); err != nil {
		return Failure{}, fmt.Errorf("release assignment: %w", err)
	}

	return f, tx.Commit(ctx)
}

const (
	ClosurePending  = "pending"
	ClosureApproved = "approved"
	ClosureRejected = "rejected"
)

var ErrClosureNotFound = errors.New("closure not found")

type Closure struct {
	ID         uuid.UUID
	TenantID   uuid.UUID
	LeadID     uuid.UUID
	Amount     int64
	Address    *string
	Status     string
	ProposedBy *uuid.UUID
	DecidedBy  *uuid.UUID
	DecidedAt  *time.Time
	CreatedAt  time.Time
}

const closureColumns = `id, tenant_id, lead_id, amount, address, status, proposed_by, decided_by, decided_at, created_at`

func scanClosure(row pgx.Row) (Closure, error) {
	var c Closure
	err := row.Scan(&c.ID, &c.TenantID, &c.LeadID, &c.Amount, &c.Address, &c.Status,
		&c.ProposedBy, &c.DecidedBy, &c.DecidedAt, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Closure{}, ErrClosureNotFound
	}
	if err != nil {
		return Closure{}, err
	}
	return c, nil
}

func (r *Repository) CreateClosure(ctx context.Context, tenantID, leadID uuid.UUID, amount int64, address *string, proposedBy *uuid.UUID) (Closure, error) {
	return scanClosure(r.pool.QueryRow(ctx, `
		INSERT INTO closures (tenant_id, lead_id, amount, address, status, proposed_by)
		VALUES ($1, $2, $3, $4, 'pending', $5)
		RETURNING `+closureColumns+`
	`, tenantID, leadID, amount, address, proposedBy))
}

func (r *Repository) GetClosure(ctx context.Context, id, tenantID uuid.UUID) (Closure, error) {
	return scanClosure(r.pool.QueryRow(ctx, `
		SELECT `+closureColumns+` FROM closures WHERE id = $1 AND tenant_id = $2
	`, id, tenantID))
}

// ApplyClosureDecision records the owner decision and moves the lead to its
// final status in one unit. Approval closes the lead, rejection fails it.
func (r *Repository) ApplyClosureDecision(ctx context.Context, id, tenantID uuid.UUID, decidedBy *uuid.UUID, approve bool) (Closure, error) {
	status := ClosureRejected
	leadStatus := "failed"
	if approve {
		status = ClosureApproved
		leadStatus = "closed"
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Closure{}, fmt.Errorf("begin closure decision: %w", err)
	}
	defer tx.Rollback(ctx)

	closure, err := scanClosure(tx.QueryRow(ctx, `
		UPDATE closures SET status = $3, decided_by = $4, decided_at = now()
		WHERE id = $1 AND tenant_id = $2 AND status = 'pending'
		RETURNING `+closureColumns+`
	`, id, tenantID, status, decidedBy))
	if err != nil {
		return Closure{}, err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE leads SET status = $3, updated_at = now()
		WHERE id = $1 AND tenant_id = $2
	`, closure.LeadID, tenantID, leadStatus); err != nil {
		return Closure{}, fmt.Errorf("update lead status: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE deadlines SET status = 'completed', closed_at = now()
		WHERE lead_id = $1 AND status = 'active'
	`, closure.LeadID); err != nil {
		return Closure{}, fmt.Errorf("close deadline: %w", err)
	}

	return closure, tx.Commit(ctx)
}
