// Package reassignment selects a new assignee for a lead from a tenant's
// weighted pool when a trigger rule matches.
package reassignment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNoRule = errors.New("no active reassignment rule")

type Rule struct {
	ID         uuid.UUID
	TenantID   uuid.UUID
	TriggerKey string
	PoolID     uuid.UUID
	Active     bool
}

type Member struct {
	ID     uuid.UUID
	PoolID uuid.UUID
	UserID uuid.UUID
	Weight int
}

// Event is the immutable record of one reassignment decision.
type Event struct {
	ID         uuid.UUID
	TenantID   uuid.UUID
	LeadID     uuid.UUID
	RuleID     uuid.UUID
	FromUserID *uuid.UUID
	ToUserID   uuid.UUID
	CreatedAt  time.Time
}

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) GetActiveRule(ctx context.Context, tenantID uuid.UUID, triggerKey string) (Rule, error) {
	var rule Rule
	err := r.pool.QueryRow(ctx, `
		SELECT id, tenant_id, trigger_key, pool_id, active
		FROM reassignment_rules
		WHERE tenant_id = $1 AND trigger_key = $2 AND active
		ORDER BY created_at ASC
		LIMIT 1
	`, tenantID, triggerKey).Scan(&rule.ID, &rule.TenantID, &rule.TriggerKey, &rule.PoolID, &rule.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return Rule{}, ErrNoRule
	}
	if err != nil {
		return Rule{}, err
	}
	return rule, nil
}

// ListPoolMembers returns members in stable creation order.
func (r *Repository) ListPoolMembers(ctx context.Context, poolID uuid.UUID) ([]Member, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, pool_id, user_id, weight
		FROM pool_members WHERE pool_id = $1
		ORDER BY created_at ASC
	`, poolID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	members := make([]Member, 0)
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.ID, &m.PoolID, &m.UserID, &m.Weight); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// ApplyParams describes one reassignment write unit.
type ApplyParams struct {
	TenantID   uuid.UUID
	LeadID     uuid.UUID
	RuleID     uuid.UUID
	FromUserID *uuid.UUID
	ToUserID   uuid.UUID
}

// Apply updates the lead assignee, swaps the open assignment and appends the
// reassignment event in a single transaction.
func (r *Repository) Apply(ctx context.Context, p ApplyParams) (Event, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Event{}, fmt.Errorf("begin reassignment: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		UPDATE leads SET assigned_user_id = $3, updated_at = now()
		WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL
	`, p.LeadID, p.TenantID, p.ToUserID); err != nil {
		return Event{}, fmt.Errorf("update assignee: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE assignments SET released_at = now()
		WHERE lead_id = $1 AND released_at IS NULL
	`, p.LeadID); err != nil {
		return Event{}, fmt.Errorf("release assignment: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO assignments (tenant_id, lead_id, user_id, reason)
		VALUES ($1, $2, $3, 'auto')
	`, p.TenantID, p.LeadID, p.ToUserID); err != nil {
		return Event{}, fmt.Errorf("open assignment: %w", err)
	}

	var event Event
	err = tx.QueryRow(ctx, `
		INSERT INTO reassignment_events (tenant_id, lead_id, rule_id, from_user_id, to_user_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, tenant_id, lead_id, rule_id, from_user_id, to_user_id, created_at
	`, p.TenantID, p.LeadID, p.RuleID, p.FromUserID, p.ToUserID).Scan(
		&event.ID, &event.TenantID, &event.LeadID, &event.RuleID,
		&event.FromUserID, &event.ToUserID, &event.CreatedAt,
	)
	if err != nil {
		return Event{}, fmt.Errorf("append event: %w", err)
	}

	return event, tx.Commit(ctx)
}
