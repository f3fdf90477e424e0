package reassignment

import (
	"context"
	"errors"
	"time"

	"salesflow_backend/internal/events"
	"salesflow_backend/internal/leads/domain"
	"salesflow_backend/internal/leads/repository"
	"salesflow_backend/platform/apperr"
	"salesflow_backend/platform/logger"

	"github.com/google/uuid"
)

// RuleStore is the persistence dependency of the engine.
type RuleStore interface {
	GetActiveRule(ctx context.Context, tenantID uuid.UUID, triggerKey string) (Rule, error)
	ListPoolMembers(ctx context.Context, poolID uuid.UUID) ([]Member, error)
	Apply(ctx context.Context, p ApplyParams) (Event, error)
}

// LeadStore provides the lead reads the engine needs.
type LeadStore interface {
	GetByID(ctx context.Context, id, tenantID uuid.UUID) (repository.Lead, error)
	LastAssignedAt(ctx context.Context, tenantID uuid.UUID, userIDs []uuid.UUID) (map[uuid.UUID]time.Time, error)
}

// TieBreak picks one member from candidates that share the maximum weight.
// Storage-return order is not a documented guarantee, so the policy is
// injectable.
type TieBreak func(ctx context.Context, tenantID uuid.UUID, candidates []Member) (Member, error)

type Engine struct {
	rules    RuleStore
	leads    LeadStore
	bus      events.Bus
	log      *logger.Logger
	tieBreak TieBreak
}

func NewEngine(rules RuleStore, leads LeadStore, bus events.Bus, log *logger.Logger, tieBreak TieBreak) *Engine {
	e := &Engine{rules: rules, leads: leads, bus: bus, log: log, tieBreak: tieBreak}
	if e.tieBreak == nil {
		e.tieBreak = e.leastRecentlyAssigned
	}
	return e
}

// EvaluateAndReassign selects a new assignee using the tenant's rule for the
// trigger key. Returns nil without error when no rule, pool or member applies,
// or when the lead has already reached a terminal status.
func (e *Engine) EvaluateAndReassign(ctx context.Context, tenantID, leadID uuid.UUID, triggerKey string) (*Event, error) {
	rule, err := e.rules.GetActiveRule(ctx, tenantID, triggerKey)
	if errors.Is(err, ErrNoRule) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	members, err := e.rules.ListPoolMembers(ctx, rule.PoolID)
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, nil
	}

	lead, err := e.leads.GetByID(ctx, leadID, tenantID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound("lead not found")
	}
	if err != nil {
		return nil, err
	}
	if domain.IsTerminalStatus(lead.Status) {
		return nil, nil
	}

	winner, err := e.pick(ctx, tenantID, members)
	if err != nil {
		return nil, err
	}

	event, err := e.rules.Apply(ctx, ApplyParams{
		TenantID:   tenantID,
		LeadID:     leadID,
		RuleID:     rule.ID,
		FromUserID: lead.AssignedUserID,
		ToUserID:   winner.UserID,
	})
	if err != nil {
		return nil, err
	}

	e.bus.Publish(ctx, events.LeadReassigned{
		BaseEvent:  events.NewBaseEvent(),
		TenantID:   tenantID,
		LeadID:     leadID,
		FromUserID: lead.AssignedUserID,
		ToUserID:   winner.UserID,
		TriggerKey: triggerKey,
	})

	return &event, nil
}

// pick returns the highest-weight member, deferring ties to the tie-break policy.
func (e *Engine) pick(ctx context.Context, tenantID uuid.UUID, members []Member) (Member, error) {
	maxWeight := members[0].Weight
	for _, m := range members[1:] {
		if m.Weight > maxWeight {
			maxWeight = m.Weight
		}
	}

	candidates := make([]Member, 0, 1)
	for _, m := range members {
		if m.Weight == maxWeight {
			candidates = append(candidates, m)
		}
	}

	if len(candidates) == 1 {
		return candidates[0], nil
	}
	return e.tieBreak(ctx, tenantID, candidates)
}

// leastRecentlyAssigned prefers the candidate who has waited longest since
// their last assignment; members never assigned win outright.
func (e *Engine) leastRecentlyAssigned(ctx context.Context, tenantID uuid.UUID, candidates []Member) (Member, error) {
	userIDs := make([]uuid.UUID, len(candidates))
	for i, c := range candidates {
		userIDs[i] = c.UserID
	}

	lastAssigned, err := e.leads.LastAssignedAt(ctx, tenantID, userIDs)
	if err != nil {
		return Member{}, err
	}

	winner := candidates[0]
	winnerAt, winnerSeen := lastAssigned[winner.UserID]
	for _, c := range candidates[1:] {
		at, seen := lastAssigned[c.UserID]
		switch {
		case !seen && winnerSeen:
			winner, winnerAt, winnerSeen = c, time.Time{}, false
		case seen && winnerSeen && at.Before(winnerAt):
			winner, winnerAt = c, at
		}
	}
	return winner, nil
}
