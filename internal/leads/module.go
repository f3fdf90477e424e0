// Package leads provides the lead lifecycle bounded context module.
// This file wires the state machine, the SLA sweeper, the reassignment
// engine and the scoring trigger fan-out together.
package leads

import (
	"context"

	"salesflow_backend/internal/audit"
	"salesflow_backend/internal/events"
	"salesflow_backend/internal/identity"
	"salesflow_backend/internal/leads/domain"
	"salesflow_backend/internal/leads/lifecycle"
	"salesflow_backend/internal/leads/repository"
	"salesflow_backend/internal/leads/sla"
	"salesflow_backend/internal/notification/inapp"
	"salesflow_backend/internal/reassignment"
	"salesflow_backend/internal/triggers"
	"salesflow_backend/platform/config"
	"salesflow_backend/platform/logger"
	"salesflow_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// TriggerQueuer queues scoring triggers without blocking the caller.
type TriggerQueuer interface {
	QueueTrigger(ctx context.Context, trigger triggers.Trigger)
}

// Module is the lead lifecycle bounded context.
type Module struct {
	lifecycle    *lifecycle.Service
	sweeper      *sla.Sweeper
	reassignment *reassignment.Engine
	repo         *repository.Repository
}

// NewModule creates and initializes the lifecycle module with all its
// dependencies, and registers the event subscriptions that fan lifecycle
// events out into scoring triggers and reassignment.
func NewModule(pool *pgxpool.Pool, eventBus events.Bus, dispatcher TriggerQueuer, val *validator.Validator, cfg config.SweepConfig, log *logger.Logger) (*Module, error) {
	policy, err := domain.LoadStagePolicy(cfg.GetStagePolicyFile())
	if err != nil {
		return nil, err
	}
	if window := cfg.GetSLAWindow(); window > 0 {
		policy.SLAWindow = window
	}

	repo := repository.New(pool)
	locker := domain.NewLeadLocker()
	identityRepo := identity.New(pool)
	notifier := inapp.New(pool, log)
	auditLog := audit.New(pool, log)

	lifecycleSvc := lifecycle.New(repo, policy, locker, eventBus, val, log)
	sweeper := sla.NewSweeper(repo, identityRepo, notifier, auditLog, eventBus, policy, locker, log, cfg.GetTenantSweepBudget())
	engine := reassignment.NewEngine(reassignment.New(pool), repo, eventBus, log, nil)

	registerSubscriptions(eventBus, dispatcher, engine, log)

	return &Module{
		lifecycle:    lifecycleSvc,
		sweeper:      sweeper,
		reassignment: engine,
		repo:         repo,
	}, nil
}

// registerSubscriptions maps domain events onto scoring triggers and, for
// breaches, onto the reassignment engine. Trigger queueing is fire-and-forget
// so none of these handlers can fail the publisher.
func registerSubscriptions(eventBus events.Bus, dispatcher TriggerQueuer, engine *reassignment.Engine, log *logger.Logger) {
	eventBus.Subscribe(events.LeadStageChanged{}.EventName(), events.HandlerFunc(func(ctx context.Context, event events.Event) error {
		e, ok := event.(events.LeadStageChanged)
		if !ok {
			return nil
		}
		dispatcher.QueueTrigger(ctx, triggers.Trigger{
			Kind:     triggers.KindLeadChanged,
			TenantID: e.TenantID,
			LeadID:   &e.LeadID,
			UserID:   e.ActorID,
		})
		return nil
	}))

	eventBus.Subscribe(events.LeadFailed{}.EventName(), events.HandlerFunc(func(ctx context.Context, event events.Event) error {
		e, ok := event.(events.LeadFailed)
		if !ok {
			return nil
		}
		dispatcher.QueueTrigger(ctx, triggers.Trigger{
			Kind:     triggers.KindPipelineChanged,
			TenantID: e.TenantID,
		})
		return nil
	}))

	eventBus.Subscribe(events.LeadDeadlineOverdue{}.EventName(), events.HandlerFunc(func(ctx context.Context, event events.Event) error {
		e, ok := event.(events.LeadDeadlineOverdue)
		if !ok {
			return nil
		}

		if _, err := engine.EvaluateAndReassign(ctx, e.TenantID, e.LeadID, e.EventName()); err != nil {
			log.Error("reassignment after breach failed", "tenant_id", e.TenantID, "lead_id", e.LeadID, "error", err)
		}

		dispatcher.QueueTrigger(ctx, triggers.Trigger{
			Kind:     triggers.KindPipelineChanged,
			TenantID: e.TenantID,
		})
		return nil
	}))

	eventBus.Subscribe(events.LeadReassigned{}.EventName(), events.HandlerFunc(func(ctx context.Context, event events.Event) error {
		e, ok := event.(events.LeadReassigned)
		if !ok {
			return nil
		}
		dispatcher.QueueTrigger(ctx, triggers.Trigger{
			Kind:     triggers.KindLeadChanged,
			TenantID: e.TenantID,
			LeadID:   &e.LeadID,
			UserID:   &e.ToUserID,
		})
		return nil
	}))
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "leads"
}

// Lifecycle exposes the state machine service.
func (m *Module) Lifecycle() *lifecycle.Service {
	return m.lifecycle
}

// Sweeper exposes the SLA deadline sweeper for the scheduler binary.
func (m *Module) Sweeper() *sla.Sweeper {
	return m.sweeper
}

// Reassignment exposes the reassignment engine.
func (m *Module) Reassignment() *reassignment.Engine {
	return m.reassignment
}

// Repository exposes the lead repository for sibling modules.
func (m *Module) Repository() *repository.Repository {
	return m.repo
}
