// Package sla implements the periodic deadline sweep: backfilling missing
// SLA clocks and escalating breached ones.
package sla

import (
	"context"
	"fmt"
	"time"

	"salesflow_backend/internal/events"
	"salesflow_backend/internal/leads/domain"
	"salesflow_backend/internal/leads/repository"
	"salesflow_backend/internal/notification"
	"salesflow_backend/platform/logger"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// UserDirectory resolves role membership, account status and the tenant set.
type UserDirectory interface {
	HasRole(ctx context.Context, id, tenantID uuid.UUID, role string) (bool, error)
	IsActive(ctx context.Context, id, tenantID uuid.UUID) (bool, error)
	ListTenantIDs(ctx context.Context) ([]uuid.UUID, error)
}

// ActivityLogger records audit entries; failures never abort the sweep.
type ActivityLogger interface {
	LogActivity(ctx context.Context, tenantID uuid.UUID, action, entityType string, entityID uuid.UUID, metadata map[string]any)
}

type Sweeper struct {
	store    repository.DeadlineStore
	users    UserDirectory
	notifier notification.Publisher
	audit    ActivityLogger
	bus      events.Bus
	policy   domain.StagePolicy
	locker   *domain.LeadLocker
	log      *logger.Logger
	budget   time.Duration
}

func NewSweeper(
	store repository.DeadlineStore,
	users UserDirectory,
	notifier notification.Publisher,
	auditLog ActivityLogger,
	bus events.Bus,
	policy domain.StagePolicy,
	locker *domain.LeadLocker,
	log *logger.Logger,
	tenantBudget time.Duration,
) *Sweeper {
	if tenantBudget <= 0 {
		tenantBudget = 2 * time.Minute
	}
	return &Sweeper{
		store:    store,
		users:    users,
		notifier: notifier,
		audit:    auditLog,
		bus:      bus,
		policy:   policy,
		locker:   locker,
		log:      log,
		budget:   tenantBudget,
	}
}

// RunAll sweeps every tenant concurrently. Each tenant gets a bounded
// execution budget so a hung sweep cannot starve the others, and one
// tenant's failure never aborts the global tick.
func (s *Sweeper) RunAll(ctx context.Context) {
	tenants, err := s.users.ListTenantIDs(ctx)
	if err != nil {
		s.log.Error("deadline sweep: listing tenants failed", "error", err)
		return
	}

	g := new(errgroup.Group)
	for _, tenantID := range tenants {
		tenantID := tenantID
		g.Go(func() error {
			tctx, cancel := context.WithTimeout(ctx, s.budget)
			defer cancel()

			if err := s.RunTenant(tctx, tenantID); err != nil {
				s.log.Error("deadline sweep failed for tenant", "tenant_id", tenantID, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// RunTenant runs the backfill pass and the sweep pass for a single tenant.
func (s *Sweeper) RunTenant(ctx context.Context, tenantID uuid.UUID) error {
	if err := s.backfill(ctx, tenantID); err != nil {
		return fmt.Errorf("backfill pass: %w", err)
	}
	if err := s.sweep(ctx, tenantID); err != nil {
		return fmt.Errorf("sweep pass: %w", err)
	}
	return nil
}

// backfill opens a deadline for every lead sitting in a trackable stage
// without an active one, self-healing leads that bypassed the state machine.
func (s *Sweeper) backfill(ctx context.Context, tenantID uuid.UUID) error {
	trackable := make([]string, 0, len(s.policy.Trackable))
	for code := range s.policy.Trackable {
		trackable = append(trackable, code)
	}

	leads, err := s.store.ListLeadsMissingDeadline(ctx, tenantID, trackable)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	for _, lead := range leads {
		stage, err := s.store.GetStageByCode(ctx, tenantID, lead.Status)
		if err != nil {
			s.log.SweepError(tenantID, lead.ID, err)
			continue
		}

		if _, err := s.store.OpenDeadline(ctx, repository.OpenDeadlineParams{
			TenantID: tenantID,
			LeadID:   lead.ID,
			StageID:  stage.ID,
			DueAt:    now.Add(s.policy.SLAWindow),
		}); err != nil {
			s.log.SweepError(tenantID, lead.ID, err)
		}
	}
	return nil
}

// sweep escalates every breached deadline. One lead's failure to escalate
// must not abort the sweep for the rest of the tenant.
func (s *Sweeper) sweep(ctx context.Context, tenantID uuid.UUID) error {
	overdue, err := s.store.ListOverdueDeadlines(ctx, tenantID, time.Now().UTC())
	if err != nil {
		return err
	}

	for _, deadline := range overdue {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := s.escalate(ctx, deadline); err != nil {
			s.log.SweepError(tenantID, deadline.LeadID, err)
		}
	}
	return nil
}

func (s *Sweeper) escalate(ctx context.Context, deadline repository.Deadline) error {
	unlock := s.locker.Lock(deadline.TenantID.String() + "/" + deadline.LeadID.String())
	defer unlock()

	lead, err := s.store.GetByID(ctx, deadline.LeadID, deadline.TenantID)
	if err != nil {
		return err
	}

	hasPending, err := s.store.HasPendingOverdueFailure(ctx, lead.ID, lead.TenantID)
	if err != nil {
		return err
	}

	deactivate := false
	if lead.AssignedUserID != nil {
		isSales, err := s.users.HasRole(ctx, *lead.AssignedUserID, lead.TenantID, "sales")
		if err != nil {
			return err
		}
		if isSales {
			active, err := s.users.IsActive(ctx, *lead.AssignedUserID, lead.TenantID)
			if err != nil {
				return err
			}
			deactivate = active
		}
	}

	applied, err := s.store.ApplyEscalation(ctx, repository.EscalationParams{
		TenantID:         lead.TenantID,
		LeadID:           lead.ID,
		DeadlineID:       deadline.ID,
		PreviousAssignee: lead.AssignedUserID,
		CreateFailure:    !hasPending,
		DeactivateUser:   deactivate,
		NegligenceReason: "sla_deadline_breach",
	})
	if err != nil {
		return err
	}
	if !applied {
		// Another run already swept this deadline.
		return nil
	}

	s.notifyBreach(ctx, lead, deadline)

	// Synchronous so the breach hooks finish inside the tenant's sweep
	// budget. The escalation is already committed; hook failures are logged
	// and swallowed.
	if err := s.bus.PublishSync(ctx, events.LeadDeadlineOverdue{
		BaseEvent:        events.NewBaseEvent(),
		TenantID:         lead.TenantID,
		LeadID:           lead.ID,
		DeadlineID:       deadline.ID,
		PreviousAssignee: lead.AssignedUserID,
	}); err != nil {
		s.log.Warn("breach event handler failed", "lead_id", lead.ID, "error", err)
	}

	return nil
}

// notifyBreach emits the domain event toward the owner role and requests
// in-app delivery. The breach has already committed; notification failures
// are logged and swallowed.
func (s *Sweeper) notifyBreach(ctx context.Context, lead repository.Lead, deadline repository.Deadline) {
	message := fmt.Sprintf("Lead %s missed its %s SLA deadline and was marked failed", lead.ID, lead.Status)

	event, err := s.notifier.PublishEvent(ctx, lead.TenantID, "lead.deadline.overdue", message, "owner", map[string]any{
		"leadId":     lead.ID.String(),
		"deadlineId": deadline.ID.String(),
		"dueAt":      deadline.DueAt,
	})
	if err != nil {
		s.log.Warn("breach notification publish failed", "lead_id", lead.ID, "error", err)
	} else if err := s.notifier.QueueDelivery(ctx, event.ID, notification.ChannelInApp); err != nil {
		s.log.Warn("breach notification delivery queue failed", "lead_id", lead.ID, "error", err)
	}

	s.audit.LogActivity(ctx, lead.TenantID, "lead.deadline.overdue", "lead", lead.ID, map[string]any{
		"deadlineId": deadline.ID.String(),
		"dueAt":      deadline.DueAt,
	})
}
