// Package lifecycle implements the lead state machine: validated stage
// transitions, undo, manual surrender and the closure approval flow.
package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"salesflow_backend/internal/events"
	"salesflow_backend/internal/leads/domain"
	"salesflow_backend/internal/leads/repository"
	"salesflow_backend/platform/apperr"
	"salesflow_backend/platform/logger"
	"salesflow_backend/platform/validator"

	"github.com/google/uuid"
)

type Service struct {
	store  repository.LifecycleStore
	policy domain.StagePolicy
	locker *domain.LeadLocker
	bus    events.Bus
	val    *validator.Validator
	log    *logger.Logger
}

func New(store repository.LifecycleStore, policy domain.StagePolicy, locker *domain.LeadLocker, bus events.Bus, val *validator.Validator, log *logger.Logger) *Service {
	return &Service{
		store:  store,
		policy: policy,
		locker: locker,
		bus:    bus,
		val:    val,
		log:    log,
	}
}

func lockKey(tenantID, leadID uuid.UUID) string {
	return tenantID.String() + "/" + leadID.String()
}

// Transition applies a manual, single-step stage transition. The target stage
// must sit exactly one position after the lead's current stage.
func (s *Service) Transition(ctx context.Context, tenantID, leadID, targetStateID uuid.UUID, actorID *uuid.UUID) (repository.StateHistory, error) {
	unlock := s.locker.Lock(lockKey(tenantID, leadID))
	defer unlock()

	lead, stage, err := s.resolve(ctx, tenantID, leadID, targetStateID)
	if err != nil {
		return repository.StateHistory{}, err
	}

	if domain.IsTerminalStatus(lead.Status) || !s.policy.CanAdvance(lead.Status, stage.Code) {
		return repository.StateHistory{}, apperr.Validation("invalid transition")
	}

	return s.apply(ctx, lead, stage, actorID)
}

// AdminTransition moves a lead to any configured stage without the ordering
// check. Used for corrective and administrative overrides.
func (s *Service) AdminTransition(ctx context.Context, tenantID, leadID, targetStateID uuid.UUID, actorID *uuid.UUID) (repository.StateHistory, error) {
	unlock := s.locker.Lock(lockKey(tenantID, leadID))
	defer unlock()

	lead, stage, err := s.resolve(ctx, tenantID, leadID, targetStateID)
	if err != nil {
		return repository.StateHistory{}, err
	}

	return s.apply(ctx, lead, stage, actorID)
}

func (s *Service) resolve(ctx context.Context, tenantID, leadID, targetStateID uuid.UUID) (repository.Lead, repository.StageDefinition, error) {
	lead, err := s.store.GetByID(ctx, leadID, tenantID)
	if errors.Is(err, repository.ErrNotFound) {
		return repository.Lead{}, repository.StageDefinition{}, apperr.NotFound("lead not found")
	}
	if err != nil {
		return repository.Lead{}, repository.StageDefinition{}, err
	}

	stage, err := s.store.GetStageByID(ctx, targetStateID, tenantID)
	if errors.Is(err, repository.ErrStageNotFound) {
		return repository.Lead{}, repository.StageDefinition{}, apperr.NotFound("stage not found")
	}
	if err != nil {
		return repository.Lead{}, repository.StageDefinition{}, err
	}

	return lead, stage, nil
}

func (s *Service) apply(ctx context.Context, lead repository.Lead, stage repository.StageDefinition, actorID *uuid.UUID) (repository.StateHistory, error) {
	var fromStateID *uuid.UUID
	if current, err := s.store.GetStageByCode(ctx, lead.TenantID, lead.Status); err == nil {
		fromStateID = &current.ID
	}

	history, err := s.store.ApplyTransition(ctx, repository.TransitionParams{
		TenantID:     lead.TenantID,
		LeadID:       lead.ID,
		FromStateID:  fromStateID,
		ToStateID:    stage.ID,
		ToStatus:     stage.Code,
		ActorID:      actorID,
		OpenDeadline: s.policy.IsTrackable(stage.Code),
		DueAt:        time.Now().UTC().Add(s.policy.SLAWindow),
	})
	if err != nil {
		return repository.StateHistory{}, err
	}

	s.log.StageTransition(lead.TenantID, lead.ID, lead.Status, stage.Code)
	s.bus.Publish(ctx, events.LeadStageChanged{
		BaseEvent: events.NewBaseEvent(),
		TenantID:  lead.TenantID,
		LeadID:    lead.ID,
		FromStage: lead.Status,
		ToStage:   stage.Code,
		ActorID:   actorID,
	})

	return history, nil
}

// Undo reverts the most recent transition. Only the latest history row can be
// undone, it must carry a from-state, and it must not already be undone or be
// an undo itself. Terminal leads cannot be rewound.
func (s *Service) Undo(ctx context.Context, tenantID, leadID uuid.UUID, actorID *uuid.UUID) (repository.StateHistory, error) {
	unlock := s.locker.Lock(lockKey(tenantID, leadID))
	defer unlock()

	lead, err := s.store.GetByID(ctx, leadID, tenantID)
	if errors.Is(err, repository.ErrNotFound) {
		return repository.StateHistory{}, apperr.NotFound("lead not found")
	}
	if err != nil {
		return repository.StateHistory{}, err
	}
	if domain.IsTerminalStatus(lead.Status) {
		return repository.StateHistory{}, apperr.Validation("cannot undo: lead is terminal")
	}

	latest, err := s.store.LatestHistory(ctx, leadID, tenantID)
	if errors.Is(err, repository.ErrNoHistory) {
		return repository.StateHistory{}, apperr.Validation("cannot undo: no prior state")
	}
	if err != nil {
		return repository.StateHistory{}, err
	}

	if latest.FromState == nil {
		return repository.StateHistory{}, apperr.Validation("cannot undo: no prior state")
	}
	if latest.UndoneAt != nil || isUndoRow(latest.Metadata) {
		return repository.StateHistory{}, apperr.Validation("cannot undo: transition already undone")
	}

	prior, err := s.store.GetStageByID(ctx, *latest.FromState, tenantID)
	if err != nil {
		if errors.Is(err, repository.ErrStageNotFound) {
			return repository.StateHistory{}, apperr.NotFound("stage not found")
		}
		return repository.StateHistory{}, err
	}

	history, err := s.store.ApplyUndo(ctx, repository.UndoParams{
		TenantID:            tenantID,
		LeadID:              leadID,
		SupersededHistoryID: latest.ID,
		ActorID:             actorID,
		CurrentStateID:      latest.ToState,
		PriorStateID:        prior.ID,
		PriorStatus:         prior.Code,
		OpenDeadline:        s.policy.IsTrackable(prior.Code),
		DueAt:               time.Now().UTC().Add(s.policy.SLAWindow),
	})
	if err != nil {
		return repository.StateHistory{}, err
	}

	s.bus.Publish(ctx, events.LeadStageChanged{
		BaseEvent: events.NewBaseEvent(),
		TenantID:  tenantID,
		LeadID:    leadID,
		ToStage:   prior.Code,
		ActorID:   actorID,
		Undo:      true,
	})

	return history, nil
}

// Stages returns the tenant's stage catalog in creation order.
func (s *Service) Stages(ctx context.Context, tenantID uuid.UUID) ([]repository.StageDefinition, error) {
	return s.store.ListStages(ctx, tenantID)
}

// History returns the full transition trail for a lead, newest first,
// including undone and undo rows.
func (s *Service) History(ctx context.Context, tenantID, leadID uuid.UUID) ([]repository.StateHistory, error) {
	if _, err := s.store.GetByID(ctx, leadID, tenantID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("lead not found")
		}
		return nil, err
	}
	return s.store.ListHistory(ctx, leadID, tenantID)
}

func isUndoRow(metadata json.RawMessage) bool {
	if len(metadata) == 0 {
		return false
	}
	var marker struct {
		Undo bool `json:"undo"`
	}
	if err := json.Unmarshal(metadata, &marker); err != nil {
		return false
	}
	return marker.Undo
}

// SurrenderParams is the input for a manual surrender.
type SurrenderParams struct {
	Reason string `validate:"required,min=3"`
}

// Surrender records a manual loss. The reason is mandatory and the failure is
// immediately resolved, unlike scheduler-created overdue failures.
func (s *Service) Surrender(ctx context.Context, tenantID, leadID uuid.UUID, actorID *uuid.UUID, reason string) (repository.Failure, error) {
	if err := s.val.Struct(SurrenderParams{Reason: reason}); err != nil {
		return repository.Failure{}, apperr.Wrap(apperr.KindValidation, "surrender reason is required", err)
	}

	unlock := s.locker.Lock(lockKey(tenantID, leadID))
	defer unlock()

	lead, err := s.store.GetByID(ctx, leadID, tenantID)
	if errors.Is(err, repository.ErrNotFound) {
		return repository.Failure{}, apperr.NotFound("lead not found")
	}
	if err != nil {
		return repository.Failure{}, err
	}
	if domain.IsTerminalStatus(lead.Status) {
		return repository.Failure{}, apperr.Validation("lead already terminal")
	}

	failure, err := s.store.ApplySurrender(ctx, tenantID, leadID, actorID, reason)
	if err != nil {
		return repository.Failure{}, err
	}

	s.bus.Publish(ctx, events.LeadFailed{
		BaseEvent:   events.NewBaseEvent(),
		TenantID:    tenantID,
		LeadID:      leadID,
		FailureType: repository.FailureSurrender,
	})

	return failure, nil
}

// ClosureParams is the input for a proposed closure.
type ClosureParams struct {
	Amount int64 `validate:"required,gt=0"`
}

// ProposeClosure records a proposed deal close awaiting owner approval.
func (s *Service) ProposeClosure(ctx context.Context, tenantID, leadID uuid.UUID, actorID *uuid.UUID, amount int64, address *string) (repository.Closure, error) {
	if err := s.val.Struct(ClosureParams{Amount: amount}); err != nil {
		return repository.Closure{}, apperr.Wrap(apperr.KindValidation, "closure amount must be positive", err)
	}

	lead, err := s.store.GetByID(ctx, leadID, tenantID)
	if errors.Is(err, repository.ErrNotFound) {
		return repository.Closure{}, apperr.NotFound("lead not found")
	}
	if err != nil {
		return repository.Closure{}, err
	}
	if domain.IsTerminalStatus(lead.Status) {
		return repository.Closure{}, apperr.Validation("lead already terminal")
	}

	return s.store.CreateClosure(ctx, tenantID, leadID, amount, address, actorID)
}

// DecideClosure approves or rejects a pending closure. Approval moves the
// lead to the terminal closed status; rejection returns it to failed.
func (s *Service) DecideClosure(ctx context.Context, tenantID, closureID uuid.UUID, actorID *uuid.UUID, approve bool) (repository.Closure, error) {
	closure, err := s.store.GetClosure(ctx, closureID, tenantID)
	if errors.Is(err, repository.ErrClosureNotFound) {
		return repository.Closure{}, apperr.NotFound("closure not found")
	}
	if err != nil {
		return repository.Closure{}, err
	}
	if closure.Status != repository.ClosurePending {
		return repository.Closure{}, apperr.Validation("closure already decided")
	}

	unlock := s.locker.Lock(lockKey(tenantID, closure.LeadID))
	defer unlock()

	decided, err := s.store.ApplyClosureDecision(ctx, closureID, tenantID, actorID, approve)
	if errors.Is(err, repository.ErrClosureNotFound) {
		return repository.Closure{}, apperr.Validation("closure already decided")
	}
	if err != nil {
		return repository.Closure{}, err
	}

	if !approve {
		s.bus.Publish(ctx, events.LeadFailed{
			BaseEvent:   events.NewBaseEvent(),
			TenantID:    tenantID,
			LeadID:      decided.LeadID,
			FailureType: "closure_rejected",
		})
	}

	return decided, nil
}
