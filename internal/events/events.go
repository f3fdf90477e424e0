// Package events provides domain event definitions for decoupled,
// event-driven communication between modules.
// Infrastructure (Bus, Handler) is in platform/events.
package events

import (
	"salesflow_backend/platform/events"
	"salesflow_backend/platform/logger"

	"github.com/google/uuid"
)

// Re-export platform types for convenience
type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
	InMemoryBus = events.InMemoryBus
)

// Re-export platform functions
var NewBaseEvent = events.NewBaseEvent

// NewInMemoryBus creates a new in-memory event bus.
func NewInMemoryBus(log *logger.Logger) *InMemoryBus {
	return events.NewInMemoryBus(log)
}

// =============================================================================
// Lead Lifecycle Events
// =============================================================================

// LeadStageChanged is published after a stage transition commits.
type LeadStageChanged struct {
	BaseEvent
	TenantID  uuid.UUID  `json:"tenantId"`
	LeadID    uuid.UUID  `json:"leadId"`
	FromStage string     `json:"fromStage,omitempty"`
	ToStage   string     `json:"toStage"`
	ActorID   *uuid.UUID `json:"actorId,omitempty"`
	Undo      bool       `json:"undo,omitempty"`
}

func (e LeadStageChanged) EventName() string { return "leads.stage.changed" }

// LeadDeadlineOverdue is published when the sweep escalates a breached deadline.
type LeadDeadlineOverdue struct {
	BaseEvent
	TenantID         uuid.UUID  `json:"tenantId"`
	LeadID           uuid.UUID  `json:"leadId"`
	DeadlineID       uuid.UUID  `json:"deadlineId"`
	PreviousAssignee *uuid.UUID `json:"previousAssignee,omitempty"`
}

func (e LeadDeadlineOverdue) EventName() string { return "lead.deadline.overdue" }

// LeadFailed is published when a lead reaches the terminal failed status.
type LeadFailed struct {
	BaseEvent
	TenantID    uuid.UUID `json:"tenantId"`
	LeadID      uuid.UUID `json:"leadId"`
	FailureType string    `json:"failureType"`
}

func (e LeadFailed) EventName() string { return "leads.failed" }

// LeadReassigned is published when the reassignment engine picks a new assignee.
type LeadReassigned struct {
	BaseEvent
	TenantID   uuid.UUID  `json:"tenantId"`
	LeadID     uuid.UUID  `json:"leadId"`
	FromUserID *uuid.UUID `json:"fromUserId,omitempty"`
	ToUserID   uuid.UUID  `json:"toUserId"`
	TriggerKey string     `json:"triggerKey"`
}

func (e LeadReassigned) EventName() string { return "leads.reassigned" }

// =============================================================================
// Scoring Events
// =============================================================================

// LeadScored is published after a lead score snapshot is persisted.
type LeadScored struct {
	BaseEvent
	TenantID uuid.UUID `json:"tenantId"`
	LeadID   uuid.UUID `json:"leadId"`
	Score    float64   `json:"score"`
	Tier     string    `json:"tier"`
}

func (e LeadScored) EventName() string { return "scoring.lead.scored" }
