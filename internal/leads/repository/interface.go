package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// =====================================
// Segregated Interfaces (Interface Segregation Principle)
// =====================================

// LeadReader provides read-only access to lead data.
type LeadReader interface {
	GetByID(ctx context.Context, id, tenantID uuid.UUID) (Lead, error)
}

// StageReader resolves tenant-scoped stage definitions.
type StageReader interface {
	GetStageByID(ctx context.Context, id, tenantID uuid.UUID) (StageDefinition, error)
	GetStageByCode(ctx context.Context, tenantID uuid.UUID, code string) (StageDefinition, error)
}

// HistoryReader provides access to the transition audit trail.
type HistoryReader interface {
	LatestHistory(ctx context.Context, leadID, tenantID uuid.UUID) (StateHistory, error)
	ListHistory(ctx context.Context, leadID, tenantID uuid.UUID) ([]StateHistory, error)
}

// TransitionWriter applies atomic lifecycle write units.
type TransitionWriter interface {
	ApplyTransition(ctx context.Context, p TransitionParams) (StateHistory, error)
	ApplyUndo(ctx context.Context, p UndoParams) (StateHistory, error)
	ApplySurrender(ctx context.Context, tenantID, leadID uuid.UUID, actorID *uuid.UUID, reason string) (Failure, error)
}

// ClosureStore manages proposed deal closures.
type ClosureStore interface {
	CreateClosure(ctx context.Context, tenantID, leadID uuid.UUID, amount int64, address *string, proposedBy *uuid.UUID) (Closure, error)
	GetClosure(ctx context.Context, id, tenantID uuid.UUID) (Closure, error)
	ApplyClosureDecision(ctx context.Context, id, tenantID uuid.UUID, decidedBy *uuid.UUID, approve bool) (Closure, error)
}

// LifecycleStore is the full dependency set of the lifecycle service.
type LifecycleStore interface {
	LeadReader
	StageReader
	HistoryReader
	TransitionWriter
	ClosureStore
	ListStages(ctx context.Context, tenantID uuid.UUID) ([]StageDefinition, error)
}

// DeadlineStore is the dependency set of the SLA sweeper.
type DeadlineStore interface {
	LeadReader
	StageReader
	ListLeadsMissingDeadline(ctx context.Context, tenantID uuid.UUID, trackableStatuses []string) ([]Lead, error)
	ListOverdueDeadlines(ctx context.Context, tenantID uuid.UUID, now time.Time) ([]Deadline, error)
	OpenDeadline(ctx context.Context, p OpenDeadlineParams) (Deadline, error)
	HasPendingOverdueFailure(ctx context.Context, leadID, tenantID uuid.UUID) (bool, error)
	ApplyEscalation(ctx context.Context, p EscalationParams) (bool, error)
}
