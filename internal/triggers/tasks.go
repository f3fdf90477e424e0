package triggers

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const TaskScoringTrigger = "scoring.trigger"

// Kind is the closed set of trigger event kinds.
type Kind string

const (
	KindLeadChanged     Kind = "lead_changed"
	KindLeadEngaged     Kind = "lead_engaged"
	KindDealChanged     Kind = "deal_changed"
	KindMeetingChanged  Kind = "meeting_changed"
	KindTaskChanged     Kind = "task_changed"
	KindPipelineChanged Kind = "pipeline_changed"
)

// Valid reports whether the kind is one of the known trigger kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindLeadChanged, KindLeadEngaged, KindDealChanged,
		KindMeetingChanged, KindTaskChanged, KindPipelineChanged:
		return true
	}
	return false
}

// Trigger identifies what changed. Entity ids are optional depending on the
// kind.
type Trigger struct {
	Kind     Kind
	TenantID uuid.UUID
	LeadID   *uuid.UUID
	DealID   *uuid.UUID
	UserID   *uuid.UUID
}

// TriggerPayload is the wire form of a Trigger.
type TriggerPayload struct {
	Kind     Kind    `json:"kind"`
	TenantID string  `json:"tenantId"`
	LeadID   *string `json:"leadId,omitempty"`
	DealID   *string `json:"dealId,omitempty"`
	UserID   *string `json:"userId,omitempty"`
}

func (t Trigger) payload() TriggerPayload {
	return TriggerPayload{
		Kind:     t.Kind,
		TenantID: t.TenantID.String(),
		LeadID:   optionalID(t.LeadID),
		DealID:   optionalID(t.DealID),
		UserID:   optionalID(t.UserID),
	}
}

func optionalID(id *uuid.UUID) *string {
	if id == nil {
		return nil
	}
	s := id.String()
	return &s
}

// Decode converts the wire form back to a Trigger, validating every id.
func (p TriggerPayload) Decode() (Trigger, error) {
	tenantID, err := uuid.Parse(p.TenantID)
	if err != nil {
		return Trigger{}, fmt.Errorf("invalid tenant id: %w", err)
	}
	t := Trigger{Kind: p.Kind, TenantID: tenantID}

	if t.LeadID, err = parseOptionalID(p.LeadID); err != nil {
		return Trigger{}, fmt.Errorf("invalid lead id: %w", err)
	}
	if t.DealID, err = parseOptionalID(p.DealID); err != nil {
		return Trigger{}, fmt.Errorf("invalid deal id: %w", err)
	}
	if t.UserID, err = parseOptionalID(p.UserID); err != nil {
		return Trigger{}, fmt.Errorf("invalid user id: %w", err)
	}
	return t, nil
}

func parseOptionalID(raw *string) (*uuid.UUID, error) {
	if raw == nil {
		return nil, nil
	}
	id, err := uuid.Parse(*raw)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func NewScoringTriggerTask(payload TriggerPayload) (*asynq.Task, error) {
	if !payload.Kind.Valid() {
		return nil, fmt.Errorf("unknown trigger kind %q", payload.Kind)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskScoringTrigger, data), nil
}

func ParseScoringTriggerPayload(task *asynq.Task) (TriggerPayload, error) {
	var payload TriggerPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return TriggerPayload{}, err
	}
	if !payload.Kind.Valid() {
		return TriggerPayload{}, fmt.Errorf("unknown trigger kind %q", payload.Kind)
	}
	return payload, nil
}
