// Package notification defines the outbound notification collaborator port
// and a Postgres-backed in-app implementation. Delivery completion is the
// collaborator's concern; this core only publishes and queues.
package notification

import (
	"context"

	"github.com/google/uuid"
)

const ChannelInApp = "in_app"

// Event is the persisted notification event returned by PublishEvent.
type Event struct {
	ID         uuid.UUID
	TenantID   uuid.UUID
	EventKey   string
	Message    string
	TargetRole string
}

// Publisher is the collaborator interface consumed by the lifecycle core.
type Publisher interface {
	PublishEvent(ctx context.Context, tenantID uuid.UUID, eventKey, message, targetRole string, payload map[string]any) (Event, error)
	QueueDelivery(ctx context.Context, eventID uuid.UUID, channel string) error
}
