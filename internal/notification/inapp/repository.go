// Package inapp persists notification events and queues their in-app delivery.
package inapp

import (
	"context"
	"encoding/json"
	"fmt"

	"salesflow_backend/internal/notification"
	"salesflow_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Service struct {
	pool *pgxpool.Pool
	log  *logger.Logger
}

func New(pool *pgxpool.Pool, log *logger.Logger) *Service {
	return &Service{pool: pool, log: log}
}

// PublishEvent persists a notification event for the tenant.
func (s *Service) PublishEvent(ctx context.Context, tenantID uuid.UUID, eventKey, message, targetRole string, payload map[string]any) (notification.Event, error) {
	if targetRole == "" {
		targetRole = "owner"
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return notification.Event{}, fmt.Errorf("marshal payload: %w", err)
	}
	if payload == nil {
		raw = []byte("{}")
	}

	var event notification.Event
	err = s.pool.QueryRow(ctx, `
		INSERT INTO notification_events (tenant_id, event_key, message, target_role, payload)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, tenant_id, event_key, message, target_role
	`, tenantID, eventKey, message, targetRole, raw).Scan(
		&event.ID, &event.TenantID, &event.EventKey, &event.Message, &event.TargetRole,
	)
	if err != nil {
		return notification.Event{}, err
	}
	return event, nil
}

// QueueDelivery requests delivery of a published event on a channel.
// The delivery worker that drains this table is an external collaborator.
func (s *Service) QueueDelivery(ctx context.Context, eventID uuid.UUID, channel string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO notification_deliveries (event_id, channel, status)
		VALUES ($1, $2, 'queued')
	`, eventID, channel)
	return err
}
