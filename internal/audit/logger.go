// Package audit provides a fire-and-forget activity log. Failures to write an
// audit entry never propagate into the business operation being recorded.
package audit

import (
	"context"
	"encoding/json"

	"salesflow_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Logger struct {
	pool *pgxpool.Pool
	log  *logger.Logger
}

func New(pool *pgxpool.Pool, log *logger.Logger) *Logger {
	return &Logger{pool: pool, log: log}
}

// LogActivity records an audit entry. Errors are logged and swallowed.
func (a *Logger) LogActivity(ctx context.Context, tenantID uuid.UUID, action, entityType string, entityID uuid.UUID, metadata map[string]any) {
	if a == nil || a.pool == nil {
		return
	}

	var payload []byte
	if metadata != nil {
		raw, err := json.Marshal(metadata)
		if err != nil {
			if a.log != nil {
				a.log.Warn("audit metadata marshal failed", "action", action, "error", err)
			}
		} else {
			payload = raw
		}
	}

	_, err := a.pool.Exec(ctx, `
		INSERT INTO audit_log (tenant_id, action, entity_type, entity_id, metadata)
		VALUES ($1, $2, $3, $4, $5)
	`, tenantID, action, entityType, entityID, payload)
	if err != nil && a.log != nil {
		a.log.Warn("audit log write failed", "action", action, "error", err)
	}
}
