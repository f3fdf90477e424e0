// Package logger provides structured logging infrastructure for the application.
// This is part of the platform layer and contains no business logic.
package logger

import (
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
)

// Logger wraps slog.Logger for structured logging
type Logger struct {
	*slog.Logger
}

// New creates a new logger based on environment
func New(env string) *Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}

	if strings.EqualFold(env, "development") {
		opts.Level = slog.LevelDebug
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return &Logger{
		Logger: slog.New(handler),
	}
}

// SweepError logs a failure inside the periodic deadline sweep.
func (l *Logger) SweepError(tenantID uuid.UUID, leadID uuid.UUID, err error) {
	l.Error("deadline_sweep_error",
		slog.String("tenant_id", tenantID.String()),
		slog.String("lead_id", leadID.String()),
		slog.String("error", err.Error()),
	)
}

// TriggerError logs a trigger branch failure caught at the dispatcher boundary.
func (l *Logger) TriggerError(kind string, tenantID uuid.UUID, err error) {
	l.Error("trigger_error",
		slog.String("kind", kind),
		slog.String("tenant_id", tenantID.String()),
		slog.String("error", err.Error()),
	)
}

// StageTransition logs a completed lead stage transition.
func (l *Logger) StageTransition(tenantID, leadID uuid.UUID, from, to string) {
	l.Info("stage_transition",
		slog.String("tenant_id", tenantID.String()),
		slog.String("lead_id", leadID.String()),
		slog.String("from", from),
		slog.String("to", to),
	)
}
