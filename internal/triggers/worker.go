package triggers

import (
	"context"
	"fmt"

	"salesflow_backend/internal/forecast"
	"salesflow_backend/internal/scoring"
	"salesflow_backend/platform/config"
	"salesflow_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// Scorer is the scoring engine surface the worker dispatches into.
type Scorer interface {
	ScoreLead(ctx context.Context, tenantID, leadID uuid.UUID) (scoring.LeadScore, error)
	ComputeDisciplineIndex(ctx context.Context, tenantID, userID uuid.UUID) (scoring.DisciplineScore, error)
	ComputeDealProbability(ctx context.Context, tenantID, dealID uuid.UUID) (scoring.DealProbability, error)
}

// Forecaster is the forecast service surface the worker dispatches into.
type Forecaster interface {
	ComputeRevenueForecast(ctx context.Context, tenantID uuid.UUID) (forecast.RevenueForecast, error)
	ComputeReminderPriorities(ctx context.Context, tenantID uuid.UUID, userID *uuid.UUID) ([]forecast.Reminder, error)
	ComputePerformanceRanking(ctx context.Context, tenantID uuid.UUID) ([]forecast.RankedUser, error)
}

// ActivityLogger records swallowed branch failures in the audit trail.
type ActivityLogger interface {
	LogActivity(ctx context.Context, tenantID uuid.UUID, action, entityType string, entityID uuid.UUID, metadata map[string]any)
}

type Worker struct {
	server     *asynq.Server
	mux        *asynq.ServeMux
	scorer     Scorer
	forecaster Forecaster
	audit      ActivityLogger
	log        *logger.Logger
}

func NewWorker(cfg config.SchedulerConfig, scorer Scorer, forecaster Forecaster, auditLog ActivityLogger, log *logger.Logger) (*Worker, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	queue := cfg.GetAsynqQueueName()
	if queue == "" {
		queue = "default"
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queue: 1,
		},
	})

	mux := asynq.NewServeMux()
	w := &Worker{
		server:     server,
		mux:        mux,
		scorer:     scorer,
		forecaster: forecaster,
		audit:      auditLog,
		log:        log,
	}

	mux.HandleFunc(TaskScoringTrigger, w.handleScoringTrigger)

	return w, nil
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("trigger worker stopped", "error", err)
	}
}

func (w *Worker) handleScoringTrigger(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseScoringTriggerPayload(task)
	if err != nil {
		return err
	}
	trigger, err := payload.Decode()
	if err != nil {
		return err
	}

	w.ProcessTrigger(ctx, trigger)
	return nil
}

// ProcessTrigger routes a trigger to its scoring branches. Branches are
// independent: a failed branch is recorded and the remaining branches still run.
func (w *Worker) ProcessTrigger(ctx context.Context, trigger Trigger) {
	switch trigger.Kind {
	case KindLeadChanged:
		w.rescoreLead(ctx, trigger)
		if trigger.UserID != nil {
			w.recomputeDiscipline(ctx, trigger)
		}
	case KindLeadEngaged:
		w.rescoreLead(ctx, trigger)
	case KindDealChanged:
		if trigger.DealID != nil {
			if _, err := w.scorer.ComputeDealProbability(ctx, trigger.TenantID, *trigger.DealID); err != nil {
				w.branchFailed(ctx, trigger, "deal_probability", err)
			}
		}
		w.recomputeForecast(ctx, trigger)
	case KindMeetingChanged:
		w.recomputeDiscipline(ctx, trigger)
	case KindTaskChanged:
		if _, err := w.forecaster.ComputeReminderPriorities(ctx, trigger.TenantID, trigger.UserID); err != nil {
			w.branchFailed(ctx, trigger, "reminder_priorities", err)
		}
	case KindPipelineChanged:
		w.recomputeForecast(ctx, trigger)
		if _, err := w.forecaster.ComputePerformanceRanking(ctx, trigger.TenantID); err != nil {
			w.branchFailed(ctx, trigger, "performance_ranking", err)
		}
	}
}

func (w *Worker) rescoreLead(ctx context.Context, trigger Trigger) {
	if trigger.LeadID == nil {
		return
	}
	if _, err := w.scorer.ScoreLead(ctx, trigger.TenantID, *trigger.LeadID); err != nil {
		w.branchFailed(ctx, trigger, "lead_score", err)
	}
}

func (w *Worker) recomputeDiscipline(ctx context.Context, trigger Trigger) {
	if trigger.UserID == nil {
		return
	}
	if _, err := w.scorer.ComputeDisciplineIndex(ctx, trigger.TenantID, *trigger.UserID); err != nil {
		w.branchFailed(ctx, trigger, "discipline_index", err)
	}
}

func (w *Worker) recomputeForecast(ctx context.Context, trigger Trigger) {
	if _, err := w.forecaster.ComputeRevenueForecast(ctx, trigger.TenantID); err != nil {
		w.branchFailed(ctx, trigger, "revenue_forecast", err)
	}
}

// branchFailed records a swallowed branch failure in both the structured log
// and the audit trail, keyed to the most specific entity the trigger names.
func (w *Worker) branchFailed(ctx context.Context, trigger Trigger, branch string, err error) {
	w.log.TriggerError(string(trigger.Kind), trigger.TenantID, err)
	if w.audit == nil {
		return
	}
	w.audit.LogActivity(ctx, trigger.TenantID, "scoring.trigger.failed", "trigger", triggerEntityID(trigger), map[string]any{
		"kind":   string(trigger.Kind),
		"branch": branch,
		"error":  err.Error(),
	})
}

func triggerEntityID(trigger Trigger) uuid.UUID {
	switch {
	case trigger.LeadID != nil:
		return *trigger.LeadID
	case trigger.DealID != nil:
		return *trigger.DealID
	case trigger.UserID != nil:
		return *trigger.UserID
	}
	return uuid.Nil
}
