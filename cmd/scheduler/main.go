package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"salesflow_backend/internal/audit"
	"salesflow_backend/internal/events"
	"salesflow_backend/internal/forecast"
	"salesflow_backend/internal/identity"
	"salesflow_backend/internal/leads"
	leadrepo "salesflow_backend/internal/leads/repository"
	"salesflow_backend/internal/scoring"
	"salesflow_backend/internal/triggers"
	"salesflow_backend/migrations"
	"salesflow_backend/platform/config"
	"salesflow_backend/platform/db"
	"salesflow_backend/platform/logger"
	"salesflow_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robfig/cron/v3"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting scheduler", "env", cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var pool *pgxpool.Pool
	if err := withRetry(ctx, log, "database connection", 5, 2*time.Second, func() error {
		p, err := db.NewPool(ctx, cfg)
		if err != nil {
			return err
		}
		pool = p
		return nil
	}); err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()

	if err := db.RunMigrations(ctx, cfg, migrations.FS); err != nil {
		log.Error("failed to run migrations", "error", err)
		panic("failed to run migrations: " + err.Error())
	}

	eventBus := events.NewInMemoryBus(log)
	val := validator.New()

	dispatcher, err := triggers.NewDispatcher(cfg, log)
	if err != nil {
		log.Error("failed to initialize trigger dispatcher", "error", err)
		panic("failed to initialize trigger dispatcher: " + err.Error())
	}
	defer func() { _ = dispatcher.Close() }()

	leadsModule, err := leads.NewModule(pool, eventBus, dispatcher, val, cfg, log)
	if err != nil {
		log.Error("failed to initialize leads module", "error", err)
		panic("failed to initialize leads module: " + err.Error())
	}

	identityRepo := identity.New(pool)
	engine := scoring.NewEngine(scoring.NewRepository(pool), leadrepo.New(pool), identityRepo, eventBus, log)
	forecaster := forecast.NewService(forecast.NewRepository(pool), log)

	worker, err := triggers.NewWorker(cfg, engine, forecaster, audit.New(pool, log), log)
	if err != nil {
		log.Error("failed to initialize trigger worker", "error", err)
		panic("failed to initialize trigger worker: " + err.Error())
	}

	sweepCron := cron.New()
	if _, err := sweepCron.AddFunc(cfg.SweepCronSpec, func() {
		log.Info("deadline sweep tick")
		leadsModule.Sweeper().RunAll(ctx)
	}); err != nil {
		log.Error("invalid sweep cron spec", "spec", cfg.SweepCronSpec, "error", err)
		panic("invalid sweep cron spec: " + err.Error())
	}
	sweepCron.Start()
	defer sweepCron.Stop()

	worker.Run(ctx)
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return errors.New(name + ": invalid retry attempts")
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
		}

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return errors.New(name + ": " + lastErr.Error())
}
