package main

import (
	"context"
	"flag"

	"salesflow_backend/internal/events"
	"salesflow_backend/internal/identity"
	"salesflow_backend/internal/leads"
	"salesflow_backend/internal/triggers"
	"salesflow_backend/migrations"
	"salesflow_backend/platform/config"
	"salesflow_backend/platform/db"
	"salesflow_backend/platform/logger"
	"salesflow_backend/platform/validator"

	"github.com/google/uuid"
)

// One-off deadline sweep. Runs the backfill and sweep passes once for every
// tenant (or one tenant via -tenant) and exits. Useful after data imports.
func main() {
	tenantFlag := flag.String("tenant", "", "limit the sweep to one tenant id")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting deadline backfill")

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()

	if err := db.RunMigrations(ctx, cfg, migrations.FS); err != nil {
		log.Error("failed to run migrations", "error", err)
		panic("failed to run migrations: " + err.Error())
	}

	eventBus := events.NewInMemoryBus(log)

	dispatcher, err := triggers.NewDispatcher(cfg, log)
	if err != nil {
		log.Error("failed to initialize trigger dispatcher", "error", err)
		panic("failed to initialize trigger dispatcher: " + err.Error())
	}
	defer func() { _ = dispatcher.Close() }()

	leadsModule, err := leads.NewModule(pool, eventBus, dispatcher, validator.New(), cfg, log)
	if err != nil {
		log.Error("failed to initialize leads module", "error", err)
		panic("failed to initialize leads module: " + err.Error())
	}

	sweeper := leadsModule.Sweeper()

	if *tenantFlag != "" {
		tenantID, err := uuid.Parse(*tenantFlag)
		if err != nil {
			log.Error("invalid tenant id", "tenant", *tenantFlag, "error", err)
			panic("invalid tenant id: " + err.Error())
		}
		if err := sweeper.RunTenant(ctx, tenantID); err != nil {
			log.Error("sweep failed", "tenant_id", tenantID, "error", err)
			panic("sweep failed: " + err.Error())
		}
		log.Info("deadline backfill complete", "tenant_id", tenantID)
		return
	}

	tenants, err := identity.New(pool).ListTenantIDs(ctx)
	if err != nil {
		log.Error("failed to list tenants", "error", err)
		panic("failed to list tenants: " + err.Error())
	}

	for _, tenantID := range tenants {
		if err := sweeper.RunTenant(ctx, tenantID); err != nil {
			log.Error("sweep failed", "tenant_id", tenantID, "error", err)
			continue
		}
		log.Info("tenant swept", "tenant_id", tenantID)
	}

	log.Info("deadline backfill complete", "tenants", len(tenants))
}
