// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// DatabaseConfig provides database connection settings.
type DatabaseConfig interface {
	GetDatabaseURL() string
}

// SchedulerConfig provides settings for the asynq trigger queue.
type SchedulerConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
}

// SweepConfig provides settings for the periodic deadline sweep.
type SweepConfig interface {
	GetSweepCronSpec() string
	GetSLAWindow() time.Duration
	GetTenantSweepBudget() time.Duration
	GetStagePolicyFile() string
}

// Config holds all application configuration loaded from the environment.
type Config struct {
	Env               string
	DatabaseURL       string
	RedisURL          string
	RedisTLSInsecure  bool
	AsynqQueueName    string
	AsynqConcurrency  int
	SweepCronSpec     string
	SLAWindow         time.Duration
	TenantSweepBudget time.Duration
	StagePolicyFile   string
}

// Load reads configuration from the environment (and an optional .env file).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Env:               getEnv("APP_ENV", "development"),
		DatabaseURL:       getEnv("DATABASE_URL", ""),
		RedisURL:          getEnv("REDIS_URL", "redis://localhost:6379/0"),
		RedisTLSInsecure:  strings.EqualFold(getEnv("REDIS_TLS_INSECURE", "false"), "true"),
		AsynqQueueName:    getEnv("ASYNQ_QUEUE", "default"),
		AsynqConcurrency:  getIntEnv("ASYNQ_CONCURRENCY", 10),
		SweepCronSpec:     getEnv("DEADLINE_SWEEP_CRON", "0 */4 * * *"),
		SLAWindow:         getDurationEnv("SLA_WINDOW", 7*24*time.Hour),
		TenantSweepBudget: getDurationEnv("TENANT_SWEEP_BUDGET", 2*time.Minute),
		StagePolicyFile:   getEnv("STAGE_POLICY_FILE", ""),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.SLAWindow <= 0 {
		return nil, fmt.Errorf("SLA_WINDOW must be positive")
	}

	return cfg, nil
}

func (c *Config) GetDatabaseURL() string              { return c.DatabaseURL }
func (c *Config) GetRedisURL() string                 { return c.RedisURL }
func (c *Config) GetRedisTLSInsecure() bool           { return c.RedisTLSInsecure }
func (c *Config) GetAsynqQueueName() string           { return c.AsynqQueueName }
func (c *Config) GetAsynqConcurrency() int            { return c.AsynqConcurrency }
func (c *Config) GetSweepCronSpec() string            { return c.SweepCronSpec }
func (c *Config) GetSLAWindow() time.Duration         { return c.SLAWindow }
func (c *Config) GetTenantSweepBudget() time.Duration { return c.TenantSweepBudget }
func (c *Config) GetStagePolicyFile() string          { return c.StagePolicyFile }

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func getIntEnv(key string, fallback int) int {
	raw := strings.TrimSpace(getEnv(key, ""))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func getDurationEnv(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(getEnv(key, ""))
	if raw == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}
