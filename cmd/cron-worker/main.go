package main

import (
	"cmp"
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/payroll-backend/internal/bootstrap"
	"github.com/angelmondragon/payroll-backend/internal/cron"
	"github.com/angelmondragon/payroll-backend/internal/organizations"
	"github.com/angelmondragon/payroll-backend/internal/payroll"
	"github.com/angelmondragon/payroll-backend/internal/quota"
	"github.com/angelmondragon/payroll-backend/internal/sequence"
	"github.com/angelmondragon/payroll-backend/internal/subscriptions"
	"github.com/angelmondragon/payroll-backend/pkg/config"
	"github.com/angelmondragon/payroll-backend/pkg/db"
	"github.com/angelmondragon/payroll-backend/pkg/logger"
	"github.com/angelmondragon/payroll-backend/pkg/metrics"
	"github.com/angelmondragon/payroll-backend/pkg/outbox"
	"github.com/angelmondragon/payroll-backend/pkg/redis"
)

func main() {
	bootstrap.Main("cron-worker", bootstrap.Needs{DB: true, Redis: true}, run)
}

func run(ctx context.Context, rt *bootstrap.Runtime) error {
	cfg := rt.Config
	jobs, err := buildJobs(cfg, rt.Logger, rt.DB, rt.Redis)
	if err != nil {
		return fmt.Errorf("build cron jobs: %w", err)
	}
	registry, err := cron.NewRegistry(jobs...)
	if err != nil {
		return err
	}
	lock, err := cron.NewRedisLock(rt.Redis, rt.Redis.LockKey("cron-worker:"+cmp.Or(cfg.App.Env, "local")), 0)
	if err != nil {
		return err
	}
	service, err := cron.NewService(cron.ServiceParams{
		Logger:   rt.Logger,
		Registry: registry,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		return err
	}
	return service.Run(rt.Logger.WithFields(ctx, map[string]any{
		"interval": cfg.Cron.Interval.String(),
		"jobs":     registry.Names(),
	}))
}

func buildJobs(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, redisClient *redis.Client) ([]cron.Job, error) {
	outboxRepo := outbox.NewRepository(dbClient.DB())

	redelivery, err := cron.NewPayrollRedeliveryJob(cron.PayrollRedeliveryJobParams{
		Logger:    logg,
		DB:        dbClient,
		Payrolls:  payroll.NewRepository(dbClient.DB()),
		Outbox:    outbox.NewService(outboxRepo, logg),
		After:     cfg.Cron.RedeliveryAfter,
		BatchSize: cfg.Cron.RedeliveryBatch,
	})
	if err != nil {
		return nil, fmt.Errorf("payroll redelivery job: %w", err)
	}

	orgSvc, err := countRepairService(cfg, logg, dbClient, redisClient)
	if err != nil {
		return nil, err
	}
	repair, err := cron.NewCountRepairJob(cron.CountRepairJobParams{
		Logger:   logg,
		Repairer: orgSvc,
	})
	if err != nil {
		return nil, fmt.Errorf("count repair job: %w", err)
	}

	retention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:              logg,
		DB:                  dbClient,
		Store:               outboxRepo,
		EventRetention:      cfg.Outbox.EventRetention,
		DeadLetterRetention: cfg.Outbox.DeadLetterRetention,
		MinAttempts:         cfg.Outbox.MaxAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("outbox retention job: %w", err)
	}

	return []cron.Job{redelivery, repair, retention}, nil
}

// countRepairService builds the organizations service with the same admission
// wiring as the api, so repaired counts also drop any stale quota reservation.
func countRepairService(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, redisClient *redis.Client) (organizations.Service, error) {
	subsSvc, err := subscriptions.NewService(subscriptions.ServiceParams{
		Repo:              subscriptions.NewRepository(dbClient.DB()),
		TransactionRunner: dbClient,
		Quota:             cfg.Quota,
	})
	if err != nil {
		return nil, fmt.Errorf("subscriptions service: %w", err)
	}

	orgRepo := organizations.NewRepository(dbClient.DB())
	quotaParams := quota.ControllerParams{
		Features: subsSvc,
		Counter:  orgRepo,
		Logger:   logg,
	}
	if cfg.Quota.Strict {
		quotaParams.Reserver = redisClient
	}
	quotaCtl, err := quota.NewController(quotaParams)
	if err != nil {
		return nil, fmt.Errorf("quota controller: %w", err)
	}

	issuer, err := sequence.NewIssuerFromConfig(cfg.Sequence, dbClient, redisClient)
	if err != nil {
		return nil, fmt.Errorf("code issuer: %w", err)
	}

	return organizations.NewService(organizations.ServiceParams{
		Repo:              orgRepo,
		TransactionRunner: dbClient,
		Admission:         quotaCtl,
		Codes:             issuer,
		Logger:            logg,
	})
}
