package main

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/payroll-backend/internal/bootstrap"
	"github.com/angelmondragon/payroll-backend/internal/delivery"
	"github.com/angelmondragon/payroll-backend/internal/directory"
	"github.com/angelmondragon/payroll-backend/internal/payroll"
	"github.com/angelmondragon/payroll-backend/pkg/encryption"
	"github.com/angelmondragon/payroll-backend/pkg/mailer"
	"github.com/angelmondragon/payroll-backend/pkg/metrics"
	"github.com/angelmondragon/payroll-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/payroll-backend/pkg/statement"
)

func main() {
	bootstrap.Main("worker", bootstrap.Needs{DB: true, Redis: true, PubSub: true}, run)
}

func run(ctx context.Context, rt *bootstrap.Runtime) error {
	cfg, logg := rt.Config, rt.Logger

	cipher, err := encryption.NewFromConfig(cfg.Encryption)
	if err != nil {
		return err
	}
	if !cfg.SMTP.Enabled() {
		logg.Warn(ctx, "smtp relay not configured; deliveries will fail and be retried by the sweep")
	}
	orchestrator, err := delivery.NewOrchestrator(delivery.Params{
		Payrolls:  payroll.NewRepository(rt.DB.DB()),
		Directory: directory.NewReader(rt.DB.DB()),
		Renderer:  statement.NewRenderer(),
		Cipher:    cipher,
		Sender:    mailer.NewSMTPSender(cfg.SMTP),
		Config:    cfg.Delivery,
		Metrics:   metrics.NewPayrollMetrics(prometheus.DefaultRegisterer),
		Logger:    logg,
	})
	if err != nil {
		return err
	}

	claims, err := idempotency.NewManager(rt.Redis, cfg.Eventing.IdempotencyTTL)
	if err != nil {
		return err
	}
	consumer, err := delivery.NewConsumer(orchestrator, rt.PubSub.PayrollSubscription(), claims, logg)
	if err != nil {
		return err
	}

	service, err := NewService(ServiceParams{
		Config:   cfg,
		Logger:   logg,
		DB:       rt.DB,
		Redis:    rt.Redis,
		PubSub:   rt.PubSub,
		Consumer: consumer,
	})
	if err != nil {
		return err
	}
	return service.Run(logg.WithField(ctx, "subscription", cfg.PubSub.PayrollSubscription))
}
