package main

import (
	"cmp"
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/angelmondragon/payroll-backend/api/controllers"
	"github.com/angelmondragon/payroll-backend/api/routes"
	"github.com/angelmondragon/payroll-backend/internal/bootstrap"
	"github.com/angelmondragon/payroll-backend/internal/delivery"
	"github.com/angelmondragon/payroll-backend/internal/directory"
	"github.com/angelmondragon/payroll-backend/internal/organizations"
	"github.com/angelmondragon/payroll-backend/internal/payroll"
	"github.com/angelmondragon/payroll-backend/internal/quota"
	"github.com/angelmondragon/payroll-backend/internal/sequence"
	"github.com/angelmondragon/payroll-backend/internal/subscriptions"
	"github.com/angelmondragon/payroll-backend/pkg/encryption"
	"github.com/angelmondragon/payroll-backend/pkg/mailer"
	"github.com/angelmondragon/payroll-backend/pkg/metrics"
	"github.com/angelmondragon/payroll-backend/pkg/outbox"
	"github.com/angelmondragon/payroll-backend/pkg/statement"
	"github.com/angelmondragon/payroll-backend/pkg/tax"
)

const shutdownTimeout = 15 * time.Second

func main() {
	bootstrap.Main("api", bootstrap.Needs{DB: true, Redis: true}, run)
}

func run(ctx context.Context, rt *bootstrap.Runtime) error {
	cfg, logg := rt.Config, rt.Logger
	dbClient, redisClient := rt.DB, rt.Redis

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	payrollMetrics := metrics.NewPayrollMetrics(reg)

	subsSvc, err := subscriptions.NewService(subscriptions.ServiceParams{
		Repo:              subscriptions.NewRepository(dbClient.DB()),
		TransactionRunner: dbClient,
		Quota:             cfg.Quota,
	})
	if err != nil {
		return err
	}
	if err := subsSvc.SeedPlans(ctx); err != nil {
		return err
	}

	orgRepo := organizations.NewRepository(dbClient.DB())
	quotaParams := quota.ControllerParams{
		Features: subsSvc,
		Counter:  orgRepo,
		Metrics:  payrollMetrics,
		Logger:   logg,
	}
	if cfg.Quota.Strict {
		quotaParams.Reserver = redisClient
	}
	quotaCtl, err := quota.NewController(quotaParams)
	if err != nil {
		return err
	}

	issuer, err := sequence.NewIssuerFromConfig(cfg.Sequence, dbClient, redisClient)
	if err != nil {
		return err
	}

	outboxSvc := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)

	orgSvc, err := organizations.NewService(organizations.ServiceParams{
		Repo:              orgRepo,
		TransactionRunner: dbClient,
		Admission:         quotaCtl,
		Codes:             issuer,
		Outbox:            outboxSvc,
		Logger:            logg,
	})
	if err != nil {
		return err
	}

	payrollRepo := payroll.NewRepository(dbClient.DB())
	staff := directory.NewReader(dbClient.DB())
	payrollSvc, err := payroll.NewService(payroll.ServiceParams{
		Repo:              payrollRepo,
		TransactionRunner: dbClient,
		Employment:        staff,
		Outbox:            outboxSvc,
		Metrics:           payrollMetrics,
		Logger:            logg,
	})
	if err != nil {
		return err
	}

	cipher, err := encryption.NewFromConfig(cfg.Encryption)
	if err != nil {
		return err
	}
	if !cfg.SMTP.Enabled() {
		logg.Warn(ctx, "smtp relay not configured; payslip sends will fail until it is")
	}
	orchestrator, err := delivery.NewOrchestrator(delivery.Params{
		Payrolls:  payrollRepo,
		Directory: staff,
		Renderer:  statement.NewRenderer(),
		Cipher:    cipher,
		Sender:    mailer.NewSMTPSender(cfg.SMTP),
		Config:    cfg.Delivery,
		Metrics:   payrollMetrics,
		Logger:    logg,
	})
	if err != nil {
		return err
	}

	handler := routes.NewRouter(routes.Dependencies{
		Config: cfg,
		Logger: logg,
		Pingers: map[string]controllers.Pinger{
			"db":    dbClient,
			"redis": redisClient,
		},
		Gatherer:      reg,
		Idempotency:   redisClient,
		Organizations: orgSvc,
		Subscriptions: subsSvc,
		Quota:         quotaCtl,
		Payrolls:      payrollSvc,
		Deliverer:     orchestrator,
		TaxSchedule:   tax.Default(),
	})

	addr := ":" + cmp.Or(os.Getenv("PORT"), cfg.App.Port)
	ctx = logg.WithFields(ctx, map[string]any{
		"addr":          addr,
		"instance":      cmp.Or(os.Getenv("DYNO"), "local"),
		"quota_strict":  quotaCtl.Strict(),
		"inline_sends":  cfg.Delivery.Inline,
		"code_sequence": cfg.Sequence.Backend,
	})

	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.ListenAndServe()
	}()

	logg.Info(ctx, "api server listening")
	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logg.Info(ctx, "api server draining")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
