package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/payroll-backend/api/controllers"
	"github.com/angelmondragon/payroll-backend/api/middleware"
	"github.com/angelmondragon/payroll-backend/internal/organizations"
	"github.com/angelmondragon/payroll-backend/internal/payroll"
	"github.com/angelmondragon/payroll-backend/internal/subscriptions"
	"github.com/angelmondragon/payroll-backend/pkg/config"
	"github.com/angelmondragon/payroll-backend/pkg/enums"
	"github.com/angelmondragon/payroll-backend/pkg/logger"
	"github.com/angelmondragon/payroll-backend/pkg/tax"
)

// Dependencies are the services mounted on the router. Nil services answer
// 500 on their routes; nil pingers are skipped by the readiness probe.
type Dependencies struct {
	Config        *config.Config
	Logger        *logger.Logger
	Pingers       map[string]controllers.Pinger
	Gatherer      prometheus.Gatherer
	Idempotency   middleware.IdempotencyStore
	Organizations organizations.Service
	Subscriptions subscriptions.Service
	Quota         controllers.QuotaChecker
	Payrolls      payroll.Service
	Deliverer     controllers.PayslipDeliverer
	TaxSchedule   *tax.Schedule
}

func NewRouter(deps Dependencies) http.Handler {
	cfg := deps.Config
	logg := deps.Logger
	schedule := deps.TaxSchedule
	if schedule == nil {
		schedule = tax.Default()
	}

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps.Pingers))
	})
	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	payrolls := controllers.PayrollHandlers{
		Service:   deps.Payrolls,
		Deliverer: deps.Deliverer,
		Inline:    cfg.Delivery.Inline,
		Logger:    logg,
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.Get("/plans", controllers.PlanList(deps.Subscriptions, logg))
		r.Get("/quota", controllers.QuotaStatus(deps.Subscriptions, deps.Organizations, deps.Quota, logg))

		r.Route("/tax", func(r chi.Router) {
			r.Get("/brackets", controllers.TaxBrackets(schedule))
			r.Post("/calculate", controllers.TaxCalculate(schedule, logg))
			r.Post("/optimize", controllers.TaxOptimize(schedule, logg))
		})
		r.Get("/amounts/words", controllers.AmountInWords(logg))

		r.With(middleware.RequireWrite(logg)).Post("/customers/me", controllers.CustomerEnsure(deps.Organizations, logg))

		r.Route("/subscriptions", func(r chi.Router) {
			r.Get("/", controllers.SubscriptionActive(deps.Subscriptions, logg))
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRole(logg, enums.ActorRoleOwner))
				r.With(idempotent(deps, middleware.CriticalIdempotencyTTL)).Post("/", controllers.SubscriptionCreate(deps.Subscriptions, logg))
				r.With(idempotent(deps, middleware.DefaultIdempotencyTTL)).Post("/cancel", controllers.SubscriptionCancel(deps.Subscriptions, logg))
			})
		})

		r.Route("/organizations", func(r chi.Router) {
			r.Get("/", controllers.OrganizationList(deps.Organizations, logg))
			r.Get("/{organizationId}/members", controllers.MemberList(deps.Organizations, logg))
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireWrite(logg))
				r.With(idempotent(deps, middleware.DefaultIdempotencyTTL)).Post("/", controllers.OrganizationCreate(deps.Organizations, logg))
				r.Delete("/{organizationId}", controllers.OrganizationDelete(deps.Organizations, logg))
				r.With(idempotent(deps, middleware.DefaultIdempotencyTTL)).Post("/{organizationId}/members", controllers.MemberAdd(deps.Organizations, logg))
				r.Delete("/{organizationId}/members/{memberId}", controllers.MemberRemove(deps.Organizations, logg))
			})
		})

		r.Route("/payrolls", func(r chi.Router) {
			r.Get("/", payrolls.List())
			r.Get("/{payrollId}", payrolls.Get())
			r.Get("/{payrollId}/statement", payrolls.Statement())
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireWrite(logg))
				// Create is replay-safe on its natural key and needs no header.
				r.Post("/", payrolls.Create())
				r.Patch("/{payrollId}", payrolls.Update())
				r.Delete("/{payrollId}", payrolls.Delete())
				r.With(idempotent(deps, middleware.DefaultIdempotencyTTL)).Post("/{payrollId}/send", payrolls.Send())
			})
		})
	})

	return r
}

// idempotent replays write responses keyed by Idempotency-Key. Without a
// store the route runs unguarded.
func idempotent(deps Dependencies, ttl time.Duration) func(http.Handler) http.Handler {
	if deps.Idempotency == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return middleware.Idempotency(deps.Idempotency, ttl, deps.Logger)
}
