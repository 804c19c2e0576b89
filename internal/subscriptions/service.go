package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/payroll-backend/pkg/config"
	"github.com/angelmondragon/payroll-backend/pkg/db"
	"github.com/angelmondragon/payroll-backend/pkg/db/models"
	"github.com/angelmondragon/payroll-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/payroll-backend/pkg/errors"
)

type repository interface {
	FindPlan(ctx context.Context, id enums.PlanID) (*models.SubscriptionPlan, error)
	ListPlans(ctx context.Context) ([]models.SubscriptionPlan, error)
	InsertPlansIfMissing(ctx context.Context, plans []models.SubscriptionPlan) error
	FindActive(ctx context.Context, customerID uuid.UUID) (*models.CustomerSubscription, error)
	CancelActiveWithTx(tx *gorm.DB, customerID uuid.UUID, at time.Time) (int64, error)
	CreateWithTx(tx *gorm.DB, sub *models.CustomerSubscription) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Active is the subscription in force for a customer. Persisted is false for
// the implicit free default.
type Active struct {
	CustomerID uuid.UUID                    `json:"customer_id"`
	PlanID     enums.PlanID                 `json:"plan_id"`
	Features   Features                     `json:"features"`
	Persisted  bool                         `json:"persisted"`
	Record     *models.CustomerSubscription `json:"subscription,omitempty"`
}

// Service exposes the plan catalogue and customer subscription lifecycle.
type Service interface {
	ActiveFeatures(ctx context.Context, customerID uuid.UUID) (*Active, error)
	ListPlans(ctx context.Context) ([]models.SubscriptionPlan, error)
	Subscribe(ctx context.Context, customerID uuid.UUID, planID enums.PlanID) (*models.CustomerSubscription, error)
	Cancel(ctx context.Context, customerID uuid.UUID) error
	SeedPlans(ctx context.Context) error
}

// ServiceParams groups dependencies for the subscription service.
type ServiceParams struct {
	Repo              repository
	TransactionRunner txRunner
	Quota             config.QuotaConfig
	Now               func() time.Time
}

type service struct {
	repo  repository
	tx    txRunner
	free  Features
	now   func() time.Time
	plans []models.SubscriptionPlan
}

// NewService builds a subscription service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("subscription repo required")
	}
	if params.TransactionRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		repo:  params.Repo,
		tx:    params.TransactionRunner,
		free:  FreeFeatures(params.Quota),
		now:   now,
		plans: DefaultPlans(),
	}, nil
}

// ActiveFeatures resolves the customer's plan limits. No subscription, or a
// subscription pointing at a missing plan, yields the free feature set; any
// other lookup failure is returned so callers can deny.
func (s *service) ActiveFeatures(ctx context.Context, customerID uuid.UUID) (*Active, error) {
	free := &Active{CustomerID: customerID, PlanID: enums.PlanFree, Features: s.free}

	sub, err := s.repo.FindActive(ctx, customerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return free, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load active subscription")
	}

	plan, err := s.repo.FindPlan(ctx, sub.PlanID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			free.Persisted = true
			free.Record = sub
			return free, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription plan")
	}

	return &Active{
		CustomerID: customerID,
		PlanID:     plan.ID,
		Features:   FeaturesOf(*plan),
		Persisted:  true,
		Record:     sub,
	}, nil
}

func (s *service) ListPlans(ctx context.Context) ([]models.SubscriptionPlan, error) {
	plans, err := s.repo.ListPlans(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list plans")
	}
	return plans, nil
}

// Subscribe cancels any active subscription and starts planID in one transaction.
func (s *service) Subscribe(ctx context.Context, customerID uuid.UUID, planID enums.PlanID) (*models.CustomerSubscription, error) {
	if customerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer id is required")
	}
	if !planID.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown plan").WithDetails(map[string]any{"plan_id": planID})
	}
	plan, err := s.repo.FindPlan(ctx, planID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "plan not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load plan")
	}
	if !plan.IsActive {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "plan is not open for new subscriptions")
	}

	now := s.now().UTC()
	sub := &models.CustomerSubscription{
		CustomerID: customerID,
		PlanID:     planID,
		Status:     enums.SubscriptionStatusActive,
		StartedAt:  now,
	}
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if _, err := s.repo.CancelActiveWithTx(tx, customerID, now); err != nil {
			return err
		}
		return s.repo.CreateWithTx(tx, sub)
	})
	if err != nil {
		if db.IsUniqueViolation(err, "ux_customer_subscriptions_active") {
			return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "concurrent subscription change")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "subscribe")
	}
	return sub, nil
}

func (s *service) Cancel(ctx context.Context, customerID uuid.UUID) error {
	var canceled int64
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		n, err := s.repo.CancelActiveWithTx(tx, customerID, s.now().UTC())
		canceled = n
		return err
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel subscription")
	}
	if canceled == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "no active subscription")
	}
	return nil
}

func (s *service) SeedPlans(ctx context.Context) error {
	if err := s.repo.InsertPlansIfMissing(ctx, s.plans); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "seed plans")
	}
	return nil
}
