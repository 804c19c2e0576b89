package subscriptions

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/payroll-backend/pkg/db/models"
	"github.com/angelmondragon/payroll-backend/pkg/enums"
)

// Repository persists plans and customer subscriptions.
type Repository struct {
	db *gorm.DB
}

// NewRepository binds a GORM DB to subscription operations.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// FindPlan loads a plan by id.
func (r *Repository) FindPlan(ctx context.Context, id enums.PlanID) (*models.SubscriptionPlan, error) {
	var plan models.SubscriptionPlan
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&plan).Error; err != nil {
		return nil, err
	}
	return &plan, nil
}

// ListPlans returns active plans ordered by price.
func (r *Repository) ListPlans(ctx context.Context) ([]models.SubscriptionPlan, error) {
	var plans []models.SubscriptionPlan
	if err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("price ASC").
		Find(&plans).Error; err != nil {
		return nil, err
	}
	return plans, nil
}

// InsertPlansIfMissing creates plans whose id does not exist yet.
func (r *Repository) InsertPlansIfMissing(ctx context.Context, plans []models.SubscriptionPlan) error {
	if len(plans) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&plans).Error
}

// FindActive returns the customer's active subscription.
func (r *Repository) FindActive(ctx context.Context, customerID uuid.UUID) (*models.CustomerSubscription, error) {
	var sub models.CustomerSubscription
	if err := r.db.WithContext(ctx).
		Where("customer_id = ? AND status = ?", customerID, enums.SubscriptionStatusActive).
		First(&sub).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

// CancelActiveWithTx cancels every active subscription for the customer.
func (r *Repository) CancelActiveWithTx(tx *gorm.DB, customerID uuid.UUID, at time.Time) (int64, error) {
	if tx == nil {
		return 0, gorm.ErrInvalidTransaction
	}
	res := tx.Model(&models.CustomerSubscription{}).
		Where("customer_id = ? AND status = ?", customerID, enums.SubscriptionStatusActive).
		Updates(map[string]any{
			"status":      enums.SubscriptionStatusCanceled,
			"canceled_at": at,
		})
	return res.RowsAffected, res.Error
}

// CreateWithTx inserts a subscription row.
func (r *Repository) CreateWithTx(tx *gorm.DB, sub *models.CustomerSubscription) error {
	if tx == nil {
		return gorm.ErrInvalidTransaction
	}
	return tx.Create(sub).Error
}
