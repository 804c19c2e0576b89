package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/payroll-backend/pkg/enums"
)

// SubscriptionPlan defines the limits granted by a plan. A limit of -1 is unlimited.
type SubscriptionPlan struct {
	ID                      enums.PlanID    `gorm:"column:id;type:varchar(32);primaryKey"`
	Name                    string          `gorm:"column:name;not null"`
	Description             string          `gorm:"column:description"`
	Price                   decimal.Decimal `gorm:"column:price;type:numeric(12,2);not null;default:0"`
	PlanType                string          `gorm:"column:plan_type;not null;default:'lifetime'"`
	MaxOrganizations        int             `gorm:"column:max_organizations;not null"`
	MaxUsersPerOrganization int             `gorm:"column:max_users_per_organization;not null"`
	PrioritySupport         bool            `gorm:"column:priority_support;not null;default:false"`
	IsActive                bool            `gorm:"column:is_active;not null;default:true"`
	CreatedAt               time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt               time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

// CustomerSubscription links a customer to a plan. At most one row per customer is active.
type CustomerSubscription struct {
	ID         uuid.UUID                `gorm:"column:id;type:uuid;primaryKey"`
	CustomerID uuid.UUID                `gorm:"column:customer_id;type:uuid;not null;uniqueIndex:ux_customer_subscriptions_active,where:status = 'active'"`
	PlanID     enums.PlanID             `gorm:"column:plan_id;type:varchar(32);not null"`
	Status     enums.SubscriptionStatus `gorm:"column:status;type:varchar(16);not null;default:'active'"`
	StartedAt  time.Time                `gorm:"column:started_at;not null"`
	CanceledAt *time.Time               `gorm:"column:canceled_at"`
	CreatedAt  time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}

func (s *CustomerSubscription) BeforeCreate(*gorm.DB) error {
	assignID(&s.ID)
	return nil
}
