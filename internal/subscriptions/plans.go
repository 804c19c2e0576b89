package subscriptions

import (
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/payroll-backend/pkg/config"
	"github.com/angelmondragon/payroll-backend/pkg/db/models"
	"github.com/angelmondragon/payroll-backend/pkg/enums"
)

// Features are the limits a plan grants. A limit of enums.Unlimited has no ceiling.
type Features struct {
	MaxOrganizations        int  `json:"max_organizations"`
	MaxUsersPerOrganization int  `json:"max_users_per_organization"`
	PrioritySupport         bool `json:"priority_support"`
}

// FeaturesOf reads the feature set stored on a plan row.
func FeaturesOf(plan models.SubscriptionPlan) Features {
	return Features{
		MaxOrganizations:        plan.MaxOrganizations,
		MaxUsersPerOrganization: plan.MaxUsersPerOrganization,
		PrioritySupport:         plan.PrioritySupport,
	}
}

// FreeFeatures is the fallback applied when a customer has no usable subscription.
func FreeFeatures(cfg config.QuotaConfig) Features {
	return Features{
		MaxOrganizations:        cfg.FreeMaxOrganizations,
		MaxUsersPerOrganization: cfg.FreeMaxUsersPerOrg,
	}
}

// DefaultPlans is the plan catalogue seeded on first boot.
func DefaultPlans() []models.SubscriptionPlan {
	return []models.SubscriptionPlan{
		{
			ID:                      enums.PlanFree,
			Name:                    "Free",
			Description:             "One organization with up to five members",
			Price:                   decimal.Zero,
			PlanType:                "lifetime",
			MaxOrganizations:        1,
			MaxUsersPerOrganization: 5,
			IsActive:                true,
		},
		{
			ID:                      enums.PlanBasic,
			Name:                    "Basic",
			Description:             "Three organizations with up to twenty members each",
			Price:                   decimal.NewFromInt(50000),
			PlanType:                "lifetime",
			MaxOrganizations:        3,
			MaxUsersPerOrganization: 20,
			PrioritySupport:         true,
			IsActive:                true,
		},
		{
			ID:                      enums.PlanPro,
			Name:                    "Pro",
			Description:             "Unlimited organizations and members",
			Price:                   decimal.NewFromInt(100000),
			PlanType:                "lifetime",
			MaxOrganizations:        enums.Unlimited,
			MaxUsersPerOrganization: enums.Unlimited,
			PrioritySupport:         true,
			IsActive:                true,
		},
	}
}
