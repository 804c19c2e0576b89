package models

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

func assignID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}

// AllModels lists every persisted model, in dependency order, for AutoMigrate in tests and sqlite mode.
func AllModels() []any {
	return []any{
		&Customer{},
		&SubscriptionPlan{},
		&CustomerSubscription{},
		&ResourceCounter{},
		&Organization{},
		&OrganizationMember{},
		&Payroll{},
		&OutboxEvent{},
		&OutboxDLQ{},
	}
}

// AutoMigrate creates the schema through GORM. Postgres deployments use the goose migrations instead.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(AllModels()...)
}
