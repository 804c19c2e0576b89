package main

import (
	"context"

	"github.com/angelmondragon/payroll-backend/internal/bootstrap"
	"github.com/angelmondragon/payroll-backend/pkg/outbox"
	"github.com/angelmondragon/payroll-backend/pkg/outbox/registry"
)

func main() {
	bootstrap.Main("outbox-publisher", bootstrap.Needs{DB: true, PubSub: true}, run)
}

func run(ctx context.Context, rt *bootstrap.Runtime) error {
	events, err := registry.NewEventRegistry(rt.Config.PubSub)
	if err != nil {
		return err
	}
	service, err := NewService(ServiceParams{
		Config:   rt.Config,
		Logger:   rt.Logger,
		DB:       rt.DB,
		PubSub:   rt.PubSub,
		Store:    outbox.NewRepository(rt.DB.DB()),
		Registry: events,
	})
	if err != nil {
		return err
	}
	return service.Run(rt.Logger.WithFields(ctx, map[string]any{
		"topic":       rt.Config.PubSub.PayrollTopic,
		"maxAttempts": rt.Config.Outbox.MaxAttempts,
	}))
}
