// Package bootstrap holds the startup sequence every binary shares: load
// .env and config, build the service logger, open the clients the binary
// asked for, and run it under a signal-aware context.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"

	"github.com/angelmondragon/payroll-backend/pkg/config"
	"github.com/angelmondragon/payroll-backend/pkg/db"
	"github.com/angelmondragon/payroll-backend/pkg/logger"
	"github.com/angelmondragon/payroll-backend/pkg/migrate"
	"github.com/angelmondragon/payroll-backend/pkg/pubsub"
	"github.com/angelmondragon/payroll-backend/pkg/redis"
)

// Needs selects the clients Open connects.
type Needs struct {
	DB     bool
	Redis  bool
	PubSub bool
}

// Runtime is what a binary's run function receives. Clients not requested in
// Needs are nil.
type Runtime struct {
	Config *config.Config
	Logger *logger.Logger
	DB     *db.Client
	Redis  *redis.Client
	PubSub *pubsub.Client

	closers []func() error
}

// Load reads .env (optional) and the environment and returns the config with
// Service.Kind set together with a logger at the configured level.
func Load(service string) (*config.Config, *logger.Logger, error) {
	logg := logger.New(logger.Options{ServiceName: service})
	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, logg, fmt.Errorf("load config: %w", err)
	}
	cfg.Service.Kind = service
	return cfg, logger.New(logger.Options{
		ServiceName: service,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	}), nil
}

// Open connects the requested clients in order. The database is migrated at
// boot when auto-migrate is on. On failure everything already opened is closed.
func Open(ctx context.Context, cfg *config.Config, logg *logger.Logger, needs Needs) (rt *Runtime, err error) {
	rt = &Runtime{Config: cfg, Logger: logg}
	defer func() {
		if err != nil {
			err = multierr.Append(err, rt.Close())
			rt = nil
		}
	}()

	if needs.DB {
		if rt.DB, err = db.New(ctx, cfg.DB, logg); err != nil {
			return rt, fmt.Errorf("database: %w", err)
		}
		rt.closers = append(rt.closers, rt.DB.Close)
		if err = migrate.MaybeRunDev(ctx, cfg, logg, rt.DB); err != nil {
			return rt, fmt.Errorf("boot migrations: %w", err)
		}
	}
	if needs.Redis {
		if rt.Redis, err = redis.New(ctx, cfg.Redis, logg); err != nil {
			return rt, fmt.Errorf("redis: %w", err)
		}
		rt.closers = append(rt.closers, rt.Redis.Close)
	}
	if needs.PubSub {
		if rt.PubSub, err = pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg); err != nil {
			return rt, fmt.Errorf("pubsub: %w", err)
		}
		rt.closers = append(rt.closers, rt.PubSub.Close)
	}
	return rt, nil
}

// Close releases clients in reverse order of opening.
func (r *Runtime) Close() error {
	var err error
	for _, closeFn := range slices.Backward(r.closers) {
		err = multierr.Append(err, closeFn())
	}
	r.closers = nil
	return err
}

// Main is the body of a binary's main function. It never returns: the process
// exits 1 when setup or run fails with anything but cancellation.
func Main(service string, needs Needs, run func(ctx context.Context, rt *Runtime) error) {
	cfg, logg, err := Load(service)
	if err != nil {
		logg.Error(context.Background(), "startup failed", err)
		os.Exit(1)
	}
	os.Exit(exitCode(logg, service, func() error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		rt, err := Open(ctx, cfg, logg, needs)
		if err != nil {
			return err
		}
		defer func() {
			if cerr := rt.Close(); cerr != nil {
				logg.Error(context.Background(), "error closing clients", cerr)
			}
		}()

		ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "serviceKind": service})
		logg.Info(ctx, "starting "+service)
		return run(ctx, rt)
	}()))
}

func exitCode(logg *logger.Logger, service string, err error) int {
	if err == nil || errors.Is(err, context.Canceled) {
		logg.Info(context.Background(), service+" shut down gracefully")
		return 0
	}
	logg.Error(context.Background(), service+" stopped unexpectedly", err)
	return 1
}
