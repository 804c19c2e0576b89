package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/payroll-backend/pkg/config"
	"github.com/angelmondragon/payroll-backend/pkg/logger"
)

const (
	defaultHeartbeat   = time.Minute
	defaultReadyBudget = 30 * time.Second
	readyRetryDelay    = 2 * time.Second
)

type pinger interface {
	Ping(ctx context.Context) error
}

type consumer interface {
	Run(ctx context.Context) error
}

type ServiceParams struct {
	Config   *config.Config
	Logger   *logger.Logger
	DB       pinger
	Redis    pinger
	PubSub   pinger
	Consumer consumer
	// Heartbeat defaults to one minute.
	Heartbeat time.Duration
	// ReadyBudget is how long startup waits for every dependency to answer.
	// Zero means 30s; a negative value means a single attempt.
	ReadyBudget time.Duration
}

// Service runs the payslip delivery consumer once its dependencies answer.
type Service struct {
	cfg         *config.Config
	logg        *logger.Logger
	deps        []dependency
	consumer    consumer
	heartbeat   time.Duration
	readyBudget time.Duration
}

type dependency struct {
	name string
	pinger
}

func NewService(params ServiceParams) (*Service, error) {
	var errs error
	if params.Config == nil {
		errs = multierr.Append(errs, errors.New("config is required"))
	}
	if params.Logger == nil {
		errs = multierr.Append(errs, errors.New("logger is required"))
	}
	if params.Consumer == nil {
		errs = multierr.Append(errs, errors.New("delivery consumer is required"))
	}
	deps := []dependency{{"database", params.DB}, {"redis", params.Redis}, {"pubsub", params.PubSub}}
	for _, dep := range deps {
		if dep.pinger == nil {
			errs = multierr.Append(errs, fmt.Errorf("%s client is required", dep.name))
		}
	}
	if errs != nil {
		return nil, errs
	}

	heartbeat := params.Heartbeat
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	budget := params.ReadyBudget
	if budget == 0 {
		budget = defaultReadyBudget
	}
	return &Service{
		cfg:         params.Config,
		logg:        params.Logger,
		deps:        deps,
		consumer:    params.Consumer,
		heartbeat:   heartbeat,
		readyBudget: budget,
	}, nil
}

// pingAll reports every dependency that failed, not just the first.
func (s *Service) pingAll(ctx context.Context) error {
	var errs error
	for _, dep := range s.deps {
		if err := dep.Ping(ctx); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s ping failed: %w", dep.name, err))
		}
	}
	return errs
}

func (s *Service) awaitReady(ctx context.Context) error {
	deadline := time.Now().Add(max(s.readyBudget, 0))
	for attempt := 1; ; attempt++ {
		err := s.pingAll(ctx)
		if err == nil {
			s.logg.Info(ctx, "all worker dependencies are ready")
			return nil
		}
		if time.Now().Add(readyRetryDelay).After(deadline) {
			s.logg.Error(ctx, "worker dependencies not ready", err)
			return err
		}
		s.logg.Warn(s.logg.WithField(ctx, "attempt", attempt), "dependencies not ready, retrying: "+err.Error())
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(readyRetryDelay):
		}
	}
}

func (s *Service) Run(ctx context.Context) error {
	if err := s.awaitReady(ctx); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- s.consumer.Run(ctx) }()

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "worker context canceled")
			return ctx.Err()
		case err := <-errCh:
			if err != nil && !errors.Is(err, context.Canceled) {
				s.logg.Error(ctx, "delivery consumer stopped unexpectedly", err)
			}
			return err
		case <-ticker.C:
			s.logg.Info(ctx, "worker.heartbeat")
		}
	}
}
