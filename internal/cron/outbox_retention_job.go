package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/payroll-backend/pkg/logger"
)

const (
	defaultEventRetention      = 30 * 24 * time.Hour
	defaultDeadLetterRetention = 90 * 24 * time.Hour
	defaultParkedAttempts      = 10
)

type outboxPruner interface {
	PruneEventsTx(ctx context.Context, tx *gorm.DB, cutoff time.Time, minAttempts int) (int64, error)
	PruneDeadLettersTx(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error)
}

type OutboxRetentionJobParams struct {
	Logger *logger.Logger
	DB     txRunner
	Store  outboxPruner
	// Zero retention windows fall back to 30 and 90 days.
	EventRetention      time.Duration
	DeadLetterRetention time.Duration
	// MinAttempts is the publisher's attempt ceiling; rows at it are parked.
	MinAttempts int
}

// NewOutboxRetentionJob prunes published and parked outbox rows and old
// dead-letter entries. The two tables are pruned in separate transactions.
func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	switch {
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	case params.DB == nil:
		return nil, fmt.Errorf("db runner required")
	case params.Store == nil:
		return nil, fmt.Errorf("outbox store required")
	}
	job := &outboxRetentionJob{
		logg:        params.Logger,
		db:          params.DB,
		store:       params.Store,
		events:      params.EventRetention,
		deadLetters: params.DeadLetterRetention,
		minAttempts: params.MinAttempts,
		now:         time.Now,
	}
	if job.events <= 0 {
		job.events = defaultEventRetention
	}
	if job.deadLetters <= 0 {
		job.deadLetters = defaultDeadLetterRetention
	}
	if job.minAttempts <= 0 {
		job.minAttempts = defaultParkedAttempts
	}
	return job, nil
}

type outboxRetentionJob struct {
	logg        *logger.Logger
	db          txRunner
	store       outboxPruner
	events      time.Duration
	deadLetters time.Duration
	minAttempts int
	now         func() time.Time
}

func (j *outboxRetentionJob) Name() string { return "outbox-retention" }

func (j *outboxRetentionJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	eventCutoff, dlqCutoff := now.Add(-j.events), now.Add(-j.deadLetters)

	var events, deadLetters int64
	eventsErr := j.db.WithTx(ctx, func(tx *gorm.DB) (err error) {
		events, err = j.store.PruneEventsTx(ctx, tx, eventCutoff, j.minAttempts)
		return err
	})
	dlqErr := j.db.WithTx(ctx, func(tx *gorm.DB) (err error) {
		deadLetters, err = j.store.PruneDeadLettersTx(ctx, tx, dlqCutoff)
		return err
	})

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"event_cutoff":         eventCutoff,
		"dead_letter_cutoff":   dlqCutoff,
		"events_deleted":       events,
		"dead_letters_deleted": deadLetters,
	}), "outbox retention cleanup finished")

	var err error
	if eventsErr != nil {
		err = multierr.Append(err, fmt.Errorf("prune outbox events: %w", eventsErr))
	}
	if dlqErr != nil {
		err = multierr.Append(err, fmt.Errorf("prune dead letters: %w", dlqErr))
	}
	return err
}
