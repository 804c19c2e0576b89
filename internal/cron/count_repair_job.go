package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/payroll-backend/pkg/logger"
)

const defaultRepairBatch = 200

type countRepairer interface {
	RepairAllCounts(ctx context.Context, batchSize int) (int, error)
}

type CountRepairJobParams struct {
	Logger    *logger.Logger
	Repairer  countRepairer
	BatchSize int
}

// NewCountRepairJob rewrites stale cached organization and member counts for
// every customer.
func NewCountRepairJob(params CountRepairJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Repairer == nil {
		return nil, fmt.Errorf("count repairer required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultRepairBatch
	}
	return &countRepairJob{logg: params.Logger, repairer: params.Repairer, batch: batch}, nil
}

type countRepairJob struct {
	logg     *logger.Logger
	repairer countRepairer
	batch    int
}

func (j *countRepairJob) Name() string { return "count-repair" }

func (j *countRepairJob) Run(ctx context.Context) error {
	repaired, err := j.repairer.RepairAllCounts(ctx, j.batch)
	if err != nil {
		return fmt.Errorf("repair counts: %w", err)
	}
	j.logg.Info(j.logg.WithField(ctx, "customers_repaired", repaired), "count repair complete")
	return nil
}
