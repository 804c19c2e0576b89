package organizations

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/payroll-backend/internal/quota"
	pkgerrors "github.com/angelmondragon/payroll-backend/pkg/errors"
)

// RefreshCounts compares the cached organization and member counts against the
// live rows and rewrites any that drifted.
func (s *service) RefreshCounts(ctx context.Context, customerID uuid.UUID) (*CountReport, error) {
	if _, err := s.loadCustomer(ctx, customerID); err != nil {
		return nil, err
	}
	report := &CountReport{CustomerID: customerID}
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		live, changed, err := s.repo.SyncCustomerCountsWithTx(tx, customerID)
		if err != nil {
			return err
		}
		report.OrganizationCount = live
		report.CustomerRepaired = changed

		ids, err := s.repo.OrganizationIDsWithTx(tx, customerID)
		if err != nil {
			return err
		}
		for _, id := range ids {
			_, changed, err := s.repo.SyncMemberCountWithTx(tx, id)
			if err != nil {
				return err
			}
			if changed {
				report.RepairedMemberCount = append(report.RepairedMemberCount, id)
			}
		}
		return nil
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "refresh counts")
	}

	if report.CustomerRepaired {
		s.admit.Forget(ctx, quota.ResourceOrganizations, customerID)
	}
	for _, id := range report.RepairedMemberCount {
		s.admit.Forget(ctx, quota.ResourceMembers, id)
	}
	if report.Repaired() && s.logg != nil {
		logCtx := s.logg.WithFields(s.logg.WithCustomerID(ctx, customerID.String()), map[string]any{
			"customer_repaired":      report.CustomerRepaired,
			"member_counts_repaired": len(report.RepairedMemberCount),
		})
		s.logg.Warn(logCtx, "cached counts were stale")
	}
	return report, nil
}

// RepairAllCounts walks every customer in batches and returns how many had stale counts.
func (s *service) RepairAllCounts(ctx context.Context, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 100
	}
	repaired := 0
	after := uuid.Nil
	for {
		if err := ctx.Err(); err != nil {
			return repaired, err
		}
		ids, err := s.repo.ListCustomerIDs(ctx, after, batchSize)
		if err != nil {
			return repaired, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list customers")
		}
		for _, id := range ids {
			report, err := s.RefreshCounts(ctx, id)
			if err != nil {
				return repaired, err
			}
			if report.Repaired() {
				repaired++
			}
		}
		if len(ids) < batchSize {
			return repaired, nil
		}
		after = ids[len(ids)-1]
	}
}
