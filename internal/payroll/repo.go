package payroll

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/payroll-backend/pkg/db"
	"github.com/angelmondragon/payroll-backend/pkg/db/models"
	"github.com/angelmondragon/payroll-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/payroll-backend/pkg/errors"
)

// Repository persists payroll records.
type Repository struct {
	db *gorm.DB
}

// NewRepository binds the repo to the provided GORM connection.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// FindByPeriod looks up a record by its idempotency key.
func (r *Repository) FindByPeriod(ctx context.Context, employeeID, organizationID uuid.UUID, start, end time.Time) (*models.Payroll, error) {
	var p models.Payroll
	err := r.db.WithContext(ctx).
		Where("employee_id = ? AND organization_id = ? AND period_start = ? AND period_end = ?",
			employeeID, organizationID, start, end).
		First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CreateWithTx inserts the record. A collision on the period key surfaces as
// CodeDuplicate so the caller can resolve it by re-reading.
func (r *Repository) CreateWithTx(tx *gorm.DB, p *models.Payroll) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if err := tx.Create(p).Error; err != nil {
		if db.IsUniqueViolation(err, models.PayrollPeriodConstraint) {
			return pkgerrors.Wrap(pkgerrors.CodeDuplicate, err, "payroll already exists for period")
		}
		return err
	}
	return nil
}

func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Payroll, error) {
	var p models.Payroll
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// UpdateFieldsWithTx writes the given columns. Callers never pass delivery columns.
func (r *Repository) UpdateFieldsWithTx(tx *gorm.DB, id uuid.UUID, fields map[string]any) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	res := tx.Model(&models.Payroll{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *Repository) List(ctx context.Context, q listQuery) ([]models.Payroll, error) {
	query := r.db.WithContext(ctx).Model(&models.Payroll{}).Where("customer_id = ?", q.customerID)
	if q.organizationID != nil {
		query = query.Where("organization_id = ?", *q.organizationID)
	}
	if q.employeeID != nil {
		query = query.Where("employee_id = ?", *q.employeeID)
	}
	if q.status != nil {
		query = query.Where("status = ?", *q.status)
	}
	if q.monthYear != "" {
		query = query.Where("month_year = ?", q.monthYear)
	}
	if q.cursorAt != nil {
		query = query.Where("(created_at < ?) OR (created_at = ? AND id < ?)", *q.cursorAt, *q.cursorAt, q.cursorID)
	}

	var rows []models.Payroll
	err := query.Order("created_at DESC").Order("id DESC").Limit(q.limit).Find(&rows).Error
	return rows, err
}

func (r *Repository) Delete(ctx context.Context, id uuid.UUID) (int64, error) {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Payroll{})
	return res.RowsAffected, res.Error
}

// MarkEmailSent flags a successful delivery. A record that is already flagged
// keeps its original timestamp.
func (r *Repository) MarkEmailSent(ctx context.Context, id uuid.UUID, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&models.Payroll{}).
		Where("id = ? AND email_sent = ?", id, false).
		Updates(map[string]any{
			"email_sent":    true,
			"email_sent_at": at.UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Payroll{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ListUndelivered returns ids of non-cancelled records created before cutoff
// that still have email_sent = false, oldest first.
func (r *Repository) ListUndelivered(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	if limit <= 0 {
		limit = 100
	}
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).Model(&models.Payroll{}).
		Where("email_sent = ? AND status <> ? AND created_at < ?", false, enums.PayrollStatusCancelled, cutoff.UTC()).
		Order("created_at ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}
