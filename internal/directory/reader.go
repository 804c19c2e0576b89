package directory

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/payroll-backend/pkg/db/models"
	"github.com/angelmondragon/payroll-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/payroll-backend/pkg/errors"
	"github.com/angelmondragon/payroll-backend/pkg/statement"
)

// Reader resolves the display fields printed on statements and emails.
// A missing row is reported as NOT_FOUND, never as an empty value.
type Reader struct {
	db *gorm.DB
}

func NewReader(db *gorm.DB) *Reader {
	return &Reader{db: db}
}

func (r *Reader) Employee(ctx context.Context, id uuid.UUID) (statement.Employee, error) {
	var member models.OrganizationMember
	err := r.db.WithContext(ctx).
		Select("id", "code", "name", "email", "designation").
		Where("id = ?", id).
		First(&member).Error
	if err != nil {
		return statement.Employee{}, lookupError(err, "employee", id)
	}
	return statement.Employee{
		Name:        member.Name,
		Code:        member.Code,
		Email:       member.Email,
		Designation: member.Designation,
	}, nil
}

func (r *Reader) Organization(ctx context.Context, id uuid.UUID) (statement.Organization, error) {
	var org models.Organization
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&org).Error
	if err != nil {
		return statement.Organization{}, lookupError(err, "organization", id)
	}
	return statement.Organization{
		Name:          org.Name,
		Code:          org.Code,
		Email:         org.Email,
		Phone:         org.Phone,
		Website:       org.Website,
		Address:       org.Address,
		SignatoryName: org.SignatoryName,
	}, nil
}

// Employment confirms that organizationID is an active organization owned by
// customerID and that employeeID is an active member of it. A foreign or
// missing organization is NOT_FOUND; an employee outside it is VALIDATION.
func (r *Reader) Employment(ctx context.Context, customerID, organizationID, employeeID uuid.UUID) error {
	var orgs int64
	err := r.db.WithContext(ctx).Model(&models.Organization{}).
		Where("id = ? AND customer_id = ? AND status = ?", organizationID, customerID, enums.RecordStatusActive).
		Count(&orgs).Error
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup organization")
	}
	if orgs == 0 {
		return lookupError(gorm.ErrRecordNotFound, "organization", organizationID)
	}

	var members int64
	err = r.db.WithContext(ctx).Model(&models.OrganizationMember{}).
		Where("id = ? AND organization_id = ? AND status = ?", employeeID, organizationID, enums.RecordStatusActive).
		Count(&members).Error
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup employee")
	}
	if members == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "employee is not an active member of the organization").
			WithDetails(map[string]any{"employee_id": employeeID.String(), "organization_id": organizationID.String()})
	}
	return nil
}

func lookupError(err error, kind string, id uuid.UUID) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, kind+" not found").
			WithDetails(map[string]any{kind + "_id": id.String()})
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup "+kind)
}
