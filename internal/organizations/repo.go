package organizations

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/payroll-backend/pkg/db/models"
	"github.com/angelmondragon/payroll-backend/pkg/enums"
)

// Repository persists customers, organizations and members. It also serves as
// the live resource counter for admission control.
type Repository struct {
	db *gorm.DB
}

// NewRepository binds the repo to the provided GORM connection.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) FindCustomer(ctx context.Context, id uuid.UUID) (*models.Customer, error) {
	var customer models.Customer
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&customer).Error; err != nil {
		return nil, err
	}
	return &customer, nil
}

func (r *Repository) CreateCustomer(ctx context.Context, customer *models.Customer) error {
	return r.db.WithContext(ctx).Create(customer).Error
}

// ListCustomerIDs pages through customers ordered by id, starting after the given id.
func (r *Repository) ListCustomerIDs(ctx context.Context, after uuid.UUID, limit int) ([]uuid.UUID, error) {
	if limit <= 0 {
		limit = 100
	}
	q := r.db.WithContext(ctx).Model(&models.Customer{}).Order("id ASC").Limit(limit)
	if after != uuid.Nil {
		q = q.Where("id > ?", after)
	}
	var ids []uuid.UUID
	err := q.Pluck("id", &ids).Error
	return ids, err
}

func (r *Repository) FindOrganization(ctx context.Context, id uuid.UUID) (*models.Organization, error) {
	var org models.Organization
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&org).Error; err != nil {
		return nil, err
	}
	return &org, nil
}

func (r *Repository) ListOrganizations(ctx context.Context, customerID uuid.UUID) ([]models.Organization, error) {
	var rows []models.Organization
	err := r.db.WithContext(ctx).
		Where("customer_id = ? AND status = ?", customerID, enums.RecordStatusActive).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

func (r *Repository) CreateOrganizationWithTx(tx *gorm.DB, org *models.Organization) error {
	return tx.Create(org).Error
}

// DeactivateOrganizationWithTx flips an active organization to inactive and
// reports how many rows changed.
func (r *Repository) DeactivateOrganizationWithTx(tx *gorm.DB, id uuid.UUID) (int64, error) {
	res := tx.Model(&models.Organization{}).
		Where("id = ? AND status = ?", id, enums.RecordStatusActive).
		Update("status", enums.RecordStatusInactive)
	return res.RowsAffected, res.Error
}

func (r *Repository) FindMember(ctx context.Context, organizationID, memberID uuid.UUID) (*models.OrganizationMember, error) {
	var member models.OrganizationMember
	err := r.db.WithContext(ctx).
		Where("id = ? AND organization_id = ?", memberID, organizationID).
		First(&member).Error
	if err != nil {
		return nil, err
	}
	return &member, nil
}

func (r *Repository) ListMembers(ctx context.Context, organizationID uuid.UUID) ([]models.OrganizationMember, error) {
	var rows []models.OrganizationMember
	err := r.db.WithContext(ctx).
		Where("organization_id = ? AND status = ?", organizationID, enums.RecordStatusActive).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

func (r *Repository) CreateMemberWithTx(tx *gorm.DB, member *models.OrganizationMember) error {
	return tx.Create(member).Error
}

func (r *Repository) DeactivateMemberWithTx(tx *gorm.DB, organizationID, memberID uuid.UUID) (int64, error) {
	res := tx.Model(&models.OrganizationMember{}).
		Where("id = ? AND organization_id = ? AND status = ?", memberID, organizationID, enums.RecordStatusActive).
		Update("status", enums.RecordStatusInactive)
	return res.RowsAffected, res.Error
}

// CountActiveOrganizations implements the admission counter for organizations.
func (r *Repository) CountActiveOrganizations(ctx context.Context, customerID uuid.UUID) (int64, error) {
	return countActiveOrganizations(r.db.WithContext(ctx), customerID)
}

// CountActiveMembers implements the admission counter for members.
func (r *Repository) CountActiveMembers(ctx context.Context, organizationID uuid.UUID) (int64, error) {
	return countActiveMembers(r.db.WithContext(ctx), organizationID)
}

// SyncCustomerCountsWithTx recomputes org_count and has_organization from the
// live set. Reports whether the cached values changed.
func (r *Repository) SyncCustomerCountsWithTx(tx *gorm.DB, customerID uuid.UUID) (int, bool, error) {
	live, err := countActiveOrganizations(tx, customerID)
	if err != nil {
		return 0, false, err
	}
	res := tx.Model(&models.Customer{}).
		Where("id = ? AND (org_count <> ? OR has_organization <> ?)", customerID, live, live > 0).
		Updates(map[string]any{
			"org_count":        live,
			"has_organization": live > 0,
		})
	return int(live), res.RowsAffected > 0, res.Error
}

// SyncMemberCountWithTx recomputes organizations.member_count from the live set.
func (r *Repository) SyncMemberCountWithTx(tx *gorm.DB, organizationID uuid.UUID) (int, bool, error) {
	live, err := countActiveMembers(tx, organizationID)
	if err != nil {
		return 0, false, err
	}
	res := tx.Model(&models.Organization{}).
		Where("id = ? AND member_count <> ?", organizationID, live).
		Update("member_count", live)
	return int(live), res.RowsAffected > 0, res.Error
}

// OrganizationIDsWithTx lists every organization of the customer, active or not.
func (r *Repository) OrganizationIDsWithTx(tx *gorm.DB, customerID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := tx.Model(&models.Organization{}).
		Where("customer_id = ?", customerID).
		Order("id ASC").
		Pluck("id", &ids).Error
	return ids, err
}

func countActiveOrganizations(db *gorm.DB, customerID uuid.UUID) (int64, error) {
	var count int64
	err := db.Model(&models.Organization{}).
		Where("customer_id = ? AND status = ?", customerID, enums.RecordStatusActive).
		Count(&count).Error
	return count, err
}

func countActiveMembers(db *gorm.DB, organizationID uuid.UUID) (int64, error) {
	var count int64
	err := db.Model(&models.OrganizationMember{}).
		Where("organization_id = ? AND status = ?", organizationID, enums.RecordStatusActive).
		Count(&count).Error
	return count, err
}
