package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/payroll-backend/pkg/enums"
)

// Organization belongs to one customer. MemberCount is a cached projection of active members.
type Organization struct {
	ID            uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	Code          string             `gorm:"column:code;not null;uniqueIndex:ux_organizations_code"`
	CustomerID    uuid.UUID          `gorm:"column:customer_id;type:uuid;not null;index"`
	Name          string             `gorm:"column:name;not null"`
	Email         string             `gorm:"column:email"`
	Phone         string             `gorm:"column:phone"`
	Website       string             `gorm:"column:website"`
	Address       string             `gorm:"column:address"`
	LogoURL       string             `gorm:"column:logo_url"`
	SignatoryName string             `gorm:"column:signatory_name"`
	Status        enums.RecordStatus `gorm:"column:status;type:varchar(16);not null;default:'active'"`
	MemberCount   int                `gorm:"column:member_count;not null;default:0"`
	CreatedAt     time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}

func (o *Organization) BeforeCreate(*gorm.DB) error {
	assignID(&o.ID)
	return nil
}

// OrganizationMember is an employee of an organization and the subject of payroll records.
type OrganizationMember struct {
	ID             uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	Code           string             `gorm:"column:code;not null;uniqueIndex:ux_organization_members_code"`
	OrganizationID uuid.UUID          `gorm:"column:organization_id;type:uuid;not null;index"`
	CustomerID     uuid.UUID          `gorm:"column:customer_id;type:uuid;not null"`
	Name           string             `gorm:"column:name;not null"`
	Email          string             `gorm:"column:email;not null"`
	Designation    string             `gorm:"column:designation"`
	Status         enums.RecordStatus `gorm:"column:status;type:varchar(16);not null;default:'active'"`
	CreatedAt      time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}

func (m *OrganizationMember) BeforeCreate(*gorm.DB) error {
	assignID(&m.ID)
	return nil
}
