package organizations

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/payroll-backend/pkg/db/models"
	"github.com/angelmondragon/payroll-backend/pkg/enums"
)

// CustomerInput identifies the account owner provisioned by the auth layer.
type CustomerInput struct {
	ID    uuid.UUID
	Name  string
	Email string
}

// CreateOrganizationInput captures the fields accepted when creating an organization.
type CreateOrganizationInput struct {
	Name          string
	Email         string
	Phone         string
	Website       string
	Address       string
	LogoURL       string
	SignatoryName string
}

// AddMemberInput captures the fields accepted when adding an employee.
type AddMemberInput struct {
	Name        string
	Email       string
	Designation string
}

type CustomerDTO struct {
	ID              uuid.UUID `json:"id"`
	Code            string    `json:"code"`
	Name            string    `json:"name"`
	Email           string    `json:"email"`
	OrgCount        int       `json:"org_count"`
	HasOrganization bool      `json:"has_organization"`
}

type OrganizationDTO struct {
	ID            uuid.UUID          `json:"id"`
	Code          string             `json:"code"`
	CustomerID    uuid.UUID          `json:"customer_id"`
	Name          string             `json:"name"`
	Email         string             `json:"email,omitempty"`
	Phone         string             `json:"phone,omitempty"`
	Website       string             `json:"website,omitempty"`
	Address       string             `json:"address,omitempty"`
	LogoURL       string             `json:"logo_url,omitempty"`
	SignatoryName string             `json:"signatory_name,omitempty"`
	Status        enums.RecordStatus `json:"status"`
	MemberCount   int                `json:"member_count"`
	CreatedAt     time.Time          `json:"created_at"`
}

type MemberDTO struct {
	ID             uuid.UUID          `json:"id"`
	Code           string             `json:"code"`
	OrganizationID uuid.UUID          `json:"organization_id"`
	Name           string             `json:"name"`
	Email          string             `json:"email"`
	Designation    string             `json:"designation,omitempty"`
	Status         enums.RecordStatus `json:"status"`
	CreatedAt      time.Time          `json:"created_at"`
}

// CountReport describes what RefreshCounts rewrote.
type CountReport struct {
	CustomerID          uuid.UUID   `json:"customer_id"`
	OrganizationCount   int         `json:"organization_count"`
	CustomerRepaired    bool        `json:"customer_repaired"`
	RepairedMemberCount []uuid.UUID `json:"repaired_member_counts,omitempty"`
}

// Repaired reports whether any cached count was stale.
func (r CountReport) Repaired() bool {
	return r.CustomerRepaired || len(r.RepairedMemberCount) > 0
}

func FromCustomer(c models.Customer) CustomerDTO {
	return CustomerDTO{
		ID:              c.ID,
		Code:            c.Code,
		Name:            c.Name,
		Email:           c.Email,
		OrgCount:        c.OrgCount,
		HasOrganization: c.HasOrganization,
	}
}

func FromOrganization(o models.Organization) OrganizationDTO {
	return OrganizationDTO{
		ID:            o.ID,
		Code:          o.Code,
		CustomerID:    o.CustomerID,
		Name:          o.Name,
		Email:         o.Email,
		Phone:         o.Phone,
		Website:       o.Website,
		Address:       o.Address,
		LogoURL:       o.LogoURL,
		SignatoryName: o.SignatoryName,
		Status:        o.Status,
		MemberCount:   o.MemberCount,
		CreatedAt:     o.CreatedAt,
	}
}

func FromMember(m models.OrganizationMember) MemberDTO {
	return MemberDTO{
		ID:             m.ID,
		Code:           m.Code,
		OrganizationID: m.OrganizationID,
		Name:           m.Name,
		Email:          m.Email,
		Designation:    m.Designation,
		Status:         m.Status,
		CreatedAt:      m.CreatedAt,
	}
}
