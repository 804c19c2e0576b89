package organizations

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/payroll-backend/internal/quota"
	"github.com/angelmondragon/payroll-backend/pkg/db/models"
	"github.com/angelmondragon/payroll-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/payroll-backend/pkg/errors"
	"github.com/angelmondragon/payroll-backend/pkg/logger"
	"github.com/angelmondragon/payroll-backend/pkg/outbox"
	"github.com/angelmondragon/payroll-backend/pkg/outbox/payloads"
)

type repository interface {
	FindCustomer(ctx context.Context, id uuid.UUID) (*models.Customer, error)
	CreateCustomer(ctx context.Context, customer *models.Customer) error
	ListCustomerIDs(ctx context.Context, after uuid.UUID, limit int) ([]uuid.UUID, error)
	FindOrganization(ctx context.Context, id uuid.UUID) (*models.Organization, error)
	ListOrganizations(ctx context.Context, customerID uuid.UUID) ([]models.Organization, error)
	CreateOrganizationWithTx(tx *gorm.DB, org *models.Organization) error
	DeactivateOrganizationWithTx(tx *gorm.DB, id uuid.UUID) (int64, error)
	FindMember(ctx context.Context, organizationID, memberID uuid.UUID) (*models.OrganizationMember, error)
	ListMembers(ctx context.Context, organizationID uuid.UUID) ([]models.OrganizationMember, error)
	CreateMemberWithTx(tx *gorm.DB, member *models.OrganizationMember) error
	DeactivateMemberWithTx(tx *gorm.DB, organizationID, memberID uuid.UUID) (int64, error)
	SyncCustomerCountsWithTx(tx *gorm.DB, customerID uuid.UUID) (int, bool, error)
	SyncMemberCountWithTx(tx *gorm.DB, organizationID uuid.UUID) (int, bool, error)
	OrganizationIDsWithTx(tx *gorm.DB, customerID uuid.UUID) ([]uuid.UUID, error)
}

type admission interface {
	AdmitOrganization(ctx context.Context, customerID uuid.UUID) (quota.Release, error)
	AdmitMember(ctx context.Context, organizationID, customerID uuid.UUID) (quota.Release, error)
	Forget(ctx context.Context, resource string, ownerID uuid.UUID)
}

type codeIssuer interface {
	OrganizationCode(ctx context.Context) (string, error)
	UserCode(ctx context.Context) (string, error)
	CustomerCode(ctx context.Context) (string, error)
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service manages customers, their organizations and organization members.
type Service interface {
	EnsureCustomer(ctx context.Context, input CustomerInput) (*CustomerDTO, error)
	CreateOrganization(ctx context.Context, customerID uuid.UUID, input CreateOrganizationInput) (*OrganizationDTO, error)
	DeleteOrganization(ctx context.Context, customerID, organizationID uuid.UUID) error
	ListOrganizations(ctx context.Context, customerID uuid.UUID) ([]OrganizationDTO, error)
	AddMember(ctx context.Context, customerID, organizationID uuid.UUID, input AddMemberInput) (*MemberDTO, error)
	RemoveMember(ctx context.Context, customerID, organizationID, memberID uuid.UUID) error
	ListMembers(ctx context.Context, customerID, organizationID uuid.UUID) ([]MemberDTO, error)
	RefreshCounts(ctx context.Context, customerID uuid.UUID) (*CountReport, error)
	RepairAllCounts(ctx context.Context, batchSize int) (int, error)
}

// ServiceParams groups dependencies for the organizations service.
type ServiceParams struct {
	Repo              repository
	TransactionRunner txRunner
	Admission         admission
	Codes             codeIssuer
	// Outbox is optional; when set, organization_created is emitted with the insert.
	Outbox outboxPublisher
	Logger *logger.Logger
}

type service struct {
	repo   repository
	tx     txRunner
	admit  admission
	codes  codeIssuer
	outbox outboxPublisher
	logg   *logger.Logger
}

// NewService builds the organizations service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("organizations repository required")
	}
	if params.TransactionRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Admission == nil {
		return nil, fmt.Errorf("admission controller required")
	}
	if params.Codes == nil {
		return nil, fmt.Errorf("code issuer required")
	}
	return &service{
		repo:   params.Repo,
		tx:     params.TransactionRunner,
		admit:  params.Admission,
		codes:  params.Codes,
		outbox: params.Outbox,
		logg:   params.Logger,
	}, nil
}

// EnsureCustomer returns the customer, creating it with a fresh CUSTOMER code
// on first sight.
func (s *service) EnsureCustomer(ctx context.Context, input CustomerInput) (*CustomerDTO, error) {
	if input.ID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer id is required")
	}
	existing, err := s.repo.FindCustomer(ctx, input.ID)
	if err == nil {
		dto := FromCustomer(*existing)
		return &dto, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load customer")
	}

	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer name is required")
	}
	email, err := normalizeEmail(input.Email)
	if err != nil {
		return nil, err
	}
	code, err := s.codes.CustomerCode(ctx)
	if err != nil {
		return nil, err
	}
	customer := &models.Customer{ID: input.ID, Code: code, Name: name, Email: email}
	if err := s.repo.CreateCustomer(ctx, customer); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create customer")
	}
	dto := FromCustomer(*customer)
	return &dto, nil
}

// CreateOrganization admits, allocates an ORG code, then inserts the
// organization and refreshes the customer's cached counts in one transaction.
func (s *service) CreateOrganization(ctx context.Context, customerID uuid.UUID, input CreateOrganizationInput) (*OrganizationDTO, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "organization name is required")
	}
	email := strings.TrimSpace(input.Email)
	if email != "" {
		normalized, err := normalizeEmail(email)
		if err != nil {
			return nil, err
		}
		email = normalized
	}
	if _, err := s.loadCustomer(ctx, customerID); err != nil {
		return nil, err
	}

	release, err := s.admit.AdmitOrganization(ctx, customerID)
	if err != nil {
		return nil, err
	}
	code, err := s.codes.OrganizationCode(ctx)
	if err != nil {
		release(ctx)
		return nil, err
	}

	org := &models.Organization{
		Code:          code,
		CustomerID:    customerID,
		Name:          name,
		Email:         email,
		Phone:         strings.TrimSpace(input.Phone),
		Website:       strings.TrimSpace(input.Website),
		Address:       strings.TrimSpace(input.Address),
		LogoURL:       strings.TrimSpace(input.LogoURL),
		SignatoryName: strings.TrimSpace(input.SignatoryName),
		Status:        enums.RecordStatusActive,
	}
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.CreateOrganizationWithTx(tx, org); err != nil {
			return err
		}
		if _, _, err := s.repo.SyncCustomerCountsWithTx(tx, customerID); err != nil {
			return err
		}
		if s.outbox == nil {
			return nil
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrganizationCreated,
			AggregateType: enums.AggregateOrganization,
			AggregateID:   org.ID,
			Actor:         &outbox.ActorRef{CustomerID: &customerID},
			Data: payloads.OrganizationCreatedEvent{
				OrganizationID: org.ID,
				CustomerID:     customerID,
				Code:           org.Code,
			},
		})
	})
	if err != nil {
		release(ctx)
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create organization")
	}

	if s.logg != nil {
		logCtx := s.logg.WithOrganizationID(s.logg.WithCustomerID(ctx, customerID.String()), org.ID.String())
		s.logg.Info(s.logg.WithField(logCtx, "code", org.Code), "organization created")
	}
	dto := FromOrganization(*org)
	return &dto, nil
}

// DeleteOrganization soft-deletes the organization. Deleting an already
// inactive organization is a no-op.
func (s *service) DeleteOrganization(ctx context.Context, customerID, organizationID uuid.UUID) error {
	if _, err := s.ownedOrganization(ctx, customerID, organizationID, false); err != nil {
		return err
	}
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if _, err := s.repo.DeactivateOrganizationWithTx(tx, organizationID); err != nil {
			return err
		}
		_, _, err := s.repo.SyncCustomerCountsWithTx(tx, customerID)
		return err
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete organization")
	}
	s.admit.Forget(ctx, quota.ResourceOrganizations, customerID)
	return nil
}

func (s *service) ListOrganizations(ctx context.Context, customerID uuid.UUID) ([]OrganizationDTO, error) {
	rows, err := s.repo.ListOrganizations(ctx, customerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list organizations")
	}
	out := make([]OrganizationDTO, 0, len(rows))
	for _, row := range rows {
		out = append(out, FromOrganization(row))
	}
	return out, nil
}

// AddMember admits against the organization's member limit, allocates a USER
// code and inserts the member while refreshing member_count.
func (s *service) AddMember(ctx context.Context, customerID, organizationID uuid.UUID, input AddMemberInput) (*MemberDTO, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "member name is required")
	}
	email, err := normalizeEmail(input.Email)
	if err != nil {
		return nil, err
	}
	if _, err := s.ownedOrganization(ctx, customerID, organizationID, true); err != nil {
		return nil, err
	}

	release, err := s.admit.AdmitMember(ctx, organizationID, customerID)
	if err != nil {
		return nil, err
	}
	code, err := s.codes.UserCode(ctx)
	if err != nil {
		release(ctx)
		return nil, err
	}

	member := &models.OrganizationMember{
		Code:           code,
		OrganizationID: organizationID,
		CustomerID:     customerID,
		Name:           name,
		Email:          email,
		Designation:    strings.TrimSpace(input.Designation),
		Status:         enums.RecordStatusActive,
	}
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.CreateMemberWithTx(tx, member); err != nil {
			return err
		}
		_, _, err := s.repo.SyncMemberCountWithTx(tx, organizationID)
		return err
	})
	if err != nil {
		release(ctx)
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "add member")
	}
	dto := FromMember(*member)
	return &dto, nil
}

func (s *service) RemoveMember(ctx context.Context, customerID, organizationID, memberID uuid.UUID) error {
	if _, err := s.ownedOrganization(ctx, customerID, organizationID, false); err != nil {
		return err
	}
	if _, err := s.repo.FindMember(ctx, organizationID, memberID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "member not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load member")
	}
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if _, err := s.repo.DeactivateMemberWithTx(tx, organizationID, memberID); err != nil {
			return err
		}
		_, _, err := s.repo.SyncMemberCountWithTx(tx, organizationID)
		return err
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "remove member")
	}
	s.admit.Forget(ctx, quota.ResourceMembers, organizationID)
	return nil
}

func (s *service) ListMembers(ctx context.Context, customerID, organizationID uuid.UUID) ([]MemberDTO, error) {
	if _, err := s.ownedOrganization(ctx, customerID, organizationID, false); err != nil {
		return nil, err
	}
	rows, err := s.repo.ListMembers(ctx, organizationID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list members")
	}
	out := make([]MemberDTO, 0, len(rows))
	for _, row := range rows {
		out = append(out, FromMember(row))
	}
	return out, nil
}

func (s *service) loadCustomer(ctx context.Context, customerID uuid.UUID) (*models.Customer, error) {
	customer, err := s.repo.FindCustomer(ctx, customerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "customer not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load customer")
	}
	return customer, nil
}

// ownedOrganization loads the organization and hides organizations owned by
// other customers behind NotFound.
func (s *service) ownedOrganization(ctx context.Context, customerID, organizationID uuid.UUID, requireActive bool) (*models.Organization, error) {
	org, err := s.repo.FindOrganization(ctx, organizationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "organization not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load organization")
	}
	if org.CustomerID != customerID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "organization not found")
	}
	if requireActive && org.Status != enums.RecordStatusActive {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "organization not found")
	}
	return org, nil
}

func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "email is required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "invalid email")
	}
	return email, nil
}
