package controllers

import (
	"net/http"
	"strings"

	"github.com/angelmondragon/payroll-backend/api/responses"
	"github.com/angelmondragon/payroll-backend/api/validators"
	"github.com/angelmondragon/payroll-backend/internal/organizations"
	"github.com/angelmondragon/payroll-backend/pkg/logger"
)

type ensureCustomerRequest struct {
	Name  string `json:"name" validate:"required,max=255"`
	Email string `json:"email" validate:"required,email,max=255"`
}

type createOrganizationRequest struct {
	Name          string `json:"name" validate:"required,max=255"`
	Email         string `json:"email,omitempty" validate:"omitempty,email,max=255"`
	Phone         string `json:"phone,omitempty" validate:"omitempty,max=32"`
	Website       string `json:"website,omitempty" validate:"omitempty,url,max=255"`
	Address       string `json:"address,omitempty" validate:"omitempty,max=1000"`
	LogoURL       string `json:"logo_url,omitempty" validate:"omitempty,url,max=1024"`
	SignatoryName string `json:"signatory_name,omitempty" validate:"omitempty,max=255"`
}

type addMemberRequest struct {
	Name        string `json:"name" validate:"required,max=255"`
	Email       string `json:"email" validate:"required,email,max=255"`
	Designation string `json:"designation,omitempty" validate:"omitempty,max=255"`
}

// CustomerEnsure provisions the authenticated customer on first contact.
func CustomerEnsure(svc organizations.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, serviceUnavailable("organizations service"))
			return
		}
		customerID, err := customerFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload ensureCustomerRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		customer, err := svc.EnsureCustomer(r.Context(), organizations.CustomerInput{
			ID:    customerID,
			Name:  strings.TrimSpace(payload.Name),
			Email: payload.Email,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, customer)
	}
}

func OrganizationList(svc organizations.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, serviceUnavailable("organizations service"))
			return
		}
		customerID, err := customerFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orgs, err := svc.ListOrganizations(r.Context(), customerID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, orgs)
	}
}

// OrganizationCreate admits and inserts an organization. Quota rejections
// surface as 403 with the plan limit in details.
func OrganizationCreate(svc organizations.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, serviceUnavailable("organizations service"))
			return
		}
		customerID, err := customerFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload createOrganizationRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		org, err := svc.CreateOrganization(r.Context(), customerID, organizations.CreateOrganizationInput{
			Name:          strings.TrimSpace(payload.Name),
			Email:         payload.Email,
			Phone:         validators.SanitizeString(payload.Phone, 32),
			Website:       payload.Website,
			Address:       validators.SanitizeString(payload.Address, 1000),
			LogoURL:       payload.LogoURL,
			SignatoryName: validators.SanitizeString(payload.SignatoryName, 255),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, org)
	}
}

func OrganizationDelete(svc organizations.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, serviceUnavailable("organizations service"))
			return
		}
		customerID, err := customerFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orgID, err := validators.ParseUUIDParam(r, "organizationId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.DeleteOrganization(r.Context(), customerID, orgID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func MemberList(svc organizations.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, serviceUnavailable("organizations service"))
			return
		}
		customerID, err := customerFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orgID, err := validators.ParseUUIDParam(r, "organizationId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		members, err := svc.ListMembers(r.Context(), customerID, orgID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, members)
	}
}

func MemberAdd(svc organizations.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, serviceUnavailable("organizations service"))
			return
		}
		customerID, err := customerFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orgID, err := validators.ParseUUIDParam(r, "organizationId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload addMemberRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		member, err := svc.AddMember(r.Context(), customerID, orgID, organizations.AddMemberInput{
			Name:        strings.TrimSpace(payload.Name),
			Email:       payload.Email,
			Designation: validators.SanitizeString(payload.Designation, 255),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, member)
	}
}

func MemberRemove(svc organizations.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, serviceUnavailable("organizations service"))
			return
		}
		customerID, err := customerFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orgID, err := validators.ParseUUIDParam(r, "organizationId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		memberID, err := validators.ParseUUIDParam(r, "memberId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.RemoveMember(r.Context(), customerID, orgID, memberID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
