package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/payroll-backend/api/responses"
	"github.com/angelmondragon/payroll-backend/api/validators"
	"github.com/angelmondragon/payroll-backend/internal/organizations"
	"github.com/angelmondragon/payroll-backend/internal/subscriptions"
	"github.com/angelmondragon/payroll-backend/pkg/enums"
	"github.com/angelmondragon/payroll-backend/pkg/logger"
)

// QuotaChecker answers admission questions without reserving anything.
type QuotaChecker interface {
	CanCreateOrganization(ctx context.Context, customerID uuid.UUID) (bool, error)
	CanAddMember(ctx context.Context, organizationID, customerID uuid.UUID) (bool, error)
}

type quotaResponse struct {
	CustomerID            uuid.UUID              `json:"customer_id"`
	PlanID                enums.PlanID           `json:"plan_id"`
	Features              subscriptions.Features `json:"features"`
	OrganizationCount     int                    `json:"organization_count"`
	CanCreateOrganization bool                   `json:"can_create_organization"`
	OrganizationID        *uuid.UUID             `json:"organization_id,omitempty"`
	CanAddMember          *bool                  `json:"can_add_member,omitempty"`
	CountsRepaired        bool                   `json:"counts_repaired"`
}

// QuotaStatus reports the active plan limits and current usage. Cached counts
// are recomputed on every read so the numbers shown match what admission sees.
func QuotaStatus(subs subscriptions.Service, orgs organizations.Service, checker QuotaChecker, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if subs == nil || orgs == nil || checker == nil {
			responses.WriteError(r.Context(), logg, w, serviceUnavailable("quota service"))
			return
		}
		customerID, err := customerFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orgID, err := validators.ParseQueryUUID(r, "organization_id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		active, err := subs.ActiveFeatures(r.Context(), customerID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		report, err := orgs.RefreshCounts(r.Context(), customerID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		canCreate, err := checker.CanCreateOrganization(r.Context(), customerID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		resp := quotaResponse{
			CustomerID:            customerID,
			PlanID:                active.PlanID,
			Features:              active.Features,
			OrganizationCount:     report.OrganizationCount,
			CanCreateOrganization: canCreate,
			CountsRepaired:        report.Repaired(),
		}
		if orgID != nil {
			// Ownership check; answers 404 for organizations of other customers.
			if _, err := orgs.ListMembers(r.Context(), customerID, *orgID); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			canAdd, err := checker.CanAddMember(r.Context(), *orgID, customerID)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			resp.OrganizationID = orgID
			resp.CanAddMember = &canAdd
		}
		responses.WriteSuccess(w, resp)
	}
}
