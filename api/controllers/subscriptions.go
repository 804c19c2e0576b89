package controllers

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/payroll-backend/api/responses"
	"github.com/angelmondragon/payroll-backend/api/validators"
	"github.com/angelmondragon/payroll-backend/internal/subscriptions"
	"github.com/angelmondragon/payroll-backend/pkg/db/models"
	"github.com/angelmondragon/payroll-backend/pkg/enums"
	"github.com/angelmondragon/payroll-backend/pkg/logger"
)

type planDTO struct {
	ID          enums.PlanID           `json:"id"`
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Price       decimal.Decimal        `json:"price"`
	PlanType    string                 `json:"plan_type"`
	Features    subscriptions.Features `json:"features"`
}

type subscriptionDTO struct {
	ID         uuid.UUID                `json:"id"`
	PlanID     enums.PlanID             `json:"plan_id"`
	Status     enums.SubscriptionStatus `json:"status"`
	StartedAt  time.Time                `json:"started_at"`
	CanceledAt *time.Time               `json:"canceled_at,omitempty"`
}

type activeSubscriptionDTO struct {
	CustomerID   uuid.UUID              `json:"customer_id"`
	PlanID       enums.PlanID           `json:"plan_id"`
	Features     subscriptions.Features `json:"features"`
	Persisted    bool                   `json:"persisted"`
	Subscription *subscriptionDTO       `json:"subscription,omitempty"`
}

type subscribeRequest struct {
	PlanID string `json:"plan_id" validate:"required,oneof=free basic pro"`
}

func toPlanDTO(p models.SubscriptionPlan) planDTO {
	return planDTO{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Price:       p.Price,
		PlanType:    p.PlanType,
		Features:    subscriptions.FeaturesOf(p),
	}
}

func toSubscriptionDTO(s *models.CustomerSubscription) *subscriptionDTO {
	if s == nil {
		return nil
	}
	return &subscriptionDTO{
		ID:         s.ID,
		PlanID:     s.PlanID,
		Status:     s.Status,
		StartedAt:  s.StartedAt,
		CanceledAt: s.CanceledAt,
	}
}

// PlanList returns the plans open for new subscriptions.
func PlanList(svc subscriptions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, serviceUnavailable("subscription service"))
			return
		}
		plans, err := svc.ListPlans(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := make([]planDTO, 0, len(plans))
		for _, p := range plans {
			out = append(out, toPlanDTO(p))
		}
		responses.WriteSuccess(w, out)
	}
}

func SubscriptionActive(svc subscriptions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, serviceUnavailable("subscription service"))
			return
		}
		customerID, err := customerFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		active, err := svc.ActiveFeatures(r.Context(), customerID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, activeSubscriptionDTO{
			CustomerID:   active.CustomerID,
			PlanID:       active.PlanID,
			Features:     active.Features,
			Persisted:    active.Persisted,
			Subscription: toSubscriptionDTO(active.Record),
		})
	}
}

// SubscriptionCreate switches the customer to a plan, canceling the previous one.
func SubscriptionCreate(svc subscriptions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, serviceUnavailable("subscription service"))
			return
		}
		customerID, err := customerFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload subscribeRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		sub, err := svc.Subscribe(r.Context(), customerID, enums.PlanID(payload.PlanID))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, toSubscriptionDTO(sub))
	}
}

func SubscriptionCancel(svc subscriptions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, serviceUnavailable("subscription service"))
			return
		}
		customerID, err := customerFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.Cancel(r.Context(), customerID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": string(enums.SubscriptionStatusCanceled)})
	}
}
