package quota

import (
	"context"

	"github.com/google/uuid"

	"github.com/angelmondragon/payroll-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/payroll-backend/pkg/errors"
	"github.com/angelmondragon/payroll-backend/pkg/metrics"
)

// AdmitOrganization returns nil when the customer may create an organization,
// an AdmissionDenied error when the plan limit is reached, or the lookup
// error. In strict mode a slot is reserved and the returned Release must be
// called if the organization is not created.
func (c *Controller) AdmitOrganization(ctx context.Context, customerID uuid.UUID) (Release, error) {
	return c.admit(ctx, ResourceOrganizations, customerID, uuid.Nil, customerID)
}

// AdmitMember is AdmitOrganization for organization members.
func (c *Controller) AdmitMember(ctx context.Context, organizationID, customerID uuid.UUID) (Release, error) {
	return c.admit(ctx, ResourceMembers, customerID, organizationID, organizationID)
}

// Forget drops a strict-mode reservation counter so the next admission reseeds
// it from the live count. Called after deletes and count repairs.
func (c *Controller) Forget(ctx context.Context, resource string, ownerID uuid.UUID) {
	if !c.Strict() {
		return
	}
	if err := c.reserver.Del(ctx, c.reserver.QuotaKey(resource, ownerID.String())); err != nil && c.logg != nil {
		c.logg.Error(c.logg.WithField(ctx, "resource", resource), "drop quota reservation counter failed", err)
	}
}

func (c *Controller) admit(ctx context.Context, resource string, customerID, organizationID, owner uuid.UUID) (Release, error) {
	if !c.Strict() {
		ok, limit, err := c.check(ctx, resource, customerID, organizationID)
		if err != nil {
			return noopRelease, err
		}
		if !ok {
			return noopRelease, denied(resource, limit)
		}
		return noopRelease, nil
	}

	limit, err := c.limit(ctx, resource, customerID)
	if err != nil {
		c.record(ctx, resource, metrics.AdmissionError, err)
		return noopRelease, err
	}
	if limit == enums.Unlimited {
		c.record(ctx, resource, metrics.AdmissionAdmitted, nil)
		return noopRelease, nil
	}
	seed, err := c.count(ctx, resource, customerID, organizationID)
	if err != nil {
		c.record(ctx, resource, metrics.AdmissionError, err)
		return noopRelease, err
	}
	key := c.reserver.QuotaKey(resource, owner.String())
	ok, _, err := c.reserver.ReserveSlot(ctx, key, int64(limit), seed)
	if err != nil {
		err = pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reserve "+resource)
		c.record(ctx, resource, metrics.AdmissionError, err)
		return noopRelease, err
	}
	if !c.decide(ctx, resource, ok) {
		return noopRelease, denied(resource, limit)
	}
	return func(ctx context.Context) {
		if _, err := c.reserver.ReleaseSlot(ctx, key); err != nil && c.logg != nil {
			c.logg.Error(c.logg.WithField(ctx, "resource", resource), "release quota reservation failed", err)
		}
	}, nil
}

func denied(resource string, limit int) error {
	msg := "organization limit reached for current plan"
	if resource == ResourceMembers {
		msg = "member limit reached for current plan"
	}
	return pkgerrors.New(pkgerrors.CodeAdmissionDenied, msg).WithDetails(map[string]any{
		"resource": resource,
		"limit":    limit,
	})
}
