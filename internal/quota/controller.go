// Package quota decides whether a customer may create another organization or
// add another member under their subscription plan.
//
// The default mode counts live resources and compares against the limit. It is
// check-then-act: two concurrent requests can both observe count < limit and
// both proceed, so the live count may overshoot the limit under load. Strict
// mode closes the window with an atomic reserve in Redis.
package quota

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/payroll-backend/internal/subscriptions"
	"github.com/angelmondragon/payroll-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/payroll-backend/pkg/errors"
	"github.com/angelmondragon/payroll-backend/pkg/logger"
	"github.com/angelmondragon/payroll-backend/pkg/metrics"
)

// Resource names used in metrics and reservation keys.
const (
	ResourceOrganizations = "organizations"
	ResourceMembers       = "members"
)

type featureResolver interface {
	ActiveFeatures(ctx context.Context, customerID uuid.UUID) (*subscriptions.Active, error)
}

// Counter reports live resource counts.
type Counter interface {
	CountActiveOrganizations(ctx context.Context, customerID uuid.UUID) (int64, error)
	CountActiveMembers(ctx context.Context, organizationID uuid.UUID) (int64, error)
}

// Reserver performs an atomic check-and-increment against a per-owner counter.
type Reserver interface {
	ReserveSlot(ctx context.Context, key string, limit, seed int64) (bool, int64, error)
	ReleaseSlot(ctx context.Context, key string) (int64, error)
	Del(ctx context.Context, keys ...string) error
	QuotaKey(resource, ownerID string) string
}

// Release gives back a reservation when the guarded create does not happen.
type Release func(ctx context.Context)

func noopRelease(context.Context) {}

// ControllerParams groups dependencies for the controller.
type ControllerParams struct {
	Features featureResolver
	Counter  Counter
	// Reserver switches the controller to strict mode when set.
	Reserver Reserver
	Metrics  *metrics.PayrollMetrics
	Logger   *logger.Logger
}

// Controller is the admission gate for organizations and members.
type Controller struct {
	features featureResolver
	counter  Counter
	reserver Reserver
	metrics  *metrics.PayrollMetrics
	logg     *logger.Logger
}

// NewController validates params and returns a controller.
func NewController(params ControllerParams) (*Controller, error) {
	if params.Features == nil {
		return nil, fmt.Errorf("feature resolver required")
	}
	if params.Counter == nil {
		return nil, fmt.Errorf("resource counter required")
	}
	return &Controller{
		features: params.Features,
		counter:  params.Counter,
		reserver: params.Reserver,
		metrics:  params.Metrics,
		logg:     params.Logger,
	}, nil
}

// Strict reports whether admission is atomic.
func (c *Controller) Strict() bool {
	return c.reserver != nil
}

// CanCreateOrganization reports whether the customer is under their organization
// limit. A lookup failure returns false together with the error.
func (c *Controller) CanCreateOrganization(ctx context.Context, customerID uuid.UUID) (bool, error) {
	ok, _, err := c.check(ctx, ResourceOrganizations, customerID, uuid.Nil)
	return ok, err
}

// CanAddMember reports whether the organization is under the member limit of
// the owning customer's plan. A lookup failure returns false together with the error.
func (c *Controller) CanAddMember(ctx context.Context, organizationID, customerID uuid.UUID) (bool, error) {
	ok, _, err := c.check(ctx, ResourceMembers, customerID, organizationID)
	return ok, err
}

// check resolves the plan limit first and only counts live resources when the
// limit is bounded.
func (c *Controller) check(ctx context.Context, resource string, customerID, organizationID uuid.UUID) (bool, int, error) {
	limit, err := c.limit(ctx, resource, customerID)
	if err != nil {
		c.record(ctx, resource, metrics.AdmissionError, err)
		return false, 0, err
	}
	if limit == enums.Unlimited {
		c.record(ctx, resource, metrics.AdmissionAdmitted, nil)
		return true, limit, nil
	}
	count, err := c.count(ctx, resource, customerID, organizationID)
	if err != nil {
		c.record(ctx, resource, metrics.AdmissionError, err)
		return false, limit, err
	}
	return c.decide(ctx, resource, count < int64(limit)), limit, nil
}

func (c *Controller) limit(ctx context.Context, resource string, customerID uuid.UUID) (int, error) {
	active, err := c.features.ActiveFeatures(ctx, customerID)
	if err != nil {
		if pkgerrors.As(err) != nil {
			return 0, err
		}
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve plan")
	}
	if active == nil {
		return 0, pkgerrors.New(pkgerrors.CodeDependency, "resolve plan: empty result")
	}
	if resource == ResourceMembers {
		return active.Features.MaxUsersPerOrganization, nil
	}
	return active.Features.MaxOrganizations, nil
}

func (c *Controller) count(ctx context.Context, resource string, customerID, organizationID uuid.UUID) (int64, error) {
	var (
		n   int64
		err error
	)
	if resource == ResourceMembers {
		n, err = c.counter.CountActiveMembers(ctx, organizationID)
	} else {
		n, err = c.counter.CountActiveOrganizations(ctx, customerID)
	}
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count "+resource)
	}
	return n, nil
}

func (c *Controller) decide(ctx context.Context, resource string, ok bool) bool {
	if ok {
		c.record(ctx, resource, metrics.AdmissionAdmitted, nil)
	} else {
		c.record(ctx, resource, metrics.AdmissionDenied, nil)
	}
	return ok
}

func (c *Controller) record(ctx context.Context, resource, outcome string, err error) {
	c.metrics.IncAdmission(resource, outcome)
	if c.logg == nil || ctx == nil {
		return
	}
	ctx = c.logg.WithFields(ctx, map[string]any{"resource": resource, "outcome": outcome})
	switch outcome {
	case metrics.AdmissionError:
		c.logg.Error(ctx, "admission lookup failed", err)
	case metrics.AdmissionDenied:
		c.logg.Info(ctx, "admission denied")
	}
}
