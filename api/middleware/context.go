package middleware

import (
	"context"

	"github.com/google/uuid"

	"github.com/angelmondragon/payroll-backend/pkg/enums"
)

type contextKey string

const (
	ctxCustomerID contextKey = "customer_id"
	ctxUserID     contextKey = "user_id"
	ctxRole       contextKey = "actor_role"
)

// CustomerIDFromContext returns the customer the request acts for.
func CustomerIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	if ctx == nil {
		return uuid.Nil, false
	}
	id, ok := ctx.Value(ctxCustomerID).(uuid.UUID)
	if !ok || id == uuid.Nil {
		return uuid.Nil, false
	}
	return id, true
}

// UserIDFromContext returns the acting user, when the token names one.
func UserIDFromContext(ctx context.Context) *uuid.UUID {
	if ctx == nil {
		return nil
	}
	if v, ok := ctx.Value(ctxUserID).(uuid.UUID); ok && v != uuid.Nil {
		return &v
	}
	return nil
}

func RoleFromContext(ctx context.Context) enums.ActorRole {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxRole).(enums.ActorRole); ok {
		return v
	}
	return ""
}

// WithActor injects the caller identity into the context. Auth uses it for
// verified tokens; tests use it to bypass token handling.
func WithActor(ctx context.Context, customerID uuid.UUID, userID *uuid.UUID, role enums.ActorRole) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = context.WithValue(ctx, ctxCustomerID, customerID)
	ctx = context.WithValue(ctx, ctxRole, role)
	if userID != nil {
		ctx = context.WithValue(ctx, ctxUserID, *userID)
	}
	return ctx
}
