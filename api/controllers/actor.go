package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/payroll-backend/api/middleware"
	pkgerrors "github.com/angelmondragon/payroll-backend/pkg/errors"
)

func customerFromRequest(r *http.Request) (uuid.UUID, error) {
	id, ok := middleware.CustomerIDFromContext(r.Context())
	if !ok {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "customer context required")
	}
	return id, nil
}

func serviceUnavailable(name string) error {
	return pkgerrors.New(pkgerrors.CodeInternal, name+" unavailable")
}
