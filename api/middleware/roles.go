package middleware

import (
	"net/http"
	"slices"

	"github.com/angelmondragon/payroll-backend/api/responses"
	"github.com/angelmondragon/payroll-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/payroll-backend/pkg/errors"
	"github.com/angelmondragon/payroll-backend/pkg/logger"
)

// RequireRole admits only callers holding one of the allowed roles.
func RequireRole(logg *logger.Logger, allowed ...enums.ActorRole) func(http.Handler) http.Handler {
	return gate(logg, "role required", func(role enums.ActorRole) bool {
		return slices.Contains(allowed, role)
	})
}

// RequireWrite rejects read-only callers.
func RequireWrite(logg *logger.Logger) func(http.Handler) http.Handler {
	return gate(logg, "write access required", enums.ActorRole.CanWrite)
}

func gate(logg *logger.Logger, denied string, admit func(enums.ActorRole) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !admit(RoleFromContext(r.Context())) {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, denied))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
