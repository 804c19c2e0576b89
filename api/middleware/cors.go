package middleware

import (
	"net/http"
	"slices"

	"github.com/go-chi/cors"

	"github.com/angelmondragon/payroll-backend/api/responses"
)

// CORS applies the allowed-origin policy for browser clients. Credentials are
// never allowed together with a wildcard origin.
func CORS(origins []string) func(http.Handler) http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", IdempotencyHeader, responses.RequestIDHeader},
		ExposedHeaders:   []string{responses.RequestIDHeader, "Content-Disposition", ReplayedHeader},
		AllowCredentials: !slices.Contains(origins, "*"),
		MaxAge:           600,
	}).Handler
}
