package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/payroll-backend/pkg/auth"
	"github.com/angelmondragon/payroll-backend/pkg/config"
	"github.com/angelmondragon/payroll-backend/pkg/enums"
)

var testJWT = config.JWTConfig{Secret: "secret", Issuer: "issuer", ExpirationMinutes: 60}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func bearer(t *testing.T, customerID uuid.UUID, userID *uuid.UUID, role enums.ActorRole) string {
	t.Helper()
	token, err := auth.MintAccessToken(testJWT, time.Now(), auth.AccessTokenPayload{
		CustomerID: customerID,
		UserID:     userID,
		Role:       role,
	})
	require.NoError(t, err)
	return "Bearer " + token
}

func serveAuthorized(h http.Handler, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	return resp
}

func TestAuthChallengesBadCredentials(t *testing.T) {
	handler := Auth(testJWT, nil)(okHandler())
	valid := bearer(t, uuid.New(), nil, enums.ActorRoleOwner)
	raw := valid[len("Bearer "):]

	for name, header := range map[string]string{
		"missing":       "",
		"no scheme":     raw,
		"basic scheme":  "Basic " + raw,
		"empty bearer":  "Bearer ",
		"bare scheme":   "Bearer",
		"invalid token": "Bearer invalid",
	} {
		t.Run(name, func(t *testing.T) {
			resp := serveAuthorized(handler, header)
			require.Equal(t, http.StatusUnauthorized, resp.Code)
			require.Contains(t, resp.Header().Get("WWW-Authenticate"), "Bearer")
		})
	}
}

func TestAuthSeedsActorFromToken(t *testing.T) {
	customerID, userID := uuid.New(), uuid.New()

	var (
		gotCustomer uuid.UUID
		gotUser     *uuid.UUID
		gotRole     enums.ActorRole
	)
	handler := Auth(testJWT, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCustomer, _ = CustomerIDFromContext(r.Context())
		gotUser = UserIDFromContext(r.Context())
		gotRole = RoleFromContext(r.Context())
	}))

	resp := serveAuthorized(handler, bearer(t, customerID, &userID, enums.ActorRoleAdmin))
	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, customerID, gotCustomer)
	require.NotNil(t, gotUser)
	require.Equal(t, userID, *gotUser)
	require.Equal(t, enums.ActorRoleAdmin, gotRole)
}

func TestAuthAcceptsLowercaseSchemeWithoutUser(t *testing.T) {
	user := &uuid.UUID{}
	handler := Auth(testJWT, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user = UserIDFromContext(r.Context())
	}))

	header := bearer(t, uuid.New(), nil, enums.ActorRoleOwner)
	resp := serveAuthorized(handler, "bearer"+header[len("Bearer"):])
	require.Equal(t, http.StatusOK, resp.Code)
	require.Nil(t, user)
}

func TestRoleGates(t *testing.T) {
	cases := []struct {
		name string
		gate func(http.Handler) http.Handler
		role enums.ActorRole
		want int
	}{
		{"viewer cannot write", RequireWrite(nil), enums.ActorRoleViewer, http.StatusForbidden},
		{"owner can write", RequireWrite(nil), enums.ActorRoleOwner, http.StatusOK},
		{"admin can write", RequireWrite(nil), enums.ActorRoleAdmin, http.StatusOK},
		{"admin is not owner", RequireRole(nil, enums.ActorRoleOwner), enums.ActorRoleAdmin, http.StatusForbidden},
		{"owner is owner", RequireRole(nil, enums.ActorRoleOwner), enums.ActorRoleOwner, http.StatusOK},
		{"no role", RequireWrite(nil), "", http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			req = req.WithContext(WithActor(req.Context(), uuid.New(), nil, tc.role))
			resp := httptest.NewRecorder()
			tc.gate(okHandler()).ServeHTTP(resp, req)
			require.Equal(t, tc.want, resp.Code)
		})
	}
}
