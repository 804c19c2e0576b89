package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/payroll-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/payroll-backend/pkg/errors"
)

type fakeStore struct {
	data map[string]string
	ttls map[string]time.Duration
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeStore) Get(_ context.Context, key string) (string, error) {
	if v, ok := f.data[key]; ok {
		return v, nil
	}
	return "", redis.Nil
}

func (f *fakeStore) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	f.data[key] = value.(string)
	f.ttls[key] = ttl
	return nil
}

func (f *fakeStore) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if _, ok := f.data[key]; ok {
		return false, nil
	}
	return true, f.Set(ctx, key, value, ttl)
}

func (f *fakeStore) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(f.data, k)
	}
	return nil
}

func (f *fakeStore) IdempotencyKey(scope, id string) string {
	return "test:" + scope + ":" + id
}

func postSubscription(customerID uuid.UUID, key, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/subscriptions", strings.NewReader(body))
	if key != "" {
		req.Header.Set(IdempotencyHeader, key)
	}
	return req.WithContext(WithActor(req.Context(), customerID, nil, enums.ActorRoleOwner))
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
	return payload.Error.Code
}

func TestIdempotencyPassesThroughWithoutHeader(t *testing.T) {
	store := newFakeStore()
	calls := 0
	handler := Idempotency(store, 0, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
	}))

	customerID := uuid.New()
	handler.ServeHTTP(httptest.NewRecorder(), postSubscription(customerID, "", `{"plan_id":"pro"}`))
	handler.ServeHTTP(httptest.NewRecorder(), postSubscription(customerID, "", `{"plan_id":"pro"}`))
	require.Equal(t, 2, calls)
	require.Empty(t, store.data)
}

func TestIdempotencyReplaysStoredResponse(t *testing.T) {
	store := newFakeStore()
	calls := 0
	handler := Idempotency(store, CriticalIdempotencyTTL, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"data":{"plan_id":"pro"}}`))
	}))

	customerID := uuid.New()
	first := httptest.NewRecorder()
	handler.ServeHTTP(first, postSubscription(customerID, "sub-1", `{"plan_id":"pro"}`))
	require.Equal(t, http.StatusCreated, first.Code)
	require.Empty(t, first.Header().Get(ReplayedHeader))

	replay := httptest.NewRecorder()
	handler.ServeHTTP(replay, postSubscription(customerID, "sub-1", `{"plan_id":"pro"}`))
	require.Equal(t, http.StatusCreated, replay.Code)
	require.Equal(t, "application/json", replay.Header().Get("Content-Type"))
	require.Equal(t, "true", replay.Header().Get(ReplayedHeader))
	require.Equal(t, `{"data":{"plan_id":"pro"}}`, replay.Body.String())
	require.Equal(t, 1, calls)

	for _, ttl := range store.ttls {
		require.Equal(t, CriticalIdempotencyTTL, ttl)
	}
}

func TestIdempotencyRejectsConcurrentDuplicate(t *testing.T) {
	store := newFakeStore()
	customerID := uuid.New()

	var inner *httptest.ResponseRecorder
	var handler http.Handler
	handler = Idempotency(store, 0, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if inner == nil {
			inner = httptest.NewRecorder()
			handler.ServeHTTP(inner, postSubscription(customerID, "dup", `{}`))
		}
		w.WriteHeader(http.StatusCreated)
	}))

	outer := httptest.NewRecorder()
	handler.ServeHTTP(outer, postSubscription(customerID, "dup", `{}`))
	require.Equal(t, http.StatusCreated, outer.Code)
	require.Equal(t, http.StatusConflict, inner.Code)
	require.Equal(t, "1", inner.Header().Get("Retry-After"))
	require.Equal(t, string(pkgerrors.CodeConflict), errorCode(t, inner))
}

func TestIdempotencyScopesKeysPerCustomer(t *testing.T) {
	store := newFakeStore()
	calls := 0
	handler := Idempotency(store, 0, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), postSubscription(uuid.New(), "same", `{}`))
	handler.ServeHTTP(httptest.NewRecorder(), postSubscription(uuid.New(), "same", `{}`))
	require.Equal(t, 2, calls)
}

func TestIdempotencyReleasesKeyOnFailure(t *testing.T) {
	store := newFakeStore()
	status := http.StatusForbidden
	handler := Idempotency(store, 0, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))

	customerID := uuid.New()
	handler.ServeHTTP(httptest.NewRecorder(), postSubscription(customerID, "retry", `{}`))
	require.Empty(t, store.data, "a failed attempt must not hold the key")

	status = http.StatusCreated
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, postSubscription(customerID, "retry", `{}`))
	require.Equal(t, http.StatusCreated, resp.Code)
}

func TestIdempotencyReleasesKeyOnPanic(t *testing.T) {
	store := newFakeStore()
	handler := Idempotency(store, 0, nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	require.Panics(t, func() {
		handler.ServeHTTP(httptest.NewRecorder(), postSubscription(uuid.New(), "p", `{}`))
	})
	require.Empty(t, store.data)
}

func TestIdempotencyDetectsBodyChange(t *testing.T) {
	store := newFakeStore()
	handler := Idempotency(store, 0, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	customerID := uuid.New()
	handler.ServeHTTP(httptest.NewRecorder(), postSubscription(customerID, "xyz", `{"plan_id":"basic"}`))

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, postSubscription(customerID, "xyz", `{"plan_id":"pro"}`))
	require.Equal(t, http.StatusConflict, resp.Code)
	require.Equal(t, string(pkgerrors.CodeConflict), errorCode(t, resp))
}

func TestIdempotencyRejectsOversizedKey(t *testing.T) {
	handler := Idempotency(newFakeStore(), 0, nil)(okHandler())
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, postSubscription(uuid.New(), strings.Repeat("k", 300), `{}`))
	require.Equal(t, http.StatusBadRequest, resp.Code)
}
