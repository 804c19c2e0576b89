package quota

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/payroll-backend/internal/subscriptions"
	"github.com/angelmondragon/payroll-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/payroll-backend/pkg/errors"
	"github.com/angelmondragon/payroll-backend/pkg/logger"
	"github.com/angelmondragon/payroll-backend/pkg/metrics"
)

func TestNewControllerRequiresDependencies(t *testing.T) {
	_, err := NewController(ControllerParams{})
	require.Error(t, err)
	_, err = NewController(ControllerParams{Features: &stubFeatures{}})
	require.Error(t, err)
}

func TestCanCreateOrganizationBoundary(t *testing.T) {
	counter := &stubCounter{}
	c := newController(t, features(2, 5), counter, nil)
	ctx := context.Background()
	customer := uuid.New()

	for _, tc := range []struct {
		live int64
		want bool
	}{{0, true}, {1, true}, {2, false}, {3, false}} {
		counter.orgs = tc.live
		ok, err := c.CanCreateOrganization(ctx, customer)
		require.NoError(t, err)
		require.Equal(t, tc.want, ok, "live=%d", tc.live)
	}
}

func TestUnlimitedPlanAdmitsMemberOneThousand(t *testing.T) {
	counter := &stubCounter{members: 999}
	c := newController(t, features(enums.Unlimited, enums.Unlimited), counter, nil)

	ok, err := c.CanAddMember(context.Background(), uuid.New(), uuid.New())
	require.NoError(t, err)
	require.True(t, ok)
	require.Zero(t, counter.memberCalls, "unlimited plans skip the count")

	_, err = c.AdmitMember(context.Background(), uuid.New(), uuid.New())
	require.NoError(t, err)
}

func TestLookupFailuresDeny(t *testing.T) {
	ctx := context.Background()

	planDown := newController(t, &stubFeatures{err: errors.New("plans unavailable")}, &stubCounter{}, nil)
	ok, err := planDown.CanCreateOrganization(ctx, uuid.New())
	require.False(t, ok)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))

	countDown := newController(t, features(2, 2), &stubCounter{err: errors.New("count failed")}, nil)
	ok, err = countDown.CanAddMember(ctx, uuid.New(), uuid.New())
	require.False(t, ok)
	require.Error(t, err)

	_, err = countDown.AdmitMember(ctx, uuid.New(), uuid.New())
	require.Error(t, err)
	require.False(t, pkgerrors.IsCode(err, pkgerrors.CodeAdmissionDenied), "failures are not reported as plan denials")
}

func TestAdmitReturnsAdmissionDenied(t *testing.T) {
	c := newController(t, features(1, 5), &stubCounter{orgs: 1}, nil)

	_, err := c.AdmitOrganization(context.Background(), uuid.New())
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeAdmissionDenied))
	details := pkgerrors.As(err).Details().(map[string]any)
	require.Equal(t, 1, details["limit"])
	require.Equal(t, ResourceOrganizations, details["resource"])
}

func TestAdmissionMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewController(ControllerParams{
		Features: features(1, 5),
		Counter:  &stubCounter{orgs: 1},
		Metrics:  metrics.NewPayrollMetrics(reg),
		Logger:   logger.Nop(),
	})
	require.NoError(t, err)

	_, _ = c.CanCreateOrganization(context.Background(), uuid.New())
	mfs, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, mfs)
}

// The default mode is check-then-act. Two requests that both read the count
// before either creates are both admitted, so the live set can exceed the
// plan limit. This test pins that behaviour so a change to it is deliberate.
func TestSoftModeCheckThenActOverProvisions(t *testing.T) {
	counter := newBarrierCounter(2)
	c := newController(t, features(1, 5), counter, nil)
	customer := uuid.New()

	admitted := runConcurrent(2, func() bool {
		ok, err := c.CanCreateOrganization(context.Background(), customer)
		require.NoError(t, err)
		return ok
	})
	require.Equal(t, 2, admitted, "both racers observe count 0 < 1")
}

func TestStrictModeAdmitsExactlyLimit(t *testing.T) {
	counter := newBarrierCounter(5)
	reserver := newFakeReserver()
	c := newController(t, features(2, 5), counter, reserver)
	customer := uuid.New()

	admitted := runConcurrent(5, func() bool {
		_, err := c.AdmitOrganization(context.Background(), customer)
		if err != nil {
			require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeAdmissionDenied))
			return false
		}
		return true
	})
	require.Equal(t, 2, admitted)
}

func TestStrictModeReleaseAndForget(t *testing.T) {
	reserver := newFakeReserver()
	counter := &stubCounter{}
	c := newController(t, features(1, 5), counter, reserver)
	ctx := context.Background()
	customer := uuid.New()

	release, err := c.AdmitOrganization(ctx, customer)
	require.NoError(t, err)
	_, err = c.AdmitOrganization(ctx, customer)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeAdmissionDenied))

	release(ctx)
	_, err = c.AdmitOrganization(ctx, customer)
	require.NoError(t, err)

	// The organization was created and later deleted: live count is 0 again.
	c.Forget(ctx, ResourceOrganizations, customer)
	_, err = c.AdmitOrganization(ctx, customer)
	require.NoError(t, err)
}

func newController(t *testing.T, f featureResolver, counter Counter, reserver Reserver) *Controller {
	t.Helper()
	params := ControllerParams{Features: f, Counter: counter}
	if reserver != nil {
		params.Reserver = reserver
	}
	c, err := NewController(params)
	require.NoError(t, err)
	return c
}

func features(orgs, members int) *stubFeatures {
	return &stubFeatures{active: &subscriptions.Active{
		PlanID:   enums.PlanBasic,
		Features: subscriptions.Features{MaxOrganizations: orgs, MaxUsersPerOrganization: members},
	}}
}

func runConcurrent(n int, fn func() bool) int {
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if fn() {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return admitted
}

type stubFeatures struct {
	active *subscriptions.Active
	err    error
}

func (s *stubFeatures) ActiveFeatures(context.Context, uuid.UUID) (*subscriptions.Active, error) {
	return s.active, s.err
}

type stubCounter struct {
	orgs        int64
	members     int64
	memberCalls int
	err         error
}

func (s *stubCounter) CountActiveOrganizations(context.Context, uuid.UUID) (int64, error) {
	return s.orgs, s.err
}

func (s *stubCounter) CountActiveMembers(context.Context, uuid.UUID) (int64, error) {
	s.memberCalls++
	return s.members, s.err
}

// barrierCounter returns zero to every caller but holds each one until n
// callers have read, forcing the read phases to overlap.
type barrierCounter struct {
	wg sync.WaitGroup
}

func newBarrierCounter(n int) *barrierCounter {
	b := &barrierCounter{}
	b.wg.Add(n)
	return b
}

func (b *barrierCounter) CountActiveOrganizations(context.Context, uuid.UUID) (int64, error) {
	b.wg.Done()
	b.wg.Wait()
	return 0, nil
}

func (b *barrierCounter) CountActiveMembers(ctx context.Context, id uuid.UUID) (int64, error) {
	return b.CountActiveOrganizations(ctx, id)
}

type fakeReserver struct {
	mu     sync.Mutex
	counts map[string]int64
}

func newFakeReserver() *fakeReserver {
	return &fakeReserver{counts: map[string]int64{}}
}

func (f *fakeReserver) ReserveSlot(_ context.Context, key string, limit, seed int64) (bool, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	current, ok := f.counts[key]
	if !ok {
		current = seed
	}
	if limit >= 0 && current >= limit {
		f.counts[key] = current
		return false, 0, nil
	}
	f.counts[key] = current + 1
	return true, current + 1, nil
}

func (f *fakeReserver) ReleaseSlot(_ context.Context, key string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.counts[key] > 0 {
		f.counts[key]--
	}
	return f.counts[key], nil
}

func (f *fakeReserver) Del(_ context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		delete(f.counts, k)
	}
	return nil
}

func (f *fakeReserver) QuotaKey(resource, owner string) string {
	return resource + ":" + owner
}
