package sequence

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/payroll-backend/pkg/config"
	"github.com/angelmondragon/payroll-backend/pkg/db/dbtest"
	pkgerrors "github.com/angelmondragon/payroll-backend/pkg/errors"
)

func TestDBAllocatorSequential(t *testing.T) {
	client := dbtest.Open(t)
	alloc, err := NewDBAllocator(client)
	require.NoError(t, err)

	ctx := context.Background()
	for want := int64(1); want <= 3; want++ {
		got, err := alloc.NextValue(ctx, OrganizationCounter)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}

	other, err := alloc.NextValue(ctx, UserCounter)
	require.NoError(t, err)
	require.Equal(t, int64(1), other, "counters are independent")
}

func TestDBAllocatorConcurrentDistinctAndGapless(t *testing.T) {
	client := dbtest.Open(t)
	alloc, err := NewDBAllocator(client)
	require.NoError(t, err)

	const n = 25
	values := collectConcurrent(t, alloc, n)
	assertGapless(t, values, n)
}

func TestRedisAllocatorConcurrentDistinctAndGapless(t *testing.T) {
	alloc, err := NewRedisAllocator(newFakeIncr())
	require.NoError(t, err)

	const n = 200
	values := collectConcurrent(t, alloc, n)
	assertGapless(t, values, n)
}

func TestRedisAllocatorFailureIsAllocationError(t *testing.T) {
	store := newFakeIncr()
	store.err = errors.New("connection refused")
	alloc, err := NewRedisAllocator(store)
	require.NoError(t, err)

	_, err = alloc.NextValue(context.Background(), OrganizationCounter)
	require.Error(t, err)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeAllocation))
}

func TestNextValueRequiresName(t *testing.T) {
	alloc, err := NewRedisAllocator(newFakeIncr())
	require.NoError(t, err)

	_, err = alloc.NextValue(context.Background(), "  ")
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestIssuerCodes(t *testing.T) {
	issuer := NewIssuer(mustRedisAllocator(t), 0)
	ctx := context.Background()

	org, err := issuer.OrganizationCode(ctx)
	require.NoError(t, err)
	require.Equal(t, "ORG001", org)

	org, err = issuer.OrganizationCode(ctx)
	require.NoError(t, err)
	require.Equal(t, "ORG002", org)

	user, err := issuer.UserCode(ctx)
	require.NoError(t, err)
	require.Equal(t, "USER001", user)

	customer, err := issuer.CustomerCode(ctx)
	require.NoError(t, err)
	require.Equal(t, "CUSTOMER001", customer)
}

func TestIssuerDoesNotFabricateOnFailure(t *testing.T) {
	store := newFakeIncr()
	store.err = errors.New("down")
	alloc, err := NewRedisAllocator(store)
	require.NoError(t, err)

	code, err := NewIssuer(alloc, 3).UserCode(context.Background())
	require.Error(t, err)
	require.Empty(t, code)
}

func TestNewIssuerFromConfig(t *testing.T) {
	ctx := context.Background()

	issuer, err := NewIssuerFromConfig(config.SequenceConfig{Backend: config.SequenceBackendRedis, PadWidth: 4}, nil, newFakeIncr())
	require.NoError(t, err)
	code, err := issuer.CustomerCode(ctx)
	require.NoError(t, err)
	require.Equal(t, "CUSTOMER0001", code)

	issuer, err = NewIssuerFromConfig(config.SequenceConfig{Backend: config.SequenceBackendDB}, dbtest.Open(t), nil)
	require.NoError(t, err)
	code, err = issuer.OrganizationCode(ctx)
	require.NoError(t, err)
	require.Equal(t, "ORG001", code)

	_, err = NewIssuerFromConfig(config.SequenceConfig{Backend: "etcd"}, nil, nil)
	require.Error(t, err)
}

func collectConcurrent(t *testing.T, alloc Allocator, n int) []int64 {
	t.Helper()
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		values []int64
		errs   []error
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := alloc.NextValue(context.Background(), OrganizationCounter)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			values = append(values, v)
		}()
	}
	wg.Wait()
	require.Empty(t, errs)
	return values
}

func assertGapless(t *testing.T, values []int64, n int) {
	t.Helper()
	require.Len(t, values, n)
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })
	for i, v := range values {
		require.Equal(t, int64(i+1), v)
	}
}

func mustRedisAllocator(t *testing.T) *RedisAllocator {
	t.Helper()
	alloc, err := NewRedisAllocator(newFakeIncr())
	require.NoError(t, err)
	return alloc
}

type fakeIncr struct {
	mu     sync.Mutex
	values map[string]int64
	err    error
}

func newFakeIncr() *fakeIncr {
	return &fakeIncr{values: map[string]int64{}}
}

func (f *fakeIncr) Incr(_ context.Context, key string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.values[key]++
	return f.values[key], nil
}

func (f *fakeIncr) CounterKey(name string) string {
	return "counter:" + name
}
