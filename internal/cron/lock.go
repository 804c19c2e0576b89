package cron

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/payroll-backend/pkg/redis"
)

const defaultLockTTL = time.Hour

// ErrLockLost means the lock expired mid-cycle and another worker took it.
var ErrLockLost = errors.New("cron lock held by another worker")

// Lock gives one cron worker at a time the right to run a cycle.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

type lockStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	ReleaseIfOwner(ctx context.Context, key, token string) (int64, error)
}

// RedisLock holds key with a fresh owner token per cycle. The TTL caps how
// long a crashed worker blocks the schedule.
type RedisLock struct {
	store lockStore
	key   string
	ttl   time.Duration
	owner string
	token string
}

func NewRedisLock(store lockStore, key string, ttl time.Duration) (*RedisLock, error) {
	switch {
	case store == nil:
		return nil, errors.New("redis client required for lock")
	case key == "":
		return nil, errors.New("lock key is required")
	}
	host, _ := os.Hostname()
	if host == "" {
		host = "unknown"
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisLock{
		store: store,
		key:   key,
		ttl:   ttl,
		owner: fmt.Sprintf("%s/%d", host, os.Getpid()),
	}, nil
}

func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	token := l.owner + "/" + uuid.NewString()
	ok, err := l.store.SetNX(ctx, l.key, token, l.ttl)
	if err != nil {
		return false, fmt.Errorf("acquire %s: %w", l.key, err)
	}
	if ok {
		l.token = token
	}
	return ok, nil
}

// Release is a no-op unless Acquire succeeded. It reports ErrLockLost when
// the key now belongs to someone else.
func (l *RedisLock) Release(ctx context.Context) error {
	token := l.token
	if token == "" {
		return nil
	}
	l.token = ""

	outcome, err := l.store.ReleaseIfOwner(ctx, l.key, token)
	if err != nil {
		return err
	}
	if outcome == redis.LockStolen {
		return fmt.Errorf("%w: %s", ErrLockLost, l.key)
	}
	return nil
}
