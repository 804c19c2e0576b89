// Package sequence issues monotonic per-entity integers and formats them into
// human-readable identifiers such as ORG001.
package sequence

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/payroll-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/payroll-backend/pkg/errors"
)

// Counter names.
const (
	OrganizationCounter = "organization_id"
	UserCounter         = "user_id"
	CustomerCounter     = "customer_id"
)

// Allocator hands out the next value of a named counter. Values are never reused.
type Allocator interface {
	NextValue(ctx context.Context, name string) (int64, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// DBAllocator keeps counters in the resource_counters table.
type DBAllocator struct {
	db txRunner
}

// NewDBAllocator binds the allocator to a transactional database client.
func NewDBAllocator(db txRunner) (*DBAllocator, error) {
	if db == nil {
		return nil, fmt.Errorf("db client required")
	}
	return &DBAllocator{db: db}, nil
}

// NextValue increments the counter inside one transaction. The UPDATE holds the
// row lock until commit, so the value read back belongs to this caller only.
func (a *DBAllocator) NextValue(ctx context.Context, name string) (int64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "counter name is required")
	}

	var value int64
	err := a.db.WithTx(ctx, func(tx *gorm.DB) error {
		seed := models.ResourceCounter{Name: name}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
			return err
		}
		res := tx.Model(&models.ResourceCounter{}).
			Where("name = ?", name).
			Update("seq", gorm.Expr("seq + 1"))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return fmt.Errorf("counter %s not incremented", name)
		}
		var counter models.ResourceCounter
		if err := tx.Where("name = ?", name).First(&counter).Error; err != nil {
			return err
		}
		value = counter.Seq
		return nil
	})
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeAllocation, err, "allocate "+name)
	}
	return value, nil
}

type incrementer interface {
	Incr(ctx context.Context, key string) (int64, error)
	CounterKey(name string) string
}

// RedisAllocator keeps counters as Redis integers advanced with INCR.
type RedisAllocator struct {
	store incrementer
}

// NewRedisAllocator binds the allocator to a Redis client.
func NewRedisAllocator(store incrementer) (*RedisAllocator, error) {
	if store == nil {
		return nil, fmt.Errorf("redis client required")
	}
	return &RedisAllocator{store: store}, nil
}

// NextValue returns the post-increment value of the counter.
func (a *RedisAllocator) NextValue(ctx context.Context, name string) (int64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "counter name is required")
	}
	value, err := a.store.Incr(ctx, a.store.CounterKey(name))
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeAllocation, err, "allocate "+name)
	}
	return value, nil
}
