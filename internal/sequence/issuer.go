package sequence

import (
	"context"
	"fmt"
	"strings"

	"github.com/angelmondragon/payroll-backend/pkg/config"
)

// Issuer pairs an allocator with identifier formatting for callers that need
// ready-made codes.
type Issuer struct {
	alloc Allocator
	width int
}

// NewIssuer wraps alloc. width <= 0 falls back to DefaultWidth.
func NewIssuer(alloc Allocator, width int) *Issuer {
	if width <= 0 {
		width = DefaultWidth
	}
	return &Issuer{alloc: alloc, width: width}
}

// NewIssuerFromConfig picks the allocator named by cfg.Backend. store is only
// consulted for the redis backend.
func NewIssuerFromConfig(cfg config.SequenceConfig, db txRunner, store incrementer) (*Issuer, error) {
	var (
		alloc Allocator
		err   error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case config.SequenceBackendRedis:
		alloc, err = NewRedisAllocator(store)
	case config.SequenceBackendDB, "":
		alloc, err = NewDBAllocator(db)
	default:
		return nil, fmt.Errorf("unknown sequence backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	return NewIssuer(alloc, cfg.PadWidth), nil
}

// OrganizationCode allocates the next ORG identifier.
func (i *Issuer) OrganizationCode(ctx context.Context) (string, error) {
	return i.next(ctx, OrganizationCounter, OrganizationPrefix)
}

// UserCode allocates the next USER identifier.
func (i *Issuer) UserCode(ctx context.Context) (string, error) {
	return i.next(ctx, UserCounter, UserPrefix)
}

// CustomerCode allocates the next CUSTOMER identifier.
func (i *Issuer) CustomerCode(ctx context.Context) (string, error) {
	return i.next(ctx, CustomerCounter, CustomerPrefix)
}

func (i *Issuer) next(ctx context.Context, counter, prefix string) (string, error) {
	n, err := i.alloc.NextValue(ctx, counter)
	if err != nil {
		return "", err
	}
	return Format(prefix, n, i.width), nil
}
