package cron

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type stubJob struct {
	name string
}

func (s *stubJob) Name() string              { return s.name }
func (s *stubJob) Run(context.Context) error { return nil }

func TestRegistryKeepsOrderAndCopies(t *testing.T) {
	redeliver := &stubJob{name: "payroll-redelivery"}
	repair := &stubJob{name: "count-repair"}
	registry, err := NewRegistry(redeliver, nil, repair)
	require.NoError(t, err)
	require.Equal(t, []string{"payroll-redelivery", "count-repair"}, registry.Names())

	jobs := registry.Jobs()
	jobs[0] = nil
	require.Same(t, redeliver, registry.Jobs()[0])
}

func TestRegistryRejectsDuplicateNames(t *testing.T) {
	_, err := NewRegistry(&stubJob{name: "count-repair"}, &stubJob{name: "count-repair"})
	require.ErrorContains(t, err, "already registered")

	var r Registry
	require.Error(t, r.Register(&stubJob{}))
	require.NoError(t, r.Register(&stubJob{name: "outbox-retention"}))
}
