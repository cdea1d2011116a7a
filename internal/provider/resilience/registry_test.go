package resilience_test

import (
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ellwoodwx/stationsync/internal/provider/resilience"
)

func registered(t *testing.T, names ...string) *resilience.Registry {
	t.Helper()
	registry := resilience.NewRegistry()
	for _, name := range names {
		cfg := resilience.DefaultClientConfig(name)
		cfg.Registry = registry
		_ = resilience.NewClient(cfg)
	}
	return registry
}

func TestRegistry_RegisterAndGetHealth(t *testing.T) {
	registry := registered(t, "ambient")

	health := registry.GetHealth("ambient")
	require.NotNil(t, health)
	assert.Equal(t, gobreaker.StateClosed, health.CircuitState)
	assert.Equal(t, resilience.StatusHealthy, health.Status())
	assert.Nil(t, health.LastSuccessAt)
	assert.True(t, registry.Healthy())

	assert.Nil(t, registry.GetHealth("nonexistent"))
}

func TestRegistry_RecordOutcomes(t *testing.T) {
	registry := registered(t, "ambient")

	registry.RecordSuccess("ambient")
	registry.RecordFailure("ambient", assert.AnError)

	health := registry.GetHealth("ambient")
	require.NotNil(t, health)
	require.NotNil(t, health.LastSuccessAt)
	require.NotNil(t, health.LastFailureAt)
	assert.WithinDuration(t, time.Now(), *health.LastFailureAt, time.Second)
	assert.Equal(t, assert.AnError.Error(), health.LastError)

	// Unknown names are ignored.
	registry.RecordSuccess("nonexistent")
	registry.RecordFailure("nonexistent", assert.AnError)
}

func TestRegistry_SnapshotSorted(t *testing.T) {
	registry := registered(t, "zeta", "alpha", "mid")

	snap := registry.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "alpha", snap[0].Name)
	assert.Equal(t, "mid", snap[1].Name)
	assert.Equal(t, "zeta", snap[2].Name)
}

func TestProviderHealth_Status(t *testing.T) {
	tests := []struct {
		state gobreaker.State
		want  string
	}{
		{gobreaker.StateClosed, resilience.StatusHealthy},
		{gobreaker.StateHalfOpen, resilience.StatusDegraded},
		{gobreaker.StateOpen, resilience.StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			h := &resilience.ProviderHealth{CircuitState: tt.state}
			assert.Equal(t, tt.want, h.Status())
		})
	}
}
