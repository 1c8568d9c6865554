package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gathered(t *testing.T, registry *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := registry.Gather()
	require.NoError(t, err)

	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		total := 0.0
		for _, m := range mf.GetMetric() {
			if m.GetCounter() != nil {
				total += m.GetCounter().GetValue()
			}
			if m.GetGauge() != nil {
				total += m.GetGauge().GetValue()
			}
		}
		return total
	}
	return 0
}

func TestMetrics(t *testing.T) {
	t.Run("records counters and gauges", func(t *testing.T) {
		registry := prometheus.NewRegistry()
		m := New(registry)

		m.Match()
		m.Match()
		m.Rating("bad", "client")
		m.Rating("good", "timeout")
		m.SetWaiting(3)
		m.SessionConnected()

		assert.Equal(t, 2.0, gathered(t, registry, "rendezvous_matches_total"))
		assert.Equal(t, 2.0, gathered(t, registry, "rendezvous_ratings_total"))
		assert.Equal(t, 3.0, gathered(t, registry, "rendezvous_waiting_sessions"))
		assert.Equal(t, 1.0, gathered(t, registry, "rendezvous_connected_sessions"))
	})

	t.Run("nil metrics are a no-op", func(t *testing.T) {
		var m *Metrics
		assert.NotPanics(t, func() {
			m.Match()
			m.Skip()
			m.SetRooms(1)
			m.Logon("accepted")
		})
	})
}
