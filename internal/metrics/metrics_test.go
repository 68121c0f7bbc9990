package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"github.com/mnv104/capfs-sub000/internal/metrics"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestManagerCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewManager(reg)

	m.WCommitOK.Inc()
	m.WCommitOK.Inc()
	m.WCommitConflict.Inc()

	require.Equal(t, float64(2), counterValue(t, m.WCommitOK))
	require.Equal(t, float64(1), counterValue(t, m.WCommitConflict))

	families, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)
}

func TestDataServerCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	d := metrics.NewDataServer(reg)

	d.PutBytes.Add(16384)
	d.GetHits.Inc()
	d.GetMisses.Inc()
	d.ZeroChunks.Inc()

	require.Equal(t, float64(16384), counterValue(t, d.PutBytes))
	require.Equal(t, float64(1), counterValue(t, d.GetHits))
}
