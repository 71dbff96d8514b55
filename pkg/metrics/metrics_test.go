package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"github.com/RGB-WG/rgb-std-sub001/pkg/metrics"
)

func counterValue(t *testing.T, c prometheus.Collector) float64 {
	t.Helper()
	ch := make(chan prometheus.Metric, 1)
	c.Collect(ch)
	var m dto.Metric
	require.NoError(t, (<-ch).Write(&m))
	return m.GetCounter().GetValue()
}

func TestNewRegistersAllCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	require.NotNil(t, m)

	families, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)
}

func TestRecordWriteIncrementsByMapName(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	m.RecordWrite("hoard")
	m.RecordWrite("hoard")
	m.RecordWrite("keep")

	require.Equal(t, float64(2), counterValue(t, m.PileWrites.WithLabelValues("hoard")))
	require.Equal(t, float64(1), counterValue(t, m.PileWrites.WithLabelValues("keep")))
}

func TestHealthStatusTransitionsToError(t *testing.T) {
	h := metrics.NewHealthStatus()
	require.Equal(t, "starting", h.OverallStatus())

	h.SetPile("connected")
	h.SetMound("ready")
	require.Equal(t, "ok", h.OverallStatus())

	h.SetPile("disconnected")
	require.Equal(t, "error", h.OverallStatus())
}

func TestHealthStatusDegradesOnChainOracle(t *testing.T) {
	h := metrics.NewHealthStatus()
	h.SetPile("connected")
	h.SetMound("ready")
	require.Equal(t, "ok", h.OverallStatus())

	h.SetChainOracle("disconnected")
	require.Equal(t, "degraded", h.OverallStatus())
}

func TestHealthStatusToJSONIncludesUptime(t *testing.T) {
	h := metrics.NewHealthStatus()
	body := h.ToJSON()
	require.Contains(t, string(body), `"uptime_seconds"`)
}
