package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestMetricsRegisterAndCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.IncOffersSent(3)
	m.IncOffersFailed()
	m.IncSlotsFilled()
	m.IncInboundReply("accept")
	m.IncInboundReply("accept")
	m.ObserveSweep(0.05)

	assert.Equal(t, 3.0, counterValue(t, m.OffersSent))
	assert.Equal(t, 1.0, counterValue(t, m.OffersFailed))
	assert.Equal(t, 1.0, counterValue(t, m.SlotsFilled))
	assert.Equal(t, 2.0, counterValue(t, m.InboundReplies.WithLabelValues("accept")))
	assert.Equal(t, 1.0, counterValue(t, m.SweepRuns))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.IncOffersSent(1)
		m.IncOffersFailed()
		m.IncOffersSent(0)
		m.IncBatchesDispatched()
		m.IncSlotsFilled()
		m.IncSlotsExpired()
		m.IncSlotsAborted()
		m.IncInboundReply("help")
		m.ObserveSweep(0.1)
	})
}
