package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "waitline"

// Metrics bundles the counters the offer engine reports. A nil *Metrics is
// safe to use everywhere; recording on it is a no-op.
type Metrics struct {
	OffersSent        prometheus.Counter
	OffersFailed      prometheus.Counter
	OffersExpired     prometheus.Counter
	BatchesDispatched prometheus.Counter
	SlotsFilled       prometheus.Counter
	SlotsExpired      prometheus.Counter
	SlotsAborted      prometheus.Counter
	InboundReplies    *prometheus.CounterVec
	SweepRuns         prometheus.Counter
	SweepDuration     prometheus.Histogram
}

// New registers the engine's collectors on reg and returns the bundle.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OffersSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "offers",
			Name:      "sent_total",
			Help:      "Offers successfully delivered to patients.",
		}),
		OffersFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "offers",
			Name:      "failed_total",
			Help:      "Offers whose SMS delivery failed.",
		}),
		OffersExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "offers",
			Name:      "expired_total",
			Help:      "Offers expired by the hold-timer sweep.",
		}),
		BatchesDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "offers",
			Name:      "batches_dispatched_total",
			Help:      "Offer batches issued across all slots.",
		}),
		SlotsFilled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "slots",
			Name:      "filled_total",
			Help:      "Cancellation slots claimed by a patient.",
		}),
		SlotsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "slots",
			Name:      "expired_total",
			Help:      "Cancellation slots that ran out of eligible patients.",
		}),
		SlotsAborted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "slots",
			Name:      "aborted_total",
			Help:      "Cancellation slots voided by staff.",
		}),
		InboundReplies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sms",
			Name:      "inbound_replies_total",
			Help:      "Inbound patient replies by parsed action.",
		}, []string{"action"}),
		SweepRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweeper",
			Name:      "runs_total",
			Help:      "Hold-timer sweep cycles executed.",
		}),
		SweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sweeper",
			Name:      "duration_seconds",
			Help:      "Duration of one sweep cycle.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.OffersSent, m.OffersFailed, m.OffersExpired, m.BatchesDispatched,
			m.SlotsFilled, m.SlotsExpired, m.SlotsAborted,
			m.InboundReplies, m.SweepRuns, m.SweepDuration,
		)
	}

	return m
}

// IncOffersSent adds n sends, tolerating a nil receiver.
func (m *Metrics) IncOffersSent(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.OffersSent.Add(float64(n))
}

// IncOffersFailed counts one failed delivery.
func (m *Metrics) IncOffersFailed() {
	if m == nil {
		return
	}
	m.OffersFailed.Inc()
}

// IncOffersExpired adds n offers expired by a sweep.
func (m *Metrics) IncOffersExpired(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.OffersExpired.Add(float64(n))
}

// IncBatchesDispatched counts one issued batch.
func (m *Metrics) IncBatchesDispatched() {
	if m == nil {
		return
	}
	m.BatchesDispatched.Inc()
}

// IncSlotsFilled counts one claimed slot.
func (m *Metrics) IncSlotsFilled() {
	if m == nil {
		return
	}
	m.SlotsFilled.Inc()
}

// IncSlotsExpired counts one exhausted slot.
func (m *Metrics) IncSlotsExpired() {
	if m == nil {
		return
	}
	m.SlotsExpired.Inc()
}

// IncSlotsAborted counts one staff-voided slot.
func (m *Metrics) IncSlotsAborted() {
	if m == nil {
		return
	}
	m.SlotsAborted.Inc()
}

// IncInboundReply counts one inbound reply by action.
func (m *Metrics) IncInboundReply(action string) {
	if m == nil {
		return
	}
	m.InboundReplies.WithLabelValues(action).Inc()
}

// ObserveSweep records one sweep cycle.
func (m *Metrics) ObserveSweep(seconds float64) {
	if m == nil {
		return
	}
	m.SweepRuns.Inc()
	m.SweepDuration.Observe(seconds)
}
