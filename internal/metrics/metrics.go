package metrics

import "github.com/prometheus/client_golang/prometheus"

// Scheduling exposes counters for slot and booking operations. A nil
// *Scheduling is valid and records nothing.
type Scheduling struct {
	transitions        *prometheus.CounterVec
	slotMutations      *prometheus.CounterVec
	capacityRejections prometheus.Counter
	capacityDrift      prometheus.Gauge
}

func NewScheduling(reg prometheus.Registerer) *Scheduling {
	m := &Scheduling{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "booking",
			Name:      "transitions_total",
			Help:      "Booking lifecycle events by outcome",
		}, []string{"event", "outcome"}),
		slotMutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "slot",
			Name:      "mutations_total",
			Help:      "Slot registry mutations by operation and outcome",
		}, []string{"op", "outcome"}),
		capacityRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "slot",
			Name:      "capacity_rejections_total",
			Help:      "Reservations refused because the slot was full",
		}),
		capacityDrift: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "clinic",
			Subsystem: "slot",
			Name:      "capacity_drift_slots",
			Help:      "Slots whose booked count disagrees with their bookings at the last reconcile",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.transitions, m.slotMutations, m.capacityRejections, m.capacityDrift)
	return m
}

func (m *Scheduling) ObserveTransition(event, outcome string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(event, outcome).Inc()
}

func (m *Scheduling) ObserveSlotMutation(op, outcome string) {
	if m == nil {
		return
	}
	m.slotMutations.WithLabelValues(op, outcome).Inc()
}

func (m *Scheduling) ObserveCapacityRejection() {
	if m == nil {
		return
	}
	m.capacityRejections.Inc()
}

func (m *Scheduling) SetCapacityDrift(slots int) {
	if m == nil {
		return
	}
	m.capacityDrift.Set(float64(slots))
}
