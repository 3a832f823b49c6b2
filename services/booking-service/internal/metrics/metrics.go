package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// BookingMetrics exposes counters/histograms for the booking core and OTP flows.
type BookingMetrics struct {
	attempts    *prometheus.CounterVec
	slotQueries *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	otp         *prometheus.CounterVec
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinicbook",
			Subsystem: "booking",
			Name:      "attempts_total",
			Help:      "Booking writes by operation and result",
		}, []string{"operation", "result"}),
		slotQueries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinicbook",
			Subsystem: "booking",
			Name:      "slot_queries_total",
			Help:      "Available slot queries by result",
		}, []string{"result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clinicbook",
			Subsystem: "booking",
			Name:      "arbiter_duration_seconds",
			Help:      "Latency of booking arbiter operations",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		otp: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinicbook",
			Name:      "otp_requests_total",
			Help:      "OTP send/verify requests by result",
		}, []string{"action", "result"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.attempts, m.slotQueries, m.duration, m.otp)
	return m
}

func (m *BookingMetrics) ObserveAttempt(operation, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(operation, result).Inc()
	m.duration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

func (m *BookingMetrics) ObserveSlotQuery(result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.slotQueries.WithLabelValues(result).Inc()
	m.duration.WithLabelValues("available_slots").Observe(elapsed.Seconds())
}

func (m *BookingMetrics) ObserveOTP(action, result string) {
	if m == nil {
		return
	}
	m.otp.WithLabelValues(action, result).Inc()
}
