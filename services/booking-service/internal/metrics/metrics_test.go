package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestBookingMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewBookingMetrics(reg)
	m.ObserveAttempt("book", "success", 5*time.Millisecond)
	m.ObserveAttempt("book", "success", 5*time.Millisecond)
	m.ObserveAttempt("book", "conflict", time.Millisecond)
	m.ObserveSlotQuery("ok", time.Millisecond)
	m.ObserveOTP("send", "ok")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}
	if len(families) != 4 {
		t.Fatalf("expected 4 metric families, got %d", len(families))
	}
	var successes float64
	for _, mf := range families {
		if mf.GetName() != "clinicbook_booking_attempts_total" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range metric.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["operation"] == "book" && labels["result"] == "success" {
				successes = metric.GetCounter().GetValue()
			}
		}
	}
	if successes != 2 {
		t.Fatalf("expected 2 successful bookings, got %v", successes)
	}
}

func TestBookingMetricsNilSafe(t *testing.T) {
	var m *BookingMetrics
	m.ObserveAttempt("book", "success", time.Millisecond)
	m.ObserveSlotQuery("ok", time.Millisecond)
	m.ObserveOTP("verify", "ok")
}
