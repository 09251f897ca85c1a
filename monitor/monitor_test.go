package monitor

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMonitor_Counters(t *testing.T) {
	m := NewTestMonitor()

	m.IncEventsReceived("FlipInitiated")
	m.IncEventsReceived("FlipInitiated")
	m.IncTxFailed("settleFlip")
	m.IncNotifications(true)
	m.IncNotifications(false)
	m.SetWatcherState("randomness", 2)

	if got := testutil.ToFloat64(m.Metrics().EventsReceived.WithLabelValues("FlipInitiated")); got != 2 {
		t.Errorf("Expected 2 events, got %v", got)
	}
	if got := testutil.ToFloat64(m.Metrics().TxFailed.WithLabelValues("settleFlip")); got != 1 {
		t.Errorf("Expected 1 failure, got %v", got)
	}
	if got := testutil.ToFloat64(m.Metrics().NotificationFailed); got != 1 {
		t.Errorf("Expected 1 failed notification, got %v", got)
	}
	if got := testutil.ToFloat64(m.Metrics().WatcherState.WithLabelValues("randomness")); got != 2 {
		t.Errorf("Expected state 2, got %v", got)
	}
	if m.EventCount() != 2 {
		t.Errorf("Expected event count 2, got %d", m.EventCount())
	}
}

func TestMonitor_Handler(t *testing.T) {
	m := NewTestMonitor()
	m.IncTxSent("deliverNumbers")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if !strings.Contains(rec.Body.String(), `test_contract_calls_total{method="deliverNumbers"} 1`) {
		t.Errorf("Metric missing from output:\n%s", rec.Body.String())
	}
}
