package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestMetricsExposition(t *testing.T) {
	m := New()
	m.ObserveCreate(true, false)
	m.ObserveCreate(true, true)
	m.ObserveConsume(OutcomeServed)
	m.ObserveConsume(OutcomeUnavailable)
	m.ObserveStoreOp("memory", "get", 3*time.Millisecond, nil)
	m.ObserveStoreOp("memory", "put", time.Millisecond, errors.New("boom"))

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	body := w.Body.String()
	for _, want := range []string{
		`vanish_pastes_created_total{policy="ttl"} 1`,
		`vanish_pastes_created_total{policy="ttl+views"} 1`,
		`vanish_paste_consumes_total{outcome="served"} 1`,
		`vanish_paste_consumes_total{outcome="unavailable"} 1`,
		`vanish_store_operation_duration_seconds_count{backend="memory",op="put",result="error"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveCreate(false, false)
	m.ObserveConsume(OutcomeError)
	m.ObserveStoreOp("redis", "ping", time.Second, nil)
}
