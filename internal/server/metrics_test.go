package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestWithMetricsRecordsRoutedRequest(t *testing.T) {
	m := NewMetrics()

	handler := m.WithMetrics(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	r := httptest.NewRequest(http.MethodGet, "/v1/", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	got := testutil.ToFloat64(m.RequestsRouted.WithLabelValues(http.MethodGet, "/v1/", "200"))
	if got != 1 {
		t.Errorf("RequestsRouted = %v, want 1", got)
	}
}
