package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestQueryMetrics_Counters(t *testing.T) {
	m := NewQueryMetrics(prometheus.NewRegistry())

	m.ObserveRequest("info")
	m.ObserveRequest("info")
	m.ObserveResponse("info", 100)
	m.ObserveDrop("short")
	m.ObserveChallengeFailure()
	m.ObserveBuildFailure()

	if got := testutil.ToFloat64(m.Requests.WithLabelValues("info")); got != 2 {
		t.Errorf("requests = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.ResponseBytes); got != 100 {
		t.Errorf("response bytes = %v, want 100", got)
	}
	if got := testutil.ToFloat64(m.Dropped.WithLabelValues("short")); got != 1 {
		t.Errorf("dropped = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ChallengeFailures); got != 1 {
		t.Errorf("challenge failures = %v, want 1", got)
	}
}

func TestQueryMetrics_NilIsNoop(t *testing.T) {
	var m *QueryMetrics
	m.ObserveRequest("info")
	m.ObserveResponse("info", 1)
	m.ObserveDrop("short")
	m.ObserveChallengeFailure()
	m.ObserveBuildFailure()
	m.ObserveHTTP("GET", "/api/public/ping", 200, time.Millisecond)
}

func TestNewQueryMetrics_SeparateRegistries(t *testing.T) {
	NewQueryMetrics(prometheus.NewRegistry())
	NewQueryMetrics(prometheus.NewRegistry())
}

func TestQueryMetrics_HTTP(t *testing.T) {
	m := NewQueryMetrics(prometheus.NewRegistry())
	m.ObserveHTTP("GET", "/api/public/info", 200, 5*time.Millisecond)
	m.ObserveHTTP("GET", "/api/public/info", 200, 5*time.Millisecond)
	m.ObserveHTTP("PUT", "/api/state/info", 401, time.Millisecond)

	if got := testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "/api/public/info", "200")); got != 2 {
		t.Errorf("GET requests = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.HTTPRequests.WithLabelValues("PUT", "/api/state/info", "401")); got != 1 {
		t.Errorf("PUT requests = %v, want 1", got)
	}
}
