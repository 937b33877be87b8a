// Package metrics exposes Prometheus counters for the query responder
// and the HTTP API.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// QueryMetrics contains the Prometheus metrics of the A2S query path.
// A nil *QueryMetrics is valid and records nothing.
type QueryMetrics struct {
	Requests          *prometheus.CounterVec
	Responses         *prometheus.CounterVec
	Dropped           *prometheus.CounterVec
	ChallengeFailures prometheus.Counter
	BuildFailures     prometheus.Counter
	ResponseBytes     prometheus.Counter
	ResponseSize      prometheus.Histogram

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewQueryMetrics creates the metrics and registers them with reg.
// Passing prometheus.DefaultRegisterer exposes them on the default handler.
func NewQueryMetrics(reg prometheus.Registerer) *QueryMetrics {
	factory := promauto.With(reg)
	return &QueryMetrics{
		Requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sourcequery_requests_total",
			Help: "Total number of well-framed A2S requests by kind",
		}, []string{"kind"}),
		Responses: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sourcequery_responses_total",
			Help: "Total number of A2S responses built by response kind",
		}, []string{"kind"}),
		Dropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sourcequery_dropped_total",
			Help: "Total number of datagrams dropped without a response",
		}, []string{"reason"}),
		ChallengeFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "sourcequery_challenge_failures_total",
			Help: "Total number of player/rules requests with an invalid challenge",
		}),
		BuildFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "sourcequery_build_failures_total",
			Help: "Total number of responses abandoned due to an internal failure",
		}),
		ResponseBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "sourcequery_response_bytes_total",
			Help: "Total bytes of A2S responses built",
		}),
		ResponseSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "sourcequery_response_size_bytes",
			Help:    "Size of A2S responses",
			Buckets: []float64{16, 64, 128, 256, 512, 1024, 1400},
		}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sourcequery_http_requests_total",
			Help: "Total number of HTTP API requests",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sourcequery_http_request_duration_seconds",
			Help:    "HTTP API request duration",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
}

// ObserveRequest counts a well-framed request.
func (m *QueryMetrics) ObserveRequest(kind string) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(kind).Inc()
}

// ObserveResponse counts a built response and its size.
func (m *QueryMetrics) ObserveResponse(kind string, size int) {
	if m == nil {
		return
	}
	m.Responses.WithLabelValues(kind).Inc()
	m.ResponseBytes.Add(float64(size))
	m.ResponseSize.Observe(float64(size))
}

// ObserveDrop counts a datagram dropped for reason.
func (m *QueryMetrics) ObserveDrop(reason string) {
	if m == nil {
		return
	}
	m.Dropped.WithLabelValues(reason).Inc()
}

// ObserveChallengeFailure counts a rejected challenge.
func (m *QueryMetrics) ObserveChallengeFailure() {
	if m == nil {
		return
	}
	m.ChallengeFailures.Inc()
}

// ObserveBuildFailure counts an abandoned response.
func (m *QueryMetrics) ObserveBuildFailure() {
	if m == nil {
		return
	}
	m.BuildFailures.Inc()
}

// ObserveHTTP records one API request. path should be the route template
// so that label cardinality stays bounded.
func (m *QueryMetrics) ObserveHTTP(method, path string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(d.Seconds())
}
