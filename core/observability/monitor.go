package observability

import (
	"bytes"
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"

	"github.com/searchktools/cyclone/core/http"
)

// Monitor records request and connection metrics. A nil *Monitor is a
// valid no-op monitor.
type Monitor struct {
	requestsTotal       *prometheus.CounterVec
	requestDuration     *prometheus.HistogramVec
	requestsInFlight    prometheus.Gauge
	activeConnections   prometheus.Gauge
	connectionsAccepted prometheus.Counter
	protocolErrors      *prometheus.CounterVec
	failures            *prometheus.CounterVec

	gatherer prometheus.Gatherer

	global struct {
		totalRequests atomic.Uint64
		totalErrors   atomic.Uint64
	}
}

// NewMonitor registers the collectors on reg, along with the Go runtime
// and process collectors.
func NewMonitor(reg *prometheus.Registry) *Monitor {
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Monitor{
		requestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cyclone_http_requests_total",
				Help: "Total number of handled requests by method, route and status",
			},
			[]string{"method", "route", "status"},
		),
		requestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cyclone_http_request_duration_seconds",
				Help:    "Time from parsed head to response produced",
				Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5},
			},
			[]string{"method", "route"},
		),
		requestsInFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "cyclone_http_requests_in_flight",
			Help: "Requests currently inside the middleware pipeline",
		}),
		activeConnections: f.NewGauge(prometheus.GaugeOpts{
			Name: "cyclone_connections_active",
			Help: "Open client connections",
		}),
		connectionsAccepted: f.NewCounter(prometheus.CounterOpts{
			Name: "cyclone_connections_accepted_total",
			Help: "Accepted client connections",
		}),
		protocolErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cyclone_protocol_errors_total",
				Help: "Requests rejected at the connection level by status",
			},
			[]string{"status"},
		),
		failures: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cyclone_request_failures_total",
				Help: "Requests that failed inside the pipeline by error class",
			},
			[]string{"class"},
		),
		gatherer: reg,
	}
}

// RecordRequest records a completed request.
func (m *Monitor) RecordRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.requestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method, route).Observe(d.Seconds())
	m.global.totalRequests.Add(1)
	if status >= 500 {
		m.global.totalErrors.Add(1)
	}
}

func (m *Monitor) RequestStarted() {
	if m != nil {
		m.requestsInFlight.Inc()
	}
}

func (m *Monitor) RequestFinished() {
	if m != nil {
		m.requestsInFlight.Dec()
	}
}

func (m *Monitor) ConnectionOpened() {
	if m != nil {
		m.connectionsAccepted.Inc()
		m.activeConnections.Inc()
	}
}

func (m *Monitor) ConnectionClosed() {
	if m != nil {
		m.activeConnections.Dec()
	}
}

// ProtocolError counts a request rejected before dispatch.
func (m *Monitor) ProtocolError(status int) {
	if m != nil {
		m.protocolErrors.WithLabelValues(strconv.Itoa(status)).Inc()
	}
}

// Failure counts a request that ended in the FAILED state.
func (m *Monitor) Failure(class string) {
	if m != nil {
		m.failures.WithLabelValues(class).Inc()
	}
}

// Snapshot is a cheap summary of the global counters.
type Snapshot struct {
	TotalRequests uint64 `json:"total_requests"`
	TotalErrors   uint64 `json:"total_errors"`
}

func (m *Monitor) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	return Snapshot{
		TotalRequests: m.global.totalRequests.Load(),
		TotalErrors:   m.global.totalErrors.Load(),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Monitor) Handler() http.Handler {
	return http.HandlerFunc(func(ctx context.Context, req *http.Request) (*http.Response, error) {
		if m == nil {
			return nil, http.NewError(http.StatusNotFound, "metrics disabled")
		}
		families, err := m.gatherer.Gather()
		if err != nil {
			return nil, errors.Wrap(err, "gather metrics")
		}
		var buf bytes.Buffer
		enc := expfmt.NewEncoder(&buf, expfmt.FmtText)
		for _, mf := range families {
			if err := enc.Encode(mf); err != nil {
				return nil, errors.Wrap(err, "encode metrics")
			}
		}
		return http.Bytes(http.StatusOK, string(expfmt.FmtText), buf.Bytes()), nil
	})
}
