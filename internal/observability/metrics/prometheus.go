package metrics

import (
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "research"

// Collectors holds the Prometheus series exported on /metrics.
type Collectors struct {
	Transitions  *prometheus.CounterVec
	Callbacks    *prometheus.CounterVec
	JobsByStatus *prometheus.GaugeVec

	HTTPRequests *prometheus.CounterVec
	HTTPLatency  *prometheus.HistogramVec
}

// NewCollectors builds unregistered collectors. Call Register before use on a
// shared registry.
func NewCollectors() *Collectors {
	return &Collectors{
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_transitions_total",
			Help:      "Research job lifecycle steps partitioned by transition and result.",
		}, []string{"transition", "result"}),
		Callbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_callbacks_total",
			Help:      "Engine callbacks partitioned by how they were handled.",
		}, []string{"outcome"}),
		JobsByStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs",
			Help:      "Number of research jobs by status as of the last stats sweep.",
		}, []string{"status"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests partitioned by status code, method and route pattern.",
		}, []string{"code", "method", "path"}),
		HTTPLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Time spent serving HTTP requests partitioned by status code, method and route pattern.",
			Buckets:   []float64{0.005, 0.025, 0.1, 0.3, 0.5, 1, 5},
		}, []string{"code", "method", "path"}),
	}
}

// Register adds every collector to reg. Collectors already registered with reg
// are tolerated so tests can share the default registry.
func (c *Collectors) Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, col := range []prometheus.Collector{
		c.Transitions, c.Callbacks, c.JobsByStatus, c.HTTPRequests, c.HTTPLatency,
	} {
		if err := reg.Register(col); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveHTTP records one served request. path should be the matched route pattern,
// never the raw URL, to keep cardinality bounded.
func (c *Collectors) ObserveHTTP(method, path string, code int, elapsed time.Duration) {
	if c == nil {
		return
	}
	if path == "" {
		path = "unmatched"
	}
	status := strconv.Itoa(code)
	c.HTTPRequests.WithLabelValues(status, method, path).Inc()
	c.HTTPLatency.WithLabelValues(status, method, path).Observe(elapsed.Seconds())
}
