package metrics

import (
	"github.com/target/mmk-research-api/internal/domain/model"
	"github.com/target/mmk-research-api/internal/observability/statsd"
)

// Callback outcomes.
const (
	CallbackApplied      = "applied"
	CallbackDuplicate    = "duplicate"
	CallbackConflicting  = "conflicting"
	CallbackUnauthorized = "unauthorized"
	CallbackNotFound     = "not_found"
	CallbackInvalid      = "invalid"
)

// Recorder fans job metrics out to StatsD and Prometheus. Either backend may be nil,
// and a nil *Recorder is a no-op.
type Recorder struct {
	sink statsd.Sink
	prom *Collectors
}

// NewRecorder creates a Recorder over the given backends.
func NewRecorder(sink statsd.Sink, prom *Collectors) *Recorder {
	return &Recorder{sink: sink, prom: prom}
}

// Transition records a lifecycle step.
func (r *Recorder) Transition(in JobMetric) {
	if r == nil {
		return
	}
	EmitJobLifecycle(r.sink, in)
	if r.prom != nil {
		r.prom.Transitions.WithLabelValues(in.Transition, in.Result).Inc()
	}
}

// Callback records how an inbound callback was handled.
func (r *Recorder) Callback(outcome string) {
	if r == nil {
		return
	}
	if r.sink != nil {
		r.sink.Count("job.callback", 1, map[string]string{"outcome": outcome})
	}
	if r.prom != nil {
		r.prom.Callbacks.WithLabelValues(outcome).Inc()
	}
}

// JobCounts gauges the number of jobs per status.
func (r *Recorder) JobCounts(counts model.JobCounts) {
	if r == nil {
		return
	}
	for status, n := range counts.ByStatus() {
		if r.sink != nil {
			r.sink.Gauge("jobs.count", float64(n), map[string]string{"status": status})
		}
		if r.prom != nil {
			r.prom.JobsByStatus.WithLabelValues(status).Set(float64(n))
		}
	}
}
