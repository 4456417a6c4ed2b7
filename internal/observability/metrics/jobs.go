package metrics

import (
	"maps"
	"time"

	obserrors "github.com/target/mmk-research-api/internal/observability/errors"
	"github.com/target/mmk-research-api/internal/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultNoop    = "noop"
)

// Transition names a lifecycle step of a research job.
const (
	TransitionCreate     = "create"
	TransitionTrigger    = "trigger"
	TransitionProcessing = "processing"
	TransitionComplete   = "complete"
	TransitionFail       = "fail"
)

// JobMetric captures a single lifecycle step for metric emission.
type JobMetric struct {
	Transition string
	Result     string
	Duration   time.Duration
	Err        error
}

// EmitJobLifecycle emits the job.transition counter and, when a duration is known,
// the job.duration timing.
func EmitJobLifecycle(sink statsd.Sink, in JobMetric) {
	if sink == nil {
		return
	}

	tags := lifecycleTags(in)
	sink.Count("job.transition", 1, tags)

	if in.Duration > 0 {
		sink.Timing("job.duration", in.Duration, CloneTags(tags))
	}
}

func lifecycleTags(in JobMetric) map[string]string {
	tags := map[string]string{
		"transition": in.Transition,
		"result":     in.Result,
	}
	if in.Err != nil && in.Result == ResultError {
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}
	return tags
}

// CloneTags returns a shallow copy of src, or nil when src is empty.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	return maps.Clone(src)
}
