// Package metrics emits job lifecycle metrics through a statsd sink.
package metrics

import (
	"time"

	obserrors "github.com/ratemate/taas/internal/observability/errors"
	"github.com/ratemate/taas/internal/observability/statsd"
)

// Result tag values for job transitions.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultNoop    = "noop"
)

// JobMetric describes one job lifecycle transition.
type JobMetric struct {
	JobType    string
	Transition string
	Result     string
	Duration   time.Duration
	Err        error
}

// EmitJobLifecycle sends a transition counter and, when a duration is known,
// a timing sample. A nil sink drops the metric.
func EmitJobLifecycle(sink statsd.Sink, in JobMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"job_type":   in.JobType,
		"transition": in.Transition,
		"result":     in.Result,
	}
	if in.Result == ResultError && in.Err != nil {
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}

	sink.Count("job.transition", 1, tags)
	if in.Duration > 0 {
		sink.Timing("job.duration", in.Duration, tags)
	}
}
