package notify

import (
	"context"
	"time"
)

// MaxArtifactLinks caps how many artifact URLs a notification carries.
const MaxArtifactLinks = 4

// JobOutcomePayload captures the canonical data we emit when a job reaches a
// terminal status.
type JobOutcomePayload struct {
	JobID    string
	Kind     string
	TestType string
	Status   string
	Passed   bool
	Error    string

	// PerfScore is set when the run produced a Lighthouse score.
	PerfScore *float64

	// High/Medium alert counts, set when a security scan ran.
	AlertsHigh   *int
	AlertsMedium *int

	// ArtifactURLs are presigned links, at most MaxArtifactLinks of them.
	ArtifactURLs []string

	OccurredAt time.Time
}

// Sink describes a destination capable of consuming job outcome notifications.
type Sink interface {
	SendJobOutcome(ctx context.Context, payload JobOutcomePayload) error
}

// SinkFunc adapts a function to the Sink interface (useful for tests).
type SinkFunc func(ctx context.Context, payload JobOutcomePayload) error

// SendJobOutcome implements the Sink interface.
func (f SinkFunc) SendJobOutcome(ctx context.Context, payload JobOutcomePayload) error {
	if f == nil {
		return nil
	}
	return f(ctx, payload)
}
