// Package worker hosts the job execution side of the pipeline: the dispatch
// loop that pops queued jobs, the web and mobile executors, and the crawler
// used for auto-discovery runs.
package worker

import (
	"context"
	"io"

	"github.com/ratemate/taas/internal/domain/model"
)

// CancelCheck is consulted at every suspension point of a job. It returns a
// Canceled error when the job's cancel flag is set, and re-arms the flag's
// TTL so long-running jobs cannot outlive it.
type CancelCheck func(ctx context.Context) error

// NoCancel is a CancelCheck that never cancels, for jobs running outside the
// queue (and for tests).
func NoCancel(context.Context) error { return nil }

// ArtifactStore is the slice of the object store executors upload through.
// A nil store disables artifact capture without disabling execution.
type ArtifactStore interface {
	Put(ctx context.Context, key, contentType string, body io.Reader) error
	PutFile(ctx context.Context, key, localPath string) error
	Presign(ctx context.Context, key string) (string, error)
}

// Outcome is what an executor hands back to the dispatch loop. ArtifactKeys
// maps artifact names to object keys; the loop presigns them into the
// persisted summary.
type Outcome struct {
	Summary      model.ResultSummary
	ArtifactKeys map[string]string
}

// Executor runs one kind of job. A Canceled error aborts the job but any
// partial Outcome returned alongside it is still persisted, so artifacts
// uploaded before the cancellation survive.
type Executor interface {
	Execute(ctx context.Context, session *model.Session, check CancelCheck) (*Outcome, error)
}
