package worker

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/ratemate/taas/internal/domain/model"
	apperrors "github.com/ratemate/taas/internal/errors"
	"github.com/ratemate/taas/internal/observability/metrics"
	"github.com/ratemate/taas/internal/observability/notify"
	"github.com/ratemate/taas/internal/observability/statsd"
	"github.com/ratemate/taas/internal/queue"
	"github.com/ratemate/taas/internal/statusfile"
)

// DefaultPopTimeout bounds each blocking queue read so workers observe
// context cancellation promptly.
const DefaultPopTimeout = 5 * time.Second

// SessionStore is the slice of the state store the dispatch loop needs.
// Store errors never fail a job: the status file mirror remains authoritative
// when the database is down.
type SessionStore interface {
	GetByID(ctx context.Context, id string) (*model.Session, error)
	UpdateStatus(ctx context.Context, id string, next model.SessionStatus) (*model.Session, error)
	Touch(ctx context.Context, id string) error
}

// ResultStore appends result rows. Append-only.
type ResultStore interface {
	Append(ctx context.Context, sessionID string, summary model.ResultSummary) (*model.Result, error)
}

// RunnerOptions configures the dispatch loop.
type RunnerOptions struct {
	Queue   *queue.Queue
	Cancels *queue.CancelFlags
	Status  *statusfile.Store

	// Sessions and Results may be nil when the database is not deployed;
	// the loop then runs on the status file mirror alone.
	Sessions SessionStore
	Results  ResultStore

	Executors map[model.Kind]Executor

	// Artifacts presigns uploaded object keys into the persisted summary.
	Artifacts ArtifactStore
	Notifier  notify.Sink
	Metrics   statsd.Sink
	Logger    *slog.Logger

	Concurrency int
	PopTimeout  time.Duration
}

// Runner pops job messages and drives them through the executor for their
// kind, handling idempotent redelivery, cooperative cancellation, and
// best-effort persistence.
type Runner struct {
	queue      *queue.Queue
	cancels    *queue.CancelFlags
	status     *statusfile.Store
	sessions   SessionStore
	results    ResultStore
	executors  map[model.Kind]Executor
	artifacts  ArtifactStore
	notifier   notify.Sink
	metrics    statsd.Sink
	logger     *slog.Logger
	workers    int
	popTimeout time.Duration
}

func resolveLogger(l *slog.Logger) *slog.Logger {
	if l != nil {
		return l
	}
	return slog.Default()
}

func resolveConcurrency(n int) int {
	if n <= 0 {
		return 1
	}
	return n
}

func resolvePopTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultPopTimeout
	}
	return d
}

// NewRunner wires a dispatch loop from its options.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Queue == nil {
		return nil, errors.New("queue is required")
	}
	if opts.Cancels == nil {
		return nil, errors.New("cancel flags are required")
	}
	if opts.Status == nil {
		return nil, errors.New("status store is required")
	}
	if len(opts.Executors) == 0 {
		return nil, errors.New("at least one executor is required")
	}

	return &Runner{
		queue:      opts.Queue,
		cancels:    opts.Cancels,
		status:     opts.Status,
		sessions:   opts.Sessions,
		results:    opts.Results,
		executors:  opts.Executors,
		artifacts:  opts.Artifacts,
		notifier:   opts.Notifier,
		metrics:    opts.Metrics,
		logger:     resolveLogger(opts.Logger),
		workers:    resolveConcurrency(opts.Concurrency),
		popTimeout: resolvePopTimeout(opts.PopTimeout),
	}, nil
}

// Run starts worker goroutines and processes jobs until the context is
// cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting worker loop",
		"queue", r.queue.Name(), "workers", r.workers)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, 1)

	for range r.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.workerLoop(ctx); err != nil {
				// first error wins, cancels all workers
				select {
				case errCh <- err:
					cancel()
				default:
				}
			}
		}()
	}

	wg.Wait()

	select {
	case err := <-errCh:
		return err
	default:
		return ctx.Err()
	}
}

func (r *Runner) workerLoop(ctx context.Context) error {
	for ctx.Err() == nil {
		msg, err := r.queue.Pop(ctx, r.popTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if msg == nil {
			continue
		}
		r.processJob(ctx, msg)
	}
	return ctx.Err()
}

// processJob drives a single delivery. Redelivered messages for terminal
// sessions are acknowledged without side effects.
func (r *Runner) processJob(ctx context.Context, msg *model.JobMessage) {
	start := time.Now()
	emit := func(transition, result string, err error) {
		metrics.EmitJobLifecycle(r.metrics, metrics.JobMetric{
			JobType:    string(msg.Kind),
			Transition: transition,
			Result:     result,
			Duration:   time.Since(start),
			Err:        err,
		})
	}

	session := r.loadSession(ctx, msg)
	if session.Status.Terminal() {
		r.logger.InfoContext(ctx, "skipping terminal session",
			"session_id", session.ID, "status", session.Status)
		emit("skipped", metrics.ResultNoop, nil)
		return
	}

	// A cancel flag raised while the job sat in the queue wins before any
	// work starts.
	if r.cancelRequested(ctx, session.ID) {
		r.finishCanceled(ctx, session, nil)
		emit("canceled", metrics.ResultSuccess, nil)
		return
	}

	exec, ok := r.executors[session.Kind]
	if !ok {
		err := apperrors.Internalf("no executor for kind %s", session.Kind)
		r.finishFailed(ctx, session, nil, err)
		emit("failed", metrics.ResultError, err)
		return
	}

	r.markRunning(ctx, session)
	if err := r.queue.MarkStarted(ctx); err != nil {
		r.logger.ErrorContext(ctx, "bump started counter", "error", err)
	}

	out, err := exec.Execute(ctx, session, r.cancelCheck(session.ID))
	if out != nil {
		out.Summary.DurationSec = roundSeconds(time.Since(start))
	}

	switch {
	case apperrors.IsCanceled(err):
		r.finishCanceled(ctx, session, out)
		emit("canceled", metrics.ResultSuccess, nil)
	case err != nil:
		r.finishFailed(ctx, session, out, err)
		emit("failed", metrics.ResultError, err)
	default:
		// A clean execution can still fail the verdict: policy gates,
		// visual mismatches, assertion failures.
		if cause := verdictFailure(out); cause != nil {
			r.finishFailed(ctx, session, out, cause)
			emit("failed", metrics.ResultError, cause)
			return
		}
		r.finishCompleted(ctx, session, out)
		emit("completed", metrics.ResultSuccess, nil)
	}
}

// verdictFailure returns the reason a cleanly executed outcome still counts
// as a failed run, or nil when the run passed.
func verdictFailure(out *Outcome) error {
	if out == nil || out.Summary.Passed {
		return nil
	}
	if out.Summary.Error != "" {
		return errors.New(out.Summary.Error)
	}
	if p := out.Summary.Policy; p != nil && len(p.Reasons) > 0 {
		return errors.New("policy failed: " + strings.Join(p.Reasons, "; "))
	}
	return errors.New("test verdict failed")
}

// loadSession prefers the state store and falls back to reconstructing the
// session from the message plus the status file mirror.
func (r *Runner) loadSession(ctx context.Context, msg *model.JobMessage) *model.Session {
	if r.sessions != nil {
		s, err := r.sessions.GetByID(ctx, msg.SessionID)
		if err == nil {
			return s
		}
		if !apperrors.IsNotFound(err) {
			r.logger.ErrorContext(ctx, "load session", "session_id", msg.SessionID, "error", err)
		}
	}

	s := &model.Session{
		ID:      msg.SessionID,
		Kind:    msg.Kind,
		Payload: msg.Payload,
		Status:  model.SessionStatusQueued,
	}
	if doc, err := r.status.Read(msg.SessionID); err == nil {
		s.TestType = doc.TestType
		s.Status = doc.Status
		if doc.Project != "" {
			s.Project = &doc.Project
		}
	}
	return s
}

func (r *Runner) cancelRequested(ctx context.Context, sessionID string) bool {
	set, err := r.cancels.IsSet(ctx, sessionID)
	if err != nil {
		r.logger.ErrorContext(ctx, "check cancel flag", "session_id", sessionID, "error", err)
		return false
	}
	return set
}

// cancelCheck builds the CancelCheck consulted at executor suspension points.
// Each hit on a set flag re-arms its TTL so the flag outlives long stages.
// Checks that find no flag bump the session's updated_at so operators can
// tell a long run from a stuck one.
func (r *Runner) cancelCheck(sessionID string) CancelCheck {
	return func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			return apperrors.Canceled("context canceled")
		}
		if !r.cancelRequested(ctx, sessionID) {
			r.touchSession(ctx, sessionID)
			return nil
		}
		if err := r.cancels.Refresh(ctx, sessionID); err != nil {
			r.logger.ErrorContext(ctx, "refresh cancel flag", "session_id", sessionID, "error", err)
		}
		return apperrors.Canceled("cancel requested")
	}
}

func (r *Runner) touchSession(ctx context.Context, sessionID string) {
	if r.sessions == nil {
		return
	}
	if err := r.sessions.Touch(ctx, sessionID); err != nil && !apperrors.IsNotFound(err) {
		r.logger.DebugContext(ctx, "touch session", "session_id", sessionID, "error", err)
	}
}

func (r *Runner) markRunning(ctx context.Context, session *model.Session) {
	if err := r.status.SetStatus(session.ID, model.SessionStatusRunning, ""); err != nil {
		r.logger.ErrorContext(ctx, "mirror running status", "session_id", session.ID, "error", err)
	}
	r.transition(ctx, session.ID, model.SessionStatusRunning)
	session.Status = model.SessionStatusRunning
}

func (r *Runner) finishCompleted(ctx context.Context, session *model.Session, out *Outcome) {
	r.persistOutcome(ctx, session, out)
	if err := r.status.SetStatus(session.ID, model.SessionStatusCompleted, ""); err != nil {
		r.logger.ErrorContext(ctx, "mirror completed status", "session_id", session.ID, "error", err)
	}
	r.transition(ctx, session.ID, model.SessionStatusCompleted)
	if err := r.queue.MarkFinished(ctx); err != nil {
		r.logger.ErrorContext(ctx, "bump finished counter", "error", err)
	}
	r.notifyOutcome(ctx, session, model.SessionStatusCompleted, out, "")
}

func (r *Runner) finishFailed(ctx context.Context, session *model.Session, out *Outcome, cause error) {
	if out != nil && out.Summary.Error == "" {
		out.Summary.Error = cause.Error()
	}
	r.persistOutcome(ctx, session, out)
	if err := r.status.SetStatus(session.ID, model.SessionStatusFailed, cause.Error()); err != nil {
		r.logger.ErrorContext(ctx, "mirror failed status", "session_id", session.ID, "error", err)
	}
	r.transition(ctx, session.ID, model.SessionStatusFailed)
	if err := r.queue.MarkFailed(ctx); err != nil {
		r.logger.ErrorContext(ctx, "bump failed counter", "error", err)
	}
	r.notifyOutcome(ctx, session, model.SessionStatusFailed, out, cause.Error())
}

// finishCanceled records a terminal canceled status. Partial outcomes keep
// whatever artifacts were uploaded before the cancellation was observed.
func (r *Runner) finishCanceled(ctx context.Context, session *model.Session, out *Outcome) {
	r.persistOutcome(ctx, session, out)
	if err := r.status.SetStatus(session.ID, model.SessionStatusCanceled, ""); err != nil {
		r.logger.ErrorContext(ctx, "mirror canceled status", "session_id", session.ID, "error", err)
	}
	r.transition(ctx, session.ID, model.SessionStatusCanceled)
	if err := r.cancels.Clear(ctx, session.ID); err != nil {
		r.logger.ErrorContext(ctx, "clear cancel flag", "session_id", session.ID, "error", err)
	}
	if err := r.queue.MarkFinished(ctx); err != nil {
		r.logger.ErrorContext(ctx, "bump finished counter", "error", err)
	}
	r.notifyOutcome(ctx, session, model.SessionStatusCanceled, out, "")
}

// transition applies the state machine in the state store. Conflicts from
// concurrent deliveries and store outages are logged, never fatal.
func (r *Runner) transition(ctx context.Context, sessionID string, next model.SessionStatus) {
	if r.sessions == nil {
		return
	}
	if _, err := r.sessions.UpdateStatus(ctx, sessionID, next); err != nil {
		if apperrors.IsConflict(err) || apperrors.IsNotFound(err) {
			r.logger.InfoContext(ctx, "session transition not applied",
				"session_id", sessionID, "next", next, "error", err)
			return
		}
		r.logger.ErrorContext(ctx, "session transition", "session_id", sessionID, "next", next, "error", err)
	}
}

// persistOutcome presigns artifacts into the summary, mirrors the result file
// and appends the result row. Every step is best-effort.
func (r *Runner) persistOutcome(ctx context.Context, session *model.Session, out *Outcome) {
	if out == nil {
		return
	}
	if out.Summary.TestType == "" {
		out.Summary.TestType = session.TestType
	}

	r.presignArtifacts(ctx, out)

	if len(out.ArtifactKeys) > 0 {
		names := make([]string, 0, len(out.ArtifactKeys))
		for _, key := range out.ArtifactKeys {
			names = append(names, path.Base(key))
		}
		if err := r.status.AppendArtifacts(session.ID, names...); err != nil {
			r.logger.ErrorContext(ctx, "record artifacts", "session_id", session.ID, "error", err)
		}
	}

	if err := r.status.WriteResult(session.ID, out.Summary); err != nil {
		r.logger.ErrorContext(ctx, "mirror result file", "session_id", session.ID, "error", err)
	}

	if r.results != nil {
		if _, err := r.results.Append(ctx, session.ID, out.Summary); err != nil {
			r.logger.ErrorContext(ctx, "append result row", "session_id", session.ID, "error", err)
		}
	}
}

func (r *Runner) presignArtifacts(ctx context.Context, out *Outcome) {
	if r.artifacts == nil || len(out.ArtifactKeys) == 0 {
		return
	}
	urls := make(map[string]string, len(out.ArtifactKeys))
	for name, key := range out.ArtifactKeys {
		u, err := r.artifacts.Presign(ctx, key)
		if err != nil {
			r.logger.ErrorContext(ctx, "presign artifact", "key", key, "error", err)
			continue
		}
		urls[name] = u
	}
	if len(urls) > 0 {
		out.Summary.ArtifactURLs = urls
	}
}

func (r *Runner) notifyOutcome(
	ctx context.Context,
	session *model.Session,
	status model.SessionStatus,
	out *Outcome,
	errText string,
) {
	if r.notifier == nil {
		return
	}

	payload := notify.JobOutcomePayload{
		JobID:      session.ID,
		Kind:       string(session.Kind),
		TestType:   string(session.TestType),
		Status:     string(status),
		Error:      errText,
		OccurredAt: time.Now().UTC(),
	}
	if out != nil {
		payload.Passed = out.Summary.Passed
		if payload.Error == "" {
			payload.Error = out.Summary.Error
		}
		if perf := out.Summary.Performance; perf != nil {
			score := perf.Score
			payload.PerfScore = &score
		}
		if sec := out.Summary.Security; sec != nil {
			high, medium := sec.Counts.High, sec.Counts.Medium
			payload.AlertsHigh = &high
			payload.AlertsMedium = &medium
		}
		for _, u := range out.Summary.ArtifactURLs {
			if len(payload.ArtifactURLs) == notify.MaxArtifactLinks {
				break
			}
			payload.ArtifactURLs = append(payload.ArtifactURLs, u)
		}
	}

	if err := r.notifier.SendJobOutcome(ctx, payload); err != nil {
		r.logger.ErrorContext(ctx, "send outcome notification", "session_id", session.ID, "error", err)
	}
}

func roundSeconds(d time.Duration) float64 {
	return math.Round(d.Seconds()*1000) / 1000
}
