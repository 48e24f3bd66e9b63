// Package model defines the core data types shared by the admission API,
// the worker loop, and the state store.
package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Kind represents the platform a test session targets.
type Kind string

// TestType represents the flavor of test a session executes.
type TestType string

// SessionStatus represents the current status of a test session.
type SessionStatus string

const (
	// KindWeb represents a browser-driven web test.
	KindWeb Kind = "web"
	// KindMobile represents a mobile artifact test.
	KindMobile Kind = "mobile"

	TestTypeSmoke       TestType = "smoke"
	TestTypeFull        TestType = "full"
	TestTypePerformance TestType = "performance"
	TestTypeSecurity    TestType = "security"
	TestTypeAuto        TestType = "auto"
	TestTypeAnalyze     TestType = "analyze"
	TestTypeE2E         TestType = "e2e"

	// SessionStatusQueued indicates a session is waiting for a worker.
	SessionStatusQueued SessionStatus = "queued"
	// SessionStatusRunning indicates a worker is executing the session.
	SessionStatusRunning SessionStatus = "running"
	// SessionStatusCompleted indicates the session finished and passed persistence.
	SessionStatusCompleted SessionStatus = "completed"
	// SessionStatusFailed indicates the session finished with a failure.
	SessionStatusFailed SessionStatus = "failed"
	// SessionStatusCancelRequested indicates a cancel flag was set before the worker observed it.
	SessionStatusCancelRequested SessionStatus = "cancel_requested"
	// SessionStatusCanceled indicates cooperative cancellation completed.
	SessionStatusCanceled SessionStatus = "canceled"
)

// UnmarshalText implements encoding.TextUnmarshaler for Kind.
func (k *Kind) UnmarshalText(text []byte) error {
	v := Kind(strings.ToLower(strings.TrimSpace(string(text))))
	if v.Valid() {
		*k = v
		return nil
	}
	return fmt.Errorf("invalid kind: %q", string(text))
}

// Valid returns true if the Kind is valid.
func (k Kind) Valid() bool {
	return k == KindWeb || k == KindMobile
}

// UnmarshalText implements encoding.TextUnmarshaler for TestType.
func (t *TestType) UnmarshalText(text []byte) error {
	v := TestType(strings.ToLower(strings.TrimSpace(string(text))))
	if v.Valid() {
		*t = v
		return nil
	}
	return fmt.Errorf("invalid test_type: %q", string(text))
}

// Valid returns true if the TestType is valid.
func (t TestType) Valid() bool {
	switch t {
	case TestTypeSmoke, TestTypeFull, TestTypePerformance, TestTypeSecurity,
		TestTypeAuto, TestTypeAnalyze, TestTypeE2E:
		return true
	default:
		return false
	}
}

// Valid returns true if the SessionStatus is valid.
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionStatusQueued, SessionStatusRunning, SessionStatusCompleted,
		SessionStatusFailed, SessionStatusCancelRequested, SessionStatusCanceled:
		return true
	default:
		return false
	}
}

// Terminal returns true if no further transition may leave the status.
func (s SessionStatus) Terminal() bool {
	return s == SessionStatusCompleted || s == SessionStatusFailed || s == SessionStatusCanceled
}

// CanTransition reports whether moving from s to next is allowed by the
// session state machine. Statuses are monotonic: terminal states accept no
// transition, and a status never moves backwards.
func (s SessionStatus) CanTransition(next SessionStatus) bool {
	if s.Terminal() {
		return false
	}
	switch s {
	case SessionStatusQueued:
		// Failed is reachable without running: jobs can be rejected at
		// dispatch, before any work starts.
		return next == SessionStatusRunning || next == SessionStatusFailed ||
			next == SessionStatusCancelRequested || next == SessionStatusCanceled
	case SessionStatusRunning:
		return next == SessionStatusCompleted || next == SessionStatusFailed ||
			next == SessionStatusCancelRequested || next == SessionStatusCanceled
	case SessionStatusCancelRequested:
		return next == SessionStatusCanceled
	default:
		return false
	}
}

// Session represents one test submission. The session id doubles as the job
// id at the API boundary and as the idempotency key inside the worker.
type Session struct {
	ID        string          `json:"id"                db:"id"`
	Kind      Kind            `json:"kind"              db:"kind"`
	TestType  TestType        `json:"test_type"         db:"test_type"`
	Project   *string         `json:"project,omitempty" db:"project"`
	Status    SessionStatus   `json:"status"            db:"status"`
	Payload   json.RawMessage `json:"payload"           db:"payload"`
	CreatedAt time.Time       `json:"created_at"        db:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"        db:"updated_at"`
}

// SessionListOptions groups filters and paging for listing sessions.
type SessionListOptions struct {
	Project  *string
	Kind     *Kind
	Status   *SessionStatus
	TestType *TestType
	Since    *time.Time
	Until    *time.Time
	Limit    int
	Offset   int
}

// Normalize clamps paging values to the supported window (limit 1..200, offset >= 0).
func (o *SessionListOptions) Normalize() {
	if o.Limit < 1 {
		o.Limit = 50
	}
	if o.Limit > 200 {
		o.Limit = 200
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
}

// QueueStats represents liveness counters for the job queue.
type QueueStats struct {
	Queued   int64 `json:"queued"`
	Started  int64 `json:"started"`
	Finished int64 `json:"finished"`
	Failed   int64 `json:"failed"`
}

// ProjectCount aggregates session counts per project for the projects listing.
type ProjectCount struct {
	Project  string `json:"project"`
	Sessions int    `json:"sessions"`
	Passed   int    `json:"passed"`
	Failed   int    `json:"failed"`
}
