package testutil

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/ratemate/taas/internal/domain/model"
)

// SessionBuilder builds model.Session values for tests.
type SessionBuilder struct {
	session model.Session
}

// NewSessionBuilder returns a builder seeded with a valid queued web session.
func NewSessionBuilder() *SessionBuilder {
	return &SessionBuilder{session: model.Session{
		ID:        uuid.NewString(),
		Kind:      model.KindWeb,
		TestType:  model.TestTypeSmoke,
		Status:    model.SessionStatusQueued,
		Payload:   json.RawMessage(`{"url":"https://example.test/","test_type":"smoke"}`),
		CreatedAt: TestTime(),
		UpdatedAt: TestTime(),
	}}
}

// WithID sets the session id.
func (b *SessionBuilder) WithID(id string) *SessionBuilder {
	b.session.ID = id
	return b
}

// WithKind sets the kind.
func (b *SessionBuilder) WithKind(k model.Kind) *SessionBuilder {
	b.session.Kind = k
	return b
}

// WithTestType sets the test type.
func (b *SessionBuilder) WithTestType(t model.TestType) *SessionBuilder {
	b.session.TestType = t
	return b
}

// WithStatus sets the status.
func (b *SessionBuilder) WithStatus(s model.SessionStatus) *SessionBuilder {
	b.session.Status = s
	return b
}

// WithProject sets the project.
func (b *SessionBuilder) WithProject(p string) *SessionBuilder {
	b.session.Project = &p
	return b
}

// WithPayload sets the raw payload.
func (b *SessionBuilder) WithPayload(raw string) *SessionBuilder {
	b.session.Payload = json.RawMessage(raw)
	return b
}

// WithCreatedAt sets created_at and updated_at.
func (b *SessionBuilder) WithCreatedAt(t time.Time) *SessionBuilder {
	b.session.CreatedAt = t
	b.session.UpdatedAt = t
	return b
}

// Build returns the session value.
func (b *SessionBuilder) Build() model.Session {
	return b.session
}

// PassingSummary returns a minimal passing result summary for tests.
func PassingSummary(testType model.TestType) model.ResultSummary {
	return model.ResultSummary{
		TestType:    testType,
		Passed:      true,
		DurationSec: 1.5,
		Cases: []model.CaseResult{
			{URL: "https://example.test/", Status: 200, Passed: true},
		},
	}
}

// FailingSummary returns a minimal failing result summary for tests.
func FailingSummary(testType model.TestType, reason string) model.ResultSummary {
	return model.ResultSummary{
		TestType:    testType,
		Passed:      false,
		DurationSec: 1.5,
		Error:       reason,
	}
}
