package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ratemate/taas/internal/domain/model"
	"github.com/ratemate/taas/internal/statusfile"
)

func seedDoc(t *testing.T, fx *fixture, doc statusfile.Doc) {
	t.Helper()
	require.NoError(t, fx.status.Write(doc))
}

func TestGetJobFromMirror(t *testing.T) {
	fx := newFixture(t)
	seedDoc(t, fx, statusfile.Doc{
		JobID:     "job-1",
		Kind:      model.KindWeb,
		TestType:  model.TestTypeSmoke,
		Project:   "shop",
		Status:    model.SessionStatusCompleted,
		Artifacts: []string{"screenshot_1.png"},
	})

	rec := fx.do(t, http.MethodGet, "/api/jobs/job-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "job-1", body["job_id"])
	assert.Equal(t, "completed", body["status"])
	assert.Equal(t, "shop", body["project"])

	artifacts, ok := body["artifacts"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, artifacts["screenshot_1.png"], "job-1/screenshot_1.png")
}

func TestGetJobFallsBackToStateStore(t *testing.T) {
	fx := newFixture(t)
	project := "shop"
	_, err := fx.sessions.Upsert(context.Background(), &model.Session{
		ID:       "job-2",
		Kind:     model.KindWeb,
		TestType: model.TestTypeFull,
		Project:  &project,
		Status:   model.SessionStatusRunning,
		Payload:  json.RawMessage(`{}`),
	})
	require.NoError(t, err)

	rec := fx.do(t, http.MethodGet, "/api/jobs/job-2", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "running", body["status"])
	assert.Equal(t, "shop", body["project"])
}

func TestGetJobNotFound(t *testing.T) {
	fx := newFixture(t)

	rec := fx.do(t, http.MethodGet, "/api/jobs/ghost", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelJobSetsFlagAndMirrors(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	seedDoc(t, fx, statusfile.Doc{
		JobID:  "job-3",
		Kind:   model.KindWeb,
		Status: model.SessionStatusRunning,
	})

	rec := fx.do(t, http.MethodPost, "/api/jobs/job-3/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["ok"])

	set, err := fx.cancels.IsSet(ctx, "job-3")
	require.NoError(t, err)
	assert.True(t, set)

	doc, err := fx.status.Read("job-3")
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusCancelRequested, doc.Status)
}

func TestCancelJobLeavesTerminalMirrorAlone(t *testing.T) {
	fx := newFixture(t)
	seedDoc(t, fx, statusfile.Doc{
		JobID:  "job-4",
		Kind:   model.KindWeb,
		Status: model.SessionStatusCompleted,
	})

	rec := fx.do(t, http.MethodPost, "/api/jobs/job-4/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	doc, err := fx.status.Read("job-4")
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusCompleted, doc.Status)
}

func TestRetryJobClonesPayload(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	payload := json.RawMessage(`{"url":"https://shop.example"}`)
	_, err := fx.sessions.Upsert(ctx, &model.Session{
		ID:       "job-5",
		Kind:     model.KindWeb,
		TestType: model.TestTypeSmoke,
		Status:   model.SessionStatusFailed,
		Payload:  payload,
	})
	require.NoError(t, err)

	rec := fx.do(t, http.MethodPost, "/api/jobs/job-5/retry", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	newID := body["job_id"].(string)
	require.NotEmpty(t, newID)
	require.NotEqual(t, "job-5", newID)
	assert.Equal(t, "queued", body["status"])

	msg, err := fx.q.Pop(ctx, 0)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, newID, msg.SessionID)
	assert.JSONEq(t, string(payload), string(msg.Payload))

	doc, err := fx.status.Read(newID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusQueued, doc.Status)
}

func TestRetryJobRequiresStateStore(t *testing.T) {
	fx := newFixture(t, func(o *ServerOptions) { o.Sessions = nil })

	rec := fx.do(t, http.MethodPost, "/api/jobs/job-5/retry", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestJobResultServedFromMirror(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, fx.status.WriteResult("job-6", model.ResultSummary{
		TestType: model.TestTypeSmoke,
		Passed:   true,
	}))

	rec := fx.do(t, http.MethodGet, "/api/job-results/job-6", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["passed"])
}

func TestJobResultFallsBackToStateStore(t *testing.T) {
	fx := newFixture(t)
	fx.results.add("job-7", model.ResultSummary{TestType: model.TestTypeFull, Passed: false})

	rec := fx.do(t, http.MethodGet, "/api/job-results/job-7", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decodeBody(t, rec)["passed"])
}

func TestJobResultNotFound(t *testing.T) {
	fx := newFixture(t)

	rec := fx.do(t, http.MethodGet, "/api/job-results/ghost", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestArtifactRedirectResigns(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, fx.blobs.Put(context.Background(), "job-8/trace_1.json", "application/json", strings.NewReader(`{}`)))

	rec := fx.do(t, http.MethodGet, "/api/artifacts/job-8/trace_1.json", nil)
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Contains(t, rec.Header().Get("Location"), "job-8/trace_1.json")
}

func TestArtifactRedirectNotFound(t *testing.T) {
	fx := newFixture(t)

	rec := fx.do(t, http.MethodGet, "/api/artifacts/job-8/missing.png", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestVisualAcceptPromotesScreenshot(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	require.NoError(t, fx.blobs.Put(ctx, "job-9/screenshot_1.png", "image/png", strings.NewReader("png-bytes")))
	require.NoError(t, fx.status.WriteResult("job-9", model.ResultSummary{
		TestType: model.TestTypeSmoke,
		Cases: []model.CaseResult{{
			URL:        "https://shop.example/checkout",
			Screenshot: "job-9/screenshot_1.png",
		}},
	}))

	rec := fx.do(t, http.MethodPost, "/api/visual/accept", map[string]any{
		"session_id": "job-9",
		"index":      1,
		"project":    "shop",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	baselineKey := body["baseline_key"].(string)
	assert.Equal(t, "baselines/shop/checkout_1366x900.png", baselineKey)
	assert.Contains(t, body["url"], baselineKey)

	exists, err := fx.blobs.Exists(ctx, baselineKey)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestVisualAcceptValidation(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, fx.status.WriteResult("job-10", model.ResultSummary{
		Cases: []model.CaseResult{{URL: "https://shop.example"}},
	}))

	tests := []struct {
		name string
		body map[string]any
		want int
	}{
		{"missing session", map[string]any{"index": 1}, http.StatusBadRequest},
		{"zero index", map[string]any{"session_id": "job-10", "index": 0}, http.StatusBadRequest},
		{"index out of range", map[string]any{"session_id": "job-10", "index": 5}, http.StatusNotFound},
		{"unknown session", map[string]any{"session_id": "ghost", "index": 1}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := fx.do(t, http.MethodPost, "/api/visual/accept", tt.body)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}
