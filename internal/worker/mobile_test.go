package worker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ratemate/taas/config"
	"github.com/ratemate/taas/internal/adapters/mobsf"
	"github.com/ratemate/taas/internal/domain/model"
	apperrors "github.com/ratemate/taas/internal/errors"
)

func mobileSession(t *testing.T, req model.MobileTestRequest) *model.Session {
	t.Helper()
	payload, err := json.Marshal(req)
	require.NoError(t, err)
	return &model.Session{
		ID:       "job-m",
		Kind:     model.KindMobile,
		TestType: req.TestType,
		Status:   model.SessionStatusRunning,
		Payload:  payload,
	}
}

// newFakeMobSF serves the upload/scan/report/pdf endpoints the client hits.
func newFakeMobSF(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/upload", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{
			"hash": "abc123", "scan_type": "apk", "file_name": "app.apk",
		})
	})
	mux.HandleFunc("/api/v1/scan", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	mux.HandleFunc("/api/v1/report_json", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"appsec":      map[string]any{"security_score": 61.0},
			"permissions": map[string]any{"android.permission.INTERNET": map[string]any{}},
			"domains":     map[string]any{"api.example.test": map[string]any{}},
		})
	})
	mux.HandleFunc("/api/v1/download_pdf", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.4"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestMobileExecutorSkipsWhenAnalyzerMissing(t *testing.T) {
	exec := NewMobileExecutor(MobileExecutorOptions{})

	session := mobileSession(t, model.MobileTestRequest{
		TestType: model.TestTypeAnalyze,
		FilePath: "/tmp/app.apk",
	})
	out, err := exec.Execute(context.Background(), session, NoCancel)
	require.NoError(t, err)

	assert.True(t, out.Summary.Passed)
	require.NotNil(t, out.Summary.Configured)
	assert.False(t, *out.Summary.Configured)
	assert.Equal(t, "skipped", out.Summary.Note)
}

func TestMobileExecutorSkipsNonAnalyzeTypes(t *testing.T) {
	srv := newFakeMobSF(t)
	client := mobsf.NewClient(config.MobSFConfig{URL: srv.URL, APIKey: "k"}, srv.Client())
	require.NotNil(t, client)

	exec := NewMobileExecutor(MobileExecutorOptions{MobSF: client})
	session := mobileSession(t, model.MobileTestRequest{
		TestType: model.TestTypeSmoke,
		DeepLink: "myapp://home",
	})
	out, err := exec.Execute(context.Background(), session, NoCancel)
	require.NoError(t, err)

	assert.True(t, out.Summary.Passed)
	require.NotNil(t, out.Summary.Configured)
	assert.False(t, *out.Summary.Configured)
}

func TestMobileExecutorAnalyzesLocalFile(t *testing.T) {
	srv := newFakeMobSF(t)
	client := mobsf.NewClient(config.MobSFConfig{URL: srv.URL, APIKey: "k"}, srv.Client())
	require.NotNil(t, client)

	apk := filepath.Join(t.TempDir(), "app.apk")
	require.NoError(t, os.WriteFile(apk, []byte("PK binary"), 0o644))

	artifacts := newFakeArtifacts()
	exec := NewMobileExecutor(MobileExecutorOptions{MobSF: client, Artifacts: artifacts, HTTP: srv.Client()})

	session := mobileSession(t, model.MobileTestRequest{
		TestType: model.TestTypeAnalyze,
		FilePath: apk,
	})
	out, err := exec.Execute(context.Background(), session, NoCancel)
	require.NoError(t, err)

	assert.True(t, out.Summary.Passed)
	require.NotNil(t, out.Summary.Configured)
	assert.True(t, *out.Summary.Configured)

	require.NotNil(t, out.Summary.Mobile)
	assert.Equal(t, "abc123", out.Summary.Mobile.FileHash)
	assert.Equal(t, 61.0, out.Summary.Mobile.RiskScore)
	assert.Equal(t, []string{"android.permission.INTERNET"}, out.Summary.Mobile.Permissions)

	assert.Equal(t, "job-m/mobsf_report.pdf", out.ArtifactKeys["mobsf_report"])
	assert.Contains(t, artifacts.keys(), "job-m/mobsf_report.pdf")
}

func TestMobileExecutorDownloadsFromURL(t *testing.T) {
	binary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("PK binary"))
	}))
	defer binary.Close()

	srv := newFakeMobSF(t)
	client := mobsf.NewClient(config.MobSFConfig{URL: srv.URL, APIKey: "k"}, srv.Client())
	require.NotNil(t, client)

	exec := NewMobileExecutor(MobileExecutorOptions{MobSF: client, HTTP: binary.Client()})

	session := mobileSession(t, model.MobileTestRequest{
		TestType: model.TestTypeAnalyze,
		FileURL:  binary.URL + "/builds/app.apk",
	})
	out, err := exec.Execute(context.Background(), session, NoCancel)
	require.NoError(t, err)

	assert.True(t, out.Summary.Passed)
	require.NotNil(t, out.Summary.Mobile)
}

func TestMobileExecutorRecordsDownloadFailure(t *testing.T) {
	binary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer binary.Close()

	srv := newFakeMobSF(t)
	client := mobsf.NewClient(config.MobSFConfig{URL: srv.URL, APIKey: "k"}, srv.Client())
	require.NotNil(t, client)

	exec := NewMobileExecutor(MobileExecutorOptions{MobSF: client, HTTP: binary.Client()})

	session := mobileSession(t, model.MobileTestRequest{
		TestType: model.TestTypeAnalyze,
		FileURL:  binary.URL + "/missing.apk",
	})
	out, err := exec.Execute(context.Background(), session, NoCancel)
	require.NoError(t, err)

	assert.False(t, out.Summary.Passed)
	assert.Contains(t, out.Summary.Error, "404")
}

func TestMobileExecutorPropagatesCancellation(t *testing.T) {
	srv := newFakeMobSF(t)
	client := mobsf.NewClient(config.MobSFConfig{URL: srv.URL, APIKey: "k"}, srv.Client())
	require.NotNil(t, client)

	exec := NewMobileExecutor(MobileExecutorOptions{MobSF: client})
	canceled := func(context.Context) error { return apperrors.Canceled("cancel requested") }

	session := mobileSession(t, model.MobileTestRequest{
		TestType: model.TestTypeAnalyze,
		FilePath: "/tmp/nope.apk",
		FileURL:  srv.URL + "/builds/app.apk",
	})
	out, err := exec.Execute(context.Background(), session, canceled)
	require.Error(t, err)
	assert.True(t, apperrors.IsCanceled(err))
	require.NotNil(t, out)
}
