package mobsf

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ratemate/taas/config"
	apperrors "github.com/ratemate/taas/internal/errors"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient(config.MobSFConfig{URL: srv.URL, APIKey: "secret"}, srv.Client())
	require.NotNil(t, c)
	return c
}

func TestNewClientUnconfigured(t *testing.T) {
	assert.Nil(t, NewClient(config.MobSFConfig{}, nil))
}

func TestUpload(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/upload", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("Authorization"))

		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "app.apk", header.Filename)

		_ = json.NewEncoder(w).Encode(map[string]string{
			"hash": "abc123", "scan_type": "apk", "file_name": "app.apk",
		})
	}))

	up, err := c.Upload(context.Background(), "app.apk", strings.NewReader("binary"))
	require.NoError(t, err)
	assert.Equal(t, "abc123", up.Hash)
	assert.Equal(t, "apk", up.ScanType)
}

func TestUploadMissingHash(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{})
	}))
	_, err := c.Upload(context.Background(), "app.apk", strings.NewReader("binary"))
	require.Error(t, err)
	assert.True(t, apperrors.IsUpstream(err))
}

func TestScanModernEndpoint(t *testing.T) {
	var path string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "abc123", r.Form.Get("hash"))
		w.WriteHeader(http.StatusOK)
	}))

	err := c.Scan(context.Background(), &UploadResult{Hash: "abc123", ScanType: "apk", FileName: "app.apk"})
	require.NoError(t, err)
	assert.Equal(t, "/api/v1/scan", path)
}

func TestScanFallsBackToTypedEndpoint(t *testing.T) {
	var paths []string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		if r.URL.Path == "/api/v1/scan" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	err := c.Scan(context.Background(), &UploadResult{Hash: "abc123", ScanType: "apk", FileName: "app.apk"})
	require.NoError(t, err)
	assert.Equal(t, []string{"/api/v1/scan", "/api/v1/scan/apk"}, paths)
}

func TestReportExtractsFields(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/report_json", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"appsec": map[string]any{"security_score": 62.5},
			"permissions": map[string]any{
				"android.permission.INTERNET": map[string]string{"status": "normal"},
				"android.permission.CAMERA":   map[string]string{"status": "dangerous"},
			},
			"domains": map[string]any{
				"tracker.example.com": map[string]any{},
				"api.example.com":     map[string]any{},
			},
		})
	}))

	analysis, err := c.Report(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, "abc123", analysis.FileHash)
	assert.Equal(t, 62.5, analysis.RiskScore)
	assert.Equal(t, []string{"android.permission.CAMERA", "android.permission.INTERNET"}, analysis.Permissions)
	assert.Equal(t, []string{"api.example.com", "tracker.example.com"}, analysis.Domains)
}

func TestReportLegacyScoreField(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"security_score": 40})
	}))

	analysis, err := c.Report(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, 40.0, analysis.RiskScore)
}
