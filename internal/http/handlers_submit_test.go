package httpx

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ratemate/taas/internal/domain/model"
)

func TestSubmitWebAdmitsJob(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	rec := fx.do(t, http.MethodPost, "/api/test/web", map[string]any{
		"url":       "https://shop.example/checkout",
		"test_type": "smoke",
		"project":   "shop",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	jobID, _ := body["job_id"].(string)
	require.NotEmpty(t, jobID)
	require.Equal(t, "queued", body["status"])

	// The mirror document exists before the response is sent.
	doc, err := fx.status.Read(jobID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusQueued, doc.Status)
	assert.Equal(t, model.KindWeb, doc.Kind)
	assert.Equal(t, "shop", doc.Project)

	// The state store row and the queued message carry the same id.
	session, err := fx.sessions.GetByID(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, model.TestTypeSmoke, session.TestType)

	depth, err := fx.q.Depth(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, depth)
}

func TestSubmitWebValidation(t *testing.T) {
	fx := newFixture(t)

	tests := []struct {
		name string
		body map[string]any
	}{
		{"missing target", map[string]any{"test_type": "smoke"}},
		{"bad scheme", map[string]any{"url": "ftp://x.example"}},
		{"mobile-only test type", map[string]any{"url": "https://x.example", "test_type": "analyze"}},
		{"unknown field", map[string]any{"url": "https://x.example", "bogus": true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := fx.do(t, http.MethodPost, "/api/test/web", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestSubmitWebWorksWithoutStateStore(t *testing.T) {
	fx := newFixture(t, func(o *ServerOptions) {
		o.Sessions = nil
		o.Results = nil
	})

	rec := fx.do(t, http.MethodPost, "/api/test/web", map[string]any{
		"url": "https://shop.example",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	_, err := fx.status.Read(body["job_id"].(string))
	require.NoError(t, err)
}

func TestSubmitMobileAdmitsJob(t *testing.T) {
	fx := newFixture(t)

	rec := fx.do(t, http.MethodPost, "/api/test/mobile", map[string]any{
		"test_type": "analyze",
		"file_url":  "https://cdn.example/build.apk",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	doc, err := fx.status.Read(body["job_id"].(string))
	require.NoError(t, err)
	assert.Equal(t, model.KindMobile, doc.Kind)
	assert.Equal(t, model.TestTypeAnalyze, doc.TestType)
}

func multipartUpload(t *testing.T, field, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func (fx *fixture) upload(t *testing.T, field, filename string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartUpload(t, field, filename, content)
	req := httptest.NewRequest(http.MethodPost, "/api/upload/mobile", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-API-Key", testRawKey)
	rec := httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, req)
	return rec
}

func TestUploadMobileStoresFile(t *testing.T) {
	fx := newFixture(t)

	content := []byte("binary-apk-bytes")
	rec := fx.upload(t, "file", "build.apk", content)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "build.apk", body["filename"])
	assert.EqualValues(t, len(content), body["size"])

	data, err := os.ReadFile(body["path"].(string))
	require.NoError(t, err)
	assert.Equal(t, content, data)
}

func TestUploadMobileRejectsDisallowedExtension(t *testing.T) {
	fx := newFixture(t)

	rec := fx.upload(t, "file", "payload.exe", []byte("nope"))
	require.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestUploadMobileRejectsOversizeAndRemovesPartial(t *testing.T) {
	fx := newFixture(t)

	// Fixture limit is 1 MiB.
	big := make([]byte, 1<<20+1)
	rec := fx.upload(t, "file", "build.apk", big)
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	entries, err := os.ReadDir(fx.srv.upload.Dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "partial upload must be deleted")
}

func TestUploadMobileRequiresFileField(t *testing.T) {
	fx := newFixture(t)

	rec := fx.upload(t, "attachment", "build.apk", []byte("x"))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadMobileStripsDirectoryComponents(t *testing.T) {
	fx := newFixture(t)

	rec := fx.upload(t, "file", "../../etc/build.apk", []byte("x"))
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "build.apk", body["filename"])
	assert.Equal(t, fx.srv.upload.Dir, filepath.Dir(body["path"].(string)))
}
