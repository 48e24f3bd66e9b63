package storage

import (
	"context"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ratemate/taas/config"
)

func TestArtifactKey(t *testing.T) {
	tests := []struct {
		name  string
		jobID string
		file  string
		want  string
	}{
		{name: "plain basename", jobID: "job-1", file: "screenshot_1.png", want: "job-1/screenshot_1.png"},
		{name: "strips directories", jobID: "job-1", file: "/tmp/taas/job-1/trace.zip", want: "job-1/trace.zip"},
		{name: "strips windows directories", jobID: "job-1", file: `C:\temp\perf.html`, want: "job-1/perf.html"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ArtifactKey(tt.jobID, tt.file))
		})
	}
}

func TestInlineContent(t *testing.T) {
	assert.True(t, InlineContent("job-1/screenshot.png"))
	assert.True(t, InlineContent("job-1/perf.HTML"))
	assert.True(t, InlineContent("job-1/zap.json"))
	assert.False(t, InlineContent("job-1/trace.zip"))
	assert.False(t, InlineContent("job-1/app.apk"))
}

func TestContentTypeFor(t *testing.T) {
	assert.Equal(t, "image/png", ContentTypeFor("shot.png"))
	assert.Equal(t, "application/octet-stream", ContentTypeFor("app.apk"))
	assert.Equal(t, "application/octet-stream", ContentTypeFor("noext"))
}

// Presigning is a local signing operation, no bucket is contacted, so these
// run without a live store.
func TestPresignEndpointSelection(t *testing.T) {
	cfg := config.StorageConfig{
		Endpoint:           "http://minio:9000",
		AccessKey:          "minio",
		SecretKey:          "minio123",
		Bucket:             "taas-artifacts",
		Region:             "us-east-1",
		ArtifactTTLSeconds: 3600,
	}

	t.Run("signs against internal endpoint by default", func(t *testing.T) {
		store, err := New(cfg)
		require.NoError(t, err)

		u := presignURL(t, store, "job-1/shot.png")
		assert.Equal(t, "minio:9000", u.Host)
		assert.NotEmpty(t, u.Query().Get("X-Amz-Signature"))
	})

	t.Run("signs against public endpoint when configured", func(t *testing.T) {
		pub := cfg
		pub.PublicEndpoint = "https://artifacts.example.com"
		store, err := New(pub)
		require.NoError(t, err)

		u := presignURL(t, store, "job-1/shot.png")
		assert.Equal(t, "https", u.Scheme)
		assert.Equal(t, "artifacts.example.com", u.Host)
		assert.Equal(t, "/taas-artifacts/job-1/shot.png", u.Path)
		assert.NotEmpty(t, u.Query().Get("X-Amz-Signature"))
		assert.Equal(t, "inline", u.Query().Get("response-content-disposition"))
	})
}

func presignURL(t *testing.T, store *ObjectStore, key string) *url.URL {
	t.Helper()
	raw, err := store.Presign(context.Background(), key)
	require.NoError(t, err)
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestNewRequiresConfiguration(t *testing.T) {
	_, err := New(config.StorageConfig{})
	require.Error(t, err)

	store, err := New(config.StorageConfig{
		Endpoint:           "http://minio:9000",
		AccessKey:          "minio",
		SecretKey:          "minio123",
		Bucket:             "taas-artifacts",
		Region:             "us-east-1",
		ArtifactTTLSeconds: 3600,
	})
	require.NoError(t, err)
	assert.NotNil(t, store)
}
