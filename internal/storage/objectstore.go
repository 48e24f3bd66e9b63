// Package storage provides the S3-compatible artifact store. Artifacts
// produced by workers live under {job_id}/{basename}; visual baselines live
// under baselines/{project}/. Presigned GET URLs are the only way artifact
// bytes leave the store.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/ratemate/taas/config"
	apperrors "github.com/ratemate/taas/internal/errors"
)

// ObjectStore wraps an S3-compatible bucket (MinIO in the default deployment).
type ObjectStore struct {
	client    *s3.Client
	presigner *s3.PresignClient

	bucket     string
	presignTTL time.Duration
}

// New builds an ObjectStore from storage configuration. The caller should
// check cfg.Configured() first; New returns a validation error otherwise.
// API traffic uses the internal endpoint. Presigning signs against the
// public endpoint when one is configured, so the signature stays valid for
// the host a browser actually connects to.
func New(cfg config.StorageConfig) (*ObjectStore, error) {
	if !cfg.Configured() {
		return nil, apperrors.Validation("object store is not configured")
	}

	opts := s3.Options{
		Region:       cfg.Region,
		BaseEndpoint: aws.String(cfg.Endpoint),
		// MinIO and most S3-compatible providers require path-style addressing.
		UsePathStyle: true,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
	}
	client := s3.New(opts)

	presignOpts := opts
	if cfg.PublicEndpoint != "" {
		presignOpts.BaseEndpoint = aws.String(cfg.PublicEndpoint)
	}

	return &ObjectStore{
		client:     client,
		presigner:  s3.NewPresignClient(s3.New(presignOpts)),
		bucket:     cfg.Bucket,
		presignTTL: cfg.ArtifactTTL(),
	}, nil
}

// ArtifactKey returns the object key for a job artifact. Only the basename of
// name is used so worker-local paths never leak into keys.
func ArtifactKey(jobID, name string) string {
	return jobID + "/" + path.Base(filepath.ToSlash(name))
}

// Put stores body under key. An empty contentType is inferred from the key's
// extension.
func (o *ObjectStore) Put(ctx context.Context, key, contentType string, body io.Reader) error {
	if contentType == "" {
		contentType = ContentTypeFor(key)
	}
	_, err := o.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(o.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return apperrors.Wrapf(err, apperrors.ErrCodeUpstream, "put object %s", key)
	}
	return nil
}

// PutFile uploads a local file under key.
func (o *ObjectStore) PutFile(ctx context.Context, key, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open artifact file: %w", err)
	}
	defer f.Close()
	return o.Put(ctx, key, ContentTypeFor(localPath), f)
}

// Get returns a reader over the object's bytes. The caller must close it.
func (o *ObjectStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := o.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, apperrors.NotFoundf("object %s not found", key)
		}
		return nil, apperrors.Wrapf(err, apperrors.ErrCodeUpstream, "get object %s", key)
	}
	return out.Body, nil
}

// Exists reports whether an object is present under key.
func (o *ObjectStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := o.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, apperrors.Wrapf(err, apperrors.ErrCodeUpstream, "head object %s", key)
	}
	return true, nil
}

// Copy copies an object within the bucket. Used to promote a candidate
// screenshot to a visual baseline.
func (o *ObjectStore) Copy(ctx context.Context, srcKey, dstKey string) error {
	_, err := o.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(o.bucket),
		CopySource: aws.String(o.bucket + "/" + srcKey),
		Key:        aws.String(dstKey),
	})
	if err != nil {
		if isNotFound(err) {
			return apperrors.NotFoundf("object %s not found", srcKey)
		}
		return apperrors.Wrapf(err, apperrors.ErrCodeUpstream, "copy object %s to %s", srcKey, dstKey)
	}
	return nil
}

// Presign returns a time-limited GET URL for key. URLs are short-lived and
// must be re-signed on every read; callers never persist them. Browser-viewable
// content is served inline rather than as a download.
func (o *ObjectStore) Presign(ctx context.Context, key string) (string, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(key),
	}
	if InlineContent(key) {
		input.ResponseContentDisposition = aws.String("inline")
	}

	req, err := o.presigner.PresignGetObject(ctx, input, s3.WithPresignExpires(o.presignTTL))
	if err != nil {
		return "", apperrors.Wrapf(err, apperrors.ErrCodeUpstream, "presign object %s", key)
	}
	return req.URL, nil
}

// EnsureBucket creates the bucket if it does not already exist.
func (o *ObjectStore) EnsureBucket(ctx context.Context) error {
	_, err := o.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(o.bucket)})
	if err == nil {
		return nil
	}
	if !isNotFound(err) {
		return apperrors.Wrapf(err, apperrors.ErrCodeUpstream, "head bucket %s", o.bucket)
	}

	_, err = o.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(o.bucket)})
	if err != nil {
		var owned *s3types.BucketAlreadyOwnedByYou
		var exists *s3types.BucketAlreadyExists
		if errors.As(err, &owned) || errors.As(err, &exists) {
			return nil
		}
		return apperrors.Wrapf(err, apperrors.ErrCodeUpstream, "create bucket %s", o.bucket)
	}
	return nil
}

// Ping verifies the store is reachable.
func (o *ObjectStore) Ping(ctx context.Context) error {
	_, err := o.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(o.bucket)})
	if err != nil && !isNotFound(err) {
		return apperrors.Wrap(err, apperrors.ErrCodeUpstream, "object store unreachable")
	}
	return nil
}

func isNotFound(err error) bool {
	var nf *s3types.NotFound
	var nsk *s3types.NoSuchKey
	var nsb *s3types.NoSuchBucket
	return errors.As(err, &nf) || errors.As(err, &nsk) || errors.As(err, &nsb)
}

// inlineExtensions is content a browser renders directly; everything else is
// left to the provider's default disposition.
var inlineExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".svg":  true,
	".webp": true,
	".html": true,
	".htm":  true,
	".json": true,
	".txt":  true,
}

// InlineContent reports whether an artifact should be served with an inline
// Content-Disposition in presigned URLs.
func InlineContent(key string) bool {
	return inlineExtensions[strings.ToLower(path.Ext(key))]
}

// ContentTypeFor infers a MIME type from a file name's extension.
func ContentTypeFor(name string) string {
	if ct := mime.TypeByExtension(strings.ToLower(path.Ext(name))); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
