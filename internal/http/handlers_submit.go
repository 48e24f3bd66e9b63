package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/ratemate/taas/internal/domain/model"
	apperrors "github.com/ratemate/taas/internal/errors"
	"github.com/ratemate/taas/internal/statusfile"
)

// uploadChunkSize is the streaming copy buffer for mobile binary uploads.
const uploadChunkSize = 1 << 20

func (s *Server) handleSubmitWeb(w http.ResponseWriter, r *http.Request) {
	var req model.WebTestRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		WriteAppError(w, apperrors.Validation(err.Error()))
		return
	}
	s.admit(w, r, model.KindWeb, req.TestType, req.Project, req)
}

func (s *Server) handleSubmitMobile(w http.ResponseWriter, r *http.Request) {
	var req model.MobileTestRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		WriteAppError(w, apperrors.Validation(err.Error()))
		return
	}
	s.admit(w, r, model.KindMobile, req.TestType, req.Project, req)
}

// admit allocates a session, mirrors it as queued, persists best-effort and
// enqueues the job message.
func (s *Server) admit(
	w http.ResponseWriter,
	r *http.Request,
	kind model.Kind,
	testType model.TestType,
	project string,
	req any,
) {
	ctx := r.Context()

	payload, err := json.Marshal(req)
	if err != nil {
		WriteAppError(w, apperrors.Wrap(err, apperrors.ErrCodeInternal, "encode payload"))
		return
	}

	session := &model.Session{
		ID:       uuid.NewString(),
		Kind:     kind,
		TestType: testType,
		Status:   model.SessionStatusQueued,
		Payload:  payload,
	}
	if project != "" {
		session.Project = &project
	}

	if err := s.status.Write(statusfile.Doc{
		JobID:    session.ID,
		Kind:     kind,
		TestType: testType,
		Project:  project,
		Status:   model.SessionStatusQueued,
	}); err != nil {
		WriteAppError(w, apperrors.Wrap(err, apperrors.ErrCodeInternal, "mirror session"))
		return
	}

	// The state store is best-effort: admission works on the mirror alone.
	if s.sessions != nil {
		if _, err := s.sessions.Upsert(ctx, session); err != nil {
			s.logger.ErrorContext(ctx, "persist session", "session_id", session.ID, "error", err)
		}
	}

	if err := s.queue.Push(ctx, model.JobMessage{
		Kind:      kind,
		SessionID: session.ID,
		Payload:   payload,
	}); err != nil {
		WriteAppError(w, apperrors.Wrap(err, apperrors.ErrCodeTransient, "enqueue job"))
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{
		"job_id": session.ID,
		"status": string(model.SessionStatusQueued),
	})
}

// handleUploadMobile streams a multipart binary to the shared upload volume.
// The partial file is deleted on any failure.
func (s *Server) handleUploadMobile(w http.ResponseWriter, r *http.Request) {
	mr, err := r.MultipartReader()
	if err != nil {
		WriteAppError(w, apperrors.Validation("multipart body is required"))
		return
	}

	part, err := nextFilePart(mr)
	if err != nil {
		WriteAppError(w, err)
		return
	}

	filename := filepath.Base(part.FileName())
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
	if !s.upload.ExtAllowed(ext) {
		WriteAppError(w, apperrors.UnsupportedMedia(
			fmt.Sprintf("extension %q is not allowed (allowed: %s)", ext, s.upload.AllowedExts)))
		return
	}

	if err := os.MkdirAll(s.upload.Dir, 0o755); err != nil {
		WriteAppError(w, apperrors.Wrap(err, apperrors.ErrCodeInternal, "create upload dir"))
		return
	}

	dstPath := filepath.Join(s.upload.Dir, uuid.NewString()+"_"+filename)
	size, err := s.streamUpload(dstPath, part)
	if err != nil {
		if rmErr := os.Remove(dstPath); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			s.logger.ErrorContext(r.Context(), "remove partial upload", "path", dstPath, "error", rmErr)
		}
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"path":     dstPath,
		"filename": filename,
		"size":     size,
	})
}

// nextFilePart scans the multipart stream for the "file" field.
func nextFilePart(mr *multipart.Reader) (*multipart.Part, error) {
	for {
		part, err := mr.NextPart()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, apperrors.Validation(`multipart field "file" is required`)
			}
			return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "read multipart body")
		}
		if part.FormName() == "file" {
			return part, nil
		}
	}
}

// streamUpload copies src to dstPath in fixed-size chunks, enforcing the
// configured size cap as it goes rather than after the fact.
func (s *Server) streamUpload(dstPath string, src io.Reader) (int64, error) {
	dst, err := os.Create(dstPath)
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.ErrCodeInternal, "create upload file")
	}

	limit := s.upload.MaxBytes()
	buf := make([]byte, uploadChunkSize)
	var written int64
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			written += int64(n)
			if written > limit {
				_ = dst.Close()
				return 0, apperrors.PayloadTooLarge(
					fmt.Sprintf("upload exceeds %d MiB limit", s.upload.MaxMB))
			}
			if _, werr := dst.Write(buf[:n]); werr != nil {
				_ = dst.Close()
				return 0, apperrors.Wrap(werr, apperrors.ErrCodeInternal, "write upload")
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				break
			}
			_ = dst.Close()
			return 0, apperrors.Wrap(rerr, apperrors.ErrCodeValidation, "read upload stream")
		}
	}

	if err := dst.Close(); err != nil {
		return 0, apperrors.Wrap(err, apperrors.ErrCodeInternal, "flush upload")
	}
	return written, nil
}
