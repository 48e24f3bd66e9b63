package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/ratemate/taas/internal/adapters/mobsf"
	"github.com/ratemate/taas/internal/domain/model"
	apperrors "github.com/ratemate/taas/internal/errors"
	"github.com/ratemate/taas/internal/storage"
)

// MobileExecutorOptions configures a MobileExecutor. A nil MobSF client means
// the analyzer is not deployed; analyze jobs then complete as skipped.
type MobileExecutorOptions struct {
	MobSF     *mobsf.Client
	Artifacts ArtifactStore
	HTTP      *http.Client
	Logger    *slog.Logger
}

// MobileExecutor runs static analysis sessions for mobile binaries.
type MobileExecutor struct {
	mobsf     *mobsf.Client
	artifacts ArtifactStore
	http      *http.Client
	logger    *slog.Logger
}

// NewMobileExecutor builds a MobileExecutor.
func NewMobileExecutor(opts MobileExecutorOptions) *MobileExecutor {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	hc := opts.HTTP
	if hc == nil {
		hc = &http.Client{Timeout: 5 * time.Minute}
	}
	return &MobileExecutor{
		mobsf:     opts.MobSF,
		artifacts: opts.Artifacts,
		http:      hc,
		logger:    logger,
	}
}

// Execute resolves the input binary, pushes it through the analyzer, and
// extracts the report. Non-analyze mobile types have no backing device farm
// and complete as skipped.
func (e *MobileExecutor) Execute(ctx context.Context, session *model.Session, check CancelCheck) (*Outcome, error) {
	var req model.MobileTestRequest
	if err := json.Unmarshal(session.Payload, &req); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "decode mobile payload")
	}
	if err := req.Validate(); err != nil {
		return nil, apperrors.Validation(err.Error())
	}

	out := &Outcome{
		Summary:      model.ResultSummary{TestType: req.TestType},
		ArtifactKeys: map[string]string{},
	}

	if e.mobsf == nil || req.TestType != model.TestTypeAnalyze {
		configured := false
		out.Summary.Passed = true
		out.Summary.Configured = &configured
		out.Summary.Note = "skipped"
		return out, nil
	}
	configured := true
	out.Summary.Configured = &configured

	if err := check(ctx); err != nil {
		return out, err
	}

	localPath, cleanup, err := e.resolveFile(ctx, &req)
	if err != nil {
		out.Summary.Error = err.Error()
		return out, nil
	}
	defer cleanup()

	analysis, err := e.analyze(ctx, session, localPath, check, out)
	if err != nil {
		if apperrors.IsCanceled(err) {
			return out, err
		}
		out.Summary.Error = err.Error()
		return out, nil
	}

	out.Summary.Mobile = analysis
	out.Summary.Passed = true
	return out, nil
}

// resolveFile prefers a worker-local path and falls back to downloading from
// the request URL into a temp file.
func (e *MobileExecutor) resolveFile(ctx context.Context, req *model.MobileTestRequest) (string, func(), error) {
	noop := func() {}

	if req.FilePath != "" {
		if _, err := os.Stat(req.FilePath); err == nil {
			return req.FilePath, noop, nil
		}
		if req.FileURL == "" {
			return "", noop, fmt.Errorf("file %s is not readable by the worker", req.FilePath)
		}
	}
	if req.FileURL == "" {
		return "", noop, apperrors.Validation("mobile analyze requires file_path or file_url")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.FileURL, nil)
	if err != nil {
		return "", noop, fmt.Errorf("build download request: %w", err)
	}
	resp, err := e.http.Do(httpReq)
	if err != nil {
		return "", noop, apperrors.Wrap(err, apperrors.ErrCodeUpstream, "download mobile binary")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", noop, apperrors.Upstreamf("download returned %d", resp.StatusCode)
	}

	tmp, err := os.CreateTemp("", "taas-mobile-*"+filepath.Ext(req.FileURL))
	if err != nil {
		return "", noop, fmt.Errorf("create temp file: %w", err)
	}
	cleanup := func() { _ = os.Remove(tmp.Name()) }

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		_ = tmp.Close()
		cleanup()
		return "", noop, fmt.Errorf("download mobile binary: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return "", noop, fmt.Errorf("flush download: %w", err)
	}
	return tmp.Name(), cleanup, nil
}

func (e *MobileExecutor) analyze(ctx context.Context, session *model.Session, localPath string, check CancelCheck, out *Outcome) (*model.MobileAnalysis, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return nil, fmt.Errorf("open mobile binary: %w", err)
	}
	defer f.Close()

	up, err := e.mobsf.Upload(ctx, filepath.Base(localPath), f)
	if err != nil {
		return nil, err
	}

	if err := check(ctx); err != nil {
		return nil, err
	}
	if err := e.mobsf.Scan(ctx, up); err != nil {
		return nil, err
	}

	if err := check(ctx); err != nil {
		return nil, err
	}
	analysis, err := e.mobsf.Report(ctx, up.Hash)
	if err != nil {
		return nil, err
	}

	e.captureReportPDF(ctx, session.ID, up.Hash, check, out)
	return analysis, nil
}

// captureReportPDF is best-effort; older MobSF builds lack the endpoint.
func (e *MobileExecutor) captureReportPDF(ctx context.Context, sessionID, hash string, check CancelCheck, out *Outcome) {
	if e.artifacts == nil {
		return
	}
	pdf, err := e.mobsf.ReportPDF(ctx, hash)
	if err != nil {
		e.logger.ErrorContext(ctx, "mobsf report pdf", "session_id", sessionID, "error", err)
		return
	}
	if err := check(ctx); err != nil {
		return
	}
	key := storage.ArtifactKey(sessionID, "mobsf_report.pdf")
	if err := e.artifacts.Put(ctx, key, "application/pdf", bytes.NewReader(pdf)); err != nil {
		e.logger.ErrorContext(ctx, "upload mobsf report", "session_id", sessionID, "error", err)
		return
	}
	out.ArtifactKeys["mobsf_report"] = key
}
