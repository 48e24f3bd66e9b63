// Package mobsf is a client for the MobSF static analyzer REST API.
package mobsf

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/ratemate/taas/config"
	"github.com/ratemate/taas/internal/domain/model"
	apperrors "github.com/ratemate/taas/internal/errors"
)

// Client talks to a MobSF instance.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient builds a Client; returns nil when no analyzer is configured.
func NewClient(cfg config.MobSFConfig, hc *http.Client) *Client {
	base := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if base == "" {
		return nil
	}
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Minute
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{baseURL: base, apiKey: cfg.APIKey, http: hc}
}

// UploadResult identifies an uploaded binary within MobSF.
type UploadResult struct {
	Hash     string `json:"hash"`
	ScanType string `json:"scan_type"`
	FileName string `json:"file_name"`
}

// Upload sends the binary to the analyzer and returns its content hash.
func (c *Client) Upload(ctx context.Context, filename string, r io.Reader) (*UploadResult, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("build upload form: %w", err)
	}
	if _, err := io.Copy(fw, r); err != nil {
		return nil, fmt.Errorf("copy upload body: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("finish upload form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/upload", &buf)
	if err != nil {
		return nil, fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeUpstream, "mobsf unreachable")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read upload response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.Upstreamf("mobsf upload returned %d", resp.StatusCode)
	}

	var out UploadResult
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode upload response: %w", err)
	}
	if out.Hash == "" {
		return nil, apperrors.Upstream("mobsf upload returned no hash")
	}
	return &out, nil
}

// Scan triggers static analysis for an uploaded binary. Older MobSF versions
// expose /scan/{type}; newer ones accept a single /scan keyed by hash. Both
// are tried in turn.
func (c *Client) Scan(ctx context.Context, up *UploadResult) error {
	form := url.Values{
		"hash":      {up.Hash},
		"scan_type": {up.ScanType},
		"file_name": {up.FileName},
	}

	status, err := c.postForm(ctx, "/api/v1/scan", form, nil)
	if err != nil {
		return err
	}
	if status == http.StatusOK {
		return nil
	}
	if status != http.StatusNotFound && status != http.StatusMethodNotAllowed {
		return apperrors.Upstreamf("mobsf scan returned %d", status)
	}

	status, err = c.postForm(ctx, "/api/v1/scan/"+url.PathEscape(up.ScanType), form, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return apperrors.Upstreamf("mobsf scan returned %d", status)
	}
	return nil
}

// reportJSON is the subset of MobSF's report we extract. Newer releases nest
// the score under appsec.
type reportJSON struct {
	AppSec struct {
		SecurityScore *float64 `json:"security_score"`
	} `json:"appsec"`
	SecurityScore *float64                   `json:"security_score"`
	Permissions   map[string]json.RawMessage `json:"permissions"`
	Domains       map[string]json.RawMessage `json:"domains"`
}

// Report fetches the JSON report and extracts permissions, contacted domains,
// and the risk score.
func (c *Client) Report(ctx context.Context, hash string) (*model.MobileAnalysis, error) {
	var raw json.RawMessage
	status, err := c.postForm(ctx, "/api/v1/report_json", url.Values{"hash": {hash}}, &raw)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, apperrors.Upstreamf("mobsf report returned %d", status)
	}

	var rep reportJSON
	if err := json.Unmarshal(raw, &rep); err != nil {
		return nil, fmt.Errorf("decode mobsf report: %w", err)
	}

	analysis := &model.MobileAnalysis{
		FileHash:    hash,
		Permissions: sortedKeys(rep.Permissions),
		Domains:     sortedKeys(rep.Domains),
	}
	switch {
	case rep.AppSec.SecurityScore != nil:
		analysis.RiskScore = *rep.AppSec.SecurityScore
	case rep.SecurityScore != nil:
		analysis.RiskScore = *rep.SecurityScore
	}
	return analysis, nil
}

// ReportPDF attempts to download the rendered report for artifact capture.
func (c *Client) ReportPDF(ctx context.Context, hash string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/download_pdf",
		strings.NewReader(url.Values{"hash": {hash}}.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build pdf request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeUpstream, "mobsf unreachable")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.Upstreamf("mobsf pdf returned %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 100<<20))
}

// postForm posts a urlencoded form and optionally captures the body. The HTTP
// status is returned for caller-side variant handling.
func (c *Client) postForm(ctx context.Context, apiPath string, form url.Values, out *json.RawMessage) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+apiPath, strings.NewReader(form.Encode()))
	if err != nil {
		return 0, fmt.Errorf("build mobsf request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.ErrCodeUpstream, "mobsf unreachable")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 100<<20))
	if err != nil {
		return 0, fmt.Errorf("read mobsf response: %w", err)
	}
	if out != nil && resp.StatusCode == http.StatusOK {
		*out = json.RawMessage(data)
	}
	return resp.StatusCode, nil
}

func sortedKeys(m map[string]json.RawMessage) []string {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
