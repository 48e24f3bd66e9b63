// Package lighthouse is a client for the Lighthouse performance sidecar.
// The sidecar runs a full audit per request, so calls are slow by nature and
// get a generous timeout.
package lighthouse

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ratemate/taas/config"
	"github.com/ratemate/taas/internal/domain/model"
	apperrors "github.com/ratemate/taas/internal/errors"
)

// Client runs Lighthouse audits through the perf sidecar.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a Client; returns nil when no sidecar is configured.
func NewClient(cfg config.PerfConfig, hc *http.Client) *Client {
	base := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if base == "" {
		return nil
	}
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{baseURL: base, http: hc}
}

// runResponse mirrors the sidecar's /run payload. Metric values arrive in
// milliseconds except CLS, which is unitless.
type runResponse struct {
	URL              string   `json:"url"`
	PerformanceScore *float64 `json:"performance_score"`
	Metrics          struct {
		LCP *float64 `json:"lcp"`
		CLS *float64 `json:"cls"`
		TTI *float64 `json:"tti"`
	} `json:"metrics"`
	Error string `json:"error"`
}

// Run audits url and returns the extracted metrics.
func (c *Client) Run(ctx context.Context, url string) (*model.PerformanceMetrics, error) {
	body, err := json.Marshal(map[string]string{"url": url})
	if err != nil {
		return nil, fmt.Errorf("encode perf request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/run", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build perf request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeUpstream, "performance sidecar unreachable")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("read perf response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.Upstreamf("performance sidecar returned %d: %s", resp.StatusCode, truncate(data, 256))
	}

	var out runResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode perf response: %w", err)
	}
	if out.Error != "" {
		return nil, apperrors.Upstreamf("performance audit failed: %s", out.Error)
	}

	metrics := &model.PerformanceMetrics{}
	if out.PerformanceScore != nil {
		metrics.Score = *out.PerformanceScore
	}
	if out.Metrics.LCP != nil {
		metrics.LCPMs = *out.Metrics.LCP
	}
	if out.Metrics.CLS != nil {
		metrics.CLS = *out.Metrics.CLS
	}
	if out.Metrics.TTI != nil {
		metrics.TTIMs = *out.Metrics.TTI
	}
	return metrics, nil
}

// Healthy probes the sidecar's health endpoint.
func (c *Client) Healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

func truncate(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) > n {
		return s[:n]
	}
	return s
}
