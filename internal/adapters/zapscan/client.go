// Package zapscan is a client for the OWASP ZAP daemon API. A security run is
// staged: traditional spider, then ajax spider, then alert retrieval; the
// orchestration polls ZAP and consults a cancellation check between polls and
// between stages.
package zapscan

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ratemate/taas/config"
	"github.com/ratemate/taas/internal/domain/model"
	apperrors "github.com/ratemate/taas/internal/errors"
)

const defaultPollInterval = 2 * time.Second

// Client drives a ZAP daemon over its JSON API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client

	spiderTimeout time.Duration
	ajaxTimeout   time.Duration
	pollInterval  time.Duration
}

// NewClient builds a Client; returns nil when no ZAP endpoint is configured.
func NewClient(cfg config.ZAPConfig, hc *http.Client) *Client {
	base := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if base == "" {
		return nil
	}
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:       base,
		apiKey:        cfg.APIKey,
		http:          hc,
		spiderTimeout: cfg.SpiderTimeout,
		ajaxTimeout:   cfg.AjaxSpiderTimeout(),
		pollInterval:  defaultPollInterval,
	}
}

// Scan runs the full staged scan against target. check is called between
// polls and stages; returning an error aborts the scan with that error.
// Stage failures (e.g. the ajax spider is not installed) degrade to partial
// results rather than failing the scan outright.
func (c *Client) Scan(ctx context.Context, target string, check func(context.Context) error) (*model.SecurityReport, error) {
	report := &model.SecurityReport{}

	if err := check(ctx); err != nil {
		return nil, err
	}
	scanID, err := c.StartSpider(ctx, target)
	if err != nil {
		return nil, err
	}
	if err := c.waitSpider(ctx, scanID, check); err != nil {
		if apperrors.IsCanceled(err) {
			return nil, err
		}
		report.Error = err.Error()
	}

	if err := check(ctx); err != nil {
		return nil, err
	}
	if err := c.runAjaxSpider(ctx, target, check); err != nil {
		if apperrors.IsCanceled(err) {
			return nil, err
		}
		if report.Error == "" {
			report.Error = err.Error()
		}
	}

	if err := check(ctx); err != nil {
		return nil, err
	}
	alerts, err := c.Alerts(ctx, target)
	if err != nil {
		return nil, err
	}
	report.Alerts = alerts
	report.Counts = countAlerts(alerts)
	return report, nil
}

// StartSpider kicks off the traditional spider and returns the scan id.
func (c *Client) StartSpider(ctx context.Context, target string) (string, error) {
	var out struct {
		Scan string `json:"scan"`
	}
	if err := c.get(ctx, "/JSON/spider/action/scan/", url.Values{"url": {target}}, &out); err != nil {
		return "", err
	}
	if out.Scan == "" {
		return "", apperrors.Upstream("zap spider did not return a scan id")
	}
	return out.Scan, nil
}

// SpiderStatus returns the spider's progress percentage.
func (c *Client) SpiderStatus(ctx context.Context, scanID string) (int, error) {
	var out struct {
		Status string `json:"status"`
	}
	if err := c.get(ctx, "/JSON/spider/view/status/", url.Values{"scanId": {scanID}}, &out); err != nil {
		return 0, err
	}
	pct, err := strconv.Atoi(out.Status)
	if err != nil {
		return 0, apperrors.Upstreamf("zap spider status %q is not a percentage", out.Status)
	}
	return pct, nil
}

func (c *Client) waitSpider(ctx context.Context, scanID string, check func(context.Context) error) error {
	deadline := time.Now().Add(c.spiderTimeout)
	for {
		pct, err := c.SpiderStatus(ctx, scanID)
		if err != nil {
			return err
		}
		if pct >= 100 {
			return nil
		}
		if time.Now().After(deadline) {
			return apperrors.Upstreamf("zap spider timed out at %d%%", pct)
		}
		if err := c.sleep(ctx, check); err != nil {
			return err
		}
	}
}

// StartAjaxSpider kicks off the ajax spider stage.
func (c *Client) StartAjaxSpider(ctx context.Context, target string) error {
	var out struct {
		Result string `json:"Result"`
	}
	if err := c.get(ctx, "/JSON/ajaxSpider/action/scan/", url.Values{"url": {target}}, &out); err != nil {
		return err
	}
	if out.Result != "OK" {
		return apperrors.Upstreamf("zap ajax spider refused to start: %s", out.Result)
	}
	return nil
}

// AjaxSpiderRunning reports whether the ajax spider stage is still active.
func (c *Client) AjaxSpiderRunning(ctx context.Context) (bool, error) {
	var out struct {
		Status string `json:"status"`
	}
	if err := c.get(ctx, "/JSON/ajaxSpider/view/status/", nil, &out); err != nil {
		return false, err
	}
	return strings.EqualFold(out.Status, "running"), nil
}

func (c *Client) runAjaxSpider(ctx context.Context, target string, check func(context.Context) error) error {
	if err := c.StartAjaxSpider(ctx, target); err != nil {
		return err
	}
	deadline := time.Now().Add(c.ajaxTimeout)
	for {
		running, err := c.AjaxSpiderRunning(ctx)
		if err != nil {
			return err
		}
		if !running {
			return nil
		}
		if time.Now().After(deadline) {
			// The ajax spider keeps whatever it found; not an error.
			return nil
		}
		if err := c.sleep(ctx, check); err != nil {
			return err
		}
	}
}

// Alerts fetches all alerts recorded for baseURL.
func (c *Client) Alerts(ctx context.Context, baseURL string) ([]model.ZAPAlert, error) {
	var out struct {
		Alerts []struct {
			Risk     string `json:"risk"`
			Alert    string `json:"alert"`
			URL      string `json:"url"`
			Evidence string `json:"evidence"`
		} `json:"alerts"`
	}
	if err := c.get(ctx, "/JSON/core/view/alerts/", url.Values{"baseurl": {baseURL}}, &out); err != nil {
		return nil, err
	}
	alerts := make([]model.ZAPAlert, 0, len(out.Alerts))
	for _, a := range out.Alerts {
		alerts = append(alerts, model.ZAPAlert{
			Risk:     a.Risk,
			Alert:    a.Alert,
			URL:      a.URL,
			Evidence: a.Evidence,
		})
	}
	return alerts, nil
}

// HTMLReport fetches ZAP's HTML report for artifact capture.
func (c *Client) HTMLReport(ctx context.Context) ([]byte, error) {
	req, err := c.newRequest(ctx, "/OTHER/core/other/htmlreport/", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeUpstream, "zap unreachable")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.Upstreamf("zap html report returned %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 50<<20))
}

func (c *Client) sleep(ctx context.Context, check func(context.Context) error) error {
	timer := time.NewTimer(c.pollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}
	return check(ctx)
}

func (c *Client) newRequest(ctx context.Context, apiPath string, params url.Values) (*http.Request, error) {
	if params == nil {
		params = url.Values{}
	}
	if c.apiKey != "" {
		params.Set("apikey", c.apiKey)
	}
	u := c.baseURL + apiPath
	if encoded := params.Encode(); encoded != "" {
		u += "?" + encoded
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build zap request: %w", err)
	}
	return req, nil
}

func (c *Client) get(ctx context.Context, apiPath string, params url.Values, out any) error {
	req, err := c.newRequest(ctx, apiPath, params)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeUpstream, "zap unreachable")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 50<<20))
	if err != nil {
		return fmt.Errorf("read zap response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return apperrors.Upstreamf("zap %s returned %d", apiPath, resp.StatusCode)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode zap response: %w", err)
	}
	return nil
}

func countAlerts(alerts []model.ZAPAlert) model.ZAPCounts {
	var counts model.ZAPCounts
	for _, a := range alerts {
		switch strings.ToLower(a.Risk) {
		case "high":
			counts.High++
		case "medium":
			counts.Medium++
		case "low":
			counts.Low++
		case "informational":
			counts.Informational++
		}
	}
	return counts
}
