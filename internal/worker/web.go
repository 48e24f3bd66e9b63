package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/ratemate/taas/internal/adapters/lighthouse"
	"github.com/ratemate/taas/internal/adapters/zapscan"
	"github.com/ratemate/taas/internal/domain/model"
	"github.com/ratemate/taas/internal/domain/policy"
	apperrors "github.com/ratemate/taas/internal/errors"
	"github.com/ratemate/taas/internal/sites"
	"github.com/ratemate/taas/internal/storage"
	"github.com/ratemate/taas/internal/visual"
)

// WebExecutorOptions configures a WebExecutor. Driver is required; everything
// else degrades gracefully when absent.
type WebExecutorOptions struct {
	Driver    BrowserDriver
	Artifacts ArtifactStore
	Visual    *visual.Engine
	Perf      *lighthouse.Client
	ZAP       *zapscan.Client
	Sites     *sites.Registry
	Crawler   *Crawler
	Policy    policy.Thresholds
	Logger    *slog.Logger
}

// WebExecutor runs browser-driven test sessions.
type WebExecutor struct {
	driver    BrowserDriver
	artifacts ArtifactStore
	visual    *visual.Engine
	perf      *lighthouse.Client
	zap       *zapscan.Client
	sites     *sites.Registry
	crawler   *Crawler
	policy    policy.Thresholds
	logger    *slog.Logger
}

// NewWebExecutor builds a WebExecutor.
func NewWebExecutor(opts WebExecutorOptions) (*WebExecutor, error) {
	if opts.Driver == nil {
		return nil, apperrors.Validation("browser driver is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	siteRegistry := opts.Sites
	if siteRegistry == nil {
		siteRegistry = sites.NewRegistry(nil)
	}
	crawler := opts.Crawler
	if crawler == nil {
		crawler = NewCrawler(nil, DefaultCrawlMaxPages)
	}
	return &WebExecutor{
		driver:    opts.Driver,
		artifacts: opts.Artifacts,
		visual:    opts.Visual,
		perf:      opts.Perf,
		zap:       opts.ZAP,
		sites:     siteRegistry,
		crawler:   crawler,
		policy:    opts.Policy,
		logger:    logger,
	}, nil
}

// caseTarget is one URL to exercise plus its selector assertions.
type caseTarget struct {
	url       string
	selectors []string
}

// Execute runs a web session: resolve targets, drive the browser per URL,
// then run the optional performance and security stages, and fold everything
// into a policy verdict.
func (e *WebExecutor) Execute(ctx context.Context, session *model.Session, check CancelCheck) (*Outcome, error) {
	var req model.WebTestRequest
	if err := json.Unmarshal(session.Payload, &req); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "decode web payload")
	}
	if err := req.Validate(); err != nil {
		return nil, apperrors.Validation(err.Error())
	}

	out := &Outcome{
		Summary:      model.ResultSummary{TestType: req.TestType},
		ArtifactKeys: map[string]string{},
	}

	targets, err := e.resolveTargets(ctx, &req)
	if err != nil {
		return nil, err
	}

	for i, target := range targets {
		if err := check(ctx); err != nil {
			return out, err
		}
		cr, err := e.runCase(ctx, session, i+1, target, check, out)
		out.Summary.Cases = append(out.Summary.Cases, cr)
		if err != nil {
			return out, err
		}
	}

	var perfFailed, secFailed bool

	if e.perf != nil && runsPerformance(req.TestType) && len(targets) > 0 {
		if err := check(ctx); err != nil {
			return out, err
		}
		metrics, err := e.perf.Run(ctx, targets[0].url)
		if err != nil {
			if apperrors.IsCanceled(err) {
				return out, err
			}
			e.logger.ErrorContext(ctx, "performance audit failed", "session_id", session.ID, "error", err)
			out.Summary.Error = err.Error()
			perfFailed = true
		} else {
			out.Summary.Performance = metrics
		}
	}

	if e.zap != nil && runsSecurity(req.TestType) && len(targets) > 0 {
		if err := check(ctx); err != nil {
			return out, err
		}
		report, err := e.zap.Scan(ctx, targets[0].url, check)
		if err != nil {
			if apperrors.IsCanceled(err) {
				return out, err
			}
			e.logger.ErrorContext(ctx, "security scan failed", "session_id", session.ID, "error", err)
			out.Summary.Error = err.Error()
			secFailed = true
		} else {
			out.Summary.Security = report
			e.captureZAPReport(ctx, session.ID, check, out)
		}
	}

	out.Summary.Policy, out.Summary.Passed = e.verdict(out, perfFailed, secFailed)
	return out, nil
}

// verdict folds case outcomes and sidecar signals into the final policy
// result. A sidecar that errored fails its dimension outright.
func (e *WebExecutor) verdict(out *Outcome, perfFailed, secFailed bool) (*model.PolicyOutcome, bool) {
	var secCounts *model.ZAPCounts
	if out.Summary.Security != nil {
		secCounts = &out.Summary.Security.Counts
	}
	verdict, pass := policy.Evaluate(out.Summary.Cases, out.Summary.Performance, secCounts, e.policy)

	if perfFailed {
		failed := false
		verdict.PerformanceOK = &failed
		verdict.Reasons = append(verdict.Reasons, "perf_unavailable")
		pass = false
	}
	if secFailed {
		failed := false
		verdict.SecurityOK = &failed
		verdict.Reasons = append(verdict.Reasons, "security_unavailable")
		pass = false
	}
	return &verdict, pass
}

// resolveTargets applies the URL resolution precedence: explicit routes, site
// route lists, a single url, or an auto-discovery crawl.
func (e *WebExecutor) resolveTargets(ctx context.Context, req *model.WebTestRequest) ([]caseTarget, error) {
	var siteCfg *sites.Config
	if req.Site != "" {
		cfg, err := e.sites.Get(req.Site)
		if err != nil {
			return nil, err
		}
		siteCfg = &cfg
	}

	switch {
	case len(req.Routes) > 0:
		base := req.BaseURL
		if base == "" && siteCfg != nil {
			base = siteCfg.BaseURL
		}
		if base == "" {
			return nil, apperrors.Validation("routes require base_url or a site with one")
		}
		return joinRoutes(base, req.Routes, siteCfg)

	case siteCfg != nil:
		routes := siteCfg.Routes()
		if len(routes) == 0 {
			return nil, apperrors.Validationf("site %q has no routes", req.Site)
		}
		return joinRoutes(siteCfg.BaseURL, routes, siteCfg)

	case req.TestType == model.TestTypeAuto:
		urls, err := e.crawler.Discover(ctx, req.URL)
		if err != nil {
			return nil, err
		}
		targets := make([]caseTarget, len(urls))
		for i, u := range urls {
			targets[i] = caseTarget{url: u}
		}
		return targets, nil

	default:
		return []caseTarget{{url: req.URL}}, nil
	}
}

func joinRoutes(base string, routes []string, siteCfg *sites.Config) ([]caseTarget, error) {
	baseURL, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil || baseURL.Host == "" {
		return nil, apperrors.Validationf("invalid base url %q", base)
	}

	targets := make([]caseTarget, 0, len(routes))
	for _, route := range routes {
		r := "/" + strings.TrimLeft(route, "/")
		target := caseTarget{url: baseURL.String() + r}
		if siteCfg != nil {
			target.selectors = siteCfg.Selectors[r]
		}
		targets = append(targets, target)
	}
	return targets, nil
}

// runCase drives the browser through one URL. The page and its tracing are
// released on every path. A returned error is always a cancellation; ordinary
// failures are recorded on the case.
func (e *WebExecutor) runCase(ctx context.Context, session *model.Session, index int, target caseTarget, check CancelCheck, out *Outcome) (model.CaseResult, error) {
	cr := model.CaseResult{URL: target.url}

	page, err := e.driver.NewPage(ctx, DefaultViewport)
	if err != nil {
		cr.Error = err.Error()
		return cr, nil
	}
	defer func() {
		if cerr := page.Close(); cerr != nil {
			e.logger.ErrorContext(ctx, "close page", "session_id", session.ID, "error", cerr)
		}
	}()

	tracePath := filepath.Join(os.TempDir(), fmt.Sprintf("%s_trace_%d.json", session.ID, index))
	tracingStarted := e.startTracing(ctx, page, session.ID)
	defer func() {
		// Tracing stops on every path; the temp file never outlives the case.
		if tracingStarted {
			e.finishTracing(ctx, page, tracePath, session.ID, index, check, out)
		}
		_ = os.Remove(tracePath)
	}()

	if err := check(ctx); err != nil {
		return cr, err
	}

	status, navErr := page.Navigate(ctx, target.url, NavigationTimeout)
	cr.Status = status
	if navErr != nil {
		cr.Error = navErr.Error()
		return cr, nil
	}

	if title, err := page.Title(ctx); err == nil {
		cr.Title = title
	}

	for _, selector := range target.selectors {
		count, err := page.QueryCount(ctx, selector)
		if err != nil || count == 0 {
			cr.MissingSelectors = append(cr.MissingSelectors, selector)
		}
	}

	cr.Passed = status >= 200 && status < 400 && len(cr.MissingSelectors) == 0

	shot, err := page.Screenshot(ctx)
	if err != nil {
		e.logger.ErrorContext(ctx, "screenshot failed", "session_id", session.ID, "url", target.url, "error", err)
		return cr, nil
	}

	if e.artifacts != nil {
		if err := check(ctx); err != nil {
			return cr, err
		}
		key := storage.ArtifactKey(session.ID, fmt.Sprintf("screenshot_%d.png", index))
		if err := e.artifacts.Put(ctx, key, "image/png", bytes.NewReader(shot)); err != nil {
			e.logger.ErrorContext(ctx, "upload screenshot", "session_id", session.ID, "error", err)
		} else {
			cr.Screenshot = key
			out.ArtifactKeys[fmt.Sprintf("screenshot_%d", index)] = key
		}
	}

	if e.visual != nil {
		vr, err := e.visual.Check(ctx, session.ID, projectOf(session), target.url,
			DefaultViewport.Width, DefaultViewport.Height, shot)
		if err != nil {
			e.logger.ErrorContext(ctx, "visual check failed", "session_id", session.ID, "url", target.url, "error", err)
		} else {
			cr.Visual = vr
			if vr.DiffArtifact != "" {
				out.ArtifactKeys[fmt.Sprintf("visual_diff_%d", index)] = vr.DiffArtifact
			}
			if !vr.Passed {
				cr.Passed = false
			}
		}
	}

	return cr, nil
}

func (e *WebExecutor) startTracing(ctx context.Context, page Page, sessionID string) bool {
	if err := page.StartTracing(ctx); err != nil {
		e.logger.ErrorContext(ctx, "start tracing", "session_id", sessionID, "error", err)
		return false
	}
	return true
}

func (e *WebExecutor) finishTracing(ctx context.Context, page Page, tracePath, sessionID string, index int, check CancelCheck, out *Outcome) {
	if err := page.StopTracing(ctx, tracePath); err != nil {
		e.logger.ErrorContext(ctx, "stop tracing", "session_id", sessionID, "error", err)
		return
	}
	if e.artifacts == nil {
		return
	}
	if err := check(ctx); err != nil {
		return
	}
	key := storage.ArtifactKey(sessionID, fmt.Sprintf("trace_%d.json", index))
	if err := e.artifacts.PutFile(ctx, key, tracePath); err != nil {
		e.logger.ErrorContext(ctx, "upload trace", "session_id", sessionID, "error", err)
		return
	}
	out.ArtifactKeys[fmt.Sprintf("trace_%d", index)] = key
}

func (e *WebExecutor) captureZAPReport(ctx context.Context, sessionID string, check CancelCheck, out *Outcome) {
	if e.artifacts == nil {
		return
	}
	html, err := e.zap.HTMLReport(ctx)
	if err != nil {
		e.logger.ErrorContext(ctx, "zap html report", "session_id", sessionID, "error", err)
		return
	}
	if err := check(ctx); err != nil {
		return
	}
	key := storage.ArtifactKey(sessionID, "zap.html")
	if err := e.artifacts.Put(ctx, key, "text/html", bytes.NewReader(html)); err != nil {
		e.logger.ErrorContext(ctx, "upload zap report", "session_id", sessionID, "error", err)
		return
	}
	out.ArtifactKeys["zap_html"] = key
}

func runsPerformance(t model.TestType) bool {
	return t == model.TestTypePerformance || t == model.TestTypeFull
}

func runsSecurity(t model.TestType) bool {
	return t == model.TestTypeSecurity || t == model.TestTypeFull
}

func projectOf(session *model.Session) string {
	if session.Project != nil {
		return *session.Project
	}
	return ""
}
