package model

import "time"

// Result is an immutable record summarizing one execution of a session.
// Rows are append-only; the latest result for a session is the row with
// the greatest created_at.
type Result struct {
	ID        int64         `json:"id"         db:"id"`
	SessionID string        `json:"session_id" db:"session_id"`
	Summary   ResultSummary `json:"summary"    db:"summary"`
	CreatedAt time.Time     `json:"created_at" db:"created_at"`
}

// ResultSummary is the structured blob persisted per result.
type ResultSummary struct {
	TestType    TestType `json:"test_type"`
	Passed      bool     `json:"passed"`
	DurationSec float64  `json:"duration_sec"`
	Error       string   `json:"error,omitempty"`

	// Configured is set to false for runs that were skipped because an
	// external analyzer was not configured.
	Configured *bool  `json:"configured,omitempty"`
	Note       string `json:"summary,omitempty"`

	Cases        []CaseResult        `json:"cases,omitempty"`
	Performance  *PerformanceMetrics `json:"performance,omitempty"`
	Security     *SecurityReport     `json:"security,omitempty"`
	Mobile       *MobileAnalysis     `json:"mobile,omitempty"`
	Policy       *PolicyOutcome      `json:"policy,omitempty"`
	ArtifactURLs map[string]string   `json:"artifact_urls,omitempty"`
}

// CaseResult is a single URL's evaluation within a multi-URL job.
type CaseResult struct {
	URL              string        `json:"url"`
	Status           int           `json:"status,omitempty"`
	Title            string        `json:"title,omitempty"`
	Passed           bool          `json:"passed"`
	Error            string        `json:"error,omitempty"`
	MissingSelectors []string      `json:"missing_selectors,omitempty"`
	Screenshot       string        `json:"screenshot,omitempty"`
	Trace            string        `json:"trace,omitempty"`
	Visual           *VisualResult `json:"visual,omitempty"`
}

// VisualResult holds the outcome of comparing a screenshot to its baseline.
type VisualResult struct {
	BaselineKey     string  `json:"baseline_key"`
	MismatchPct     float64 `json:"mismatch_pct"`
	Passed          bool    `json:"passed"`
	BaselineMissing bool    `json:"baseline_missing,omitempty"`
	DiffArtifact    string  `json:"diff_artifact,omitempty"`
}

// PerformanceMetrics holds the scored report returned by the performance sidecar.
type PerformanceMetrics struct {
	Score float64 `json:"score"`
	LCPMs float64 `json:"lcp_ms"`
	CLS   float64 `json:"cls"`
	TTIMs float64 `json:"tti_ms"`
}

// ZAPCounts holds per-risk alert counts from a security scan.
type ZAPCounts struct {
	High          int `json:"High"`
	Medium        int `json:"Medium"`
	Low           int `json:"Low"`
	Informational int `json:"Informational"`
}

// ZAPAlert is a single finding from a security scan.
type ZAPAlert struct {
	Risk     string `json:"risk"`
	Alert    string `json:"alert"`
	URL      string `json:"url"`
	Evidence string `json:"evidence,omitempty"`
}

// SecurityReport holds the outcome of a security scan.
type SecurityReport struct {
	Counts ZAPCounts  `json:"counts"`
	Alerts []ZAPAlert `json:"alerts,omitempty"`
	Error  string     `json:"error,omitempty"`
}

// MobileAnalysis holds the extracted summary of a static mobile analysis.
type MobileAnalysis struct {
	FileHash    string   `json:"file_hash,omitempty"`
	RiskScore   float64  `json:"risk_score,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	Domains     []string `json:"domains,omitempty"`
	Error       string   `json:"error,omitempty"`
}

// PolicyOutcome is the deterministic pass/fail decision over measured signals.
type PolicyOutcome struct {
	PerformanceOK *bool    `json:"performance_ok,omitempty"`
	SecurityOK    *bool    `json:"security_ok,omitempty"`
	Reasons       []string `json:"reasons,omitempty"`
}

// ResultListOptions groups paging for listing results of a session.
type ResultListOptions struct {
	SessionID string
	Limit     int
	Offset    int
}

// Normalize clamps paging values to the supported window.
func (o *ResultListOptions) Normalize() {
	if o.Limit < 1 {
		o.Limit = 50
	}
	if o.Limit > 200 {
		o.Limit = 200
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
}
