package config

import (
	"strings"
	"time"
)

// UploadConfig contains mobile artifact upload configuration.
//
// The upload directory must be a volume shared between the API and worker
// processes: the API stores the file and returns its path, and the worker
// later reads the same path from the job payload.
type UploadConfig struct {
	Dir string `env:"TAAS_UPLOAD_DIR" envDefault:"uploads/taas"`

	// MaxMB is the maximum accepted upload size in MiB.
	MaxMB int `env:"TAAS_UPLOAD_MAX_MB" envDefault:"200"`

	// AllowedExts is a comma-delimited extension allow-set (without dots).
	AllowedExts string `env:"TAAS_UPLOAD_ALLOWED_EXTS" envDefault:"apk,aab,ipa,zip"`
}

// Sanitize applies guardrails to upload configuration values.
func (u *UploadConfig) Sanitize() {
	if u.MaxMB < 1 {
		u.MaxMB = 1
	}
	if strings.TrimSpace(u.AllowedExts) == "" {
		u.AllowedExts = "apk,aab,ipa,zip"
	}
}

// MaxBytes returns the maximum upload size in bytes.
func (u *UploadConfig) MaxBytes() int64 {
	return int64(u.MaxMB) * 1024 * 1024
}

// ExtAllowed reports whether the given extension (without dot, any case) is accepted.
func (u *UploadConfig) ExtAllowed(ext string) bool {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, allowed := range strings.Split(u.AllowedExts, ",") {
		if strings.ToLower(strings.TrimSpace(allowed)) == ext {
			return true
		}
	}
	return false
}

// PerfConfig contains Lighthouse performance sidecar configuration.
type PerfConfig struct {
	// URL is the sidecar endpoint; empty disables performance runs.
	URL string `env:"PERF_URL" envDefault:""`

	Timeout time.Duration `env:"PERF_TIMEOUT" envDefault:"240s"`

	// Pass/fail thresholds evaluated by the policy evaluator.
	MinScore float64 `env:"PERF_MIN_SCORE" envDefault:"80"`
	MaxLCPMs float64 `env:"PERF_MAX_LCP_MS" envDefault:"2500"`
	MaxCLS   float64 `env:"PERF_MAX_CLS" envDefault:"0.1"`
	MaxTTIMs float64 `env:"PERF_MAX_TTI_MS" envDefault:"5000"`
}

// Sanitize applies guardrails to performance configuration values.
func (p *PerfConfig) Sanitize() {
	if p.Timeout < 10*time.Second {
		p.Timeout = 10 * time.Second
	}
}

// ZAPConfig contains OWASP ZAP scanner configuration.
type ZAPConfig struct {
	// URL is the ZAP API endpoint; empty disables security scans.
	URL    string `env:"ZAP_URL" envDefault:""`
	APIKey string `env:"ZAP_API_KEY" envDefault:""`

	SpiderTimeout time.Duration `env:"ZAP_SPIDER_TIMEOUT" envDefault:"180s"`

	// Alert-count thresholds evaluated by the policy evaluator.
	AllowHigh   int `env:"ZAP_ALLOW_HIGH" envDefault:"0"`
	AllowMedium int `env:"ZAP_ALLOW_MEDIUM" envDefault:"0"`
}

// Sanitize applies guardrails to ZAP configuration values.
func (z *ZAPConfig) Sanitize() {
	if z.SpiderTimeout < 10*time.Second {
		z.SpiderTimeout = 10 * time.Second
	}
}

// AjaxSpiderTimeout returns the ajax-spider stage budget, capped at one minute.
func (z *ZAPConfig) AjaxSpiderTimeout() time.Duration {
	if z.SpiderTimeout < time.Minute {
		return z.SpiderTimeout
	}
	return time.Minute
}

// VisualConfig contains visual regression configuration.
type VisualConfig struct {
	// ThresholdPct is the maximum accepted pixel mismatch percentage (0..100).
	ThresholdPct float64 `env:"VISUAL_THRESHOLD_PCT" envDefault:"0.1"`

	// AutoBaseline promotes the first screenshot of an unseen URL to baseline.
	AutoBaseline bool `env:"VISUAL_AUTO_BASELINE" envDefault:"false"`
}

// Sanitize applies guardrails to visual configuration values.
func (v *VisualConfig) Sanitize() {
	if v.ThresholdPct < 0 {
		v.ThresholdPct = 0
	}
	if v.ThresholdPct > 100 {
		v.ThresholdPct = 100
	}
}

// MobSFConfig contains MobSF static analyzer configuration.
type MobSFConfig struct {
	// URL is the analyzer endpoint; empty means "not configured" and mobile
	// analyze jobs complete as skipped.
	URL    string `env:"MOBSF_URL" envDefault:""`
	APIKey string `env:"MOBSF_API_KEY" envDefault:""`

	Timeout time.Duration `env:"MOBSF_TIMEOUT" envDefault:"300s"`
}

// NotifyConfig contains completion webhook configuration.
type NotifyConfig struct {
	// WebhookURL receives a summary POST on terminal job transitions; empty disables.
	WebhookURL string `env:"SLACK_WEBHOOK_URL" envDefault:""`

	Timeout time.Duration `env:"NOTIFY_TIMEOUT" envDefault:"5s"`
}

// StatsdConfig contains statsd metrics configuration.
type StatsdConfig struct {
	// Addr is the UDP statsd address; empty disables metrics.
	Addr   string `env:"STATSD_ADDR" envDefault:""`
	Prefix string `env:"STATSD_PREFIX" envDefault:"taas"`
}
