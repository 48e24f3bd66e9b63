// Package policy folds the heterogeneous signals of a finished run (case
// outcomes, performance metrics, security alert counts) into a single
// pass/fail verdict with human-auditable reasons.
package policy

import (
	"strconv"

	"github.com/ratemate/taas/config"
	"github.com/ratemate/taas/internal/domain/model"
)

// Thresholds are the tunable pass/fail boundaries.
type Thresholds struct {
	MinScore float64
	MaxLCPMs float64
	MaxCLS   float64
	MaxTTIMs float64

	AllowHigh   int
	AllowMedium int
}

// DefaultThresholds returns the boundaries used when nothing is configured.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinScore: 80,
		MaxLCPMs: 2500,
		MaxCLS:   0.1,
		MaxTTIMs: 5000,
	}
}

// FromConfig builds Thresholds from the sidecar configuration blocks.
func FromConfig(perf config.PerfConfig, zap config.ZAPConfig) Thresholds {
	return Thresholds{
		MinScore:    perf.MinScore,
		MaxLCPMs:    perf.MaxLCPMs,
		MaxCLS:      perf.MaxCLS,
		MaxTTIMs:    perf.MaxTTIMs,
		AllowHigh:   zap.AllowHigh,
		AllowMedium: zap.AllowMedium,
	}
}

// Evaluate combines per-case outcomes with optional performance and security
// signals. A nil perf or sec means that signal did not run and is excluded
// from the verdict; its outcome pointer stays nil in the result. The boolean
// return is the overall pass.
func Evaluate(cases []model.CaseResult, perf *model.PerformanceMetrics, sec *model.ZAPCounts, th Thresholds) (model.PolicyOutcome, bool) {
	out := model.PolicyOutcome{}
	pass := true

	for _, c := range cases {
		if !c.Passed {
			pass = false
			break
		}
	}

	if perf != nil {
		ok := true
		if perf.Score < th.MinScore {
			ok = false
			out.Reasons = append(out.Reasons, "score<"+formatNum(th.MinScore))
		}
		if perf.LCPMs > th.MaxLCPMs {
			ok = false
			out.Reasons = append(out.Reasons, "lcp>"+formatNum(th.MaxLCPMs))
		}
		if perf.CLS > th.MaxCLS {
			ok = false
			out.Reasons = append(out.Reasons, "cls>"+formatNum(th.MaxCLS))
		}
		if perf.TTIMs > th.MaxTTIMs {
			ok = false
			out.Reasons = append(out.Reasons, "tti>"+formatNum(th.MaxTTIMs))
		}
		out.PerformanceOK = &ok
		pass = pass && ok
	}

	if sec != nil {
		ok := true
		if sec.High > th.AllowHigh {
			ok = false
			out.Reasons = append(out.Reasons, "high>"+strconv.Itoa(th.AllowHigh))
		}
		if sec.Medium > th.AllowMedium {
			ok = false
			out.Reasons = append(out.Reasons, "medium>"+strconv.Itoa(th.AllowMedium))
		}
		out.SecurityOK = &ok
		pass = pass && ok
	}

	return out, pass
}

func formatNum(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
