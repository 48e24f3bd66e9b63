package config

import "strings"

// HTTPConfig contains HTTP server and authentication configuration.
type HTTPConfig struct {
	// Addr is the address to bind the HTTP server to.
	Addr string `env:"HTTP_ADDR" envDefault:":8000"`

	// LegacyAPIKey, when set, is accepted on any authenticated endpoint and
	// bypasses the per-key rate limiter. Kept for single-tenant deployments
	// that predate per-key issuance.
	LegacyAPIKey string `env:"API_KEY" envDefault:""`

	// AdminToken gates the admin key-management endpoints. Admin requests
	// never authenticate with a regular API key.
	AdminToken string `env:"ADMIN_TOKEN" envDefault:""`

	// CORSOrigins is a comma-delimited list of allowed origins, or "*".
	CORSOrigins string `env:"TAAS_CORS_ORIGINS" envDefault:"*"`
}

// Sanitize applies guardrails to HTTP configuration values.
func (h *HTTPConfig) Sanitize() {
	h.LegacyAPIKey = strings.TrimSpace(h.LegacyAPIKey)
	h.AdminToken = strings.TrimSpace(h.AdminToken)
	if strings.TrimSpace(h.CORSOrigins) == "" {
		h.CORSOrigins = "*"
	}
}

// Origins returns the configured CORS origins as a slice.
func (h *HTTPConfig) Origins() []string {
	parts := strings.Split(h.CORSOrigins, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
