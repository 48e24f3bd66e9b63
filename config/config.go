package config

// AppConfig is the main application configuration struct that composes
// domain-specific configuration from separate files.
//
// Configuration is loaded from environment variables using the
// github.com/caarlos0/env library. See individual domain config
// files for details on available environment variables:
//   - database.go: Postgres and Redis configuration
//   - http.go: HTTP server and auth configuration
//   - storage.go: S3 object store configuration
//   - services.go: Service mode and worker configuration
//   - testing.go: Executor, sidecar, and notifier configuration
type AppConfig struct {
	// Postgres state store configuration.
	Postgres DBConfig `envPrefix:"PG"`

	// Redis queue / cancel-flag / rate-limiter configuration.
	Redis RedisConfig

	// HTTP server configuration.
	HTTP HTTPConfig

	// S3 object store configuration.
	Storage StorageConfig

	// Service mode configuration.
	Services ServicesConfig

	// Queue configuration.
	Queue QueueConfig

	// Upload endpoint configuration.
	Upload UploadConfig

	// Status file mirror configuration.
	Results ResultsConfig

	// Performance sidecar configuration.
	Perf PerfConfig

	// ZAP security scanner configuration.
	ZAP ZAPConfig

	// Visual regression configuration.
	Visual VisualConfig

	// MobSF static analyzer configuration.
	MobSF MobSFConfig

	// Completion notifier configuration.
	Notify NotifyConfig

	// Statsd metrics configuration.
	Statsd StatsdConfig

	// SitesFile is an optional JSON file of named site configurations
	// (base URL, route lists, per-route selector assertions).
	SitesFile string `env:"TAAS_SITES_FILE" envDefault:""`
}

// Sanitize applies guardrails to configuration values loaded from env.
// This should be called after loading configuration from environment variables.
func (c *AppConfig) Sanitize() {
	c.HTTP.Sanitize()
	c.Services.Sanitize()
	c.Upload.Sanitize()
	c.Perf.Sanitize()
	c.ZAP.Sanitize()
	c.Visual.Sanitize()
	c.Storage.Sanitize()
}
