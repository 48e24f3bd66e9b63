package config

// DBConfig contains PostgreSQL state store configuration.
//
// Field names follow the conventional libpq variables (PGHOST, PGPORT, ...).
type DBConfig struct {
	Host     string `env:"HOST"     envDefault:"localhost"`
	Port     int    `env:"PORT"     envDefault:"5432"`
	User     string `env:"USER"     envDefault:"taas"`
	Password string `env:"PASSWORD" envDefault:"taas"`
	Database string `env:"DATABASE" envDefault:"taas"`
	SSLMode  string `env:"SSLMODE"  envDefault:"disable"` // Use 'disable' for local dev, 'require' for production
	// RunMigrationsOnStart controls whether the application automatically applies migrations during startup.
	RunMigrationsOnStart bool `env:"RUN_MIGRATIONS_ON_START" envDefault:"true"`
}

// RedisConfig contains Redis configuration for the job queue, cancellation
// flags, and the per-key rate limiter.
type RedisConfig struct {
	// URL accepts either a redis:// URL or a bare host:port address.
	URL      string `env:"REDIS_URL"      envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASSWORD" envDefault:""`
	DB       int    `env:"REDIS_DB"       envDefault:"0"`
}

// QueueConfig contains durable job queue configuration.
type QueueConfig struct {
	// Name is the queue list key; counters live under "{name}:stats:*".
	Name string `env:"TAAS_QUEUE_NAME" envDefault:"taas"`
}

// ResultsConfig contains the local status-file mirror configuration.
type ResultsConfig struct {
	// Dir is where per-job status files ({id}.json) and result mirrors
	// ({id}-result.json) are written.
	Dir string `env:"TAAS_RESULTS_DIR" envDefault:"test-results/taas"`
}
