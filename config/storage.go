package config

import "time"

// StorageConfig contains S3-compatible object store configuration.
type StorageConfig struct {
	// Endpoint is the internal S3 endpoint (e.g., http://minio:9000).
	Endpoint string `env:"S3_ENDPOINT" envDefault:""`

	// PublicEndpoint, when set, replaces Endpoint in presigned URLs so that
	// returned URLs are reachable from outside the deployment network.
	PublicEndpoint string `env:"S3_PUBLIC_ENDPOINT" envDefault:""`

	AccessKey string `env:"S3_ACCESS_KEY" envDefault:""`
	SecretKey string `env:"S3_SECRET_KEY" envDefault:""`
	Bucket    string `env:"S3_BUCKET"     envDefault:"taas-artifacts"`
	Region    string `env:"S3_REGION"     envDefault:"us-east-1"`

	// ArtifactTTLSeconds is the presigned URL lifetime in seconds.
	ArtifactTTLSeconds int `env:"ARTIFACT_TTL_SECONDS" envDefault:"3600"`
}

// ArtifactTTL returns the presigned URL lifetime as a duration.
func (s *StorageConfig) ArtifactTTL() time.Duration {
	return time.Duration(s.ArtifactTTLSeconds) * time.Second
}

// Configured reports whether the object store has enough configuration to be used.
func (s *StorageConfig) Configured() bool {
	return s.Endpoint != "" && s.AccessKey != "" && s.SecretKey != ""
}

// Sanitize applies guardrails to storage configuration values.
func (s *StorageConfig) Sanitize() {
	if s.ArtifactTTLSeconds < 60 {
		s.ArtifactTTLSeconds = 60
	}
	if s.Bucket == "" {
		s.Bucket = "taas-artifacts"
	}
}
