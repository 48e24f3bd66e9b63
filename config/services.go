package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeHTTP runs the admission API server.
	ServiceModeHTTP ServiceMode = "http"
	// ServiceModeWorker runs the job execution worker loop.
	ServiceModeWorker ServiceMode = "worker"
)

// ParseServices parses a comma-delimited string of service names and returns the enabled services.
// It validates that all service names are valid and returns an error if any are invalid.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	for _, part := range strings.Split(servicesStr, ",") {
		serviceName := strings.TrimSpace(part)
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		switch mode {
		case ServiceModeHTTP, ServiceModeWorker:
			services[mode] = true
		default:
			return nil, fmt.Errorf("invalid service name: %q (valid options: http, worker)", serviceName)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

// WorkerConfig contains worker loop configuration.
type WorkerConfig struct {
	// Concurrency is the number of jobs a worker process executes in parallel.
	Concurrency int `env:"TAAS_WORKER_CONCURRENCY" envDefault:"2"`

	// PopTimeout is how long a blocking dequeue waits before re-checking for shutdown.
	PopTimeout time.Duration `env:"TAAS_WORKER_POP_TIMEOUT" envDefault:"5s"`
}

// Sanitize applies guardrails to worker configuration values.
func (w *WorkerConfig) Sanitize() {
	if w.Concurrency < 1 {
		w.Concurrency = 1
	}
	if w.PopTimeout < time.Second {
		w.PopTimeout = time.Second
	}
}

// ServicesConfig groups all service-related configuration.
type ServicesConfig struct {
	// Services is a comma-delimited list of enabled services.
	// Valid values: http, worker
	Services string `env:"SERVICES" envDefault:"http"`

	// Worker configuration.
	Worker WorkerConfig
}

// GetEnabledServices returns the enabled services based on the Services field.
func (s *ServicesConfig) GetEnabledServices() (map[ServiceMode]bool, error) {
	return ParseServices(s.Services)
}

// IsHTTPServerEnabled returns true if the admission API service is enabled.
func (s *ServicesConfig) IsHTTPServerEnabled() bool {
	services, err := s.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[ServiceModeHTTP]
}

// IsWorkerEnabled returns true if the worker loop service is enabled.
func (s *ServicesConfig) IsWorkerEnabled() bool {
	services, err := s.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[ServiceModeWorker]
}

// Sanitize applies guardrails to services configuration values.
func (s *ServicesConfig) Sanitize() {
	s.Worker.Sanitize()
}
