// Package sites loads and serves named site configurations: the base URL,
// public and protected route lists, and per-route CSS selector assertions
// used by the web executor.
package sites

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	apperrors "github.com/ratemate/taas/internal/errors"
)

// Config describes one named site.
type Config struct {
	Name            string              `json:"name"`
	BaseURL         string              `json:"base_url"`
	PublicRoutes    []string            `json:"public_routes,omitempty"`
	ProtectedRoutes []string            `json:"protected_routes,omitempty"`

	// Selectors maps a route path to CSS selectors that must each match at
	// least one element for the route to pass.
	Selectors map[string][]string `json:"selectors,omitempty"`
}

// Routes returns the site's route lists joined public-first.
func (c *Config) Routes() []string {
	out := make([]string, 0, len(c.PublicRoutes)+len(c.ProtectedRoutes))
	out = append(out, c.PublicRoutes...)
	out = append(out, c.ProtectedRoutes...)
	return out
}

// Registry holds site configurations keyed by name.
type Registry struct {
	byName map[string]Config
}

// NewRegistry builds a registry from a list of site configurations.
func NewRegistry(configs []Config) *Registry {
	byName := make(map[string]Config, len(configs))
	for _, c := range configs {
		byName[strings.ToLower(strings.TrimSpace(c.Name))] = c
	}
	return &Registry{byName: byName}
}

// Load reads a JSON array of site configurations from path. An empty path
// yields an empty registry.
func Load(path string) (*Registry, error) {
	if path == "" {
		return NewRegistry(nil), nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sites file: %w", err)
	}

	var configs []Config
	if err := json.Unmarshal(raw, &configs); err != nil {
		return nil, fmt.Errorf("parse sites file: %w", err)
	}

	for i := range configs {
		if strings.TrimSpace(configs[i].Name) == "" {
			return nil, fmt.Errorf("sites file: entry %d has no name", i)
		}
	}

	return NewRegistry(configs), nil
}

// Get returns the site configuration for name.
func (r *Registry) Get(name string) (Config, error) {
	c, ok := r.byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Config{}, apperrors.NotFoundf("unknown site %q", name)
	}
	return c, nil
}

// Names returns the registered site names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.byName))
	for _, c := range r.byName {
		names = append(names, c.Name)
	}
	return names
}
