package bootstrap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ratemate/taas/config"
)

func TestValidateServiceConfig(t *testing.T) {
	tests := []struct {
		name     string
		services string
		wantErr  bool
	}{
		{"http only", "http", false},
		{"worker only", "worker", false},
		{"both", "http,worker", false},
		{"empty", "", true},
		{"unknown", "http,cron", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.AppConfig{}
			cfg.Services.Services = tt.services
			err := ValidateServiceConfig(cfg)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEnabledServiceNamesStableOrder(t *testing.T) {
	cfg := &config.AppConfig{}
	cfg.Services.Services = "worker,http"
	assert.Equal(t, []string{"http", "worker"}, EnabledServiceNames(cfg))

	assert.Nil(t, EnabledServiceNames(nil))
}

func TestLoadSitesWithoutFile(t *testing.T) {
	registry, err := loadSites("")
	require.NoError(t, err)
	assert.Empty(t, registry.Names())
}
