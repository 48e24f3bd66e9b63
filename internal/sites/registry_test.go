package sites

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/ratemate/taas/internal/errors"
)

func TestLoadEmptyPath(t *testing.T) {
	reg, err := Load("")
	require.NoError(t, err)
	assert.Empty(t, reg.Names())
}

func TestLoadAndGet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sites.json")
	content := `[
		{
			"name": "shop",
			"base_url": "https://shop.test",
			"public_routes": ["/", "/store"],
			"protected_routes": ["/account"],
			"selectors": {"/cart": ["button#checkout"]}
		}
	]`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	reg, err := Load(path)
	require.NoError(t, err)

	site, err := reg.Get("Shop")
	require.NoError(t, err)
	assert.Equal(t, "https://shop.test", site.BaseURL)
	assert.Equal(t, []string{"/", "/store", "/account"}, site.Routes())
	assert.Equal(t, []string{"button#checkout"}, site.Selectors["/cart"])

	_, err = reg.Get("unknown")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestLoadRejectsUnnamedEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sites.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"base_url":"https://x.test"}]`), 0o600))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsBadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sites.json")
	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0o600))

	_, err := Load(path)
	require.Error(t, err)
}
