package httpx

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (fx *fixture) doAdmin(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, rd)
	req.Header.Set("X-Admin-Token", testAdminToken)
	rec := httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, req)
	return rec
}

func TestAdminCreateKeyReturnsRawOnce(t *testing.T) {
	fx := newFixture(t)

	rec := fx.doAdmin(t, http.MethodPost, "/api/admin/keys", map[string]any{
		"name": "nightly",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	raw := body["api_key"].(string)
	require.NotEmpty(t, raw)

	key := body["key"].(map[string]any)
	assert.Equal(t, "nightly", key["name"])
	assert.Equal(t, true, key["active"])
	// Default budget applies when the request carries none.
	assert.EqualValues(t, 60, key["rate_limit_per_min"])
	// The hash never leaves the server.
	_, leaked := key["key_hash"]
	assert.False(t, leaked)

	// The new raw key authenticates regular API calls.
	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	req.Header.Set("X-API-Key", raw)
	rec2 := httptest.NewRecorder()
	fx.handler.ServeHTTP(rec2, req)
	assert.Equal(t, http.StatusOK, rec2.Code)

	// A later listing exposes metadata only, never the raw key.
	rec3 := fx.doAdmin(t, http.MethodGet, "/api/admin/keys", nil)
	require.Equal(t, http.StatusOK, rec3.Code)
	assert.NotContains(t, rec3.Body.String(), raw)
}

func TestAdminCreateKeyValidation(t *testing.T) {
	fx := newFixture(t)

	tests := []struct {
		name string
		body map[string]any
	}{
		{"empty name", map[string]any{"name": "  "}},
		{"negative limit", map[string]any{"name": "x", "rate_limit_per_min": -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := fx.doAdmin(t, http.MethodPost, "/api/admin/keys", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestAdminUpdateKeyDeactivates(t *testing.T) {
	fx := newFixture(t)

	rec := fx.doAdmin(t, http.MethodPatch, "/api/admin/keys/key-1", map[string]any{
		"active": false,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	key := decodeBody(t, rec)["key"].(map[string]any)
	assert.Equal(t, false, key["active"])

	// The deactivated key no longer authenticates.
	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	req.Header.Set("X-API-Key", testRawKey)
	rec2 := httptest.NewRecorder()
	fx.handler.ServeHTTP(rec2, req)
	assert.Equal(t, http.StatusUnauthorized, rec2.Code)
}

func TestAdminUpdateKeyRequiresChanges(t *testing.T) {
	fx := newFixture(t)

	rec := fx.doAdmin(t, http.MethodPatch, "/api/admin/keys/key-1", map[string]any{})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminUpdateUnknownKey(t *testing.T) {
	fx := newFixture(t)

	rec := fx.doAdmin(t, http.MethodPatch, "/api/admin/keys/ghost", map[string]any{
		"active": true,
	})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminEndpointsUnavailableWithoutKeyStore(t *testing.T) {
	fx := newFixture(t, func(o *ServerOptions) { o.Keys = nil })

	rec := fx.doAdmin(t, http.MethodGet, "/api/admin/keys", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
