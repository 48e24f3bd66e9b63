package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebTestRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     WebTestRequest
		wantErr string
	}{
		{
			name: "single url smoke",
			req:  WebTestRequest{URL: "https://x.test/", TestType: TestTypeSmoke},
		},
		{
			name: "defaults to smoke",
			req:  WebTestRequest{URL: "https://x.test/"},
		},
		{
			name: "site with routes",
			req:  WebTestRequest{Site: "shop", Routes: []string{"/cart"}, TestType: TestTypeFull},
		},
		{
			name: "auto crawl seed",
			req:  WebTestRequest{URL: "https://x.test/", TestType: TestTypeAuto},
		},
		{
			name:    "no target",
			req:     WebTestRequest{TestType: TestTypeSmoke},
			wantErr: "url or site is required",
		},
		{
			name:    "bad scheme",
			req:     WebTestRequest{URL: "ftp://x.test/", TestType: TestTypeSmoke},
			wantErr: "http or https",
		},
		{
			name:    "unknown test type",
			req:     WebTestRequest{URL: "https://x.test/", TestType: "load"},
			wantErr: "invalid test_type",
		},
		{
			name:    "analyze is mobile only",
			req:     WebTestRequest{URL: "https://x.test/", TestType: TestTypeAnalyze},
			wantErr: "mobile-only",
		},
		{
			name:    "bad base url",
			req:     WebTestRequest{Site: "shop", BaseURL: "not a url", TestType: TestTypeFull},
			wantErr: "http or https",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestWebTestRequestValidateDefaultsType(t *testing.T) {
	req := WebTestRequest{URL: "https://x.test/"}
	require.NoError(t, req.Validate())
	assert.Equal(t, TestTypeSmoke, req.TestType)
}

func TestMobileTestRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     MobileTestRequest
		wantErr bool
	}{
		{name: "file path", req: MobileTestRequest{FilePath: "uploads/taas/app.apk"}},
		{name: "file url", req: MobileTestRequest{FileURL: "https://cdn.test/app.apk"}},
		{name: "deep link", req: MobileTestRequest{DeepLink: "app://home", TestType: TestTypeE2E}},
		{name: "no input", req: MobileTestRequest{TestType: TestTypeAnalyze}, wantErr: true},
		{name: "bad file url", req: MobileTestRequest{FileURL: "ftp://cdn.test/app.apk"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestMobileTestRequestDefaultsToAnalyze(t *testing.T) {
	req := MobileTestRequest{FilePath: "uploads/taas/app.apk"}
	require.NoError(t, req.Validate())
	assert.Equal(t, TestTypeAnalyze, req.TestType)
}

func TestJobMessageValidate(t *testing.T) {
	msg := JobMessage{
		Kind:      KindWeb,
		SessionID: "abc",
		Payload:   json.RawMessage(`{"url":"https://x.test/"}`),
	}
	require.NoError(t, msg.Validate())

	require.Error(t, (&JobMessage{SessionID: "abc", Payload: msg.Payload}).Validate())
	require.Error(t, (&JobMessage{Kind: KindWeb, Payload: msg.Payload}).Validate())
	require.Error(t, (&JobMessage{Kind: KindWeb, SessionID: "abc"}).Validate())
}
