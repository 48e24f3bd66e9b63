package model

import (
	"encoding/json"
	"errors"
	"net/url"
	"strings"
)

// WebTestRequest represents a request to run a browser-driven test.
//
// Exactly one target form is required: an explicit url, a site name (routes
// optional, defaults to the site config's route lists), or test_type=auto
// with a url to seed the crawl.
type WebTestRequest struct {
	URL      string   `json:"url,omitempty"`
	TestType TestType `json:"test_type"`
	Site     string   `json:"site,omitempty"`
	Routes   []string `json:"routes,omitempty"`
	BaseURL  string   `json:"base_url,omitempty"`
	Project  string   `json:"project,omitempty"`
}

// Validate validates the WebTestRequest fields.
func (r *WebTestRequest) Validate() error {
	if r.TestType == "" {
		r.TestType = TestTypeSmoke
	}
	if !r.TestType.Valid() {
		return errors.New("invalid test_type")
	}
	if r.TestType == TestTypeAnalyze {
		return errors.New("test_type analyze is mobile-only")
	}
	if r.URL == "" && r.Site == "" {
		return errors.New("url or site is required")
	}
	if r.URL != "" {
		if err := validateHTTPURL(r.URL); err != nil {
			return err
		}
	}
	if r.BaseURL != "" {
		if err := validateHTTPURL(r.BaseURL); err != nil {
			return err
		}
	}
	return nil
}

// MobileTestRequest represents a request to analyze or exercise a mobile artifact.
type MobileTestRequest struct {
	TestType TestType `json:"test_type"`
	FilePath string   `json:"file_path,omitempty"`
	FileURL  string   `json:"file_url,omitempty"`
	DeepLink string   `json:"deep_link,omitempty"`
	Project  string   `json:"project,omitempty"`
}

// Validate validates the MobileTestRequest fields.
func (r *MobileTestRequest) Validate() error {
	if r.TestType == "" {
		r.TestType = TestTypeAnalyze
	}
	if !r.TestType.Valid() {
		return errors.New("invalid test_type")
	}
	if r.FilePath == "" && r.FileURL == "" && r.DeepLink == "" {
		return errors.New("file_path, file_url or deep_link is required")
	}
	if r.FileURL != "" {
		if err := validateHTTPURL(r.FileURL); err != nil {
			return err
		}
	}
	return nil
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return errors.New("url is not parseable")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("url must use http or https")
	}
	if u.Host == "" {
		return errors.New("url must have a host")
	}
	return nil
}

// JobMessage is the payload carried inside the queue. Delivery is
// at-least-once; consumers must be idempotent per SessionID.
type JobMessage struct {
	Kind      Kind            `json:"kind"`
	SessionID string          `json:"session_id"`
	Payload   json.RawMessage `json:"payload"`
}

// Validate validates the JobMessage fields.
func (m *JobMessage) Validate() error {
	if !m.Kind.Valid() {
		return errors.New("invalid kind")
	}
	if m.SessionID == "" {
		return errors.New("session id is required")
	}
	if len(m.Payload) == 0 {
		return errors.New("payload is required")
	}
	return nil
}
