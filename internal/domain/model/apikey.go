package model

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

const maxKeyNameLen = 255

// DefaultRateLimitPerMin is the per-key request budget applied when a key is
// created without an explicit limit.
const DefaultRateLimitPerMin = 60

// APIKey represents an issued API key. The raw key is never persisted; only
// its SHA-256 hash is stored and lookup is by hash equality.
type APIKey struct {
	ID              string    `json:"id"                db:"id"`
	Name            string    `json:"name"              db:"name"`
	Project         *string   `json:"project,omitempty" db:"project"`
	KeyHash         string    `json:"-"                 db:"key_hash"`
	RateLimitPerMin int       `json:"rate_limit_per_min" db:"rate_limit_per_min"`
	Active          bool      `json:"active"            db:"active"`
	CreatedAt       time.Time `json:"created_at"        db:"created_at"`
}

// HashAPIKey returns the hex SHA-256 digest of a raw key.
func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// CreateAPIKeyRequest represents parameters to issue a new API key.
type CreateAPIKeyRequest struct {
	Name            string  `json:"name"`
	Project         *string `json:"project,omitempty"`
	RateLimitPerMin int     `json:"rate_limit_per_min,omitempty"`
}

// Validate validates CreateAPIKeyRequest.
func (r *CreateAPIKeyRequest) Validate() error {
	name := strings.TrimSpace(r.Name)
	if name == "" {
		return errors.New("name is required and cannot be empty")
	}
	if utf8.RuneCountInString(name) > maxKeyNameLen {
		return errors.New("name cannot exceed 255 characters")
	}
	if r.RateLimitPerMin < 0 {
		return errors.New("rate_limit_per_min must be >= 0")
	}
	if r.RateLimitPerMin == 0 {
		r.RateLimitPerMin = DefaultRateLimitPerMin
	}
	return nil
}

// UpdateAPIKeyRequest represents parameters to update an issued key.
type UpdateAPIKeyRequest struct {
	Active          *bool `json:"active,omitempty"`
	RateLimitPerMin *int  `json:"rate_limit_per_min,omitempty"`
}

// HasUpdates reports whether any field is set.
func (r *UpdateAPIKeyRequest) HasUpdates() bool {
	return r.Active != nil || r.RateLimitPerMin != nil
}

// Validate validates UpdateAPIKeyRequest, ensuring at least one field is set.
func (r *UpdateAPIKeyRequest) Validate() error {
	if !r.HasUpdates() {
		return errors.New("at least one field must be updated")
	}
	if r.RateLimitPerMin != nil && *r.RateLimitPerMin < 1 {
		return errors.New("rate_limit_per_min must be > 0")
	}
	return nil
}
