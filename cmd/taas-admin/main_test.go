package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandsHaveNamesAndRunners(t *testing.T) {
	for name, cmd := range commands() {
		assert.Equal(t, name, cmd.name)
		assert.NotEmpty(t, cmd.description)
		assert.NotNil(t, cmd.run)
	}
}

func TestParseMigrateFlags(t *testing.T) {
	opts, err := parseMigrateFlags(nil)
	require.NoError(t, err)
	assert.Equal(t, defaultMigrationTimeout, opts.Timeout)

	opts, err = parseMigrateFlags([]string{"--timeout", "30s"})
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, opts.Timeout)

	_, err = parseMigrateFlags([]string{"--timeout", "0s"})
	assert.Error(t, err)
}

func TestParseKeyCreateFlags(t *testing.T) {
	opts, err := parseKeyCreateFlags([]string{"--name", "ci", "--project", "shop", "--rate-limit", "120"})
	require.NoError(t, err)
	assert.Equal(t, "ci", opts.Name)
	assert.Equal(t, "shop", opts.Project)
	assert.Equal(t, 120, opts.RateLimitPerMin)

	_, err = parseKeyCreateFlags(nil)
	assert.Error(t, err, "name is required")

	_, err = parseKeyCreateFlags([]string{"--name", "ci", "--rate-limit", "-1"})
	assert.Error(t, err)
}

func TestParseKeyUpdateFlags(t *testing.T) {
	opts, err := parseKeyUpdateFlags([]string{"--id", "key-1", "--active", "false"})
	require.NoError(t, err)
	require.NotNil(t, opts.Active)
	assert.False(t, *opts.Active)
	assert.Nil(t, opts.RateLimitPerMin)

	opts, err = parseKeyUpdateFlags([]string{"--id", "key-1", "--rate-limit", "90"})
	require.NoError(t, err)
	require.NotNil(t, opts.RateLimitPerMin)
	assert.Equal(t, 90, *opts.RateLimitPerMin)

	_, err = parseKeyUpdateFlags([]string{"--id", "key-1"})
	assert.Error(t, err, "at least one change is required")

	_, err = parseKeyUpdateFlags([]string{"--active", "true"})
	assert.Error(t, err, "id is required")

	_, err = parseKeyUpdateFlags([]string{"--id", "key-1", "--active", "maybe"})
	assert.Error(t, err)

	_, err = parseKeyUpdateFlags([]string{"--id", "key-1", "--rate-limit", "0"})
	assert.Error(t, err)
}
