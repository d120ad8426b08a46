package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "./data", cfg.DataDir)
	assert.Equal(t, 4, cfg.DefaultMaxConcurrency)
	assert.Equal(t, 1, cfg.DefaultMaxRetries)
	assert.False(t, cfg.TracingEnabled)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("AGENTTEAM_DATA_DIR", "/var/lib/agentteam")
	t.Setenv("AGENTTEAM_MAX_CONCURRENCY", "20")
	t.Setenv("DEBUG_AGENTS", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/agentteam", cfg.DataDir)
	// Hard-capped at 8 per spec.md §4.6 regardless of the env override.
	assert.Equal(t, 8, cfg.DefaultMaxConcurrency)
	assert.True(t, cfg.DebugAgents)
}
