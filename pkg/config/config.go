// Package config loads the ambient runtime knobs the Team/Subagent/
// Workflow engines need at construction time: where the persistence
// store lives, default concurrency and retry limits, and whether
// tracing is on. It intentionally does not load AgentPreset/TeamConfig
// definitions — those are YAML presets, explicitly external per
// spec.md §1 — only the runtime's own operating parameters.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// RuntimeConfig is the environment-driven configuration for one
// runtime process, mirroring the teacher's struct-tag-driven
// pkg/config.Config but scoped to this module's ambient concerns.
type RuntimeConfig struct {
	// DataDir is the root the persistence store's per-team SQLite
	// databases live under (see pkg/store's data-root layout).
	DataDir string `json:"data_dir" env:"AGENTTEAM_DATA_DIR" envDefault:"./data"`

	// DefaultMaxConcurrency bounds the Subagent Runner's parallel mode
	// when a caller doesn't override it explicitly. Hard-capped at 8
	// regardless of this value (spec.md §4.6).
	DefaultMaxConcurrency int `json:"default_max_concurrency" env:"AGENTTEAM_MAX_CONCURRENCY" envDefault:"4"`

	// DefaultMaxRetries is TeamConfig.MaxRetries' default when a
	// TeamConfig doesn't set one explicitly.
	DefaultMaxRetries int `json:"default_max_retries" env:"AGENTTEAM_MAX_RETRIES" envDefault:"1"`

	// TracingEnabled toggles whether Engines are constructed with an
	// OTel-backed trace.Tracer (pkg/trace) or trace.NoopTracer.
	TracingEnabled bool `json:"tracing_enabled" env:"AGENTTEAM_TRACING_ENABLED" envDefault:"false"`

	// TracingServiceName names the OTel resource when tracing is on.
	TracingServiceName string `json:"tracing_service_name" env:"AGENTTEAM_TRACING_SERVICE_NAME" envDefault:"agentteam-runtime"`

	// SQLiteBusyTimeoutMS is the busy_timeout pragma pkg/store applies
	// to every database it opens, so concurrent writers back off
	// instead of immediately failing with SQLITE_BUSY.
	SQLiteBusyTimeoutMS int `json:"sqlite_busy_timeout_ms" env:"AGENTTEAM_SQLITE_BUSY_TIMEOUT_MS" envDefault:"5000"`

	// DebugAgents mirrors spec.md §6's DEBUG_AGENTS environment
	// variable: when true, components log at DEBUG instead of INFO.
	DebugAgents bool `env:"DEBUG_AGENTS" envDefault:"false"`
}

// Load parses a RuntimeConfig from the process environment, applying
// the envDefault tags above for anything unset.
func Load() (*RuntimeConfig, error) {
	cfg := &RuntimeConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing runtime config: %w", err)
	}
	if cfg.DefaultMaxConcurrency > 8 {
		cfg.DefaultMaxConcurrency = 8
	}
	if cfg.DefaultMaxConcurrency < 1 {
		cfg.DefaultMaxConcurrency = 1
	}
	return cfg, nil
}
