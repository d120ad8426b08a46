package team

import (
	"fmt"

	"github.com/agentteam/runtime/pkg/agentmodel"
	"github.com/agentteam/runtime/pkg/config"
	"github.com/agentteam/runtime/pkg/llmadapter"
	"github.com/agentteam/runtime/pkg/logger"
	"github.com/agentteam/runtime/pkg/merge"
	"github.com/agentteam/runtime/pkg/store"
	"github.com/agentteam/runtime/pkg/subagent"
	"github.com/agentteam/runtime/pkg/trace"
)

// NewEngineFromConfig assembles an Engine from a RuntimeConfig the way
// the teacher's NewOrchestrator(store, bus, llm, reg, cfg, model)
// (pkg/swarm/runtime/orchestrator.go) takes its collaborators as
// constructor parameters rather than reaching into package globals: it
// opens teamCfg's store under cfg.DataDir with cfg.SQLiteBusyTimeoutMS
// as the busy_timeout pragma, defaults teamCfg.MaxRetries from
// cfg.DefaultMaxRetries when the caller left it unset, builds the
// in-process LLM client for (provider, apiKey) via pkg/llmadapter, and
// turns tracing on or off per cfg.TracingEnabled. The caller owns the
// returned Engine's Store and must Close it.
func NewEngineFromConfig(cfg *config.RuntimeConfig, teamCfg agentmodel.TeamConfig, sessionID string, runner *subagent.Runner, provider, apiKey string) (*Engine, error) {
	if teamCfg.MaxRetries == 0 {
		teamCfg.MaxRetries = cfg.DefaultMaxRetries
	}

	st, err := store.OpenWithBusyTimeout(cfg.DataDir, sessionID, teamCfg.Name, cfg.SQLiteBusyTimeoutMS)
	if err != nil {
		return nil, fmt.Errorf("team: opening store: %w", err)
	}

	client, err := llmadapter.New(provider, apiKey, "")
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("team: building llm client: %w", err)
	}

	var tracer trace.Tracer = trace.NoopTracer{}
	if cfg.TracingEnabled {
		tracer = trace.NewOTelTracer(cfg.TracingServiceName)
	}

	return &Engine{
		Config:        teamCfg,
		Runner:        runner,
		Client:        client,
		Store:         st,
		MergeRegistry: merge.NewRegistry(),
		Logger:        logger.For(logger.ComponentTeam),
		Tracer:        tracer,
	}, nil
}
