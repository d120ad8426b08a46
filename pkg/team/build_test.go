package team

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentteam/runtime/pkg/agentmodel"
	"github.com/agentteam/runtime/pkg/config"
	"github.com/agentteam/runtime/pkg/subagent"
)

func TestNewEngineFromConfig_WiresStoreClientAndRetries(t *testing.T) {
	t.Setenv("AGENTTEAM_DATA_DIR", t.TempDir())
	t.Setenv("AGENTTEAM_MAX_RETRIES", "3")
	rcfg, err := config.Load()
	require.NoError(t, err)

	script := filepath.Join(t.TempDir(), "agent.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\n"+
		`echo '{"type":"message_end","message":{"role":"assistant","content":[{"type":"text","text":"ok"}]},"stopReason":"complete"}'`+"\n"), 0o755))

	teamCfg := agentmodel.TeamConfig{
		Name:     "audit",
		Agents:   []agentmodel.AgentPreset{reviewerPreset()},
		Strategy: agentmodel.StrategyParallel,
		Merge:    agentmodel.MergeDescriptor{Strategy: "noop"},
	}

	eng, err := NewEngineFromConfig(rcfg, teamCfg, "session-build", &subagent.Runner{BinaryPath: script}, "anthropic", "test-key")
	require.NoError(t, err)
	defer eng.Store.Close()

	assert.Equal(t, 3, eng.Config.MaxRetries)
	require.NotNil(t, eng.Client)
	assert.Equal(t, "claude-sonnet-4-5", eng.Client.DefaultModel())
	require.NotNil(t, eng.Logger)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	result, err := eng.Execute(ctx, RunOptions{Task: "t", SessionID: "session-build"})
	require.NoError(t, err)
	assert.True(t, result.Success)
}

func TestNewEngineFromConfig_RejectsUnknownProvider(t *testing.T) {
	rcfg, err := config.Load()
	require.NoError(t, err)
	rcfg.DataDir = t.TempDir()

	_, err = NewEngineFromConfig(rcfg, agentmodel.TeamConfig{Name: "x"}, "session-x", &subagent.Runner{}, "gemini", "key")
	assert.Error(t, err)
}
