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
	"github.com/agentteam/runtime/pkg/llmadapter"
	"github.com/agentteam/runtime/pkg/logger"
	"github.com/agentteam/runtime/pkg/merge"
	"github.com/agentteam/runtime/pkg/store"
	"github.com/agentteam/runtime/pkg/subagent"
)

// TestIntegration_S1EndToEndWithStore runs the full S1 scenario against
// a real temp-dir SQLite store, matching the teacher's own
// pkg/swarm/integration_test.go pattern of exercising the persisted
// round-trip rather than stubbing the store out.
func TestIntegration_S1EndToEndWithStore(t *testing.T) {
	rcfg, err := config.Load()
	require.NoError(t, err)
	rcfg.DataDir = t.TempDir() // keep the test hermetic; everything else comes from env defaults

	st, err := store.OpenWithBusyTimeout(rcfg.DataDir, "session-1", "audit", rcfg.SQLiteBusyTimeoutMS)
	require.NoError(t, err)
	defer st.Close()

	script := filepath.Join(t.TempDir(), "agent.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\n"+
		`echo '{"type":"message_end","message":{"role":"assistant","content":[{"type":"text","text":"### Finding: SQL injection\n- Severity: critical\n- Category: security\n- File: db.go\n- Line: 42\nDescription:\nUser input reaches the query unescaped.\n"}]},"stopReason":"complete"}'`+"\n"), 0o755))

	client, err := llmadapter.New("anthropic", "test-key", "")
	require.NoError(t, err)

	cfg := agentmodel.TeamConfig{
		Name:       "audit",
		Agents:     []agentmodel.AgentPreset{reviewerPreset()},
		Strategy:   agentmodel.StrategyParallel,
		Merge:      agentmodel.MergeDescriptor{Strategy: "noop"},
		MaxRetries: rcfg.DefaultMaxRetries,
	}

	eng := &Engine{
		Config:        cfg,
		Runner:        &subagent.Runner{BinaryPath: script},
		Client:        client,
		MergeRegistry: merge.NewRegistry(),
		Store:         st,
		Logger:        logger.For(logger.ComponentTeam),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := eng.Execute(ctx, RunOptions{Task: "Review file X", SessionID: "session-1"})
	require.NoError(t, err)
	require.True(t, result.Success)
	require.NotEmpty(t, result.Findings)
	assert.Equal(t, "db.go", result.Findings[0].File)
	assert.Equal(t, agentmodel.SeverityCritical, result.Findings[0].Severity)

	exec, err := st.GetLatestExecution(ctx, "session-1", "audit")
	require.NoError(t, err)
	require.NotNil(t, exec)
	assert.Equal(t, agentmodel.ExecutionCompleted, exec.Status)

	reloaded, err := st.GetCompleteTeamResult(ctx, exec.ID)
	require.NoError(t, err)
	assert.True(t, reloaded.Success)
	assert.NotEmpty(t, reloaded.Findings)
}
