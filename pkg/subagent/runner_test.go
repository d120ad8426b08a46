package subagent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentteam/runtime/pkg/agentmodel"
)

// writeEchoHelper produces a script whose final assistant message is
// a fixed, task-derived string, so chain substitution is observable.
func writeEchoHelper(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "echo-subagent.sh")
	script := "#!/bin/sh\n" +
		`printf '{"type":"message_end","message":{"role":"assistant","content":[{"type":"text","text":"saw:%s"}]}}\n' "$6"` + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func writeFailingHelper(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "failing-subagent.sh")
	script := "#!/bin/sh\n" +
		`echo '{"type":"message_end","stopReason":"error","message":{"role":"assistant","content":[{"type":"text","text":"nope"}]}}'` + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestRunner_Single(t *testing.T) {
	r := &Runner{BinaryPath: writeEchoHelper(t)}
	res, err := r.Single(context.Background(), Task{
		Agent: agentmodel.AgentPreset{Name: "solo"},
		Task:  "hello",
		CWD:   t.TempDir(),
	}, nil)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "solo", res.AgentName)
}

func TestRunner_ParallelPreservesOrderAndRunsAll(t *testing.T) {
	bin := writeEchoHelper(t)
	r := &Runner{BinaryPath: bin}

	tasks := make([]Task, 6)
	for i := range tasks {
		tasks[i] = Task{
			Agent: agentmodel.AgentPreset{Name: fmt.Sprintf("agent-%d", i)},
			Task:  fmt.Sprintf("task-%d", i),
			CWD:   t.TempDir(),
		}
	}

	results, err := r.Parallel(context.Background(), tasks, 3, nil)
	require.NoError(t, err)
	require.Len(t, results, 6)
	for i, res := range results {
		require.NotNil(t, res)
		assert.Equal(t, fmt.Sprintf("agent-%d", i), res.AgentName)
		assert.True(t, res.Success)
	}
}

func TestRunner_ParallelClampsAboveHardCap(t *testing.T) {
	r := &Runner{BinaryPath: writeEchoHelper(t)}
	tasks := []Task{
		{Agent: agentmodel.AgentPreset{Name: "a"}, Task: "x", CWD: t.TempDir()},
	}
	results, err := r.Parallel(context.Background(), tasks, 999, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Success)
}

func TestRunner_ParallelFailsFastOnCredentialResolveError(t *testing.T) {
	boom := errors.New("no credentials configured")
	r := &Runner{
		BinaryPath: writeEchoHelper(t),
		Resolve: func(provider string) (map[string]string, error) {
			if provider == "broken" {
				return nil, boom
			}
			return nil, nil
		},
	}
	tasks := []Task{
		{Agent: agentmodel.AgentPreset{Name: "a"}, Task: "x", Provider: "anthropic", CWD: t.TempDir()},
		{Agent: agentmodel.AgentPreset{Name: "b"}, Task: "y", Provider: "broken", CWD: t.TempDir()},
	}
	_, err := r.Parallel(context.Background(), tasks, 2, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestRunner_ChainSubstitutesPreviousOutput(t *testing.T) {
	r := &Runner{BinaryPath: writeEchoHelper(t)}
	tasks := []Task{
		{Agent: agentmodel.AgentPreset{Name: "first"}, Task: "start", CWD: t.TempDir()},
		{Agent: agentmodel.AgentPreset{Name: "second"}, Task: "continue from {previous}", CWD: t.TempDir()},
	}
	results, err := r.Chain(context.Background(), tasks, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "saw:start", results[0].Messages[0].Content)
	assert.Equal(t, "saw:continue from saw:start", results[1].Messages[0].Content)
}

func TestRunner_ChainStopsOnFirstFailure(t *testing.T) {
	r := &Runner{BinaryPath: writeFailingHelper(t)}
	tasks := []Task{
		{Agent: agentmodel.AgentPreset{Name: "first"}, Task: "start", CWD: t.TempDir()},
		{Agent: agentmodel.AgentPreset{Name: "second"}, Task: "never runs", CWD: t.TempDir()},
	}
	results, err := r.Chain(context.Background(), tasks, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
}
