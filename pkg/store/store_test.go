package store

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentteam/runtime/pkg/agentmodel"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(dir, "session-123", "reviewers")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_PathLiesWithinDataRoot(t *testing.T) {
	s := openTestStore(t)
	assert.True(t, strings.Contains(s.Path(), "team-executions"))
	assert.True(t, strings.HasSuffix(s.Path(), "team.db"))
}

func TestOpenWithBusyTimeout_AppliesPragma(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenWithBusyTimeout(dir, "sess", "reviewers", 9000)
	require.NoError(t, err)
	defer s.Close()

	var got int
	require.NoError(t, s.db.QueryRow("PRAGMA busy_timeout;").Scan(&got))
	assert.Equal(t, 9000, got)
}

func TestOpen_SanitizesHostileTeamName(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, "sess", "../../etc/passwd")
	require.NoError(t, err)
	defer s.Close()
	assert.False(t, strings.Contains(s.Path(), ".."))
}

func TestCreateAndGetExecution(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.CreateExecution(ctx, "session-123", "reviewers", "Review file X", 2)
	require.NoError(t, err)
	require.NotZero(t, id)

	exec, err := s.GetExecution(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, exec)
	assert.Equal(t, agentmodel.ExecutionPending, exec.Status)
	assert.Equal(t, "Review file X", exec.Task)
	assert.Nil(t, exec.CompletedAt)

	require.NoError(t, s.UpdateExecutionStatus(ctx, id, agentmodel.ExecutionCompleted, ""))
	exec, err = s.GetExecution(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, agentmodel.ExecutionCompleted, exec.Status)
	require.NotNil(t, exec.CompletedAt)
}

func TestGetLatestExecution(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id1, err := s.CreateExecution(ctx, "session-123", "reviewers", "first", 1)
	require.NoError(t, err)
	id2, err := s.CreateExecution(ctx, "session-123", "reviewers", "second", 1)
	require.NoError(t, err)
	require.Greater(t, id2, id1)

	latest, err := s.GetLatestExecution(ctx, "session-123", "reviewers")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, id2, latest.ID)
}

func TestGetIncompleteExecutions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	pending, err := s.CreateExecution(ctx, "session-123", "reviewers", "pending one", 1)
	require.NoError(t, err)
	done, err := s.CreateExecution(ctx, "session-123", "reviewers", "done one", 1)
	require.NoError(t, err)
	require.NoError(t, s.UpdateExecutionStatus(ctx, done, agentmodel.ExecutionCompleted, ""))

	incomplete, err := s.GetIncompleteExecutions(ctx, "session-123")
	require.NoError(t, err)
	require.Len(t, incomplete, 1)
	assert.Equal(t, pending, incomplete[0].ID)
}

func TestAgentResultLifecycleAndAppendFindings(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	execID, err := s.CreateExecution(ctx, "session-123", "reviewers", "task", 1)
	require.NoError(t, err)

	resultID, err := s.CreateAgentResult(ctx, execID, "reviewer")
	require.NoError(t, err)

	f1 := agentmodel.Finding{ID: "reviewer-1", AgentName: "reviewer", Severity: agentmodel.SeverityHigh}
	require.NoError(t, s.AppendFindings(ctx, resultID, []agentmodel.Finding{f1}))

	f2 := agentmodel.Finding{ID: "reviewer-2", AgentName: "reviewer", Severity: agentmodel.SeverityLow}
	require.NoError(t, s.AppendFindings(ctx, resultID, []agentmodel.Finding{f2}))

	status := agentmodel.AgentResultDone
	duration := int64(1500)
	require.NoError(t, s.UpdateAgentResult(ctx, resultID, AgentResultPatch{
		Status:     &status,
		DurationMs: &duration,
		Usage:      &agentmodel.TokenUsage{InputTokens: 100, OutputTokens: 50},
	}))

	results, err := s.GetAgentResults(ctx, execID)
	require.NoError(t, err)
	require.Len(t, results, 1)
	r := results[0]
	assert.Equal(t, agentmodel.AgentResultDone, r.Status)
	assert.Equal(t, int64(1500), r.DurationMs)
	require.Len(t, r.Findings, 2)
	assert.Equal(t, "reviewer-1", r.Findings[0].ID)
	assert.Equal(t, "reviewer-2", r.Findings[1].ID)
	assert.Equal(t, 100, r.Usage.InputTokens)
}

func TestMergeSnapshotLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	execID, err := s.CreateExecution(ctx, "session-123", "reviewers", "task", 1)
	require.NoError(t, err)

	snapID, err := s.CreateMergeSnapshot(ctx, execID, agentmodel.PhaseParsing, []byte(`{"stage":"parsing"}`))
	require.NoError(t, err)
	require.NoError(t, s.UpdateMergeSnapshot(ctx, snapID, []byte(`{"phase":"parsing","transitionTime":1}`)))

	snapshots, err := s.GetMergeSnapshots(ctx, execID)
	require.NoError(t, err)
	require.Len(t, snapshots, 1)
	assert.Equal(t, agentmodel.PhaseParsing, snapshots[0].Phase)
}

func TestGetCompleteTeamResult_UsesFinalSnapshot(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	execID, err := s.CreateExecution(ctx, "session-123", "reviewers", "task", 1)
	require.NoError(t, err)

	resultID, err := s.CreateAgentResult(ctx, execID, "reviewer")
	require.NoError(t, err)
	status := agentmodel.AgentResultDone
	require.NoError(t, s.UpdateAgentResult(ctx, resultID, AgentResultPatch{
		Status: &status,
		Usage:  &agentmodel.TokenUsage{InputTokens: 10, OutputTokens: 5},
	}))

	payload := completeResultPayload{
		Findings: []agentmodel.Finding{{ID: "reviewer-1", Title: "issue"}},
		Clusters: []agentmodel.FindingCluster{{ID: "c1", FindingIDs: []string{"reviewer-1"}}},
		Summary:  "one issue found",
	}
	blob, err := json.Marshal(payload)
	require.NoError(t, err)

	snapID, err := s.CreateMergeSnapshot(ctx, execID, agentmodel.PhaseCompleted, nil)
	require.NoError(t, err)
	require.NoError(t, s.UpdateMergeSnapshot(ctx, snapID, blob))

	result, err := s.GetCompleteTeamResult(ctx, execID)
	require.NoError(t, err)
	require.Len(t, result.Findings, 1)
	assert.Equal(t, "reviewer-1", result.Findings[0].ID)
	assert.Equal(t, "one issue found", result.Summary)
	assert.Equal(t, 10, result.Usage.InputTokens)
	assert.True(t, result.Success)
}

func TestGetCompleteTeamResult_FallsBackToConcatenatedFindings(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	execID, err := s.CreateExecution(ctx, "session-123", "reviewers", "task", 2)
	require.NoError(t, err)

	r1, err := s.CreateAgentResult(ctx, execID, "agentA")
	require.NoError(t, err)
	require.NoError(t, s.AppendFindings(ctx, r1, []agentmodel.Finding{{ID: "agentA-1"}}))

	r2, err := s.CreateAgentResult(ctx, execID, "agentB")
	require.NoError(t, err)
	require.NoError(t, s.AppendFindings(ctx, r2, []agentmodel.Finding{{ID: "agentB-1"}}))

	result, err := s.GetCompleteTeamResult(ctx, execID)
	require.NoError(t, err)
	require.Len(t, result.Findings, 2)
}

func TestPruneOldExecutions_KeepsMostRecentPerTeam(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 5; i++ {
		id, err := s.CreateExecution(ctx, "session-123", "reviewers", "task", 1)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	require.NoError(t, s.PruneOldExecutions(ctx, 2))

	incomplete, err := s.GetIncompleteExecutions(ctx, "session-123")
	require.NoError(t, err)
	require.Len(t, incomplete, 2)
	assert.Equal(t, ids[4], incomplete[0].ID)
	assert.Equal(t, ids[3], incomplete[1].ID)
}

func TestCascadeDeleteOnPrune(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.CreateExecution(ctx, "session-123", "reviewers", "task", 1)
	require.NoError(t, err)
	_, err = s.CreateAgentResult(ctx, id, "agentA")
	require.NoError(t, err)
	_, err = s.CreateMergeSnapshot(ctx, id, agentmodel.PhaseParsing, nil)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := s.CreateExecution(ctx, "session-123", "reviewers", "task", 1)
		require.NoError(t, err)
	}

	require.NoError(t, s.PruneOldExecutions(ctx, 1))

	results, err := s.GetAgentResults(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, results)
}
