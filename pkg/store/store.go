// Package store implements the Persistence Store (C4): an embedded
// SQLite-backed log of team executions, per-agent results, and merge
// snapshots, migrated forward on open.
package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/agentteam/runtime/pkg/agentmodel"
)

// defaultBusyTimeoutMS matches pkg/config's RuntimeConfig.SQLiteBusyTimeoutMS
// default, applied by Open for callers that don't need a different value.
const defaultBusyTimeoutMS = 5000

// Store is a handle to one team's SQLite database. Callers must not
// share a Store across processes; WAL mode, foreign_keys=ON, and a
// busy_timeout pragma are set at open time.
type Store struct {
	db   *sql.DB
	path string
}

// Open resolves the database path for (dataDir, sessionID, teamName)
// per spec.md §4.4, creates its parent directory, opens the database,
// and migrates it forward, applying the default busy_timeout.
func Open(dataDir, sessionID, teamName string) (*Store, error) {
	return OpenWithBusyTimeout(dataDir, sessionID, teamName, defaultBusyTimeoutMS)
}

// OpenWithBusyTimeout is Open with an explicit busy_timeout pragma value
// (milliseconds a writer waits on SQLITE_BUSY before failing), so callers
// driven by RuntimeConfig.SQLiteBusyTimeoutMS can honor a configured value
// instead of the default.
func OpenWithBusyTimeout(dataDir, sessionID, teamName string, busyTimeoutMS int) (*Store, error) {
	path, err := resolvePath(dataDir, sessionID, teamName)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, agentmodel.NewPersistenceError("create db directory", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, agentmodel.NewPersistenceError("open sqlite db", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, agentmodel.NewPersistenceError("set WAL mode", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON;"); err != nil {
		db.Close()
		return nil, agentmodel.NewPersistenceError("enable foreign keys", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", busyTimeoutMS)); err != nil {
		db.Close()
		return nil, agentmodel.NewPersistenceError("set busy timeout", err)
	}
	if err := applyMigrations(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, path: path}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the resolved on-disk database path.
func (s *Store) Path() string { return s.path }

func resolvePath(dataDir, sessionID, teamName string) (string, error) {
	root, err := filepath.Abs(dataDir)
	if err != nil {
		return "", agentmodel.NewConfigError("resolve data dir", err)
	}
	dirName := sanitizeSegment(teamName) + "_" + hash16(sessionID)
	full := filepath.Join(root, "team-executions", dirName, "team.db")

	resolved, err := filepath.Abs(full)
	if err != nil {
		return "", agentmodel.NewConfigError("resolve db path", err)
	}
	rel, err := filepath.Rel(root, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", agentmodel.NewConfigError("db path escapes data root", nil)
	}
	return resolved, nil
}

func sanitizeSegment(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	out := strings.Trim(b.String(), "-")
	if out == "" {
		out = "team"
	}
	return out
}

func hash16(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:16]
}

// --- team_executions -------------------------------------------------

// CreateExecution inserts a new pending TeamExecution row.
func (s *Store) CreateExecution(ctx context.Context, sessionID, teamName, task string, agentCount int) (int64, error) {
	now := time.Now().UnixMilli()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO team_executions (session_id, team_name, task, status, agent_count, started_at) VALUES (?, ?, ?, ?, ?, ?)`,
		sessionID, teamName, task, agentmodel.ExecutionPending, agentCount, now)
	if err != nil {
		return 0, agentmodel.NewPersistenceError("create execution", err)
	}
	return res.LastInsertId()
}

// UpdateExecutionStatus transitions an execution's status, setting
// completedAt when status is terminal.
func (s *Store) UpdateExecutionStatus(ctx context.Context, id int64, status agentmodel.ExecutionStatus, execErr string) error {
	var completedAt *int64
	if status == agentmodel.ExecutionCompleted || status == agentmodel.ExecutionFailed || status == agentmodel.ExecutionAborted {
		now := time.Now().UnixMilli()
		completedAt = &now
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE team_executions SET status=?, error=?, completed_at=? WHERE id=?`,
		status, nullableString(execErr), completedAt, id)
	if err != nil {
		return agentmodel.NewPersistenceError("update execution status", err)
	}
	return nil
}

// GetExecution loads one TeamExecution by id.
func (s *Store) GetExecution(ctx context.Context, id int64) (*agentmodel.TeamExecution, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, team_name, task, status, agent_count, started_at, completed_at, error FROM team_executions WHERE id=?`, id)
	return scanExecution(row)
}

// GetLatestExecution returns the most recently started execution for
// (sessionID, teamName), or nil if none exists.
func (s *Store) GetLatestExecution(ctx context.Context, sessionID, teamName string) (*agentmodel.TeamExecution, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, team_name, task, status, agent_count, started_at, completed_at, error FROM team_executions
		 WHERE session_id=? AND team_name=? ORDER BY started_at DESC, id DESC LIMIT 1`, sessionID, teamName)
	exec, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return exec, err
}

// GetIncompleteExecutions returns every execution for sessionID whose
// status has not reached a terminal state, most recent first.
func (s *Store) GetIncompleteExecutions(ctx context.Context, sessionID string) ([]*agentmodel.TeamExecution, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, team_name, task, status, agent_count, started_at, completed_at, error FROM team_executions
		 WHERE session_id=? AND status NOT IN (?, ?, ?) ORDER BY started_at DESC, id DESC`,
		sessionID, agentmodel.ExecutionCompleted, agentmodel.ExecutionFailed, agentmodel.ExecutionAborted)
	if err != nil {
		return nil, agentmodel.NewPersistenceError("query incomplete executions", err)
	}
	defer rows.Close()

	var out []*agentmodel.TeamExecution
	for rows.Next() {
		exec, err := scanExecutionRows(rows)
		if err != nil {
			return nil, agentmodel.NewPersistenceError("scan execution", err)
		}
		out = append(out, exec)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanExecution(row scanner) (*agentmodel.TeamExecution, error) {
	var e agentmodel.TeamExecution
	var completedAt sql.NullInt64
	var errStr sql.NullString
	if err := row.Scan(&e.ID, &e.SessionID, &e.TeamName, &e.Task, &e.Status, &e.AgentCount, &e.StartedAt, &completedAt, &errStr); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, agentmodel.NewPersistenceError("scan execution", err)
	}
	if completedAt.Valid {
		v := completedAt.Int64
		e.CompletedAt = &v
	}
	e.Error = errStr.String
	return &e, nil
}

func scanExecutionRows(rows *sql.Rows) (*agentmodel.TeamExecution, error) {
	return scanExecution(rows)
}

// --- agent_results -----------------------------------------------------

// CreateAgentResult inserts a pending StoredAgentResult row.
func (s *Store) CreateAgentResult(ctx context.Context, executionID int64, agentName string) (int64, error) {
	now := time.Now().UnixMilli()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO agent_results (execution_id, agent_name, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		executionID, agentName, agentmodel.AgentResultPending, now, now)
	if err != nil {
		return 0, agentmodel.NewPersistenceError("create agent result", err)
	}
	return res.LastInsertId()
}

// AgentResultPatch is a partial update to a StoredAgentResult; nil
// fields are left unchanged.
type AgentResultPatch struct {
	Status     *agentmodel.AgentResultStatus
	Findings   []agentmodel.Finding
	Messages   []agentmodel.AgentMessage
	Usage      *agentmodel.TokenUsage
	DurationMs *int64
	Error      *string
}

// UpdateAgentResult applies a partial field update and always
// refreshes updated_at.
func (s *Store) UpdateAgentResult(ctx context.Context, id int64, patch AgentResultPatch) error {
	var sets []string
	var args []any

	if patch.Status != nil {
		sets = append(sets, "status=?")
		args = append(args, *patch.Status)
	}
	if patch.Findings != nil {
		blob, err := json.Marshal(patch.Findings)
		if err != nil {
			return agentmodel.NewPersistenceError("marshal findings", err)
		}
		sets = append(sets, "findings=?")
		args = append(args, string(blob))
	}
	if patch.Messages != nil {
		blob, err := json.Marshal(patch.Messages)
		if err != nil {
			return agentmodel.NewPersistenceError("marshal messages", err)
		}
		sets = append(sets, "messages=?")
		args = append(args, string(blob))
	}
	if patch.Usage != nil {
		blob, err := json.Marshal(patch.Usage)
		if err != nil {
			return agentmodel.NewPersistenceError("marshal usage", err)
		}
		sets = append(sets, "usage=?")
		args = append(args, string(blob))
	}
	if patch.DurationMs != nil {
		sets = append(sets, "duration_ms=?")
		args = append(args, *patch.DurationMs)
	}
	if patch.Error != nil {
		sets = append(sets, "error=?")
		args = append(args, *patch.Error)
	}
	sets = append(sets, "updated_at=?")
	args = append(args, time.Now().UnixMilli())
	args = append(args, id)

	query := "UPDATE agent_results SET " + strings.Join(sets, ", ") + " WHERE id=?"
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return agentmodel.NewPersistenceError("update agent result", err)
	}
	return nil
}

// AppendFindings performs a read-modify-write append of newFindings
// onto the agent result's existing findings blob.
func (s *Store) AppendFindings(ctx context.Context, agentResultID int64, newFindings []agentmodel.Finding) error {
	row := s.db.QueryRowContext(ctx, `SELECT findings FROM agent_results WHERE id=?`, agentResultID)
	var blob sql.NullString
	if err := row.Scan(&blob); err != nil {
		return agentmodel.NewPersistenceError("read findings for append", err)
	}
	var existing []agentmodel.Finding
	if blob.Valid && blob.String != "" {
		if err := json.Unmarshal([]byte(blob.String), &existing); err != nil {
			return agentmodel.NewPersistenceError("unmarshal existing findings", err)
		}
	}
	existing = append(existing, newFindings...)
	return s.UpdateAgentResult(ctx, agentResultID, AgentResultPatch{Findings: existing})
}

// GetAgentResults returns every StoredAgentResult for an execution.
func (s *Store) GetAgentResults(ctx context.Context, executionID int64) ([]agentmodel.StoredAgentResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, execution_id, agent_name, status, findings, messages, usage, duration_ms, error, created_at, updated_at
		 FROM agent_results WHERE execution_id=? ORDER BY id ASC`, executionID)
	if err != nil {
		return nil, agentmodel.NewPersistenceError("query agent results", err)
	}
	defer rows.Close()

	var out []agentmodel.StoredAgentResult
	for rows.Next() {
		r, err := scanAgentResult(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, nil
}

func scanAgentResult(row scanner) (*agentmodel.StoredAgentResult, error) {
	var r agentmodel.StoredAgentResult
	var findingsBlob, messagesBlob, usageBlob, errStr sql.NullString
	if err := row.Scan(&r.ID, &r.ExecutionID, &r.AgentName, &r.Status, &findingsBlob, &messagesBlob, &usageBlob, &r.DurationMs, &errStr, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, agentmodel.NewPersistenceError("scan agent result", err)
	}
	if findingsBlob.Valid && findingsBlob.String != "" {
		if err := json.Unmarshal([]byte(findingsBlob.String), &r.Findings); err != nil {
			return nil, agentmodel.NewPersistenceError("unmarshal findings", err)
		}
	}
	if messagesBlob.Valid && messagesBlob.String != "" {
		if err := json.Unmarshal([]byte(messagesBlob.String), &r.Messages); err != nil {
			return nil, agentmodel.NewPersistenceError("unmarshal messages", err)
		}
	}
	if usageBlob.Valid && usageBlob.String != "" {
		if err := json.Unmarshal([]byte(usageBlob.String), &r.Usage); err != nil {
			return nil, agentmodel.NewPersistenceError("unmarshal usage", err)
		}
	}
	r.Error = errStr.String
	return &r, nil
}

// --- merge_snapshots -----------------------------------------------------

// CreateMergeSnapshot inserts a new snapshot row for a merge phase
// transition.
func (s *Store) CreateMergeSnapshot(ctx context.Context, executionID int64, phase agentmodel.MergePhase, inputData []byte) (int64, error) {
	now := time.Now().UnixMilli()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO merge_snapshots (execution_id, phase, input_data, created_at) VALUES (?, ?, ?, ?)`,
		executionID, phase, inputData, now)
	if err != nil {
		return 0, agentmodel.NewPersistenceError("create merge snapshot", err)
	}
	return res.LastInsertId()
}

// UpdateMergeSnapshot patches a snapshot's outputData once its phase
// completes.
func (s *Store) UpdateMergeSnapshot(ctx context.Context, id int64, outputData []byte) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE merge_snapshots SET output_data=? WHERE id=?`, outputData, id); err != nil {
		return agentmodel.NewPersistenceError("update merge snapshot", err)
	}
	return nil
}

// GetMergeSnapshots returns every snapshot for an execution, oldest
// first.
func (s *Store) GetMergeSnapshots(ctx context.Context, executionID int64) ([]agentmodel.MergeSnapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, execution_id, phase, input_data, output_data, created_at FROM merge_snapshots WHERE execution_id=? ORDER BY id ASC`, executionID)
	if err != nil {
		return nil, agentmodel.NewPersistenceError("query merge snapshots", err)
	}
	defer rows.Close()

	var out []agentmodel.MergeSnapshot
	for rows.Next() {
		var snap agentmodel.MergeSnapshot
		if err := rows.Scan(&snap.ID, &snap.ExecutionID, &snap.Phase, &snap.InputData, &snap.OutputData, &snap.CreatedAt); err != nil {
			return nil, agentmodel.NewPersistenceError("scan merge snapshot", err)
		}
		out = append(out, snap)
	}
	return out, nil
}

// completeResultPayload is the contractual schema of a `completed` (or
// `synthesizing`) snapshot's outputData, per spec.md §9 open question
// #3.
type completeResultPayload struct {
	Findings []agentmodel.Finding        `json:"findings"`
	Clusters []agentmodel.FindingCluster `json:"clusters"`
	Summary  string                      `json:"summary"`
}

// GetCompleteTeamResult reconstructs a TeamResult for executionID from
// the last snapshot whose phase is synthesizing or completed, falling
// back to concatenating each agent's findings when no such snapshot
// exists.
func (s *Store) GetCompleteTeamResult(ctx context.Context, executionID int64) (*agentmodel.TeamResult, error) {
	exec, err := s.GetExecution(ctx, executionID)
	if err != nil {
		return nil, agentmodel.NewPersistenceError("load execution", err)
	}

	agentResults, err := s.GetAgentResults(ctx, executionID)
	if err != nil {
		return nil, err
	}

	var totalUsage agentmodel.TokenUsage
	agentRuns := make([]agentmodel.AgentResult, 0, len(agentResults))
	anySuccess := false
	for _, r := range agentResults {
		totalUsage.Add(r.Usage)
		success := r.Status == agentmodel.AgentResultDone
		if success {
			anySuccess = true
		}
		agentRuns = append(agentRuns, agentmodel.AgentResult{
			AgentName: r.AgentName,
			Success:   success,
			Error:     r.Error,
			Messages:  r.Messages,
			Findings:  r.Findings,
			Duration:  r.DurationMs,
			Usage:     r.Usage,
		})
	}

	snapshots, err := s.GetMergeSnapshots(ctx, executionID)
	if err != nil {
		return nil, err
	}

	var payload *completeResultPayload
	for i := len(snapshots) - 1; i >= 0; i-- {
		snap := snapshots[i]
		if snap.Phase != agentmodel.PhaseSynthesizing && snap.Phase != agentmodel.PhaseCompleted {
			continue
		}
		if len(snap.OutputData) == 0 {
			continue
		}
		var p completeResultPayload
		if err := json.Unmarshal(snap.OutputData, &p); err != nil {
			continue
		}
		payload = &p
		break
	}

	result := &agentmodel.TeamResult{
		Success:   anySuccess,
		AgentRuns: agentRuns,
		Usage:     totalUsage,
	}
	if exec != nil {
		result.Error = exec.Error
	}
	if payload != nil {
		result.Findings = payload.Findings
		result.Clusters = payload.Clusters
		result.Summary = payload.Summary
		return result, nil
	}

	// Fallback: concatenate per-agent findings in agent order.
	var all []agentmodel.Finding
	for _, r := range agentResults {
		all = append(all, r.Findings...)
	}
	result.Findings = all
	return result, nil
}

// PruneOldExecutions deletes all but the keepPerTeam most recent
// executions for every distinct (sessionId, teamName) pair; cascade
// delete removes their child agent_results and merge_snapshots rows.
func (s *Store) PruneOldExecutions(ctx context.Context, keepPerTeam int) error {
	if keepPerTeam < 0 {
		keepPerTeam = 0
	}
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT session_id, team_name FROM team_executions`)
	if err != nil {
		return agentmodel.NewPersistenceError("list teams for pruning", err)
	}
	type pair struct{ sessionID, teamName string }
	var pairs []pair
	for rows.Next() {
		var p pair
		if err := rows.Scan(&p.sessionID, &p.teamName); err != nil {
			rows.Close()
			return agentmodel.NewPersistenceError("scan team pair", err)
		}
		pairs = append(pairs, p)
	}
	rows.Close()

	for _, p := range pairs {
		idRows, err := s.db.QueryContext(ctx,
			`SELECT id FROM team_executions WHERE session_id=? AND team_name=? ORDER BY started_at DESC, id DESC`, p.sessionID, p.teamName)
		if err != nil {
			return agentmodel.NewPersistenceError("list executions for pruning", err)
		}
		var ids []int64
		for idRows.Next() {
			var id int64
			if err := idRows.Scan(&id); err != nil {
				idRows.Close()
				return agentmodel.NewPersistenceError("scan execution id", err)
			}
			ids = append(ids, id)
		}
		idRows.Close()

		if len(ids) <= keepPerTeam {
			continue
		}
		for _, id := range ids[keepPerTeam:] {
			if _, err := s.db.ExecContext(ctx, `DELETE FROM team_executions WHERE id=?`, id); err != nil {
				return agentmodel.NewPersistenceError("prune execution", err)
			}
		}
	}
	return nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
