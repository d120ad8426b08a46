// Package team implements the Team Engine (C7): it orchestrates a
// TeamConfig's agents through the Subagent Runner, drives the Merge
// Executor over their findings, persists every phase transition
// through the Persistence Store, and streams the whole run as a
// typed EventStream.
package team

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/agentteam/runtime/pkg/agentmodel"
	"github.com/agentteam/runtime/pkg/eventstream"
	"github.com/agentteam/runtime/pkg/finding"
	"github.com/agentteam/runtime/pkg/merge"
	"github.com/agentteam/runtime/pkg/store"
	"github.com/agentteam/runtime/pkg/subagent"
	"github.com/agentteam/runtime/pkg/trace"
)

// EventType identifies the kind of a TeamEvent.
type EventType string

const (
	EventTeamStart       EventType = "team_start"
	EventAgentStart      EventType = "agent_start"
	EventAgentRetry      EventType = "agent_retry"
	EventAgentEvent      EventType = "agent_event"
	EventAgentTaskUpdate EventType = "agent_task_update"
	EventAgentError      EventType = "agent_error"
	EventAgentEnd        EventType = "agent_end"
	EventMergeStart      EventType = "merge_start"
	EventMergeProgress   EventType = "merge_progress"
	EventMergeEvent      EventType = "merge_event"
	EventMergeEnd        EventType = "merge_end"
	EventTeamEnd         EventType = "team_end"
)

// TeamEvent is one streamed event from a team run. Only the fields
// relevant to Type are populated.
type TeamEvent struct {
	Type         EventType
	AgentName    string
	Attempt      int
	WillRetry    bool
	Error        string
	AgentResult  *agentmodel.AgentResult
	AgentEvent   *agentmodel.AgentEvent
	TaskUpdate   *TaskUpdate
	FindingCount int
	Phase        agentmodel.MergePhase
	TeamResult   *agentmodel.TeamResult
}

// Logger is the narrow logging seam the engine uses for
// persistence-error diagnostics (PersistenceError: log at debug,
// continue execution). A nil Logger silently drops these.
type Logger interface {
	Debug(msg string, kv ...any)
}

// RunOptions carries the per-invocation inputs a TeamConfig is run
// with.
type RunOptions struct {
	Task      string
	CWD       string
	SessionID string
	Cancel    <-chan struct{}
}

// Engine runs one TeamConfig's agents to a merged TeamResult.
type Engine struct {
	Config        agentmodel.TeamConfig
	Runner        *subagent.Runner
	MergeRegistry *merge.Registry
	Client        agentmodel.LLMClient
	Store         *store.Store // optional; nil disables persistence
	Logger        Logger       // optional
	Tracer        trace.Tracer // optional; nil is treated as trace.NoopTracer{}

	mu      sync.Mutex
	abortCh chan struct{}
	aborted bool
}

func (e *Engine) tracer() trace.Tracer {
	if e.Tracer == nil {
		return trace.NoopTracer{}
	}
	return e.Tracer
}

// Run starts the team asynchronously and returns its EventStream. The
// stream's terminal event is team_end; Result() resolves to the final
// TeamResult.
func (e *Engine) Run(ctx context.Context, opts RunOptions) *eventstream.Stream[TeamEvent, agentmodel.TeamResult] {
	cfg := e.Config.WithDefaults()
	stream := eventstream.New(
		func(ev TeamEvent) bool { return ev.Type == EventTeamEnd },
		func(ev TeamEvent) agentmodel.TeamResult {
			if ev.TeamResult != nil {
				return *ev.TeamResult
			}
			return agentmodel.TeamResult{}
		},
	)

	e.mu.Lock()
	if e.abortCh == nil {
		e.abortCh = make(chan struct{})
	}
	abortCh := e.abortCh
	e.mu.Unlock()

	cancel := mergeCancel(abortCh, opts.Cancel)
	go e.orchestrate(ctx, cfg, opts, cancel, stream)
	return stream
}

// Execute is the convenience form: run to completion and return the
// TeamResult directly.
func (e *Engine) Execute(ctx context.Context, opts RunOptions) (agentmodel.TeamResult, error) {
	s := e.Run(ctx, opts)
	return s.Result(ctx)
}

// Abort fires the engine's own cancellation signal. Idempotent.
func (e *Engine) Abort() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.abortCh == nil {
		e.abortCh = make(chan struct{})
	}
	if !e.aborted {
		e.aborted = true
		close(e.abortCh)
	}
}

func mergeCancel(a, b <-chan struct{}) <-chan struct{} {
	out := make(chan struct{})
	go func() {
		defer close(out)
		select {
		case <-a:
		case <-b:
		}
	}()
	return out
}

func cancelled(c <-chan struct{}) bool {
	if c == nil {
		return false
	}
	select {
	case <-c:
		return true
	default:
		return false
	}
}

func (e *Engine) logDebug(msg string, err error) {
	if e.Logger != nil && err != nil {
		e.Logger.Debug(msg, "error", err)
	}
}

func (e *Engine) orchestrate(ctx context.Context, cfg agentmodel.TeamConfig, opts RunOptions, cancel <-chan struct{}, stream *eventstream.Stream[TeamEvent, agentmodel.TeamResult]) {
	ctx, span := e.tracer().Start(ctx, "team.run", trace.String("team", cfg.Name), trace.Int("agents", len(cfg.Agents)))
	defer span.End()

	var execID int64
	hasExec := false
	if e.Store != nil {
		id, err := e.Store.CreateExecution(ctx, opts.SessionID, cfg.Name, opts.Task, len(cfg.Agents))
		if err != nil {
			e.logDebug("create team execution", err)
		} else {
			execID = id
			hasExec = true
		}
	}

	stream.Push(TeamEvent{Type: EventTeamStart})

	if hasExec {
		e.logDebug("mark execution running", e.Store.UpdateExecutionStatus(ctx, execID, agentmodel.ExecutionRunning, ""))
	}

	results, fatalAgent := e.runAgents(ctx, cfg, opts, cancel, execID, hasExec, stream)

	var totalUsage agentmodel.TokenUsage
	anySuccess := false
	for _, r := range results {
		totalUsage.Add(r.Usage)
		if r.Success {
			anySuccess = true
		}
	}

	if hasExec {
		e.logDebug("mark execution merging", e.Store.UpdateExecutionStatus(ctx, execID, agentmodel.ExecutionMerging, ""))
	}

	findingCount := 0
	var allFindings []agentmodel.Finding
	for _, r := range results {
		allFindings = append(allFindings, r.Findings...)
		findingCount += len(r.Findings)
	}
	stream.Push(TeamEvent{Type: EventMergeStart, FindingCount: findingCount})

	mergeResult, mergeErr := e.runMerge(ctx, cfg, allFindings, cancel, execID, hasExec, stream)

	result := agentmodel.TeamResult{
		Success:   anySuccess,
		AgentRuns: results,
		Usage:     totalUsage,
	}
	switch {
	case mergeResult != nil:
		result.Findings = mergeResult.Findings
		result.Clusters = mergeResult.Clusters
		result.Summary = mergeResult.Summary
	}
	// Propagation rule (spec.md §7): any error reaching the engine that
	// is not Cancelled or a persistence failure becomes the terminal
	// result's message.
	if mergeErr != nil && !agentmodel.IsCancelled(mergeErr) {
		result.Success = false
		result.Error = mergeErr.Error()
	} else if fatalAgent != "" {
		result.Success = false
		result.Error = fatalAgent
	}
	if !result.Success && result.Error != "" {
		span.Error(fmt.Errorf("%s", result.Error))
	}

	finalStatus := agentmodel.ExecutionCompleted
	if !result.Success {
		finalStatus = agentmodel.ExecutionFailed
	}
	if cancelled(cancel) {
		finalStatus = agentmodel.ExecutionAborted
		if result.Error == "" {
			result.Error = "aborted"
		}
	}
	if hasExec {
		e.logDebug("mark execution terminal", e.Store.UpdateExecutionStatus(ctx, execID, finalStatus, result.Error))
	}

	stream.Push(TeamEvent{Type: EventMergeEnd})
	stream.Push(TeamEvent{Type: EventTeamEnd, TeamResult: &result})
}

// runAgents dispatches every configured agent per the team's strategy
// and returns their results plus, when continueOnError is false, the
// message of the first agent whose retries were exhausted.
func (e *Engine) runAgents(ctx context.Context, cfg agentmodel.TeamConfig, opts RunOptions, cancel <-chan struct{}, execID int64, hasExec bool, stream *eventstream.Stream[TeamEvent, agentmodel.TeamResult]) ([]agentmodel.AgentResult, string) {
	results := make([]agentmodel.AgentResult, len(cfg.Agents))
	fatal := make([]string, len(cfg.Agents))

	runOne := func(i int) {
		// Sequential result-passing between agents is intentionally not
		// implemented (open extension point); every agent — sequential
		// or parallel — receives the same opts.Task.
		results[i], fatal[i] = e.runAgentWithRetry(ctx, cfg, cfg.Agents[i], opts, cancel, execID, hasExec, stream)
	}

	if cfg.Strategy == agentmodel.StrategySequential {
		for i := range cfg.Agents {
			if cancelled(cancel) {
				break
			}
			runOne(i)
		}
	} else {
		var wg sync.WaitGroup
		for i := range cfg.Agents {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				runOne(i)
			}(i)
		}
		wg.Wait()
	}

	for _, msg := range fatal {
		if msg != "" {
			return results, msg
		}
	}
	return results, ""
}

func (e *Engine) runAgentWithRetry(ctx context.Context, cfg agentmodel.TeamConfig, preset agentmodel.AgentPreset, opts RunOptions, cancel <-chan struct{}, execID int64, hasExec bool, stream *eventstream.Stream[TeamEvent, agentmodel.TeamResult]) (agentmodel.AgentResult, string) {
	ctx, span := e.tracer().Start(ctx, "team.agent", trace.String("agent", preset.Name))
	traceID := trace.IDFromContext(ctx)
	defer span.End()

	var storedID int64
	hasStored := false
	if hasExec {
		id, err := e.Store.CreateAgentResult(ctx, execID, preset.Name)
		if err != nil {
			e.logDebug("create agent result", err)
		} else {
			storedID = id
			hasStored = true
		}
	}

	stream.Push(TeamEvent{Type: EventAgentStart, AgentName: preset.Name})

	tracker := newTaskTracker()
	onEvent := func(ev agentmodel.AgentEvent) {
		stream.Push(TeamEvent{Type: EventAgentEvent, AgentName: preset.Name, AgentEvent: &ev})
		if update, changed := tracker.observe(ev); changed {
			stream.Push(TeamEvent{Type: EventAgentTaskUpdate, AgentName: preset.Name, TaskUpdate: update})
		}
	}

	runner := *e.Runner
	runner.OnEvent = func(_ string, ev agentmodel.AgentEvent) { onEvent(ev) }

	task := subagent.Task{
		Agent:    preset,
		Task:     opts.Task,
		CWD:      opts.CWD,
		Provider: ProviderOf(preset.Model),
	}

	var result *agentmodel.AgentResult
	var lastErr error
	attempt := 0
	for {
		if cancelled(cancel) {
			lastErr = &agentmodel.Cancelled{}
			break
		}
		if attempt > 0 {
			stream.Push(TeamEvent{Type: EventAgentRetry, AgentName: preset.Name, Attempt: attempt})
		}

		res, err := runner.Single(ctx, task, cancel)
		attempt++

		if err == nil && res.Success {
			result = res
			lastErr = nil
			break
		}

		result = res
		lastErr = err
		willRetry := attempt <= cfg.MaxRetries && !cancelled(cancel)
		stream.Push(TeamEvent{Type: EventAgentError, AgentName: preset.Name, Error: errorMessage(err, res), WillRetry: willRetry})
		if !willRetry {
			break
		}
	}

	if result == nil {
		result = &agentmodel.AgentResult{AgentName: preset.Name, Success: false, Error: errorMessage(lastErr, nil)}
	}
	if result.Findings == nil {
		result.Findings = finding.Parse(preset.Name, result.Messages)
	}
	result.TraceID = traceID
	if !result.Success && result.Error != "" {
		span.Error(fmt.Errorf("%s", result.Error))
	}

	if e.Logger != nil {
		e.Logger.Debug("agent finished", "agent", preset.Name, "success", result.Success, "text", lastAssistantText(result.Messages))
		for _, f := range result.Findings {
			e.Logger.Debug("finding parsed", "agent", preset.Name, "title", f.Title, "description", f.Description)
		}
	}

	status := agentmodel.AgentResultDone
	if !result.Success {
		status = agentmodel.AgentResultFailed
	}
	if hasStored {
		patch := store.AgentResultPatch{
			Status:     &status,
			Findings:   result.Findings,
			Messages:   result.Messages,
			Usage:      &result.Usage,
			DurationMs: &result.Duration,
		}
		if result.Error != "" {
			patch.Error = &result.Error
		}
		e.logDebug("update agent result", e.Store.UpdateAgentResult(ctx, storedID, patch))
	}

	stream.Push(TeamEvent{Type: EventAgentEnd, AgentName: preset.Name, AgentResult: result})

	fatalMsg := ""
	if !result.Success && cfg.StopOnError && !agentmodel.IsCancelled(lastErr) {
		fatalMsg = preset.Name + ": " + result.Error
	}
	return *result, fatalMsg
}

// lastAssistantText returns the most recent assistant-authored message
// content, mirroring pkg/workflow's own helper of the same name.
func lastAssistantText(messages []agentmodel.AgentMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == agentmodel.RoleAssistant {
			return messages[i].Content
		}
	}
	return ""
}

func errorMessage(err error, res *agentmodel.AgentResult) string {
	if err != nil {
		return err.Error()
	}
	if res != nil {
		return res.Error
	}
	return ""
}

// mergeOutputPayload mirrors pkg/store's completeResultPayload field
// tags exactly, so a snapshot this engine writes is readable by
// GetCompleteTeamResult.
type mergeOutputPayload struct {
	Findings []agentmodel.Finding        `json:"findings"`
	Clusters []agentmodel.FindingCluster `json:"clusters"`
	Summary  string                      `json:"summary"`
}

func (e *Engine) runMerge(ctx context.Context, cfg agentmodel.TeamConfig, findings []agentmodel.Finding, cancel <-chan struct{}, execID int64, hasExec bool, stream *eventstream.Stream[TeamEvent, agentmodel.TeamResult]) (*merge.Result, error) {
	var prevSnapshotID int64
	hasPrev := false

	onProgress := func(phase agentmodel.MergePhase) {
		if hasExec {
			if hasPrev {
				payload, _ := json.Marshal(map[string]any{"phase": phase, "transitionTime": time.Now().UnixMilli()})
				e.logDebug("patch merge snapshot", e.Store.UpdateMergeSnapshot(ctx, prevSnapshotID, payload))
			}
			id, err := e.Store.CreateMergeSnapshot(ctx, execID, phase, nil)
			if err != nil {
				e.logDebug("create merge snapshot", err)
				hasPrev = false
			} else {
				prevSnapshotID = id
				hasPrev = true
			}
		}
		stream.Push(TeamEvent{Type: EventMergeProgress, Phase: phase})
	}

	onEvent := func(ev agentmodel.AgentEvent) {
		stream.Push(TeamEvent{Type: EventMergeEvent, AgentEvent: &ev})
	}

	result, err := e.MergeRegistry.Execute(ctx, cfg.Merge.Strategy, findings, merge.Options{
		MergeAgent: cfg.Merge.MergeAgent,
		Client:     e.Client,
		Cancel:     cancel,
		OnEvent:    onEvent,
		OnProgress: onProgress,
	})

	if hasExec && hasPrev {
		var payload []byte
		if result != nil {
			payload, _ = json.Marshal(mergeOutputPayload{Findings: result.Findings, Clusters: result.Clusters, Summary: result.Summary})
		}
		e.logDebug("finalize merge snapshot", e.Store.UpdateMergeSnapshot(ctx, prevSnapshotID, payload))
	}
	return result, err
}

// providerAliases maps convenience model-family prefixes to the
// canonical credential-provider name CredentialVars expects, mirroring
// the teacher's own any-llm provider-alias table.
var providerAliases = map[string]string{
	"claude": "anthropic",
	"google": "gemini",
}

// ProviderOf extracts the credential provider from an AgentPreset's
// "provider/model" formatted Model string (e.g. "anthropic/claude-sonnet-4-5"),
// matching the teacher's provider-prefixed model convention.
func ProviderOf(model string) string {
	idx := strings.Index(model, "/")
	if idx == -1 {
		return ""
	}
	provider := model[:idx]
	if canonical, ok := providerAliases[provider]; ok {
		return canonical
	}
	return provider
}
