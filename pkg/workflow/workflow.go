// Package workflow implements the Workflow Engine (C8): a DAG
// scheduler over steps that each invoke a single agent, a parallel
// agent group, or a whole team, with conditional branching, skip
// propagation, and a shared key/value context threaded between steps.
package workflow

import (
	"context"
	"fmt"
	"sync"

	"github.com/agentteam/runtime/pkg/agentmodel"
	"github.com/agentteam/runtime/pkg/eventstream"
	"github.com/agentteam/runtime/pkg/merge"
	"github.com/agentteam/runtime/pkg/store"
	"github.com/agentteam/runtime/pkg/subagent"
	"github.com/agentteam/runtime/pkg/team"
	"github.com/agentteam/runtime/pkg/trace"
)

// EventType identifies the kind of a WorkflowEvent.
type EventType string

const (
	EventWorkflowStart    EventType = "workflow_start"
	EventStepStart        EventType = "step_start"
	EventStepSkip         EventType = "step_skip"
	EventStepComplete     EventType = "step_complete"
	EventStepError        EventType = "step_error"
	EventBranch           EventType = "branch"
	EventCheckpoint       EventType = "checkpoint"
	EventWorkflowComplete EventType = "workflow_complete"
)

// WorkflowEvent is one streamed event from a workflow run.
type WorkflowEvent struct {
	Type           EventType
	StepID         string
	Reason         string
	Branch         string // "then" or "else", set on EventBranch
	StepResult     *agentmodel.WorkflowStepResult
	WorkflowResult *agentmodel.WorkflowResult
}

// RunOptions carries the per-invocation inputs a workflow run needs.
type RunOptions struct {
	Task      string
	CWD       string
	SessionID string
	Cancel    <-chan struct{}
}

// Engine runs one WorkflowDefinition to a WorkflowResult.
type Engine struct {
	Definition agentmodel.WorkflowDefinition
	Presets    map[string]agentmodel.AgentPreset

	Runner        *subagent.Runner
	MergeRegistry *merge.Registry
	Store         *store.Store // optional; passed through to `team` steps' Team Engine
	Client        agentmodel.LLMClient

	// Defaults applied when a `team` step builds its own TeamConfig.
	DefaultMerge agentmodel.MergeDescriptor
	MaxRetries   int
	StopOnError  bool

	Logger team.Logger  // optional
	Tracer trace.Tracer // optional; nil is treated as trace.NoopTracer{}

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

// Run starts the workflow asynchronously and returns its EventStream.
func (e *Engine) Run(ctx context.Context, opts RunOptions) *eventstream.Stream[WorkflowEvent, agentmodel.WorkflowResult] {
	stream := eventstream.New(
		func(ev WorkflowEvent) bool { return ev.Type == EventWorkflowComplete },
		func(ev WorkflowEvent) agentmodel.WorkflowResult {
			if ev.WorkflowResult != nil {
				return *ev.WorkflowResult
			}
			return agentmodel.WorkflowResult{}
		},
	)

	e.mu.Lock()
	if e.abortCh == nil {
		e.abortCh = make(chan struct{})
	}
	abortCh := e.abortCh
	e.mu.Unlock()

	cancel := mergeCancel(abortCh, opts.Cancel)
	go e.orchestrate(ctx, opts, cancel, stream)
	return stream
}

// Execute runs the workflow to completion and returns its result.
func (e *Engine) Execute(ctx context.Context, opts RunOptions) (agentmodel.WorkflowResult, error) {
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

func (e *Engine) orchestrate(ctx context.Context, opts RunOptions, cancel <-chan struct{}, stream *eventstream.Stream[WorkflowEvent, agentmodel.WorkflowResult]) {
	def := e.Definition
	wfCtx := agentmodel.NewWorkflowContext(def.DefaultContext)

	ctx, span := e.tracer().Start(ctx, "workflow.run", trace.String("workflow", def.Name), trace.Int("steps", len(def.Steps)))
	defer span.End()

	stream.Push(WorkflowEvent{Type: EventWorkflowStart})

	if err := validate(def); err != nil {
		result := agentmodel.WorkflowResult{Success: false, Error: err.Error(), Context: wfCtx}
		stream.Push(WorkflowEvent{Type: EventWorkflowComplete, WorkflowResult: &result})
		return
	}

	byID := indexSteps(def)
	order := executionOrder(def)
	branchSkip := map[string]string{}

	overallSuccess := true
	firstErr := ""

	for _, id := range order {
		if cancelled(cancel) {
			overallSuccess = false
			if firstErr == "" {
				firstErr = "aborted"
			}
			break
		}

		step, ok := byID[id]
		if !ok {
			continue
		}

		if skip, reason := e.skipDecision(step, wfCtx, branchSkip); skip {
			wfCtx.Skipped[id] = true
			res := agentmodel.WorkflowStepResult{StepID: id, Status: agentmodel.StepStatusSkipped, SkipReason: reason}
			wfCtx.StepResults[id] = res
			stream.Push(WorkflowEvent{Type: EventStepSkip, StepID: id, Reason: reason, StepResult: &res})
			continue
		}

		stream.Push(WorkflowEvent{Type: EventStepStart, StepID: id})

		switch step.Type {
		case agentmodel.StepCheckpoint:
			res := agentmodel.WorkflowStepResult{StepID: id, Status: agentmodel.StepStatusCompleted}
			wfCtx.StepResults[id] = res
			wfCtx.Completed[id] = true
			stream.Push(WorkflowEvent{Type: EventCheckpoint, StepID: id})
			stream.Push(WorkflowEvent{Type: EventStepComplete, StepID: id, StepResult: &res})
			continue

		case agentmodel.StepConditional:
			taken := "else"
			if evaluate(step.Condition, wfCtx) {
				taken = "then"
			}
			notTaken := step.ElseSteps
			reason := "branch 'else' not taken"
			if taken == "then" {
				notTaken = step.ElseSteps
			} else {
				notTaken = step.ThenSteps
				reason = "branch 'then' not taken"
			}
			for _, sid := range notTaken {
				branchSkip[sid] = reason
			}
			res := agentmodel.WorkflowStepResult{StepID: id, Status: agentmodel.StepStatusCompleted, Output: map[string]any{"branch": taken}}
			wfCtx.StepResults[id] = res
			wfCtx.Completed[id] = true
			stream.Push(WorkflowEvent{Type: EventBranch, StepID: id, Branch: taken})
			stream.Push(WorkflowEvent{Type: EventStepComplete, StepID: id, StepResult: &res})
			continue
		}

		res := e.runStep(ctx, step, wfCtx, opts, cancel)
		wfCtx.StepResults[id] = res

		if res.Status == agentmodel.StepStatusCompleted {
			wfCtx.Completed[id] = true
			for _, w := range step.Writes {
				if v, ok := res.Output[w]; ok {
					wfCtx.Values[w] = v
				}
			}
			stream.Push(WorkflowEvent{Type: EventStepComplete, StepID: id, StepResult: &res})
		} else {
			overallSuccess = false
			if firstErr == "" {
				firstErr = res.Error
			}
			stream.Push(WorkflowEvent{Type: EventStepError, StepID: id, StepResult: &res})
		}
	}

	result := agentmodel.WorkflowResult{Success: overallSuccess, Error: firstErr, Context: wfCtx}
	if !overallSuccess && firstErr != "" {
		span.Error(fmt.Errorf("%s", firstErr))
	}
	stream.Push(WorkflowEvent{Type: EventWorkflowComplete, WorkflowResult: &result})
}

// skipDecision applies spec.md's skip-logic precedence: an explicit
// user decision wins, then dependency-skip propagation, then
// skipByDefault.
func (e *Engine) skipDecision(step agentmodel.Step, wfCtx *agentmodel.WorkflowContext, branchSkip map[string]string) (bool, string) {
	if dec, ok := wfCtx.UserSkipDecns[step.ID]; ok {
		if dec {
			return true, "Skipped by user decision"
		}
		return false, ""
	}
	if reason, ok := branchSkip[step.ID]; ok {
		return true, reason
	}
	for _, dep := range step.DependsOn {
		if wfCtx.Skipped[dep] {
			return true, fmt.Sprintf("Dependency '%s' was skipped", dep)
		}
	}
	if step.SkipByDefault {
		return true, "Skipped by default"
	}
	return false, ""
}

func (e *Engine) runStep(ctx context.Context, step agentmodel.Step, wfCtx *agentmodel.WorkflowContext, opts RunOptions, cancel <-chan struct{}) agentmodel.WorkflowStepResult {
	ctx, span := e.tracer().Start(ctx, "workflow.step", trace.String("step", step.ID), trace.String("type", string(step.Type)))
	defer span.End()

	var res agentmodel.WorkflowStepResult
	switch step.Type {
	case agentmodel.StepAgent:
		res = e.runAgentStep(ctx, step, opts, cancel)
	case agentmodel.StepParallel:
		res = e.runParallelStep(ctx, step, opts, cancel)
	case agentmodel.StepTeam:
		res = e.runTeamStep(ctx, step, opts, cancel)
	default:
		res = failResult(step.ID, "unsupported step type: "+string(step.Type))
	}
	if res.Status == agentmodel.StepStatusFailed && res.Error != "" {
		span.Error(fmt.Errorf("%s", res.Error))
	}
	return res
}

func (e *Engine) runAgentStep(ctx context.Context, step agentmodel.Step, opts RunOptions, cancel <-chan struct{}) agentmodel.WorkflowStepResult {
	if len(step.Agents) == 0 {
		return failResult(step.ID, "agent step has no agent name")
	}
	preset, ok := e.Presets[step.Agents[0]]
	if !ok {
		return failResult(step.ID, "unknown agent preset: "+step.Agents[0])
	}

	task := subagent.Task{Agent: preset, Task: opts.Task, CWD: opts.CWD, Provider: team.ProviderOf(preset.Model)}
	res, err := e.Runner.Single(ctx, task, cancel)
	if err != nil {
		return failResult(step.ID, err.Error())
	}
	if !res.Success {
		return agentmodel.WorkflowStepResult{StepID: step.ID, Status: agentmodel.StepStatusFailed, Error: res.Error, AgentRuns: []agentmodel.AgentResult{*res}}
	}
	return agentmodel.WorkflowStepResult{
		StepID:    step.ID,
		Status:    agentmodel.StepStatusCompleted,
		Output:    map[string]any{"text": lastAssistantText(res.Messages)},
		AgentRuns: []agentmodel.AgentResult{*res},
	}
}

func (e *Engine) runParallelStep(ctx context.Context, step agentmodel.Step, opts RunOptions, cancel <-chan struct{}) agentmodel.WorkflowStepResult {
	tasks := make([]subagent.Task, 0, len(step.Agents))
	for _, name := range step.Agents {
		preset, ok := e.Presets[name]
		if !ok {
			return failResult(step.ID, "unknown agent preset: "+name)
		}
		tasks = append(tasks, subagent.Task{Agent: preset, Task: opts.Task, CWD: opts.CWD, Provider: team.ProviderOf(preset.Model)})
	}

	results, err := e.Runner.Parallel(ctx, tasks, 0, cancel)
	if err != nil {
		return failResult(step.ID, err.Error())
	}

	allSuccess := true
	runs := make([]agentmodel.AgentResult, 0, len(results))
	for _, r := range results {
		if r == nil || !r.Success {
			allSuccess = false
		}
		if r != nil {
			runs = append(runs, *r)
		}
	}

	status := agentmodel.StepStatusCompleted
	errMsg := ""
	if !allSuccess {
		status = agentmodel.StepStatusFailed
		errMsg = "one or more parallel agents failed"
	}
	return agentmodel.WorkflowStepResult{StepID: step.ID, Status: status, Error: errMsg, AgentRuns: runs}
}

func (e *Engine) runTeamStep(ctx context.Context, step agentmodel.Step, opts RunOptions, cancel <-chan struct{}) agentmodel.WorkflowStepResult {
	presets := make([]agentmodel.AgentPreset, 0, len(step.Agents))
	for _, name := range step.Agents {
		preset, ok := e.Presets[name]
		if !ok {
			return failResult(step.ID, "unknown agent preset: "+name)
		}
		presets = append(presets, preset)
	}

	cfg := agentmodel.TeamConfig{
		Name:        step.ID,
		Agents:      presets,
		Strategy:    agentmodel.StrategyParallel,
		Merge:       e.DefaultMerge,
		MaxRetries:  e.MaxRetries,
		StopOnError: e.StopOnError,
	}
	teamEngine := &team.Engine{
		Config:        cfg,
		Runner:        e.Runner,
		MergeRegistry: e.MergeRegistry,
		Client:        e.Client,
		Store:         e.Store,
		Logger:        e.Logger,
		Tracer:        e.Tracer,
	}

	tres, err := teamEngine.Execute(ctx, team.RunOptions{Task: opts.Task, CWD: opts.CWD, SessionID: opts.SessionID, Cancel: cancel})
	if err != nil {
		return failResult(step.ID, err.Error())
	}
	if !tres.Success {
		return agentmodel.WorkflowStepResult{StepID: step.ID, Status: agentmodel.StepStatusFailed, Error: tres.Error, AgentRuns: tres.AgentRuns}
	}
	return agentmodel.WorkflowStepResult{
		StepID:    step.ID,
		Status:    agentmodel.StepStatusCompleted,
		Output:    map[string]any{"findings": tres.Findings, "summary": tres.Summary},
		AgentRuns: tres.AgentRuns,
	}
}

func failResult(stepID, msg string) agentmodel.WorkflowStepResult {
	return agentmodel.WorkflowStepResult{StepID: stepID, Status: agentmodel.StepStatusFailed, Error: msg}
}

func lastAssistantText(messages []agentmodel.AgentMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == agentmodel.RoleAssistant {
			return messages[i].Content
		}
	}
	return ""
}
