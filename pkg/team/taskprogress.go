package team

import (
	"encoding/json"
	"strings"

	"github.com/agentteam/runtime/pkg/agentmodel"
)

// taskManagerToolPrefix identifies the tool-name family the task
// tracker watches, mirroring how the teacher groups related tools
// under one namespace (task_ledger, task_manager_*).
const taskManagerToolPrefix = "task_manager_"

const maxTrackedTasksPerAgent = 100

var doneTaskStatuses = map[string]bool{
	"done":      true,
	"completed": true,
	"cancelled": true,
}

// TaskUpdate is the {total, completed, activeTaskTitle} snapshot
// emitted whenever the tracked task-manager state changes.
type TaskUpdate struct {
	Total           int
	Completed       int
	ActiveTaskTitle string
}

type trackedTask struct {
	Title  string
	Status string
}

// taskTracker maintains one agent's {taskId -> {title, status}} map,
// fed by tool_execution_end events from the task-manager tool family.
// It is not safe for concurrent use — one tracker per agent run,
// driven only from that run's own event callback.
type taskTracker struct {
	order []string
	tasks map[string]*trackedTask
}

func newTaskTracker() *taskTracker {
	return &taskTracker{tasks: make(map[string]*trackedTask)}
}

// observe inspects one forwarded agent event. If it is a
// tool_execution_end for a task-manager tool whose result text changes
// tracked state, it returns the new snapshot and true. Any other event,
// or a result that fails to parse, returns (nil, false) — parsing
// errors degrade to "no change" rather than propagating, per the
// ParseError recovery policy.
func (t *taskTracker) observe(ev agentmodel.AgentEvent) (*TaskUpdate, bool) {
	if ev.Type != agentmodel.EventToolExecutionEnd {
		return nil, false
	}
	if !strings.HasPrefix(ev.ToolName, taskManagerToolPrefix) || ev.ToolIsError {
		return nil, false
	}

	ops, err := parseTaskOps(ev.ToolName, ev.ToolResult)
	if err != nil || len(ops) == 0 {
		return nil, false
	}

	changed := false
	for _, op := range ops {
		if t.apply(op) {
			changed = true
		}
	}
	if !changed {
		return nil, false
	}
	return t.snapshot(), true
}

type taskOp struct {
	id     string
	title  string
	status string
	delete bool
}

// taskOpPayload is the JSON shape a task-manager tool's result text
// carries: a single op for create/update/delete, or a tasks[] batch
// for the bulk variants (spec.md's "create / bulk-create / update /
// bulk-update / delete variants").
type taskOpPayload struct {
	ID     string          `json:"id"`
	Title  string          `json:"title"`
	Status string          `json:"status"`
	Tasks  []taskOpPayload `json:"tasks"`
}

func parseTaskOps(toolName, resultText string) ([]taskOp, error) {
	if strings.TrimSpace(resultText) == "" {
		return nil, nil
	}
	var payload taskOpPayload
	if err := json.Unmarshal([]byte(resultText), &payload); err != nil {
		return nil, agentmodel.NewParseError("parse task_manager result", err)
	}

	isDelete := strings.HasSuffix(toolName, "_delete")
	if len(payload.Tasks) > 0 {
		ops := make([]taskOp, 0, len(payload.Tasks))
		for _, p := range payload.Tasks {
			ops = append(ops, taskOp{id: p.ID, title: p.Title, status: p.Status, delete: isDelete})
		}
		return ops, nil
	}
	if payload.ID == "" {
		return nil, nil
	}
	return []taskOp{{id: payload.ID, title: payload.Title, status: payload.Status, delete: isDelete}}, nil
}

func (t *taskTracker) apply(op taskOp) bool {
	if op.delete {
		if _, ok := t.tasks[op.id]; !ok {
			return false
		}
		delete(t.tasks, op.id)
		for i, id := range t.order {
			if id == op.id {
				t.order = append(t.order[:i], t.order[i+1:]...)
				break
			}
		}
		return true
	}

	existing, ok := t.tasks[op.id]
	if !ok {
		if len(t.tasks) >= maxTrackedTasksPerAgent {
			return false
		}
		t.tasks[op.id] = &trackedTask{Title: op.title, Status: op.status}
		t.order = append(t.order, op.id)
		return true
	}

	changed := false
	if op.title != "" && existing.Title != op.title {
		existing.Title = op.title
		changed = true
	}
	if op.status != "" && existing.Status != op.status {
		existing.Status = op.status
		changed = true
	}
	return changed
}

func (t *taskTracker) snapshot() *TaskUpdate {
	total := len(t.order)
	completed := 0
	active := ""
	for _, id := range t.order {
		task := t.tasks[id]
		if doneTaskStatuses[task.Status] {
			completed++
		} else if active == "" {
			active = task.Title
		}
	}
	return &TaskUpdate{Total: total, Completed: completed, ActiveTaskTitle: active}
}
