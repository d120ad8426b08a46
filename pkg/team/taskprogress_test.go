package team

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentteam/runtime/pkg/agentmodel"
)

func toolEndEvent(name, result string, isError bool) agentmodel.AgentEvent {
	return agentmodel.AgentEvent{
		Type:        agentmodel.EventToolExecutionEnd,
		ToolName:    name,
		ToolResult:  result,
		ToolIsError: isError,
	}
}

func TestTaskTracker_IgnoresNonTaskManagerTools(t *testing.T) {
	tracker := newTaskTracker()
	_, changed := tracker.observe(toolEndEvent("grep", `{"id":"1","title":"x","status":"pending"}`, false))
	assert.False(t, changed)
}

func TestTaskTracker_IgnoresErroredCalls(t *testing.T) {
	tracker := newTaskTracker()
	_, changed := tracker.observe(toolEndEvent("task_manager_create", `{"id":"1","title":"x","status":"pending"}`, true))
	assert.False(t, changed)
}

func TestTaskTracker_SingleCreateThenComplete(t *testing.T) {
	tracker := newTaskTracker()
	update, changed := tracker.observe(toolEndEvent("task_manager_create", `{"id":"1","title":"write tests","status":"pending"}`, false))
	require.True(t, changed)
	assert.Equal(t, 1, update.Total)
	assert.Equal(t, 0, update.Completed)
	assert.Equal(t, "write tests", update.ActiveTaskTitle)

	update, changed = tracker.observe(toolEndEvent("task_manager_update", `{"id":"1","title":"write tests","status":"done"}`, false))
	require.True(t, changed)
	assert.Equal(t, 1, update.Total)
	assert.Equal(t, 1, update.Completed)
	assert.Equal(t, "", update.ActiveTaskTitle)
}

func TestTaskTracker_BulkCreate(t *testing.T) {
	tracker := newTaskTracker()
	update, changed := tracker.observe(toolEndEvent("task_manager_bulk_create", `{"tasks":[{"id":"1","title":"a","status":"pending"},{"id":"2","title":"b","status":"pending"}]}`, false))
	require.True(t, changed)
	assert.Equal(t, 2, update.Total)
	assert.Equal(t, "a", update.ActiveTaskTitle)
}

func TestTaskTracker_Delete(t *testing.T) {
	tracker := newTaskTracker()
	tracker.observe(toolEndEvent("task_manager_create", `{"id":"1","title":"a","status":"pending"}`, false))
	update, changed := tracker.observe(toolEndEvent("task_manager_delete", `{"id":"1"}`, false))
	require.True(t, changed)
	assert.Equal(t, 0, update.Total)
}

func TestTaskTracker_NoChangeReturnsFalse(t *testing.T) {
	tracker := newTaskTracker()
	tracker.observe(toolEndEvent("task_manager_create", `{"id":"1","title":"a","status":"pending"}`, false))
	_, changed := tracker.observe(toolEndEvent("task_manager_update", `{"id":"1","title":"a","status":"pending"}`, false))
	assert.False(t, changed)
}

func TestTaskTracker_MalformedResultDegradesGracefully(t *testing.T) {
	tracker := newTaskTracker()
	update, changed := tracker.observe(toolEndEvent("task_manager_create", `not json`, false))
	assert.False(t, changed)
	assert.Nil(t, update)
}

func TestTaskTracker_EmptyResultIsNoOp(t *testing.T) {
	tracker := newTaskTracker()
	_, changed := tracker.observe(toolEndEvent("task_manager_create", "", false))
	assert.False(t, changed)
}

func TestTaskTracker_DeleteUnknownIDIsNoOp(t *testing.T) {
	tracker := newTaskTracker()
	_, changed := tracker.observe(toolEndEvent("task_manager_delete", `{"id":"missing"}`, false))
	assert.False(t, changed)
}

func TestTaskTracker_CapsAtMaxTrackedTasks(t *testing.T) {
	tracker := newTaskTracker()
	for i := 0; i < maxTrackedTasksPerAgent; i++ {
		tracker.tasks[string(rune('a'+i%26))+string(rune(i))] = &trackedTask{Title: "x", Status: "pending"}
		tracker.order = append(tracker.order, string(rune('a'+i%26))+string(rune(i)))
	}
	_, changed := tracker.observe(toolEndEvent("task_manager_create", `{"id":"overflow","title":"y","status":"pending"}`, false))
	assert.False(t, changed)
}
