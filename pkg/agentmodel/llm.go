package agentmodel

import "context"

// Message is one turn sent to or received from an LLM, mirroring the
// teacher's providers.Message shape.
type Message struct {
	Role       string
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
}

// ToolCall is a single tool invocation requested by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// ToolDefinition is the JSON-schema shape advertised to the model for
// one callable tool.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// LLMResponse is one non-streaming round-trip result from a client.
type LLMResponse struct {
	Content      string
	ToolCalls    []ToolCall
	Usage        TokenUsage
	FinishReason string
}

// LLMClient is the narrow, consumed interface every LLM provider
// adapter implements. The core never depends on a concrete SDK type,
// only on this boundary (see pkg/llmadapter for concrete
// implementations), mirroring the teacher's providers.LLMProvider
// seam.
type LLMClient interface {
	Chat(ctx context.Context, messages []Message, tools []ToolDefinition, model string, options map[string]any) (*LLMResponse, error)
	DefaultModel() string
}

// Tool is the consumed tool interface (§6): the core reads only
// Content()/Details() from the result, never tool-specific fields.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any
	Execute(ctx context.Context, callID string, params map[string]any, onUpdate func(string)) (*ToolOutput, error)
}

// ToolOutput is the narrow shape a Tool.Execute result takes (§6).
type ToolOutput struct {
	Content []ToolContentPart
	Details map[string]any
}

// ToolContentPart is one piece of a tool's output content.
type ToolContentPart struct {
	Type string
	Text string
}

// Text concatenates all text content parts, the shape most callers
// actually want.
func (o *ToolOutput) Text() string {
	if o == nil {
		return ""
	}
	out := ""
	for _, p := range o.Content {
		if p.Type == "text" || p.Type == "" {
			out += p.Text
		}
	}
	return out
}

// AgentEventType identifies the kind of streaming event an agent loop
// or subagent subprocess emits, matching spec.md §4.6/§6's event
// schema (tool_execution_start, tool_execution_end, message_update,
// message_end, tool_result_end) and generalizing the teacher's
// pkg/agent/events.go enum to that vocabulary.
type AgentEventType string

const (
	EventToolExecutionStart AgentEventType = "tool_execution_start"
	EventToolExecutionEnd   AgentEventType = "tool_execution_end"
	EventMessageUpdate      AgentEventType = "message_update"
	EventMessageEnd         AgentEventType = "message_end"
	EventToolResultEnd      AgentEventType = "tool_result_end"
	EventAgentEnd           AgentEventType = "agent_end"
)

// AgentEvent is one streamed lifecycle event from an agent loop.
type AgentEvent struct {
	Type         AgentEventType
	ToolCallID   string
	ToolName     string
	ToolArgs     map[string]any
	ToolIsError  bool
	ToolResult   string
	Message      *Message
	Usage        *TokenUsage
	StopReason   string // "", "error", "aborted" — see §4.6 failure semantics
}
