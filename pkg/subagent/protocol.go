package subagent

import (
	"encoding/json"

	"github.com/agentteam/runtime/pkg/agentmodel"
)

// rawEvent is the newline-delimited JSON event schema a subagent
// child writes to stdout (spec.md §4.6/§6): a discriminated union
// keyed by `type`. Unknown types are ignored by the caller, not by
// this struct — json.Unmarshal leaves unrecognized fields zeroed.
type rawEvent struct {
	Type       string         `json:"type"`
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Args       map[string]any `json:"args"`
	IsError    bool           `json:"isError"`
	Result     string         `json:"result"`
	Message    *rawMessage    `json:"message"`
	StopReason string         `json:"stopReason"`
}

type rawMessage struct {
	Role    string           `json:"role"`
	Content []rawContentPart `json:"content"`
	Usage   *rawUsage        `json:"usage"`
}

type rawContentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type rawUsage struct {
	InputTokens      int     `json:"inputTokens"`
	OutputTokens     int     `json:"outputTokens"`
	CacheReadTokens  int     `json:"cacheReadTokens"`
	CacheWriteTokens int     `json:"cacheWriteTokens"`
	CostUSD          float64 `json:"costUsd"`
}

// parseLine decodes one NDJSON line. A malformed line yields an
// error; the caller decides whether to skip it rather than abort the
// whole stream (spec.md's ParseError kind degrades gracefully).
func parseLine(line []byte) (*rawEvent, error) {
	var e rawEvent
	if err := json.Unmarshal(line, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

const (
	typeToolExecutionStart = "tool_execution_start"
	typeToolExecutionEnd   = "tool_execution_end"
	typeMessageUpdate      = "message_update"
	typeMessageEnd         = "message_end"
	typeToolResultEnd      = "tool_result_end"
	typeAgentEnd           = "agent_end"
)

// toAgentEvent converts a raw wire event into the core's AgentEvent
// vocabulary, mirroring the teacher's pkg/agent/events.go enum
// generalized to this module's streaming schema. Unknown types
// convert to a zero-value event with an empty Type, which callers
// should ignore.
func toAgentEvent(e *rawEvent) agentmodel.AgentEvent {
	out := agentmodel.AgentEvent{
		ToolCallID: e.ID,
		ToolName:   e.Name,
		ToolArgs:   e.Args,
		StopReason: e.StopReason,
	}
	switch e.Type {
	case typeToolExecutionStart:
		out.Type = agentmodel.EventToolExecutionStart
	case typeToolExecutionEnd:
		out.Type = agentmodel.EventToolExecutionEnd
		out.ToolIsError = e.IsError
		out.ToolResult = e.Result
	case typeMessageUpdate:
		out.Type = agentmodel.EventMessageUpdate
		out.Message = toMessage(e.Message)
		out.Usage = toUsage(e.Message)
	case typeMessageEnd:
		out.Type = agentmodel.EventMessageEnd
		out.Message = toMessage(e.Message)
		out.Usage = toUsage(e.Message)
	case typeToolResultEnd:
		out.Type = agentmodel.EventToolResultEnd
		out.Message = toMessage(e.Message)
	case typeAgentEnd:
		out.Type = agentmodel.EventAgentEnd
	}
	return out
}

func toMessage(m *rawMessage) *agentmodel.Message {
	if m == nil {
		return nil
	}
	var content string
	for _, p := range m.Content {
		if p.Type == "text" || p.Type == "" {
			content += p.Text
		}
	}
	return &agentmodel.Message{Role: m.Role, Content: content}
}

func toUsage(m *rawMessage) *agentmodel.TokenUsage {
	if m == nil || m.Usage == nil {
		return nil
	}
	return &agentmodel.TokenUsage{
		InputTokens:      m.Usage.InputTokens,
		OutputTokens:     m.Usage.OutputTokens,
		CacheReadTokens:  m.Usage.CacheReadTokens,
		CacheWriteTokens: m.Usage.CacheWriteTokens,
		CostUSD:          m.Usage.CostUSD,
	}
}

func textOf(m *rawMessage) string {
	if m == nil {
		return ""
	}
	var out string
	for _, p := range m.Content {
		if p.Type == "text" || p.Type == "" {
			out += p.Text
		}
	}
	return out
}

func thinkingOf(m *rawMessage) string {
	if m == nil {
		return ""
	}
	var out string
	for _, p := range m.Content {
		if p.Type == "thinking" {
			out += p.Text
		}
	}
	return out
}
