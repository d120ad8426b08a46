// Package agentmodel holds the shared vocabulary of the agent team
// runtime: presets, results, findings, and the enums every other
// package (finding, depgraph, eventstream, store, merge, subagent,
// team, workflow) builds on. Centralizing it here mirrors the
// teacher's own practice of keeping shared types in one package
// (providers.types, swarm.types) rather than scattering them.
package agentmodel

import "fmt"

// ThinkingLevel is the reasoning-effort knob an AgentPreset may request
// from the underlying model.
type ThinkingLevel string

const (
	ThinkingOff     ThinkingLevel = "off"
	ThinkingMinimal ThinkingLevel = "minimal"
	ThinkingLow     ThinkingLevel = "low"
	ThinkingMedium  ThinkingLevel = "medium"
	ThinkingHigh    ThinkingLevel = "high"
	ThinkingXHigh   ThinkingLevel = "xhigh"
)

// AgentPreset is an immutable bundle of system prompt, model reference
// and tool allowlist that answers one task via an LLM loop.
type AgentPreset struct {
	Name         string
	Description  string
	SystemPrompt string
	Model        string
	Temperature  float64
	MaxTokens    int
	Thinking     ThinkingLevel
	AllowedTools []string
}

// Severity is a Finding's severity classification.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// Category is a Finding's category classification.
type Category string

const (
	CategorySecurity        Category = "security"
	CategoryBug             Category = "bug"
	CategoryPerformance     Category = "performance"
	CategoryStyle           Category = "style"
	CategoryMaintainability Category = "maintainability"
	CategoryOther           Category = "other"
)

// LineRange is a single line (Start == End) or an inclusive range.
type LineRange struct {
	Start int
	End   int
}

// Finding is a structured observation produced by an agent.
type Finding struct {
	ID          string
	AgentName   string
	Severity    Severity
	Category    Category
	File        string
	Line        *LineRange
	Title       string
	Description string
	Suggestion  string
	CodeSnippet string
	Confidence  *float64
	References  []string
	Verified    bool
}

// FindingID formats the `{agentName}-{index}` id the parser assigns.
func FindingID(agentName string, index int) string {
	return fmt.Sprintf("%s-%d", agentName, index)
}

// MessageRole identifies the speaker of an AgentResult message.
type MessageRole string

const (
	RoleUser       MessageRole = "user"
	RoleAssistant  MessageRole = "assistant"
	RoleToolResult MessageRole = "toolResult"
	RoleCustom     MessageRole = "custom"
)

// AgentMessage is one turn in an agent's transcript.
type AgentMessage struct {
	Role    MessageRole
	Content string
	Name    string // tool name, set when Role == RoleToolResult
}

// TokenUsage tracks LLM token consumption and derived cost for one
// agent execution.
type TokenUsage struct {
	InputTokens      int
	OutputTokens     int
	CacheReadTokens  int
	CacheWriteTokens int
	CostUSD          float64
}

// Add accumulates another usage record into this one and returns the
// receiver for chaining.
func (u *TokenUsage) Add(other TokenUsage) *TokenUsage {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CacheReadTokens += other.CacheReadTokens
	u.CacheWriteTokens += other.CacheWriteTokens
	u.CostUSD += other.CostUSD
	return u
}

// AgentResult is the immutable record produced by one agent execution.
type AgentResult struct {
	AgentName string
	Success   bool
	Error     string
	Messages  []AgentMessage
	Findings  []Finding
	Duration  int64 // milliseconds
	Usage     TokenUsage
	TraceID   string // empty when tracing is disabled
}
