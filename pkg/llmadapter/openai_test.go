package llmadapter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentteam/runtime/pkg/agentmodel"
)

func TestBuildOpenAIMessages_Roles(t *testing.T) {
	messages := []agentmodel.Message{
		{Role: "system", Content: "You are helpful"},
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello"},
		{Role: "tool", ToolCallID: "1", Content: "result"},
	}
	out := buildOpenAIMessages(messages)
	require.Len(t, out, 4)
}

func TestNormalizeOpenAIModel_StripsProviderPrefix(t *testing.T) {
	assert.Equal(t, "gpt-4o", normalizeOpenAIModel("openai/gpt-4o"))
	assert.Equal(t, "gpt-4o", normalizeOpenAIModel("gpt-4o"))
}

func TestBuildOpenAITools_SkipsUnnamed(t *testing.T) {
	tools := []agentmodel.ToolDefinition{
		{Name: "", Description: "skip me"},
		{Name: "grep", Description: "search", Parameters: map[string]any{}},
	}
	out := buildOpenAITools(tools)
	assert.Len(t, out, 1)
}
