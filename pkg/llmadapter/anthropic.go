// Package llmadapter provides concrete agentmodel.LLMClient
// implementations over real provider SDKs. The core components never
// import this package directly — they depend only on the narrow
// agentmodel.LLMClient interface — but something has to exist to give
// that seam a real implementation in an integration test or a caller
// wiring an Engine together.
package llmadapter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/agentteam/runtime/pkg/agentmodel"
)

const defaultAnthropicModel = "claude-sonnet-4-5"

// AnthropicClient wraps github.com/anthropics/anthropic-sdk-go,
// translating agentmodel's provider-agnostic Message/ToolDefinition
// shapes into the SDK's request type and its response back into an
// agentmodel.LLMResponse.
type AnthropicClient struct {
	client *anthropic.Client
	model  string
}

// NewAnthropicClient builds a client authenticated with apiKey against
// the default Anthropic API base URL.
func NewAnthropicClient(apiKey, model string) *AnthropicClient {
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	if model == "" {
		model = defaultAnthropicModel
	}
	return &AnthropicClient{client: &client, model: model}
}

func (c *AnthropicClient) DefaultModel() string { return c.model }

func (c *AnthropicClient) Chat(ctx context.Context, messages []agentmodel.Message, tools []agentmodel.ToolDefinition, model string, options map[string]any) (*agentmodel.LLMResponse, error) {
	if model == "" {
		model = c.model
	}
	params, err := buildAnthropicParams(messages, tools, model, options)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic chat: %w", err)
	}
	return parseAnthropicResponse(resp), nil
}

func buildAnthropicParams(messages []agentmodel.Message, tools []agentmodel.ToolDefinition, model string, options map[string]any) (anthropic.MessageNewParams, error) {
	var system []anthropic.TextBlockParam
	var anthMessages []anthropic.MessageParam

	for i := 0; i < len(messages); i++ {
		msg := messages[i]
		switch msg.Role {
		case "system":
			system = append(system, anthropic.TextBlockParam{Text: msg.Content})
		case "assistant":
			if len(msg.ToolCalls) > 0 {
				var blocks []anthropic.ContentBlockParamUnion
				if msg.Content != "" {
					blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
				}
				for _, tc := range msg.ToolCalls {
					args := tc.Arguments
					if args == nil {
						args = map[string]any{}
					}
					blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, args, tc.Name))
				}
				anthMessages = append(anthMessages, anthropic.NewAssistantMessage(blocks...))
			} else {
				anthMessages = append(anthMessages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
			}
		default: // "user", "tool" — tool results travel as a user turn per the Anthropic wire format
			if msg.ToolCallID != "" {
				var toolBlocks []anthropic.ContentBlockParamUnion
				for i < len(messages) && messages[i].ToolCallID != "" {
					toolBlocks = append(toolBlocks, anthropic.NewToolResultBlock(messages[i].ToolCallID, messages[i].Content, false))
					i++
				}
				i--
				anthMessages = append(anthMessages, anthropic.NewUserMessage(toolBlocks...))
			} else {
				anthMessages = append(anthMessages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
			}
		}
	}

	maxTokens := int64(4096)
	if mt, ok := options["max_tokens"].(int); ok && mt > 0 {
		maxTokens = int64(mt)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  anthMessages,
		MaxTokens: maxTokens,
	}
	if len(system) > 0 {
		params.System = system
	}
	if temp, ok := options["temperature"].(float64); ok {
		params.Temperature = anthropic.Float(temp)
	}
	if len(tools) > 0 {
		params.Tools = translateAnthropicTools(tools)
	}
	return params, nil
}

func translateAnthropicTools(tools []agentmodel.ToolDefinition) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		tool := anthropic.ToolParam{
			Name: t.Name,
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: t.Parameters["properties"],
			},
		}
		if t.Description != "" {
			tool.Description = anthropic.String(t.Description)
		}
		if req, ok := t.Parameters["required"].([]any); ok {
			required := make([]string, 0, len(req))
			for _, r := range req {
				if s, ok := r.(string); ok {
					required = append(required, s)
				}
			}
			tool.InputSchema.Required = required
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &tool})
	}
	return out
}

func parseAnthropicResponse(resp *anthropic.Message) *agentmodel.LLMResponse {
	var content string
	var toolCalls []agentmodel.ToolCall
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			content += block.AsText().Text
		case "tool_use":
			tu := block.AsToolUse()
			var args map[string]any
			if err := json.Unmarshal(tu.Input, &args); err != nil {
				args = map[string]any{"raw": string(tu.Input)}
			}
			toolCalls = append(toolCalls, agentmodel.ToolCall{ID: tu.ID, Name: tu.Name, Arguments: args})
		}
	}

	finishReason := "stop"
	switch resp.StopReason {
	case anthropic.StopReasonToolUse:
		finishReason = "tool_calls"
	case anthropic.StopReasonMaxTokens:
		finishReason = "length"
	}

	return &agentmodel.LLMResponse{
		Content:      content,
		ToolCalls:    toolCalls,
		FinishReason: finishReason,
		Usage: agentmodel.TokenUsage{
			InputTokens:      int(resp.Usage.InputTokens),
			OutputTokens:     int(resp.Usage.OutputTokens),
			CacheReadTokens:  int(resp.Usage.CacheReadInputTokens),
			CacheWriteTokens: int(resp.Usage.CacheCreationInputTokens),
		},
	}
}
