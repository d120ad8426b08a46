package llmadapter

import (
	"fmt"

	"github.com/agentteam/runtime/pkg/agentmodel"
)

// New builds the agentmodel.LLMClient for a credential provider name
// (the same canonical names team.ProviderOf/subagent.CredentialVars
// use: "anthropic", "openai"), so an Engine constructor can go straight
// from RuntimeConfig + a resolved API key to a wired in-process client
// without each caller switching on provider itself.
func New(provider, apiKey, model string) (agentmodel.LLMClient, error) {
	switch provider {
	case "anthropic":
		return NewAnthropicClient(apiKey, model), nil
	case "openai":
		return NewOpenAIClient(apiKey, model), nil
	default:
		return nil, fmt.Errorf("llmadapter: unsupported provider %q", provider)
	}
}
