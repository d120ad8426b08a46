package llmadapter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DispatchesOnProvider(t *testing.T) {
	anth, err := New("anthropic", "test-key", "")
	require.NoError(t, err)
	assert.Equal(t, defaultAnthropicModel, anth.DefaultModel())

	oai, err := New("openai", "test-key", "gpt-4o-mini")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", oai.DefaultModel())

	_, err = New("gemini", "test-key", "")
	assert.Error(t, err)
}
