package provider_test

import (
	"testing"

	"github.com/julianshen/repowiki/internal/config"
	"github.com/julianshen/repowiki/internal/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	// Import sub-packages to trigger init() registration
	_ "github.com/julianshen/repowiki/internal/provider/anthropic"
	_ "github.com/julianshen/repowiki/internal/provider/openai"
)

func TestNewProviderAnthropic(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "test-anthropic-key")

	cfg := config.DefaultConfig()

	p, err := provider.NewProvider(cfg, "anthropic")
	require.NoError(t, err)
	assert.NotNil(t, p)
}

func TestNewProviderDefaultsToConfigured(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "test-anthropic-key")

	cfg := config.DefaultConfig()
	cfg.Provider.Default = "anthropic"

	p, err := provider.NewProvider(cfg, "")
	require.NoError(t, err)
	assert.NotNil(t, p)
}

func TestNewProviderAnthropicMissingKey(t *testing.T) {
	// t.Setenv restores the original value after the test.
	t.Setenv("ANTHROPIC_API_KEY", "")

	cfg := config.DefaultConfig()
	cfg.Provider.Anthropic.APIKeySource = "env"

	_, err := provider.NewProvider(cfg, "anthropic")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ANTHROPIC_API_KEY")
}

func TestNewProviderOpenAICompatible(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "test-openai-key")

	cfg := config.DefaultConfig()
	cfg.Provider.OpenAI = []config.OpenAICompatibleConfig{
		{
			Name:         "openai",
			BaseURL:      "https://api.openai.com/v1",
			APIKeySource: "env",
		},
	}

	p, err := provider.NewProvider(cfg, "openai")
	require.NoError(t, err)
	assert.NotNil(t, p)
}

func TestNewProviderUnknown(t *testing.T) {
	cfg := config.DefaultConfig()

	_, err := provider.NewProvider(cfg, "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown provider")
}
