package providers

import (
	"os"
)

// TestConfig holds provider configurations loaded from environment variables.
// This allows tests to use the same configuration pattern as production.
type TestConfig struct {
	OpenRouterAPIKey string
	OpenAIAPIKey     string
}

// LoadTestConfig loads provider API keys from environment variables.
func LoadTestConfig() TestConfig {
	return TestConfig{
		OpenRouterAPIKey: os.Getenv("OPENROUTER_API_KEY"),
		OpenAIAPIKey:     os.Getenv("OPENAI_API_KEY"),
	}
}

// HasOpenRouter returns true if OpenRouter API key is configured.
func (c TestConfig) HasOpenRouter() bool {
	return c.OpenRouterAPIKey != ""
}

// HasOpenAI returns true if OpenAI API key is configured.
func (c TestConfig) HasOpenAI() bool {
	return c.OpenAIAPIKey != ""
}

// HasAny returns true if any live provider is configured.
func (c TestConfig) HasAny() bool {
	return c.HasOpenRouter() || c.HasOpenAI()
}

// ToRegistryConfig converts test config to a RegistryConfig for the provider registry.
// The mock provider is always present.
func (c TestConfig) ToRegistryConfig() RegistryConfig {
	cfg := RegistryConfig{
		Providers: map[string]ProviderConfig{
			MockClientName: {Type: MockClientName, Enabled: true},
		},
	}
	if c.HasOpenRouter() {
		cfg.Providers[OpenRouterName] = ProviderConfig{
			Type:    OpenRouterName,
			APIKey:  c.OpenRouterAPIKey,
			RPM:     60,
			Enabled: true,
		}
	}
	if c.HasOpenAI() {
		cfg.Providers[OpenAIName] = ProviderConfig{
			Type:    OpenAIName,
			APIKey:  c.OpenAIAPIKey,
			RPM:     60,
			Enabled: true,
		}
	}
	return cfg
}
