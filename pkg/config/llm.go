package config

import (
	"fmt"
	"os"
)

// ProviderKind identifies the LLM provider wire format.
type ProviderKind string

const (
	ProviderOpenAI    ProviderKind = "openai"
	ProviderAnthropic ProviderKind = "anthropic"
	ProviderGemini    ProviderKind = "gemini"
	ProviderTGI       ProviderKind = "tgi"
	ProviderLlamaCpp  ProviderKind = "llamacpp"
)

// ProviderConfig configures one LLM provider endpoint.
type ProviderConfig struct {
	// Kind selects the provider adapter (openai, anthropic, gemini, tgi, llamacpp).
	Kind ProviderKind `yaml:"provider_kind,omitempty"`

	// Model identifier (e.g. "gpt-4o", "claude-sonnet-4-20250514").
	Model string `yaml:"model_id,omitempty"`

	// APIKey for authentication. Supports ${VAR} expansion.
	APIKey string `yaml:"api_key,omitempty"`

	// BaseURL overrides the default API endpoint.
	BaseURL string `yaml:"base_url,omitempty"`

	// Temperature for generation.
	Temperature *float64 `yaml:"temperature,omitempty"`

	// MaxTokens limits response length.
	MaxTokens int `yaml:"max_tokens,omitempty"`

	// MaxContext is the provider's context window, in tokens.
	MaxContext int `yaml:"max_context,omitempty"`

	// RequestTimeoutMS is the per-request timeout, layered beneath the
	// turn deadline.
	RequestTimeoutMS int `yaml:"provider_request_timeout_ms,omitempty"`

	// RetryMaxAttempts caps retries of rate-limited/transient failures.
	RetryMaxAttempts int `yaml:"retry_max_attempts,omitempty"`

	// RetryBackoffBaseMS / RetryBackoffCapMS shape the backoff curve.
	RetryBackoffBaseMS int `yaml:"retry_backoff_base_ms,omitempty"`
	RetryBackoffCapMS  int `yaml:"retry_backoff_cap_ms,omitempty"`
}

func (c *ProviderConfig) SetDefaults() {
	if c.Kind == "" {
		c.Kind = detectProviderFromEnv()
	}
	if c.Model == "" {
		switch c.Kind {
		case ProviderAnthropic:
			c.Model = "claude-sonnet-4-20250514"
		case ProviderOpenAI:
			c.Model = "gpt-4o"
		case ProviderGemini:
			c.Model = "gemini-2.0-flash"
		}
	}
	if c.APIKey == "" {
		c.APIKey = apiKeyFromEnv(c.Kind)
	}
	if c.Temperature == nil {
		c.Temperature = Float64Ptr(0.7)
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 1024
	}
	if c.RequestTimeoutMS == 0 {
		c.RequestTimeoutMS = 60_000
	}
	if c.RetryMaxAttempts == 0 {
		c.RetryMaxAttempts = 3
	}
	if c.RetryBackoffBaseMS == 0 {
		c.RetryBackoffBaseMS = 500
	}
	if c.RetryBackoffCapMS == 0 {
		c.RetryBackoffCapMS = 8_000
	}
}

func (c *ProviderConfig) Validate() error {
	switch c.Kind {
	case ProviderOpenAI, ProviderAnthropic, ProviderGemini, ProviderTGI, ProviderLlamaCpp:
	default:
		return fmt.Errorf("invalid provider_kind %q (valid: openai, anthropic, gemini, tgi, llamacpp)", c.Kind)
	}

	// Local providers authenticate by reachability, not key.
	if c.APIKey == "" && c.Kind != ProviderTGI && c.Kind != ProviderLlamaCpp {
		return fmt.Errorf("api_key is required for provider %q", c.Kind)
	}
	if (c.Kind == ProviderTGI || c.Kind == ProviderLlamaCpp) && c.BaseURL == "" {
		return fmt.Errorf("base_url is required for provider %q", c.Kind)
	}
	if c.Temperature != nil && (*c.Temperature < 0 || *c.Temperature > 2) {
		return fmt.Errorf("temperature must be between 0 and 2")
	}
	return nil
}

// ContributorConfig configures one model-backed co-narrator.
type ContributorConfig struct {
	// Name is the contributor id used for metadata namespacing and
	// trigger addressing.
	Name string `yaml:"name"`

	// SystemPrompt is prepended to every prompt.
	SystemPrompt string `yaml:"system_prompt,omitempty"`

	// SubscribesToPlayerInput delivers the player-input trigger to this
	// contributor each turn. Defaults to true.
	SubscribesToPlayerInput *bool `yaml:"subscribes_to_player_input,omitempty"`

	// ParseRetries bounds re-asks after malformed JSON replies.
	ParseRetries int `yaml:"parse_retries,omitempty"`

	// HistoryWindow is the number of recent history records included in
	// the prompt context.
	HistoryWindow int `yaml:"history_window,omitempty"`

	Provider ProviderConfig `yaml:"provider"`
}

func (c *ContributorConfig) SetDefaults() {
	if c.SubscribesToPlayerInput == nil {
		c.SubscribesToPlayerInput = BoolPtr(true)
	}
	if c.ParseRetries == 0 {
		c.ParseRetries = 2
	}
	if c.HistoryWindow == 0 {
		c.HistoryWindow = 10
	}
	c.Provider.SetDefaults()
}

func (c *ContributorConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("name is required")
	}
	if c.ParseRetries < 0 {
		return fmt.Errorf("parse_retries cannot be negative")
	}
	if err := c.Provider.Validate(); err != nil {
		return fmt.Errorf("provider: %w", err)
	}
	return nil
}

func detectProviderFromEnv() ProviderKind {
	if os.Getenv("ANTHROPIC_API_KEY") != "" {
		return ProviderAnthropic
	}
	if os.Getenv("OPENAI_API_KEY") != "" {
		return ProviderOpenAI
	}
	if os.Getenv("GEMINI_API_KEY") != "" || os.Getenv("GOOGLE_API_KEY") != "" {
		return ProviderGemini
	}
	return ProviderAnthropic
}

func apiKeyFromEnv(kind ProviderKind) string {
	switch kind {
	case ProviderAnthropic:
		return os.Getenv("ANTHROPIC_API_KEY")
	case ProviderOpenAI:
		return os.Getenv("OPENAI_API_KEY")
	case ProviderGemini:
		if key := os.Getenv("GEMINI_API_KEY"); key != "" {
			return key
		}
		return os.Getenv("GOOGLE_API_KEY")
	default:
		return ""
	}
}
