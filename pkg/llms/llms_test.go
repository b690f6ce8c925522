package llms

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taleweave/taleweave/pkg/config"
	"github.com/taleweave/taleweave/pkg/httpclient"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status int
		want   ErrorKind
	}{
		{429, KindRateLimited},
		{401, KindAuth},
		{403, KindAuth},
		{408, KindTransient},
		{500, KindTransient},
		{503, KindTransient},
		{400, KindInvalidRequest},
		{404, KindInvalidRequest},
		{422, KindInvalidRequest},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyStatus(tt.status), "status %d", tt.status)
	}
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindAuth, KindOf(&ProviderError{Kind: KindAuth}))
	assert.Equal(t, KindParse, KindOf(&ProviderError{Kind: KindParse}))

	wrapped := &httpclient.RetryableError{StatusCode: 429, Message: "slow down"}
	assert.Equal(t, KindRateLimited, KindOf(wrapped))
	assert.Equal(t, KindTransient, KindOf(&httpclient.RetryableError{Message: "conn reset"}))
	assert.Equal(t, KindTransient, KindOf(errors.New("plain")))
}

func TestIsFatal(t *testing.T) {
	assert.True(t, IsFatal(KindAuth))
	assert.True(t, IsFatal(KindInvalidRequest))
	assert.False(t, IsFatal(KindRateLimited))
	assert.False(t, IsFatal(KindTransient))
	assert.False(t, IsFatal(KindParse))
}

func openAITestConfig(baseURL string) *config.ProviderConfig {
	cfg := &config.ProviderConfig{
		Kind:    config.ProviderOpenAI,
		Model:   "gpt-4o",
		APIKey:  "test-key",
		BaseURL: baseURL,
	}
	cfg.SetDefaults()
	cfg.RetryMaxAttempts = 1
	cfg.RetryBackoffBaseMS = 1
	cfg.RetryBackoffCapMS = 2
	return cfg
}

func TestOpenAIComplete(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"message":       map[string]any{"role": "assistant", "content": `{"narration": "ok"}`},
				"finish_reason": "stop",
			}},
			"usage": map[string]any{"prompt_tokens": 12, "completion_tokens": 7},
		})
	}))
	defer srv.Close()

	client := NewOpenAIClient(openAITestConfig(srv.URL))
	resp, err := client.Complete(context.Background(), &Request{
		System:   "You are the bard.",
		Messages: []Message{{Role: RoleUser, Content: "sing"}},
	})
	require.NoError(t, err)

	assert.Equal(t, `{"narration": "ok"}`, resp.Text)
	assert.Equal(t, 12, resp.Usage.InputTokens)
	assert.Equal(t, 7, resp.Usage.OutputTokens)
	assert.Equal(t, "stop", resp.StopReason)

	// System prompt rides as the first message.
	messages := captured["messages"].([]any)
	first := messages[0].(map[string]any)
	assert.Equal(t, "system", first["role"])
	assert.Equal(t, "You are the bard.", first["content"])
}

func TestOpenAICompleteSendsTools(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"message": map[string]any{
					"role": "assistant",
					"tool_calls": []map[string]any{{
						"function": map[string]any{
							"name":      "lore",
							"arguments": `{"topic": "gate"}`,
						},
					}},
				},
				"finish_reason": "tool_calls",
			}},
		})
	}))
	defer srv.Close()

	client := NewOpenAIClient(openAITestConfig(srv.URL))
	resp, err := client.Complete(context.Background(), &Request{
		Messages: []Message{{Role: RoleUser, Content: "what do you know of the gate?"}},
		Tools:    []ToolSpec{{Name: "lore", Description: "Look up a lore topic."}},
	})
	require.NoError(t, err)

	tools := captured["tools"].([]any)
	require.Len(t, tools, 1)
	fn := tools[0].(map[string]any)["function"].(map[string]any)
	assert.Equal(t, "lore", fn["name"])
	assert.Equal(t, "function", tools[0].(map[string]any)["type"])

	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "lore", resp.ToolCalls[0].Name)
	assert.JSONEq(t, `{"topic": "gate"}`, string(resp.ToolCalls[0].Arguments))
	assert.Equal(t, "tool_calls", resp.StopReason)
}

func TestAdapterCapabilities(t *testing.T) {
	cfg := &config.ProviderConfig{Model: "m", APIKey: "k", BaseURL: "http://localhost:1", MaxContext: 128000}
	cfg.SetDefaults()

	openai := NewOpenAIClient(cfg).Capabilities()
	assert.False(t, openai.Streaming)
	assert.True(t, openai.FunctionCalling)
	assert.True(t, openai.StructuredOutput)
	assert.Equal(t, 128000, openai.MaxContext)

	anthropic := NewAnthropicClient(cfg).Capabilities()
	assert.False(t, anthropic.Streaming)
	assert.False(t, anthropic.FunctionCalling)
	assert.False(t, anthropic.StructuredOutput)

	tgi := NewTGIClient(cfg).Capabilities()
	assert.False(t, tgi.Streaming)
	assert.False(t, tgi.FunctionCalling)
}

func TestOpenAICompleteClassifiesFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   ErrorKind
	}{
		{"unauthorized", 401, KindAuth},
		{"bad request", 400, KindInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer srv.Close()

			client := NewOpenAIClient(openAITestConfig(srv.URL))
			_, err := client.Complete(context.Background(), &Request{
				Messages: []Message{{Role: RoleUser, Content: "sing"}},
			})
			require.Error(t, err)

			var pe *ProviderError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tt.want, pe.Kind)
			assert.Equal(t, tt.status, pe.StatusCode)
		})
	}
}

func TestOpenAICompleteEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	}))
	defer srv.Close()

	client := NewOpenAIClient(openAITestConfig(srv.URL))
	_, err := client.Complete(context.Background(), &Request{
		Messages: []Message{{Role: RoleUser, Content: "sing"}},
	})
	require.Error(t, err)
	assert.Equal(t, KindParse, KindOf(err))
}

func TestNewFromConfig(t *testing.T) {
	tests := []struct {
		kind    config.ProviderKind
		wantErr bool
	}{
		{config.ProviderOpenAI, false},
		{config.ProviderAnthropic, false},
		{config.ProviderGemini, false},
		{config.ProviderTGI, false},
		{config.ProviderLlamaCpp, false},
		{config.ProviderKind("carrier-pigeon"), true},
	}
	for _, tt := range tests {
		cfg := &config.ProviderConfig{Kind: tt.kind, Model: "m", APIKey: "k", BaseURL: "http://localhost:1"}
		cfg.SetDefaults()
		client, err := NewFromConfig(cfg)
		if tt.wantErr {
			assert.Error(t, err, string(tt.kind))
			continue
		}
		require.NoError(t, err, string(tt.kind))
		assert.Equal(t, "m", client.ModelName())
		assert.NoError(t, client.Close())
	}
}

func TestRegistryOwnsClients(t *testing.T) {
	reg := NewRegistry()
	cfg := &config.ProviderConfig{Kind: config.ProviderOpenAI, Model: "m", APIKey: "k"}
	cfg.SetDefaults()

	client, err := reg.RegisterClient("bard", cfg)
	require.NoError(t, err)

	got, ok := reg.Get("bard")
	require.True(t, ok)
	assert.Same(t, client, got)

	_, err = reg.RegisterClient("bard", cfg)
	assert.Error(t, err, "duplicate registration")

	assert.NoError(t, reg.Close())
}
