package llms

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/taleweave/taleweave/pkg/config"
	"github.com/taleweave/taleweave/pkg/httpclient"
)

// Local adapters for self-hosted inference servers. Neither endpoint speaks
// a chat format, so the conversation is flattened into a single prompt.

func flattenPrompt(req *Request) string {
	var b strings.Builder
	if req.System != "" {
		b.WriteString(req.System)
		b.WriteString("\n\n")
	}
	for _, m := range req.Messages {
		switch m.Role {
		case RoleAssistant:
			b.WriteString("Narrator: ")
		default:
			b.WriteString("Player: ")
		}
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	if req.ResponseSchema != nil {
		b.WriteString(schemaInstruction(req.ResponseSchema))
		b.WriteString("\n")
	}
	b.WriteString("Narrator:")
	return b.String()
}

// TGIClient speaks HuggingFace text-generation-inference's /generate API.
type TGIClient struct {
	config     *config.ProviderConfig
	httpClient *httpclient.Client
}

type tgiRequest struct {
	Inputs     string        `json:"inputs"`
	Parameters tgiParameters `json:"parameters"`
}

type tgiParameters struct {
	MaxNewTokens int     `json:"max_new_tokens,omitempty"`
	Temperature  float64 `json:"temperature,omitempty"`
	ReturnText   bool    `json:"return_full_text"`
}

type tgiResponse struct {
	GeneratedText string `json:"generated_text"`
	Error         string `json:"error,omitempty"`
}

func NewTGIClient(cfg *config.ProviderConfig) *TGIClient {
	return &TGIClient{config: cfg, httpClient: newHTTPClient(cfg, nil)}
}

func (c *TGIClient) ModelName() string { return c.config.Model }

func (c *TGIClient) Capabilities() Capabilities {
	return Capabilities{StructuredOutput: false, MaxContext: c.config.MaxContext}
}

func (c *TGIClient) Close() error { return nil }

func (c *TGIClient) Complete(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()
	ctx, span := startLLMSpan(ctx, "tgi", c.config.Model)

	resp, err := c.complete(ctx, req)
	var usage Usage
	if resp != nil {
		usage = resp.Usage
	}
	finishLLMSpan(ctx, span, c.config.Model, start, usage, err)
	return resp, err
}

func (c *TGIClient) complete(ctx context.Context, req *Request) (*Response, error) {
	body := tgiRequest{
		Inputs: flattenPrompt(req),
		Parameters: tgiParameters{
			MaxNewTokens: resolveMaxTokens(req, c.config),
			Temperature:  resolveTemperature(req, c.config),
			ReturnText:   false,
		},
	}

	data, err := postJSON(ctx, c.httpClient, "tgi", strings.TrimRight(c.config.BaseURL, "/")+"/generate", nil, body)
	if err != nil {
		return nil, err
	}

	var parsed tgiResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, parseError("tgi", "malformed response body", err)
	}
	if parsed.Error != "" {
		return nil, &ProviderError{Provider: "tgi", Kind: KindInvalidRequest, Message: parsed.Error}
	}

	return &Response{Text: strings.TrimSpace(parsed.GeneratedText)}, nil
}

// LlamaCppClient speaks llama.cpp server's /completion API.
type LlamaCppClient struct {
	config     *config.ProviderConfig
	httpClient *httpclient.Client
}

type llamaCppRequest struct {
	Prompt      string  `json:"prompt"`
	NPredict    int     `json:"n_predict,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

type llamaCppResponse struct {
	Content         string `json:"content"`
	TokensEvaluated int    `json:"tokens_evaluated"`
	TokensPredicted int    `json:"tokens_predicted"`
	Error           any    `json:"error,omitempty"`
}

func NewLlamaCppClient(cfg *config.ProviderConfig) *LlamaCppClient {
	return &LlamaCppClient{config: cfg, httpClient: newHTTPClient(cfg, nil)}
}

func (c *LlamaCppClient) ModelName() string { return c.config.Model }

func (c *LlamaCppClient) Capabilities() Capabilities {
	return Capabilities{StructuredOutput: false, MaxContext: c.config.MaxContext}
}

func (c *LlamaCppClient) Close() error { return nil }

func (c *LlamaCppClient) Complete(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()
	ctx, span := startLLMSpan(ctx, "llamacpp", c.config.Model)

	resp, err := c.complete(ctx, req)
	var usage Usage
	if resp != nil {
		usage = resp.Usage
	}
	finishLLMSpan(ctx, span, c.config.Model, start, usage, err)
	return resp, err
}

func (c *LlamaCppClient) complete(ctx context.Context, req *Request) (*Response, error) {
	body := llamaCppRequest{
		Prompt:      flattenPrompt(req),
		NPredict:    resolveMaxTokens(req, c.config),
		Temperature: resolveTemperature(req, c.config),
	}

	data, err := postJSON(ctx, c.httpClient, "llamacpp", strings.TrimRight(c.config.BaseURL, "/")+"/completion", nil, body)
	if err != nil {
		return nil, err
	}

	var parsed llamaCppResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, parseError("llamacpp", "malformed response body", err)
	}

	return &Response{
		Text: strings.TrimSpace(parsed.Content),
		Usage: Usage{
			InputTokens:  parsed.TokensEvaluated,
			OutputTokens: parsed.TokensPredicted,
		},
	}, nil
}
