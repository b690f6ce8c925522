package llms

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/taleweave/taleweave/pkg/config"
	"github.com/taleweave/taleweave/pkg/httpclient"
)

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

type GeminiClient struct {
	config     *config.ProviderConfig
	httpClient *httpclient.Client
	baseURL    string
}

type geminiRequest struct {
	SystemInstruction *geminiContent         `json:"systemInstruction,omitempty"`
	Contents          []geminiContent        `json:"contents"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenerationConfig struct {
	Temperature      float64 `json:"temperature"`
	MaxOutputTokens  int     `json:"maxOutputTokens,omitempty"`
	ResponseMIMEType string  `json:"responseMimeType,omitempty"`
}

type geminiResponse struct {
	Candidates    []geminiCandidate `json:"candidates"`
	UsageMetadata geminiUsage       `json:"usageMetadata"`
	Error         *geminiError      `json:"error,omitempty"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason"`
}

type geminiUsage struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
}

type geminiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

func NewGeminiClient(cfg *config.ProviderConfig) *GeminiClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultGeminiBaseURL
	}
	return &GeminiClient{
		config:     cfg,
		httpClient: newHTTPClient(cfg, nil),
		baseURL:    baseURL,
	}
}

func (c *GeminiClient) ModelName() string { return c.config.Model }

func (c *GeminiClient) Capabilities() Capabilities {
	return Capabilities{StructuredOutput: true, MaxContext: c.config.MaxContext}
}

func (c *GeminiClient) Close() error { return nil }

func (c *GeminiClient) Complete(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()
	ctx, span := startLLMSpan(ctx, "gemini", c.config.Model)

	resp, err := c.complete(ctx, req)
	var usage Usage
	if resp != nil {
		usage = resp.Usage
	}
	finishLLMSpan(ctx, span, c.config.Model, start, usage, err)
	return resp, err
}

func (c *GeminiClient) complete(ctx context.Context, req *Request) (*Response, error) {
	body := geminiRequest{
		GenerationConfig: geminiGenerationConfig{
			Temperature:     resolveTemperature(req, c.config),
			MaxOutputTokens: resolveMaxTokens(req, c.config),
		},
	}

	system := req.System
	if req.ResponseSchema != nil {
		// Gemini's native responseSchema dialect diverges from JSON
		// Schema, so the schema rides in the system instruction and only
		// the MIME type is enforced.
		body.GenerationConfig.ResponseMIMEType = "application/json"
		system += schemaInstruction(req.ResponseSchema)
	}
	if system != "" {
		body.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: system}}}
	}

	for _, m := range req.Messages {
		role := "user"
		if m.Role == RoleAssistant {
			role = "model"
		}
		body.Contents = append(body.Contents, geminiContent{
			Role:  role,
			Parts: []geminiPart{{Text: m.Content}},
		})
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, c.config.Model, c.config.APIKey)
	data, err := postJSON(ctx, c.httpClient, "gemini", url, nil, body)
	if err != nil {
		return nil, err
	}

	var parsed geminiResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, parseError("gemini", "malformed response body", err)
	}
	if parsed.Error != nil {
		return nil, &ProviderError{
			Provider:   "gemini",
			Kind:       ClassifyStatus(parsed.Error.Code),
			StatusCode: parsed.Error.Code,
			Message:    parsed.Error.Status + ": " + parsed.Error.Message,
		}
	}
	if len(parsed.Candidates) == 0 {
		return nil, parseError("gemini", "response contained no candidates", nil)
	}

	var text strings.Builder
	for _, part := range parsed.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}

	return &Response{
		Text: text.String(),
		Usage: Usage{
			InputTokens:  parsed.UsageMetadata.PromptTokenCount,
			OutputTokens: parsed.UsageMetadata.CandidatesTokenCount,
		},
		StopReason: parsed.Candidates[0].FinishReason,
	}, nil
}
