// SPDX-License-Identifier: AGPL-3.0
// Copyright 2026 Taleweave Authors
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package llms

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/taleweave/taleweave/pkg/config"
	"github.com/taleweave/taleweave/pkg/httpclient"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

type OpenAIClient struct {
	config     *config.ProviderConfig
	httpClient *httpclient.Client
	baseURL    string
}

type openAIRequest struct {
	Model          string                `json:"model"`
	Messages       []openAIMessage       `json:"messages"`
	MaxTokens      int                   `json:"max_tokens,omitempty"`
	Temperature    float64               `json:"temperature"`
	ResponseFormat *openAIResponseFormat `json:"response_format,omitempty"`
	Tools          []openAITool          `json:"tools,omitempty"`
}

type openAIMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []openAIToolCall `json:"tool_calls,omitempty"`
}

type openAITool struct {
	Type     string         `json:"type"`
	Function openAIFunction `json:"function"`
}

type openAIFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type openAIToolCall struct {
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type openAIResponseFormat struct {
	Type       string            `json:"type"`
	JSONSchema *openAIJSONSchema `json:"json_schema,omitempty"`
}

type openAIJSONSchema struct {
	Name   string         `json:"name"`
	Schema map[string]any `json:"schema"`
	Strict bool           `json:"strict,omitempty"`
}

type openAIResponse struct {
	Choices []openAIChoice `json:"choices"`
	Usage   openAIUsage    `json:"usage"`
	Error   *openAIError   `json:"error,omitempty"`
}

type openAIChoice struct {
	Message      openAIMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type openAIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

func NewOpenAIClient(cfg *config.ProviderConfig) *OpenAIClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	return &OpenAIClient{
		config:     cfg,
		httpClient: newHTTPClient(cfg, httpclient.ParseOpenAIRateLimitHeaders),
		baseURL:    baseURL,
	}
}

func (c *OpenAIClient) ModelName() string { return c.config.Model }

func (c *OpenAIClient) Capabilities() Capabilities {
	return Capabilities{
		Streaming:        false,
		FunctionCalling:  true,
		StructuredOutput: true,
		MaxContext:       c.config.MaxContext,
	}
}

func (c *OpenAIClient) Close() error { return nil }

func (c *OpenAIClient) Complete(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()
	ctx, span := startLLMSpan(ctx, "openai", c.config.Model)

	resp, err := c.complete(ctx, req)
	var usage Usage
	if resp != nil {
		usage = resp.Usage
	}
	finishLLMSpan(ctx, span, c.config.Model, start, usage, err)
	return resp, err
}

func (c *OpenAIClient) complete(ctx context.Context, req *Request) (*Response, error) {
	body := openAIRequest{
		Model:       c.config.Model,
		MaxTokens:   resolveMaxTokens(req, c.config),
		Temperature: resolveTemperature(req, c.config),
	}
	if req.System != "" {
		body.Messages = append(body.Messages, openAIMessage{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		body.Messages = append(body.Messages, openAIMessage{Role: string(m.Role), Content: m.Content})
	}
	if req.ResponseSchema != nil {
		body.ResponseFormat = &openAIResponseFormat{
			Type: "json_schema",
			JSONSchema: &openAIJSONSchema{
				Name:   "response",
				Schema: schemaAsMap(req.ResponseSchema),
				Strict: true,
			},
		}
	}
	for _, t := range req.Tools {
		body.Tools = append(body.Tools, openAITool{
			Type: "function",
			Function: openAIFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  schemaAsMap(t.Parameters),
			},
		})
	}

	headers := map[string]string{"Authorization": "Bearer " + c.config.APIKey}
	data, err := postJSON(ctx, c.httpClient, "openai", c.baseURL+"/chat/completions", headers, body)
	if err != nil {
		return nil, err
	}

	var parsed openAIResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, parseError("openai", "malformed response body", err)
	}
	if parsed.Error != nil {
		return nil, &ProviderError{
			Provider: "openai",
			Kind:     KindInvalidRequest,
			Message:  fmt.Sprintf("%s: %s", parsed.Error.Type, parsed.Error.Message),
		}
	}
	if len(parsed.Choices) == 0 {
		return nil, parseError("openai", "response contained no choices", nil)
	}

	choice := parsed.Choices[0]
	resp := &Response{
		Text: choice.Message.Content,
		Usage: Usage{
			InputTokens:  parsed.Usage.PromptTokens,
			OutputTokens: parsed.Usage.CompletionTokens,
		},
		StopReason: choice.FinishReason,
	}
	for _, tc := range choice.Message.ToolCalls {
		resp.ToolCalls = append(resp.ToolCalls, ToolCall{
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}
	return resp, nil
}
