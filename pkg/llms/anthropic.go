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
	"strings"
	"time"

	"github.com/taleweave/taleweave/pkg/config"
	"github.com/taleweave/taleweave/pkg/httpclient"
)

const (
	defaultAnthropicBaseURL = "https://api.anthropic.com"
	anthropicAPIVersion     = "2023-06-01"
)

type AnthropicClient struct {
	config     *config.ProviderConfig
	httpClient *httpclient.Client
	baseURL    string
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content    []anthropicContent `json:"content"`
	StopReason string             `json:"stop_reason"`
	Usage      anthropicUsage     `json:"usage"`
	Error      *anthropicError    `json:"error,omitempty"`
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func NewAnthropicClient(cfg *config.ProviderConfig) *AnthropicClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultAnthropicBaseURL
	}
	return &AnthropicClient{
		config:     cfg,
		httpClient: newHTTPClient(cfg, httpclient.ParseAnthropicRateLimitHeaders),
		baseURL:    baseURL,
	}
}

func (c *AnthropicClient) ModelName() string { return c.config.Model }

func (c *AnthropicClient) Capabilities() Capabilities {
	// No response_format equivalent; the schema rides in the prompt.
	return Capabilities{StructuredOutput: false, MaxContext: c.config.MaxContext}
}

func (c *AnthropicClient) Close() error { return nil }

func (c *AnthropicClient) Complete(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()
	ctx, span := startLLMSpan(ctx, "anthropic", c.config.Model)

	resp, err := c.complete(ctx, req)
	var usage Usage
	if resp != nil {
		usage = resp.Usage
	}
	finishLLMSpan(ctx, span, c.config.Model, start, usage, err)
	return resp, err
}

func (c *AnthropicClient) complete(ctx context.Context, req *Request) (*Response, error) {
	system := req.System
	if req.ResponseSchema != nil {
		system += schemaInstruction(req.ResponseSchema)
	}

	body := anthropicRequest{
		Model:       c.config.Model,
		MaxTokens:   resolveMaxTokens(req, c.config),
		Temperature: resolveTemperature(req, c.config),
		System:      system,
	}
	for _, m := range req.Messages {
		role := string(m.Role)
		if m.Role == RoleSystem {
			// The messages API rejects system roles mid-conversation.
			role = "user"
		}
		body.Messages = append(body.Messages, anthropicMessage{Role: role, Content: m.Content})
	}

	headers := map[string]string{
		"x-api-key":         c.config.APIKey,
		"anthropic-version": anthropicAPIVersion,
	}
	data, err := postJSON(ctx, c.httpClient, "anthropic", c.baseURL+"/v1/messages", headers, body)
	if err != nil {
		return nil, err
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, parseError("anthropic", "malformed response body", err)
	}
	if parsed.Error != nil {
		return nil, &ProviderError{
			Provider: "anthropic",
			Kind:     KindInvalidRequest,
			Message:  parsed.Error.Type + ": " + parsed.Error.Message,
		}
	}
	if len(parsed.Content) == 0 {
		return nil, parseError("anthropic", "response contained no content blocks", nil)
	}

	var text strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return &Response{
		Text: text.String(),
		Usage: Usage{
			InputTokens:  parsed.Usage.InputTokens,
			OutputTokens: parsed.Usage.OutputTokens,
		},
		StopReason: parsed.StopReason,
	}, nil
}
