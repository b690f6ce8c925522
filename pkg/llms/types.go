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

// Package llms adapts hosted and local language model APIs behind a single
// completion interface. Adapters speak each provider's REST wire format
// directly over the retrying HTTP client.
package llms

import (
	"context"
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// Role of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of provider-neutral chat context.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Request is a provider-neutral completion request.
type Request struct {
	// System is the system prompt, carried separately because providers
	// disagree on where it goes.
	System string `json:"system,omitempty"`

	Messages []Message `json:"messages"`

	// MaxTokens and Temperature override the provider config when set.
	MaxTokens   int      `json:"max_tokens,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`

	// ResponseSchema, when set, asks the provider for JSON conforming to
	// the schema. Adapters without native structured output fold the
	// schema into the prompt.
	ResponseSchema *jsonschema.Schema `json:"response_schema,omitempty"`

	// Tools declares callable functions. Adapters whose capabilities report
	// FunctionCalling false ignore them.
	Tools []ToolSpec `json:"tools,omitempty"`
}

// ToolSpec declares one callable function to the provider.
type ToolSpec struct {
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	Parameters  *jsonschema.Schema `json:"parameters,omitempty"`
}

// Usage is the provider-reported token accounting for one call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

func (u Usage) Total() int { return u.InputTokens + u.OutputTokens }

// Response is the completion result.
type Response struct {
	Text  string `json:"text"`
	Usage Usage  `json:"usage"`

	// ToolCalls are function invocations the model requested, when the
	// request declared tools.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// StopReason is the provider's finish reason, verbatim.
	StopReason string `json:"stop_reason,omitempty"`
}

// ToolCall is one function invocation requested by the model.
type ToolCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// Capabilities describe what an adapter supports.
type Capabilities struct {
	Streaming        bool `json:"streaming"`
	FunctionCalling  bool `json:"function_calling"`
	StructuredOutput bool `json:"structured_output"`
	MaxContext       int  `json:"max_context,omitempty"`
}

// Client is a language model endpoint. Complete blocks until the provider
// answers, retrying rate-limited and transient failures internally; the
// error it returns is already classified (see ProviderError).
type Client interface {
	Complete(ctx context.Context, req *Request) (*Response, error)
	ModelName() string
	Capabilities() Capabilities
	Close() error
}
