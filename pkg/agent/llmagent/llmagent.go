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

// Package llmagent is the model-backed secondary contributor: it renders
// world state into a deterministic prompt, asks an LLM provider for a
// structured JSON reply, and validates the reply into a story event.
package llmagent

import (
	"context"
	"time"

	"github.com/taleweave/taleweave/pkg/agent"
	"github.com/taleweave/taleweave/pkg/config"
	"github.com/taleweave/taleweave/pkg/llms"
	"github.com/taleweave/taleweave/pkg/protocol"
	"github.com/taleweave/taleweave/pkg/scene"
	"github.com/taleweave/taleweave/pkg/world"
)

type Contributor struct {
	cfg    config.ContributorConfig
	client llms.Client
	scenes scene.Source
	memCfg config.MemoryConfig
}

func New(cfg config.ContributorConfig, client llms.Client, scenes scene.Source, memCfg config.MemoryConfig) *Contributor {
	return &Contributor{cfg: cfg, client: client, scenes: scenes, memCfg: memCfg}
}

func (c *Contributor) ID() string { return c.cfg.Name }

func (c *Contributor) Capabilities() agent.Capabilities {
	subscribes := c.cfg.SubscribesToPlayerInput == nil || *c.cfg.SubscribesToPlayerInput
	return agent.Capabilities{Primary: false, SubscribesToPlayerInput: subscribes}
}

// Respond runs one prompt/parse cycle. Malformed JSON replies are re-asked
// with a clarifying appendix up to ParseRetries times; the error returned
// after exhaustion is already classified for the coordinator.
func (c *Contributor) Respond(ctx context.Context, trigger protocol.Trigger, view world.View) (*agent.Decision, error) {
	start := time.Now()

	req := c.buildRequest(trigger, view)

	var parsed *modelResponse
	var lastErr error
	attempts := c.cfg.ParseRetries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			req = withClarification(req, lastErr)
		}

		resp, err := c.client.Complete(ctx, req)
		if err != nil {
			return nil, err
		}

		parsed, lastErr = parseResponse(resp.Text)
		if lastErr == nil {
			return c.decision(parsed, resp, start), nil
		}
	}

	return nil, &llms.ProviderError{
		Provider: string(c.cfg.Provider.Kind),
		Kind:     llms.KindParse,
		Message:  "structured reply still malformed after retries",
		Err:      lastErr,
	}
}

func (c *Contributor) decision(parsed *modelResponse, resp *llms.Response, start time.Time) *agent.Decision {
	metadata := map[string]any{
		"latency_ms":     time.Since(start).Milliseconds(),
		"model_id":       c.client.ModelName(),
		"contributor_id": c.cfg.Name,
	}
	if resp.Usage.Total() > 0 {
		metadata["token_usage"] = map[string]any{
			"input":  resp.Usage.InputTokens,
			"output": resp.Usage.OutputTokens,
		}
	}
	for k, v := range parsed.Metadata {
		metadata[k] = v
	}

	decision := &agent.Decision{
		Event: protocol.StoryEvent{
			Narration: parsed.Narration,
			Choices:   protocol.DedupeChoices(parsed.Choices),
			Metadata:  metadata,
		},
	}

	for _, t := range parsed.Triggers {
		target := protocol.Broadcast()
		if t.Target != "" && t.Target != "*" {
			target = protocol.To(t.Target)
		}
		decision.Triggers = append(decision.Triggers, protocol.Trigger{
			Kind:    protocol.TriggerAgentMessage,
			Payload: t.Payload,
			Source:  c.cfg.Name,
			Target:  target,
		})
	}
	return decision
}

var _ agent.Contributor = (*Contributor)(nil)
