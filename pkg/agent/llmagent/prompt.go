package llmagent

import (
	"fmt"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
	"github.com/pkoukk/tiktoken-go"

	"github.com/taleweave/taleweave/pkg/llms"
	"github.com/taleweave/taleweave/pkg/protocol"
	"github.com/taleweave/taleweave/pkg/world"
)

// historyTokenBudget caps the prompt tokens spent on history records.
const historyTokenBudget = 1024

var (
	schemaOnce     sync.Once
	responseSchema *jsonschema.Schema
)

// ResponseSchema is the JSON Schema every contributor reply must satisfy.
func ResponseSchema() *jsonschema.Schema {
	schemaOnce.Do(func() {
		reflector := jsonschema.Reflector{
			DoNotReference:            true,
			AllowAdditionalProperties: false,
		}
		responseSchema = reflector.Reflect(&modelResponse{})
	})
	return responseSchema
}

// buildRequest assembles the deterministic prompt: system + schema, then a
// context section, then the trigger section.
func (c *Contributor) buildRequest(trigger protocol.Trigger, view world.View) *llms.Request {
	var b strings.Builder

	repo := c.scenes.Current()
	if sc, ok := repo.Get(view.Location()); ok {
		b.WriteString("## Scene\n")
		b.WriteString(sc.Description)
		b.WriteString("\n")
		if len(sc.Choices) > 0 {
			b.WriteString("\n## Choices\n")
			for _, choice := range sc.Choices {
				fmt.Fprintf(&b, "- %s: %s\n", choice.Command, choice.Description)
			}
		}
	}

	if items := view.Inventory(); len(items) > 0 {
		b.WriteString("\n## Inventory\n")
		for _, item := range items {
			fmt.Fprintf(&b, "- %s\n", item)
		}
	}

	if history := historyWindow(view.History(), c.cfg.HistoryWindow); len(history) > 0 {
		b.WriteString("\n## Recent history\n")
		for _, entry := range history {
			fmt.Fprintf(&b, "- %s\n", entry)
		}
	}

	slice := view.MemorySlice(world.MemoryRequest{
		ActionLimit:      c.memCfg.DefaultActionWindow,
		ObservationLimit: c.memCfg.DefaultObservationWindow,
	})
	if len(slice.Actions) > 0 || len(slice.Observations) > 0 {
		b.WriteString("\n## Memory\n")
		for _, e := range slice.Actions {
			fmt.Fprintf(&b, "- action: %s\n", e.Content)
		}
		for _, e := range slice.Observations {
			fmt.Fprintf(&b, "- observation: %s\n", e.Content)
		}
	}

	b.WriteString("\n## Trigger\n")
	switch trigger.Kind {
	case protocol.TriggerAgentMessage:
		fmt.Fprintf(&b, "Message from %s: %s\n", trigger.Source, trigger.Payload)
	default:
		fmt.Fprintf(&b, "The player says: %s\n", trigger.Payload)
	}

	return &llms.Request{
		System:         c.cfg.SystemPrompt,
		Messages:       []llms.Message{{Role: llms.RoleUser, Content: b.String()}},
		Temperature:    c.cfg.Provider.Temperature,
		MaxTokens:      c.cfg.Provider.MaxTokens,
		ResponseSchema: ResponseSchema(),
	}
}

// withClarification re-asks after a malformed reply.
func withClarification(req *llms.Request, parseErr error) *llms.Request {
	clarified := *req
	clarified.Messages = append(append([]llms.Message(nil), req.Messages...), llms.Message{
		Role: llms.RoleUser,
		Content: fmt.Sprintf(
			"Your previous reply was not valid (%v). Respond again with ONLY the JSON object, no prose, no code fences.",
			parseErr),
	})
	return &clarified
}

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

// countTokens uses the cl100k_base tokenizer, falling back to the usual
// four-characters-per-token heuristic when the encoding is unavailable.
func countTokens(s string) int {
	encodingOnce.Do(func() {
		encoding, _ = tiktoken.GetEncoding("cl100k_base")
	})
	if encoding != nil {
		return len(encoding.Encode(s, nil, nil))
	}
	return len(s)/4 + 1
}

// historyWindow keeps the most recent entries, bounded by both the
// configured window and the token budget.
func historyWindow(history []string, window int) []string {
	if window <= 0 || len(history) == 0 {
		return nil
	}
	if len(history) > window {
		history = history[len(history)-window:]
	}
	total := 0
	start := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		total += countTokens(history[i])
		if total > historyTokenBudget {
			break
		}
		start = i
	}
	return history[start:]
}
