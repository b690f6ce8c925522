package llmagent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/taleweave/taleweave/pkg/protocol"
)

// modelResponse is the structured reply contract every provider must meet.
type modelResponse struct {
	Narration string            `json:"narration" jsonschema:"minLength=1,description=The contributor's narration for this turn"`
	Choices   []protocol.Choice `json:"choices,omitempty" jsonschema:"description=Additional choices to offer the player"`
	Metadata  map[string]any    `json:"metadata,omitempty" jsonschema:"description=Free-form annotations"`
	Triggers  []modelTrigger    `json:"triggers,omitempty" jsonschema:"description=Messages for other contributors, delivered next turn"`
}

type modelTrigger struct {
	// Target is a contributor id, or empty/"*" for broadcast.
	Target  string `json:"target,omitempty"`
	Payload string `json:"payload" jsonschema:"minLength=1"`
}

// parseResponse decodes and validates one model reply. Models love code
// fences, so those are stripped before decoding.
func parseResponse(text string) (*modelResponse, error) {
	cleaned := stripFences(strings.TrimSpace(text))
	if cleaned == "" {
		return nil, fmt.Errorf("empty reply")
	}

	var parsed modelResponse
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		return nil, fmt.Errorf("reply is not valid JSON: %w", err)
	}

	if strings.TrimSpace(parsed.Narration) == "" {
		return nil, fmt.Errorf("narration must be a non-empty string")
	}
	for i, choice := range parsed.Choices {
		if strings.TrimSpace(choice.Command) == "" {
			return nil, fmt.Errorf("choices[%d]: command must be non-empty", i)
		}
		if strings.TrimSpace(choice.Description) == "" {
			return nil, fmt.Errorf("choices[%d]: description must be non-empty", i)
		}
		parsed.Choices[i].Command = protocol.NormalizeCommand(choice.Command)
	}
	for i, trigger := range parsed.Triggers {
		if strings.TrimSpace(trigger.Payload) == "" {
			return nil, fmt.Errorf("triggers[%d]: payload must be non-empty", i)
		}
	}
	return &parsed, nil
}

// stripFences unwraps ```json ... ``` style fencing.
func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.Index(s, "\n"); idx >= 0 {
		// Drop the language tag line.
		s = s[idx+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
