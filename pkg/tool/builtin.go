package tool

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/taleweave/taleweave/pkg/scene"
	"github.com/taleweave/taleweave/pkg/world"
)

// InventoryTool lists the items currently held, sorted for stable output.
type InventoryTool struct{}

func (InventoryTool) Name() string        { return "inventory" }
func (InventoryTool) Description() string { return "List the items you are carrying" }

func (InventoryTool) Run(_ context.Context, _ string, view world.View) (Result, error) {
	items := view.Inventory()
	if len(items) == 0 {
		return Result{Narration: "You are carrying nothing.", OK: true}, nil
	}
	var b strings.Builder
	b.WriteString("You are carrying:")
	for _, item := range items {
		b.WriteString("\n  - ")
		b.WriteString(item)
	}
	return Result{
		Narration: b.String(),
		OK:        true,
		Metadata:  map[string]any{"items": items},
	}, nil
}

// JournalTool renders the world history as a numbered journal.
type JournalTool struct{}

func (JournalTool) Name() string        { return "journal" }
func (JournalTool) Description() string { return "Review everything you have done so far" }

func (JournalTool) Run(_ context.Context, _ string, view world.View) (Result, error) {
	history := view.History()
	if len(history) == 0 {
		return Result{Narration: "Your journal is empty.", OK: true}, nil
	}
	var b strings.Builder
	b.WriteString("Your journal reads:")
	for i, entry := range history {
		fmt.Fprintf(&b, "\n  %d. %s", i+1, entry)
	}
	return Result{
		Narration: b.String(),
		OK:        true,
		Metadata:  map[string]any{"entries": len(history)},
	}, nil
}

// RecallTool surfaces recent memory entries, optionally filtered by tag.
type RecallTool struct{}

func (RecallTool) Name() string        { return "recall" }
func (RecallTool) Description() string { return "Recall recent events, optionally by topic tag" }

func (RecallTool) Run(_ context.Context, arg string, view world.View) (Result, error) {
	req := world.MemoryRequest{ActionLimit: 5, ObservationLimit: 5}
	topic := strings.ToLower(strings.TrimSpace(arg))
	if topic != "" {
		req.TagFilter = []string{topic}
	}
	slice := view.MemorySlice(req)
	if len(slice.Actions) == 0 && len(slice.Observations) == 0 {
		if topic != "" {
			return Result{Narration: fmt.Sprintf("You recall nothing about %q.", topic), OK: false}, nil
		}
		return Result{Narration: "Nothing comes to mind.", OK: false}, nil
	}
	var b strings.Builder
	b.WriteString("You recall:")
	for _, e := range slice.Actions {
		b.WriteString("\n  you: ")
		b.WriteString(e.Content)
	}
	for _, e := range slice.Observations {
		b.WriteString("\n  ... ")
		b.WriteString(e.Content)
	}
	return Result{
		Narration: b.String(),
		OK:        true,
		Metadata: map[string]any{
			"actions":      len(slice.Actions),
			"observations": len(slice.Observations),
		},
	}, nil
}

// LoreTool answers "recall <topic>"-style lookups from the scene document's
// lore table. The source is consulted per call so hot reloads are honored.
type LoreTool struct {
	source scene.Source
}

func NewLoreTool(source scene.Source) *LoreTool {
	return &LoreTool{source: source}
}

func (t *LoreTool) Name() string        { return "lore" }
func (t *LoreTool) Description() string { return "Look up a topic in the story's lore" }

func (t *LoreTool) Run(_ context.Context, arg string, _ world.View) (Result, error) {
	lore := t.source.Current().Lore()
	topic := strings.ToLower(strings.TrimSpace(arg))
	if topic == "" {
		return Result{Narration: t.topicIndex(lore), OK: len(lore) > 0}, nil
	}
	if text, ok := lore[topic]; ok {
		return Result{
			Narration: text,
			OK:        true,
			Metadata:  map[string]any{"topic": topic},
		}, nil
	}
	return Result{
		Narration: fmt.Sprintf("Nothing is known about %q.", topic),
		OK:        false,
		Metadata:  map[string]any{"topic": topic},
	}, nil
}

func (t *LoreTool) topicIndex(lore map[string]string) string {
	if len(lore) == 0 {
		return "No lore has been written for this story."
	}
	topics := make([]string, 0, len(lore))
	for topic := range lore {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return "Known topics: " + strings.Join(topics, ", ")
}

// RegisterBuiltins wires the standard tool set into a registry. The lore
// tool is only added when a scene source is provided.
func RegisterBuiltins(r *Registry, source scene.Source) error {
	builtins := []Tool{InventoryTool{}, JournalTool{}, RecallTool{}}
	if source != nil {
		builtins = append(builtins, NewLoreTool(source))
	}
	for _, t := range builtins {
		if err := r.RegisterTool(t); err != nil {
			return err
		}
	}
	return nil
}
