package engine

import (
	"github.com/taleweave/taleweave/pkg/protocol"
	"github.com/taleweave/taleweave/pkg/scene"
	"github.com/taleweave/taleweave/pkg/world"
)

// alwaysCommands are available in every scene regardless of its choices.
var alwaysCommands = []string{
	"look", "inventory", "journal", "recall", "status",
	"save", "load", "help", "tutorial", "quit",
}

// helpEvent and statusEvent are metadata-only: the driver owns their
// rendering, the core only reports what is available.

func (e *Engine) helpEvent(current scene.Scene) *protocol.StoryEvent {
	return &protocol.StoryEvent{
		Choices: current.Choices,
		Metadata: map[string]any{
			MetaControl:        "help",
			MetaAlwaysCommands: alwaysCommands,
		},
	}
}

func (e *Engine) statusEvent(view world.View) *protocol.StoryEvent {
	return &protocol.StoryEvent{
		Metadata: map[string]any{
			MetaControl:    "status",
			MetaInventory:  view.Inventory(),
			MetaJournalLen: len(view.History()),
		},
	}
}
