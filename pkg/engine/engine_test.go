package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taleweave/taleweave/pkg/scene"
	"github.com/taleweave/taleweave/pkg/tool"
	"github.com/taleweave/taleweave/pkg/world"
)

const testScenes = `{
  "gate": {
    "description": "A rusted gate bars the way north.",
    "choices": [
      {"command": "open", "description": "Open the gate"},
      {"command": "back", "description": "Return to the hall"}
    ],
    "transitions": {
      "open": {
        "narration": "The gate swings wide.",
        "target": "courtyard",
        "requires": ["rusty-key"],
        "failure_narration": "The gate refuses."
      },
      "back": {
        "narration": "You retreat into the hall.",
        "target": "hall"
      }
    }
  },
  "hall": {
    "description": "A dusty hall. A key glints on the floor.",
    "choices": [
      {"command": "take", "description": "Take the key"},
      {"command": "north", "description": "Approach the gate"}
    ],
    "transitions": {
      "take": {
        "narration": "You pocket the key.",
        "item": "rusty-key",
        "records": ["Took the rusty key"]
      },
      "north": {
        "narration": "You walk to the gate.",
        "target": "gate"
      }
    }
  },
  "lookout": {
    "description": "A high lookout over dark woods.",
    "choices": [{"command": "signal", "description": "Sound the signal"}],
    "transitions": {
      "signal": {
        "narration": "The notes unravel.",
        "narration_overrides": [
          {
            "narration": "The woods echo back.",
            "requires_history_any": ["Picked up signal lesson"],
            "records": ["Practiced the ranger signal"]
          },
          {
            "narration": "Never reached.",
            "requires_history_any": ["Picked up signal lesson"]
          }
        ]
      }
    }
  },
  "courtyard": {
    "description": "Sunlight. You made it.",
    "choices": []
  }
}`

func newTestEngine(t *testing.T) (*Engine, *world.State) {
	t.Helper()
	repo, err := scene.Parse([]byte(testScenes), scene.ParseOptions{StartScene: "gate"})
	require.NoError(t, err)

	tools := tool.NewRegistry()
	require.NoError(t, tool.RegisterBuiltins(tools, repo))

	return New(repo, tools), world.NewState("gate", "player", 0)
}

func TestGatedTransitionFailsThenSucceeds(t *testing.T) {
	eng, state := newTestEngine(t)
	ctx := context.Background()

	// Gate refuses without the key; nothing changes.
	event, err := eng.ProposeEvent(ctx, "open", state)
	require.NoError(t, err)
	assert.Equal(t, "The gate refuses.", event.Narration)
	assert.Equal(t, "gate", state.Location())
	assert.Empty(t, state.Inventory())
	assert.Empty(t, state.History())
	assert.Equal(t, true, event.Metadata[MetaGated])

	// look has no effect on state.
	event, err = eng.ProposeEvent(ctx, "look", state)
	require.NoError(t, err)
	assert.Equal(t, "A rusted gate bars the way north.", event.Narration)
	assert.Equal(t, "gate", state.Location())

	// Fetch the key.
	_, err = eng.ProposeEvent(ctx, "back", state)
	require.NoError(t, err)
	assert.Equal(t, "hall", state.Location())

	event, err = eng.ProposeEvent(ctx, "take", state)
	require.NoError(t, err)
	assert.Equal(t, []string{"rusty-key"}, state.Inventory())
	assert.Equal(t, []string{"Took the rusty key"}, state.History())
	assert.Equal(t, []string{"rusty-key"}, event.Metadata[MetaItemsGranted])

	// Now the gate opens.
	_, err = eng.ProposeEvent(ctx, "north", state)
	require.NoError(t, err)
	event, err = eng.ProposeEvent(ctx, "open", state)
	require.NoError(t, err)
	assert.Equal(t, "The gate swings wide.", event.Narration)
	assert.Equal(t, "courtyard", state.Location())
	assert.Equal(t, []string{"rusty-key"}, state.Inventory())
}

func TestItemGrantIsIdempotent(t *testing.T) {
	eng, state := newTestEngine(t)
	ctx := context.Background()

	_, err := eng.ProposeEvent(ctx, "back", state)
	require.NoError(t, err)

	_, err = eng.ProposeEvent(ctx, "take", state)
	require.NoError(t, err)
	event, err := eng.ProposeEvent(ctx, "take", state)
	require.NoError(t, err)

	assert.Equal(t, []string{"rusty-key"}, state.Inventory())
	// Second grant changed nothing.
	assert.Empty(t, event.Metadata[MetaItemsGranted])
}

func TestOverrideOnHistory(t *testing.T) {
	eng, state := newTestEngine(t)
	state.MoveTo("lookout")
	ctx := context.Background()

	// Without the history entry: base narration, no override records.
	event, err := eng.ProposeEvent(ctx, "signal", state)
	require.NoError(t, err)
	assert.Equal(t, "The notes unravel.", event.Narration)
	assert.Equal(t, false, event.Metadata[MetaOverrideUsed])
	assert.Empty(t, state.History())

	// With it: the first matching override fires, exactly once.
	state.Record("Picked up signal lesson")
	event, err = eng.ProposeEvent(ctx, "signal", state)
	require.NoError(t, err)
	assert.Equal(t, "The woods echo back.", event.Narration)
	assert.Equal(t, 0, event.Metadata[MetaOverrideUsed])
	assert.Contains(t, state.History(), "Practiced the ranger signal")
	// The second override never contributed.
	assert.NotContains(t, event.Narration, "Never reached.")
}

func TestUnknownCommand(t *testing.T) {
	eng, state := newTestEngine(t)
	pre := state.Clone()

	event, err := eng.ProposeEvent(context.Background(), "fly", state)
	require.NoError(t, err)

	assert.Equal(t, "You can't do that here.", event.Narration)
	assert.Len(t, event.Choices, 2)
	assert.Equal(t, "fly", event.Metadata[MetaUnknownCommand])
	assert.Equal(t, pre.Location(), state.Location())
	assert.Equal(t, pre.History(), state.History())
}

func TestCommandsAreNormalized(t *testing.T) {
	eng, state := newTestEngine(t)

	event, err := eng.ProposeEvent(context.Background(), "  BACK ", state)
	require.NoError(t, err)
	assert.Equal(t, "You retreat into the hall.", event.Narration)
	assert.Equal(t, "hall", state.Location())
	assert.Equal(t, "hall", event.Metadata[MetaLocation])
}

func TestBuiltinsDoNotMutate(t *testing.T) {
	eng, state := newTestEngine(t)
	state.Grant("rusty-key")
	state.Record("entry")
	ctx := context.Background()

	for _, cmd := range []string{"look", "inventory", "journal", "help", "status", "recall"} {
		pre := state.Clone()
		_, err := eng.ProposeEvent(ctx, cmd, state)
		require.NoError(t, err, cmd)
		assert.Equal(t, pre.Location(), state.Location(), cmd)
		assert.Equal(t, pre.Inventory(), state.Inventory(), cmd)
		assert.Equal(t, pre.History(), state.History(), cmd)
	}
}

func TestControlCommands(t *testing.T) {
	eng, state := newTestEngine(t)

	for _, cmd := range []string{"save", "load", "quit", "tutorial"} {
		event, err := eng.ProposeEvent(context.Background(), cmd, state)
		require.NoError(t, err)
		assert.Equal(t, cmd, event.Metadata[MetaControl])
		assert.Empty(t, event.Narration)
	}
}

func TestHelpAndStatusAreMetadataOnly(t *testing.T) {
	eng, state := newTestEngine(t)
	state.Grant("rusty-key")
	state.Record("Took the rusty key")
	ctx := context.Background()

	help, err := eng.ProposeEvent(ctx, "help", state)
	require.NoError(t, err)
	assert.Empty(t, help.Narration, "rendering belongs to the driver")
	assert.Equal(t, "help", help.Metadata[MetaControl])
	assert.NotEmpty(t, help.Choices)
	assert.Contains(t, help.Metadata[MetaAlwaysCommands], "recall")

	status, err := eng.ProposeEvent(ctx, "status", state)
	require.NoError(t, err)
	assert.Empty(t, status.Narration)
	assert.Equal(t, "status", status.Metadata[MetaControl])
	assert.Equal(t, []string{"rusty-key"}, status.Metadata[MetaInventory])
	assert.Equal(t, 1, status.Metadata[MetaJournalLen])
	assert.Equal(t, "gate", status.Metadata[MetaLocation])
}

func TestCorruptWorldSurfaces(t *testing.T) {
	eng, state := newTestEngine(t)
	state.MoveTo("the-void")

	_, err := eng.ProposeEvent(context.Background(), "look", state)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "the-void")
}

func TestChoicesFollowTransitionTarget(t *testing.T) {
	eng, state := newTestEngine(t)

	event, err := eng.ProposeEvent(context.Background(), "back", state)
	require.NoError(t, err)

	// Choices reflect the post-transition scene.
	commands := make([]string, 0, len(event.Choices))
	for _, c := range event.Choices {
		commands = append(commands, c.Command)
	}
	assert.Equal(t, []string{"take", "north"}, commands)
}

func TestInputMirroring(t *testing.T) {
	repo, err := scene.Parse([]byte(testScenes), scene.ParseOptions{StartScene: "gate"})
	require.NoError(t, err)
	tools := tool.NewRegistry()
	require.NoError(t, tool.RegisterBuiltins(tools, repo))

	eng := New(repo, tools, WithInputMirroring())
	state := world.NewState("gate", "player", 0)

	_, err = eng.ProposeEvent(context.Background(), "back", state)
	require.NoError(t, err)

	entries := state.Memory().Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, world.EntryAction, entries[0].Kind)
	assert.Equal(t, "back", entries[0].Content)
	assert.Equal(t, world.EntryObservation, entries[1].Kind)
	assert.Equal(t, "You retreat into the hall.", entries[1].Content)
}
