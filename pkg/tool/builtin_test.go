package tool

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taleweave/taleweave/pkg/scene"
	"github.com/taleweave/taleweave/pkg/world"
)

const loreScenes = `{
  "schema_version": 2,
  "start_scene": "gate",
  "lore": {
    "gate": "Forged before the war.",
    "ranger": "The last of the wardens."
  },
  "scenes": {
    "gate": {"description": "A rusted gate.", "choices": []}
  }
}`

func loreRepo(t *testing.T) *scene.Repository {
	t.Helper()
	repo, err := scene.Parse([]byte(loreScenes), scene.ParseOptions{})
	require.NoError(t, err)
	return repo
}

func TestInventoryTool(t *testing.T) {
	state := world.NewState("gate", "player", 0)
	ctx := context.Background()

	result, err := InventoryTool{}.Run(ctx, "", state)
	require.NoError(t, err)
	assert.True(t, result.OK)
	assert.Equal(t, "You are carrying nothing.", result.Narration)

	state.Grant("rope")
	state.Grant("axe")
	result, err = InventoryTool{}.Run(ctx, "", state)
	require.NoError(t, err)
	assert.Contains(t, result.Narration, "- axe")
	assert.Contains(t, result.Narration, "- rope")
	assert.Equal(t, []string{"axe", "rope"}, result.Metadata["items"])
}

func TestJournalTool(t *testing.T) {
	state := world.NewState("gate", "player", 0)
	ctx := context.Background()

	result, err := JournalTool{}.Run(ctx, "", state)
	require.NoError(t, err)
	assert.Equal(t, "Your journal is empty.", result.Narration)

	state.Record("Opened the gate")
	state.Record("Crossed the bridge")
	result, err = JournalTool{}.Run(ctx, "", state)
	require.NoError(t, err)
	assert.Contains(t, result.Narration, "1. Opened the gate")
	assert.Contains(t, result.Narration, "2. Crossed the bridge")
}

func TestRecallTool(t *testing.T) {
	state := world.NewState("gate", "player", 8)
	ctx := context.Background()

	result, err := RecallTool{}.Run(ctx, "", state)
	require.NoError(t, err)
	assert.False(t, result.OK)
	assert.Equal(t, "Nothing comes to mind.", result.Narration)

	state.Memory().Append(world.EntryAction, "signal", "ranger")
	state.Memory().Append(world.EntryObservation, "the woods echo", "ranger")
	state.Memory().Append(world.EntryAction, "wave")

	result, err = RecallTool{}.Run(ctx, "ranger", state)
	require.NoError(t, err)
	assert.True(t, result.OK)
	assert.Contains(t, result.Narration, "you: signal")
	assert.Contains(t, result.Narration, "... the woods echo")
	assert.NotContains(t, result.Narration, "wave")

	result, err = RecallTool{}.Run(ctx, "dragon", state)
	require.NoError(t, err)
	assert.False(t, result.OK)
	assert.Contains(t, result.Narration, `"dragon"`)
}

func TestLoreTool(t *testing.T) {
	lore := NewLoreTool(loreRepo(t))
	ctx := context.Background()
	state := world.NewState("gate", "player", 0)

	result, err := lore.Run(ctx, "gate", state)
	require.NoError(t, err)
	assert.True(t, result.OK)
	assert.Equal(t, "Forged before the war.", result.Narration)

	result, err = lore.Run(ctx, "", state)
	require.NoError(t, err)
	assert.Equal(t, "Known topics: gate, ranger", result.Narration)

	result, err = lore.Run(ctx, "dragon", state)
	require.NoError(t, err)
	assert.False(t, result.OK)
}

func TestRegisterBuiltins(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, RegisterBuiltins(reg, loreRepo(t)))

	for _, name := range []string{"inventory", "journal", "recall", "lore"} {
		_, ok := reg.Get(name)
		assert.True(t, ok, name)
	}

	// Without a scene source there is no lore tool.
	bare := NewRegistry()
	require.NoError(t, RegisterBuiltins(bare, nil))
	_, ok := bare.Get("lore")
	assert.False(t, ok)
}
