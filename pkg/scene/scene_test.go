package scene

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validV1Doc = `{
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
  "courtyard": {
    "description": "Sunlight. You made it.",
    "choices": []
  }
}`

func mustParse(t *testing.T, doc string, opts ParseOptions) *Repository {
	t.Helper()
	repo, err := Parse([]byte(doc), opts)
	require.NoError(t, err)
	return repo
}

func TestParseV1FlatDocument(t *testing.T) {
	repo := mustParse(t, validV1Doc, ParseOptions{StartScene: "gate"})

	assert.Equal(t, 3, repo.Len())
	assert.Equal(t, "gate", repo.StartScene())

	gate, ok := repo.Get("gate")
	require.True(t, ok)
	assert.Equal(t, "gate", gate.ID)
	assert.Len(t, gate.Choices, 2)
	assert.Equal(t, []string{"rusty-key"}, gate.Transitions["open"].Requires)
}

func TestParseV2Envelope(t *testing.T) {
	v1 := mustParse(t, validV1Doc, ParseOptions{StartScene: "gate"})

	envelope := map[string]any{
		"schema_version": 2,
		"start_scene":    "gate",
		"lore":           map[string]string{"gate": "Forged before the war."},
		"scenes":         json.RawMessage(validV1Doc),
	}
	data, err := json.Marshal(envelope)
	require.NoError(t, err)

	v2, err := Parse(data, ParseOptions{})
	require.NoError(t, err)

	assert.Equal(t, "gate", v2.StartScene())
	assert.Equal(t, "Forged before the war.", v2.Lore()["gate"])

	// Schema equivalence: every scene field survives either path.
	for _, id := range v1.SceneIDs() {
		a, _ := v1.Get(id)
		b, ok := v2.Get(id)
		require.True(t, ok, "scene %s missing from envelope load", id)
		assert.Equal(t, a.Description, b.Description)
		assert.Equal(t, a.Choices, b.Choices)
		assert.Equal(t, a.Transitions, b.Transitions)
	}
	assert.Equal(t, v1.Checksum(), v2.Checksum())
}

func TestEnvelopeRoundTripPreservesScenes(t *testing.T) {
	v1 := mustParse(t, validV1Doc, ParseOptions{StartScene: "gate"})

	data, err := v1.Envelope()
	require.NoError(t, err)

	v2, err := Parse(data, ParseOptions{})
	require.NoError(t, err)

	assert.Equal(t, "gate", v2.StartScene())
	assert.Equal(t, v1.Checksum(), v2.Checksum())
	for _, id := range v1.SceneIDs() {
		a, _ := v1.Get(id)
		b, ok := v2.Get(id)
		require.True(t, ok, "scene %s missing after round trip", id)
		assert.Equal(t, a.Description, b.Description)
		assert.Equal(t, a.Choices, b.Choices)
		assert.Equal(t, a.Transitions, b.Transitions)
	}
}

func TestEnvelopeKeepsLenientExtras(t *testing.T) {
	doc := `{
	  "room": {
	    "description": "A room.",
	    "choices": [],
	    "mood": "gloomy"
	  }
	}`
	repo := mustParse(t, doc, ParseOptions{StartScene: "room"})

	data, err := repo.Envelope()
	require.NoError(t, err)

	again, err := Parse(data, ParseOptions{})
	require.NoError(t, err)
	room, ok := again.Get("room")
	require.True(t, ok)
	assert.Equal(t, "gloomy", room.Extra["mood"])
}

func TestParseCollectsAllIssues(t *testing.T) {
	doc := `{
	  "Bad-ID": {
	    "description": "",
	    "choices": [
	      {"command": "GO", "description": "Go"},
	      {"command": "go", "description": ""}
	    ],
	    "transitions": {
	      "missing": {"narration": "", "target": "nowhere"}
	    }
	  }
	}`

	_, err := Parse([]byte(doc), ParseOptions{StartScene: "Bad-ID"})
	require.Error(t, err)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)

	messages := make(map[string]bool)
	for _, issue := range verr.Issues {
		messages[issue.Path] = true
	}
	// One failure does not mask the others.
	assert.True(t, messages["$.scenes.Bad-ID"], "scene id issue missing")
	assert.True(t, messages["$.scenes.Bad-ID.description"], "description issue missing")
	assert.True(t, messages["$.scenes.Bad-ID.transitions.missing"], "transition command issue missing")
	assert.True(t, messages["$.scenes.Bad-ID.transitions.missing.narration"], "narration issue missing")
	assert.True(t, messages["$.scenes.Bad-ID.transitions.missing.target"], "target issue missing")
	assert.GreaterOrEqual(t, len(verr.Issues), 5)
}

func TestParseDuplicateChoiceCommand(t *testing.T) {
	doc := `{
	  "room": {
	    "description": "A room.",
	    "choices": [
	      {"command": "go", "description": "Go"},
	      {"command": "go", "description": "Go again"}
	    ],
	    "transitions": {"go": {"narration": "You go."}}
	  }
	}`

	_, err := Parse([]byte(doc), ParseOptions{StartScene: "room"})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Error(), "duplicate command")
}

func TestParseChoiceWithoutTransition(t *testing.T) {
	doc := `{
	  "room": {
	    "description": "A room.",
	    "choices": [{"command": "dance", "description": "Dance"}]
	  }
	}`

	_, err := Parse([]byte(doc), ParseOptions{StartScene: "room"})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Error(), "no transition entry")
}

func TestParseBuiltinNeedsNoTransition(t *testing.T) {
	doc := `{
	  "room": {
	    "description": "A room.",
	    "choices": [{"command": "look", "description": "Look around"}]
	  }
	}`

	_, err := Parse([]byte(doc), ParseOptions{StartScene: "room"})
	assert.NoError(t, err)
}

func TestStrictModeRejectsUnknownFields(t *testing.T) {
	doc := `{
	  "room": {
	    "description": "A room.",
	    "choices": [],
	    "mood": "gloomy"
	  }
	}`

	_, err := Parse([]byte(doc), ParseOptions{Strict: true, StartScene: "room"})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Error(), "unknown field")

	// Lenient mode preserves the extras.
	repo, err := Parse([]byte(doc), ParseOptions{StartScene: "room"})
	require.NoError(t, err)
	room, _ := repo.Get("room")
	assert.Equal(t, "gloomy", room.Extra["mood"])
}

func TestParseRequiresStartScene(t *testing.T) {
	_, err := Parse([]byte(validV1Doc), ParseOptions{})
	assert.ErrorContains(t, err, "no start scene")

	_, err = Parse([]byte(validV1Doc), ParseOptions{StartScene: "attic"})
	assert.ErrorContains(t, err, "not defined")
}

func TestChecksumMismatchRejected(t *testing.T) {
	envelope := map[string]any{
		"schema_version": 2,
		"start_scene":    "gate",
		"checksum":       "deadbeef",
		"scenes":         json.RawMessage(validV1Doc),
	}
	data, err := json.Marshal(envelope)
	require.NoError(t, err)

	_, err = Parse(data, ParseOptions{})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Error(), "checksum mismatch")
}

func TestChecksumStableAcrossLoads(t *testing.T) {
	a := mustParse(t, validV1Doc, ParseOptions{StartScene: "gate"})
	b := mustParse(t, validV1Doc, ParseOptions{StartScene: "gate"})
	assert.Equal(t, a.Checksum(), b.Checksum())
}

func TestStoreReloadIfChanged(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scenes.json")
	require.NoError(t, os.WriteFile(path, []byte(validV1Doc), 0o644))

	store, err := NewStore(path, ParseOptions{StartScene: "gate"})
	require.NoError(t, err)

	first := store.Current()
	changed, err := store.ReloadIfChanged()
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Same(t, first, store.Current())

	// A broken rewrite keeps the previous repository live.
	require.NoError(t, os.WriteFile(path, []byte(`{"room": {}}`), 0o644))
	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(path, future, future))
	_, err = store.ReloadIfChanged()
	assert.Error(t, err)
	assert.Same(t, first, store.Current())
}

func TestPinHoldsRepositoryUntilRefresh(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scenes.json")
	require.NoError(t, os.WriteFile(path, []byte(validV1Doc), 0o644))

	store, err := NewStore(path, ParseOptions{StartScene: "gate"})
	require.NoError(t, err)

	pin := NewPin(store)
	old := pin.Current()
	assert.Same(t, store.Current(), old)

	// The store swaps underneath; the pin keeps answering with the old graph.
	rewritten := `{
	  "gate": {
	    "description": "The gate stands open now.",
	    "choices": []
	  }
	}`
	require.NoError(t, os.WriteFile(path, []byte(rewritten), 0o644))
	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(path, future, future))
	changed, err := store.ReloadIfChanged()
	require.NoError(t, err)
	require.True(t, changed)

	assert.Same(t, old, pin.Current())
	assert.NotSame(t, old, store.Current())

	// Refresh picks up the swap.
	fresh := pin.Refresh()
	assert.Same(t, store.Current(), fresh)
	assert.Same(t, fresh, pin.Current())
}
