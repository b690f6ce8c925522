package agent

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taleweave/taleweave/pkg/config"
	"github.com/taleweave/taleweave/pkg/protocol"
	"github.com/taleweave/taleweave/pkg/world"
)

// stubPrimary narrates the player input back and can be told to fail or to
// emit follow-up triggers.
type stubPrimary struct {
	id       string
	fail     error
	mutate   func(*world.State)
	triggers []protocol.Trigger
	calls    int
}

func (p *stubPrimary) ID() string { return p.id }

func (p *stubPrimary) Capabilities() Capabilities {
	return Capabilities{Primary: true, SubscribesToPlayerInput: true}
}

func (p *stubPrimary) Respond(ctx context.Context, trigger protocol.Trigger, _ world.View) (*Decision, error) {
	return nil, fmt.Errorf("primary %s must be dispatched mutating", p.id)
}

func (p *stubPrimary) RespondMutating(_ context.Context, trigger protocol.Trigger, state *world.State) (*Decision, error) {
	p.calls++
	if p.fail != nil {
		return nil, p.fail
	}
	if p.mutate != nil {
		p.mutate(state)
	}
	return &Decision{
		Event: protocol.StoryEvent{
			Narration: "You " + trigger.Payload + ".",
			Choices:   []protocol.Choice{{Command: "wait", Description: "Wait"}},
			Metadata:  map[string]any{"command": trigger.Payload},
		},
		Triggers: p.triggers,
	}, nil
}

// stubSecondary records the triggers it saw and replies with a fixed line.
type stubSecondary struct {
	id         string
	subscribes bool
	narration  string
	failures   int // fail this many calls before succeeding
	triggers   []protocol.Trigger
	seen       []protocol.Trigger
	calls      int
}

func (s *stubSecondary) ID() string { return s.id }

func (s *stubSecondary) Capabilities() Capabilities {
	return Capabilities{SubscribesToPlayerInput: s.subscribes}
}

func (s *stubSecondary) Respond(_ context.Context, trigger protocol.Trigger, _ world.View) (*Decision, error) {
	s.calls++
	if s.failures > 0 {
		s.failures--
		return nil, errors.New("model unavailable")
	}
	s.seen = append(s.seen, trigger)
	d := &Decision{Triggers: s.triggers}
	if s.narration != "" {
		d.Event = protocol.StoryEvent{
			Narration: s.narration,
			Metadata:  map[string]any{"speaker": s.id},
		}
	}
	// Only emit each trigger batch once.
	s.triggers = nil
	return d, nil
}

func testCoordinatorConfig() config.CoordinatorConfig {
	cfg := config.CoordinatorConfig{}
	cfg.SetDefaults()
	return cfg
}

func TestMergeIsDeterministic(t *testing.T) {
	primary := &stubPrimary{id: "narrator"}
	bard := &stubSecondary{id: "bard", subscribes: true, narration: "A song swells."}
	ranger := &stubSecondary{id: "ranger", subscribes: true, narration: "The ranger nods."}

	state := world.NewState("gate", "player", 0)
	coord, err := NewCoordinator(primary, []Contributor{bard, ranger}, state, testCoordinatorConfig())
	require.NoError(t, err)

	event, err := coord.Advance(context.Background(), "wait")
	require.NoError(t, err)

	// Primary first, then secondaries in roster order.
	assert.Equal(t, "You wait.\n\nA song swells.\n\nThe ranger nods.", event.Narration)
	assert.Equal(t, 1, event.Metadata["turn"])
	assert.Equal(t, []string{"narrator", "bard", "ranger"}, event.Metadata["active_contributors"])
	assert.Equal(t, map[string]any{"speaker": "bard"}, event.Metadata["bard"])

	// Memory mirrors the turn: action in, merged observation out.
	entries := state.Memory().Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, world.EntryAction, entries[0].Kind)
	assert.Equal(t, "wait", entries[0].Content)
	assert.Equal(t, world.EntryObservation, entries[1].Kind)
	assert.Equal(t, event.Narration, entries[1].Content)
}

func TestDuplicateContributorIDRejected(t *testing.T) {
	primary := &stubPrimary{id: "narrator"}
	clash := &stubSecondary{id: "narrator"}

	_, err := NewCoordinator(primary, []Contributor{clash}, world.NewState("gate", "player", 0), testCoordinatorConfig())
	assert.ErrorContains(t, err, "duplicate contributor id")
}

func TestSecondaryQuarantine(t *testing.T) {
	primary := &stubPrimary{id: "narrator"}
	flaky := &stubSecondary{id: "bard", subscribes: true, narration: "A song swells.", failures: 99}
	steady := &stubSecondary{id: "ranger", subscribes: true, narration: "The ranger nods."}

	coord, err := NewCoordinator(primary, []Contributor{flaky, steady},
		world.NewState("gate", "player", 0), testCoordinatorConfig())
	require.NoError(t, err)

	ctx := context.Background()
	event, err := coord.Advance(ctx, "wait")
	require.NoError(t, err)

	// The failure never reaches the merged narration; the rest of the
	// roster still contributes.
	assert.Equal(t, "You wait.\n\nThe ranger nods.", event.Narration)
	assert.Equal(t, []string{"bard"}, coord.Quarantined())
	assert.Equal(t, []string{"bard"}, event.Metadata["quarantined"])

	// Quarantined contributors are skipped on later turns.
	callsBefore := flaky.calls
	_, err = coord.Advance(ctx, "wait")
	require.NoError(t, err)
	assert.Equal(t, callsBefore, flaky.calls)
}

func TestRetryPolicyGivesSecondChance(t *testing.T) {
	primary := &stubPrimary{id: "narrator"}
	flaky := &stubSecondary{id: "bard", subscribes: true, narration: "A song swells.", failures: 1}

	cfg := testCoordinatorConfig()
	cfg.IsolationPolicy = config.IsolationRetry

	coord, err := NewCoordinator(primary, []Contributor{flaky},
		world.NewState("gate", "player", 0), cfg)
	require.NoError(t, err)

	event, err := coord.Advance(context.Background(), "wait")
	require.NoError(t, err)

	assert.Equal(t, 2, flaky.calls)
	assert.Contains(t, event.Narration, "A song swells.")
	assert.Empty(t, coord.Quarantined())
}

func TestPrimaryFailureRollsBackTurn(t *testing.T) {
	primary := &stubPrimary{id: "narrator", fail: errors.New("scene lookup failed")}
	coord, err := NewCoordinator(primary, nil, world.NewState("gate", "player", 0), testCoordinatorConfig())
	require.NoError(t, err)

	event, err := coord.Advance(context.Background(), "open")
	require.NoError(t, err)

	assert.Contains(t, event.Narration, "Try again")
	assert.Equal(t, "scene lookup failed", event.Metadata["error"])

	// The pre-turn action mirror is rolled back with the rest.
	assert.Equal(t, 0, coord.World().Memory().Len())

	// The session recovers once the primary does.
	primary.fail = nil
	event, err = coord.Advance(context.Background(), "open")
	require.NoError(t, err)
	assert.Equal(t, "You open.", event.Narration)
	assert.Equal(t, 2, coord.Turn())
}

func TestCorruptWorldAbortsSession(t *testing.T) {
	primary := &stubPrimary{id: "narrator", fail: fmt.Errorf("location gone: %w", ErrCorruptWorld)}
	coord, err := NewCoordinator(primary, nil, world.NewState("gate", "player", 0), testCoordinatorConfig())
	require.NoError(t, err)

	_, err = coord.Advance(context.Background(), "open")
	require.ErrorIs(t, err, ErrCorruptWorld)
}

func TestTriggerDeliveredNextTurn(t *testing.T) {
	primary := &stubPrimary{id: "narrator"}
	bard := &stubSecondary{
		id:         "bard",
		subscribes: true,
		narration:  "A song swells.",
		triggers: []protocol.Trigger{{
			Kind:    protocol.TriggerAgentMessage,
			Payload: "ping",
			Source:  "bard",
			Target:  protocol.To("ranger"),
		}},
	}
	ranger := &stubSecondary{id: "ranger", narration: "The ranger answers."}

	coord, err := NewCoordinator(primary, []Contributor{bard, ranger},
		world.NewState("gate", "player", 0), testCoordinatorConfig())
	require.NoError(t, err)

	ctx := context.Background()

	// Turn 1: the ranger does not subscribe to player input and the ping is
	// only enqueued, so it stays silent.
	event, err := coord.Advance(ctx, "wait")
	require.NoError(t, err)
	assert.NotContains(t, event.Narration, "ranger")
	require.Len(t, coord.PendingQueue(), 1)
	assert.Equal(t, 1, coord.PendingQueue()[0].EnqueuedTurn)

	// Turn 2: delivered exactly once.
	event, err = coord.Advance(ctx, "wait")
	require.NoError(t, err)
	assert.Contains(t, event.Narration, "The ranger answers.")
	require.Len(t, ranger.seen, 1)
	assert.Equal(t, "ping", ranger.seen[0].Payload)
	assert.Empty(t, coord.PendingQueue())

	// Turn 3: not redelivered.
	_, err = coord.Advance(ctx, "wait")
	require.NoError(t, err)
	assert.Len(t, ranger.seen, 1)
}

func TestBroadcastExcludesSource(t *testing.T) {
	primary := &stubPrimary{id: "narrator"}
	bard := &stubSecondary{
		id:         "bard",
		subscribes: true,
		narration:  "A song swells.",
		triggers: []protocol.Trigger{{
			Kind:    protocol.TriggerAgentMessage,
			Payload: "hello all",
			Source:  "bard",
			Target:  protocol.Broadcast(),
		}},
	}
	ranger := &stubSecondary{id: "ranger", narration: "The ranger answers."}

	coord, err := NewCoordinator(primary, []Contributor{bard, ranger},
		world.NewState("gate", "player", 0), testCoordinatorConfig())
	require.NoError(t, err)

	ctx := context.Background()
	_, err = coord.Advance(ctx, "wait")
	require.NoError(t, err)
	_, err = coord.Advance(ctx, "wait")
	require.NoError(t, err)

	require.Len(t, ranger.seen, 1)
	assert.Equal(t, "hello all", ranger.seen[0].Payload)
	// The sender never hears its own broadcast.
	for _, trig := range bard.seen {
		assert.NotEqual(t, "hello all", trig.Payload)
	}
}

func TestQuarantineDiscardsAddressedMessages(t *testing.T) {
	primary := &stubPrimary{id: "narrator"}
	bard := &stubSecondary{
		id:         "bard",
		subscribes: true,
		narration:  "A song swells.",
		triggers: []protocol.Trigger{{
			Kind:    protocol.TriggerAgentMessage,
			Payload: "ping",
			Source:  "bard",
			Target:  protocol.To("ranger"),
		}},
	}
	ranger := &stubSecondary{id: "ranger", subscribes: true, failures: 99}

	coord, err := NewCoordinator(primary, []Contributor{bard, ranger},
		world.NewState("gate", "player", 0), testCoordinatorConfig())
	require.NoError(t, err)

	// Turn 1 quarantines the ranger; the ping addressed to it is still
	// enqueued at end of turn.
	_, err = coord.Advance(context.Background(), "wait")
	require.NoError(t, err)
	assert.Equal(t, []string{"ranger"}, coord.Quarantined())
	require.Len(t, coord.PendingQueue(), 1)

	// Turn 2 drops it at delivery time instead of requeueing forever.
	_, err = coord.Advance(context.Background(), "wait")
	require.NoError(t, err)
	assert.Empty(t, coord.PendingQueue())
	assert.Empty(t, ranger.seen)
}

func TestRestoreState(t *testing.T) {
	primary := &stubPrimary{id: "narrator"}
	bard := &stubSecondary{id: "bard", subscribes: true, narration: "A song swells."}

	coord, err := NewCoordinator(primary, []Contributor{bard},
		world.NewState("gate", "player", 0), testCoordinatorConfig())
	require.NoError(t, err)

	pending := []protocol.QueuedMessage{{
		Trigger: protocol.Trigger{
			Kind:    protocol.TriggerAgentMessage,
			Payload: "ping",
			Source:  "narrator",
			Target:  protocol.To("bard"),
		},
		EnqueuedTurn: 4,
		Seq:          7,
	}}
	coord.RestoreState(4, pending, []string{"bard", "ghost"})

	assert.Equal(t, 4, coord.Turn())
	assert.Equal(t, pending, coord.PendingQueue())
	// Unknown ids in the quarantine list are ignored.
	assert.Equal(t, []string{"bard"}, coord.Quarantined())
}
