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

// Package engine is the scripted scene machine: the deterministic primary
// contributor that resolves player commands against the scene graph and is
// the only writer of world state. Transitions are atomic — effects are
// staged on a clone and committed in one step, or not at all.
package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/taleweave/taleweave/pkg/agent"
	"github.com/taleweave/taleweave/pkg/protocol"
	"github.com/taleweave/taleweave/pkg/scene"
	"github.com/taleweave/taleweave/pkg/tool"
	"github.com/taleweave/taleweave/pkg/world"
)

const DefaultID = "narrator"

// Metadata keys stamped on engine events.
const (
	MetaLocation        = "location"
	MetaItemsGranted    = "items_granted"
	MetaItemsConsumed   = "items_consumed"
	MetaRecordsAppended = "records_appended"
	MetaOverrideUsed    = "override_used"
	MetaContributorID   = "contributor_id"
	MetaControl         = "control"
	MetaGated           = "gated"
	MetaUnknownCommand  = "unknown_command"
	MetaTool            = "tool"
	MetaToolOK          = "tool_ok"
	MetaInventory       = "inventory"
	MetaJournalLen      = "journal"
	MetaAlwaysCommands  = "always_commands"
)

type Engine struct {
	id          string
	scenes      scene.Source
	tools       *tool.Registry
	mirrorInput bool
}

type Option func(*Engine)

// WithID overrides the contributor id.
func WithID(id string) Option {
	return func(e *Engine) { e.id = id }
}

// WithInputMirroring makes the engine mirror the command and narration into
// the memory log itself. Leave this off when a coordinator owns the session:
// it performs the mirroring once per turn for all contributors.
func WithInputMirroring() Option {
	return func(e *Engine) { e.mirrorInput = true }
}

func New(scenes scene.Source, tools *tool.Registry, opts ...Option) *Engine {
	e := &Engine{
		id:     DefaultID,
		scenes: scenes,
		tools:  tools,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) ID() string { return e.id }

func (e *Engine) Capabilities() agent.Capabilities {
	return agent.Capabilities{Primary: true, SubscribesToPlayerInput: true}
}

// RespondMutating resolves one trigger against the authoritative world.
func (e *Engine) RespondMutating(ctx context.Context, trigger protocol.Trigger, state *world.State) (*agent.Decision, error) {
	event, err := e.ProposeEvent(ctx, trigger.Payload, state)
	if err != nil {
		return nil, err
	}
	return &agent.Decision{Event: *event}, nil
}

// Respond serves the read-only subset (built-ins and tools). The engine is
// meant to run as the primary via RespondMutating; a transition command
// arriving here is a wiring error.
func (e *Engine) Respond(ctx context.Context, trigger protocol.Trigger, view world.View) (*agent.Decision, error) {
	command, arg := splitCommand(protocol.NormalizeCommand(trigger.Payload))

	current, ok := e.scenes.Current().Get(view.Location())
	if !ok {
		return nil, fmt.Errorf("location %q not in scene graph: %w", view.Location(), agent.ErrCorruptWorld)
	}

	if event, handled, err := e.readOnlyCommand(ctx, command, arg, current, view); err != nil {
		return nil, err
	} else if handled {
		return &agent.Decision{Event: *event}, nil
	}
	return nil, fmt.Errorf("command %q requires a mutable world; engine must be the primary contributor", command)
}

var _ agent.MutatingContributor = (*Engine)(nil)

// ProposeEvent resolves a raw player input into a story event, mutating
// state only when a transition's effects commit.
func (e *Engine) ProposeEvent(ctx context.Context, input string, state *world.State) (*protocol.StoryEvent, error) {
	command, arg := splitCommand(protocol.NormalizeCommand(input))
	full := protocol.NormalizeCommand(input)

	repo := e.scenes.Current()
	current, ok := repo.Get(state.Location())
	if !ok {
		return nil, fmt.Errorf("location %q not in scene graph: %w", state.Location(), agent.ErrCorruptWorld)
	}

	var event *protocol.StoryEvent

	switch {
	case command == "":
		event = e.stamp(e.unknownCommandEvent(current, full), state.Location())

	default:
		if ev, handled, err := e.readOnlyCommand(ctx, command, arg, current, state); err != nil {
			return nil, err
		} else if handled {
			event = ev
			break
		}

		if t, ok := current.Transitions[full]; ok {
			event = e.applyTransition(repo, current, full, t, state)
			break
		}
		event = e.stamp(e.unknownCommandEvent(current, full), state.Location())
	}

	if e.mirrorInput {
		state.Memory().Append(world.EntryAction, full)
		state.Memory().Append(world.EntryObservation, event.Narration)
	}
	return event, nil
}

// readOnlyCommand handles built-ins and registered tools. These never
// mutate world state.
func (e *Engine) readOnlyCommand(ctx context.Context, command, arg string, current scene.Scene, view world.View) (*protocol.StoryEvent, bool, error) {
	switch command {
	case "look":
		return e.stamp(&protocol.StoryEvent{
			Narration: current.Description,
			Choices:   current.Choices,
		}, view.Location()), true, nil

	case "help":
		return e.stamp(e.helpEvent(current), view.Location()), true, nil

	case "status":
		return e.stamp(e.statusEvent(view), view.Location()), true, nil

	case "tutorial", "save", "load", "quit":
		// Driver-fulfilled: the core only marks the request.
		return e.stamp(&protocol.StoryEvent{
			Metadata: map[string]any{MetaControl: command},
		}, view.Location()), true, nil

	case "inventory":
		return e.dispatchTool(ctx, "inventory", arg, view)

	case "journal", "history":
		return e.dispatchTool(ctx, "journal", arg, view)

	case "recall":
		return e.dispatchTool(ctx, "recall", arg, view)
	}

	if _, ok := e.tools.Get(command); ok {
		return e.dispatchTool(ctx, command, arg, view)
	}
	return nil, false, nil
}

func (e *Engine) dispatchTool(ctx context.Context, name, arg string, view world.View) (*protocol.StoryEvent, bool, error) {
	t, ok := e.tools.Get(name)
	if !ok {
		return nil, false, nil
	}
	result, err := t.Run(ctx, arg, view)
	if err != nil {
		// Tool programming errors become clean in-story failures.
		result = tool.Result{Narration: "Something stirs, but nothing happens.", OK: false}
	}
	metadata := map[string]any{MetaTool: name, MetaToolOK: result.OK}
	for k, v := range result.Metadata {
		metadata[k] = v
	}
	return e.stamp(&protocol.StoryEvent{
		Narration: result.Narration,
		Metadata:  metadata,
	}, view.Location()), true, nil
}

// applyTransition stages effects on a clone, then commits or discards the
// whole set.
func (e *Engine) applyTransition(repo *scene.Repository, current scene.Scene, command string, t scene.Transition, state *world.State) *protocol.StoryEvent {
	if missing := state.Missing(t.Requires); len(missing) > 0 {
		narration := t.FailureNarration
		if narration == "" {
			narration = "You are missing: " + strings.Join(missing, ", ") + "."
		}
		return e.stamp(&protocol.StoryEvent{
			Narration: narration,
			Choices:   current.Choices,
			Metadata:  map[string]any{MetaGated: true, "missing_items": missing},
		}, state.Location())
	}

	staged := state.Clone()

	consumed := make([]string, 0, len(t.Consumes))
	for _, item := range t.Consumes {
		if staged.Consume(item) {
			consumed = append(consumed, item)
		}
	}
	granted := []string{}
	if t.Item != "" && staged.Grant(t.Item) {
		granted = append(granted, t.Item)
	}
	records := make([]string, 0, len(t.Records))
	for _, rec := range t.Records {
		staged.Record(rec)
		records = append(records, rec)
	}
	if t.Target != "" {
		staged.MoveTo(t.Target)
	}

	// First matching override wins; the rest are never evaluated, so no
	// side effects can leak from non-selected overrides.
	narration := t.Narration
	overrideUsed := any(false)
	for i, ov := range t.Overrides {
		if overrideMatches(ov, staged) {
			narration = ov.Narration
			overrideUsed = i
			for _, rec := range ov.Records {
				staged.Record(rec)
				records = append(records, rec)
			}
			break
		}
	}

	state.CopyFrom(staged)

	choices := current.Choices
	if after, ok := repo.Get(state.Location()); ok {
		choices = after.Choices
	}

	return e.stamp(&protocol.StoryEvent{
		Narration: narration,
		Choices:   choices,
		Metadata: map[string]any{
			MetaItemsGranted:    granted,
			MetaItemsConsumed:   consumed,
			MetaRecordsAppended: records,
			MetaOverrideUsed:    overrideUsed,
		},
	}, state.Location())
}

// overrideMatches evaluates every filter of ov against the staged world.
// Missing filters pass; an empty _any list cannot pass.
func overrideMatches(ov scene.NarrationOverride, w *world.State) bool {
	for _, entry := range ov.RequiresHistoryAll {
		if !w.HasHistory(entry) {
			return false
		}
	}
	if ov.RequiresHistoryAny != nil && !anyOf(ov.RequiresHistoryAny, w.HasHistory) {
		return false
	}
	for _, entry := range ov.ForbidsHistoryAny {
		if w.HasHistory(entry) {
			return false
		}
	}
	for _, item := range ov.RequiresInventoryAll {
		if !w.Has(item) {
			return false
		}
	}
	if ov.RequiresInventoryAny != nil && !anyOf(ov.RequiresInventoryAny, w.Has) {
		return false
	}
	for _, item := range ov.ForbidsInventoryAny {
		if w.Has(item) {
			return false
		}
	}
	return true
}

func anyOf(entries []string, pred func(string) bool) bool {
	for _, entry := range entries {
		if pred(entry) {
			return true
		}
	}
	return false
}

func (e *Engine) unknownCommandEvent(current scene.Scene, command string) *protocol.StoryEvent {
	return &protocol.StoryEvent{
		Narration: "You can't do that here.",
		Choices:   current.Choices,
		Metadata: map[string]any{
			MetaUnknownCommand: command,
		},
	}
}

// stamp adds the identification metadata every engine event carries.
func (e *Engine) stamp(event *protocol.StoryEvent, location string) *protocol.StoryEvent {
	if event.Metadata == nil {
		event.Metadata = make(map[string]any)
	}
	event.Metadata[MetaLocation] = location
	event.Metadata[MetaContributorID] = e.id
	return event
}

func splitCommand(normalized string) (command, arg string) {
	command, arg, found := strings.Cut(normalized, " ")
	if !found {
		return normalized, ""
	}
	return command, strings.TrimSpace(arg)
}
