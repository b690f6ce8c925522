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

package agent

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/taleweave/taleweave/pkg/config"
	"github.com/taleweave/taleweave/pkg/logger"
	"github.com/taleweave/taleweave/pkg/observability"
	"github.com/taleweave/taleweave/pkg/protocol"
	"github.com/taleweave/taleweave/pkg/world"
)

// Status of a contributor within a session.
type Status string

const (
	StatusActive      Status = "active"
	StatusQuarantined Status = "quarantined"
)

// PlayerSource is the source id stamped on player-input triggers.
const PlayerSource = "player"

// Coordinator runs the turn protocol: one player input in, one merged story
// event out. Dispatch is strictly sequential in roster order, which keeps
// merged output deterministic. Not safe for concurrent use; a session owns
// exactly one coordinator.
type Coordinator struct {
	primary     MutatingContributor
	secondaries []Contributor
	state       *world.State
	cfg         config.CoordinatorConfig

	turn    int
	pending []protocol.QueuedMessage
	seq     uint64
	status  map[string]Status
}

func NewCoordinator(primary MutatingContributor, secondaries []Contributor, state *world.State, cfg config.CoordinatorConfig) (*Coordinator, error) {
	if primary == nil {
		return nil, fmt.Errorf("coordinator requires a primary contributor")
	}
	status := map[string]Status{primary.ID(): StatusActive}
	for _, s := range secondaries {
		if s.ID() == primary.ID() {
			return nil, fmt.Errorf("duplicate contributor id %q", s.ID())
		}
		if _, dup := status[s.ID()]; dup {
			return nil, fmt.Errorf("duplicate contributor id %q", s.ID())
		}
		status[s.ID()] = StatusActive
	}
	return &Coordinator{
		primary:     primary,
		secondaries: secondaries,
		state:       state,
		cfg:         cfg,
		status:      status,
	}, nil
}

func (c *Coordinator) World() *world.State { return c.state }

func (c *Coordinator) Turn() int { return c.turn }

// PendingQueue returns the queued messages in delivery order.
func (c *Coordinator) PendingQueue() []protocol.QueuedMessage {
	out := make([]protocol.QueuedMessage, len(c.pending))
	copy(out, c.pending)
	return out
}

// Quarantined returns the quarantined contributor ids, sorted.
func (c *Coordinator) Quarantined() []string {
	var ids []string
	for id, st := range c.status {
		if st == StatusQuarantined {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// RestoreState rehydrates the coordinator from a snapshot.
func (c *Coordinator) RestoreState(turn int, pending []protocol.QueuedMessage, quarantined []string) {
	c.turn = turn
	c.pending = make([]protocol.QueuedMessage, len(pending))
	copy(c.pending, pending)
	for _, msg := range pending {
		if msg.Seq >= c.seq {
			c.seq = msg.Seq + 1
		}
	}
	for id := range c.status {
		c.status[id] = StatusActive
	}
	for _, id := range quarantined {
		if _, known := c.status[id]; known {
			c.status[id] = StatusQuarantined
		}
	}
}

// Advance runs one turn. It returns an error only when the session is no
// longer usable (corrupt world, cancelled context); contributor failures
// are absorbed into the returned event.
func (c *Coordinator) Advance(ctx context.Context, playerInput string) (*protocol.StoryEvent, error) {
	if c.cfg.TurnDeadlineMS > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(c.cfg.TurnDeadlineMS)*time.Millisecond)
		defer cancel()
	}

	c.turn++
	ctx, span := observability.Tracer().Start(ctx, observability.SpanTurn,
		trace.WithAttributes(attribute.Int(observability.AttrTurn, c.turn)))
	defer span.End()

	event, err := c.runTurn(ctx, playerInput)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	observability.GetMetrics().RecordTurn(ctx)
	return event, nil
}

func (c *Coordinator) runTurn(ctx context.Context, playerInput string) (*protocol.StoryEvent, error) {
	log := logger.GetLogger()

	// Everything up to the merged event is staged against this clone:
	// a primary failure rolls the whole turn back, pre-turn action
	// mirror included.
	preTurn := c.state.Clone()

	c.state.Memory().Append(world.EntryAction, playerInput)

	playerTrigger := protocol.Trigger{
		Kind:    protocol.TriggerPlayerInput,
		Payload: playerInput,
		Source:  PlayerSource,
		Target:  protocol.Broadcast(),
	}

	primaryDecision, err := c.dispatchPrimary(ctx, playerTrigger)
	if err != nil {
		if errors.Is(err, ErrCorruptWorld) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.state.CopyFrom(preTurn)
		log.Error("Primary contributor failed; turn rolled back",
			"contributor", c.primary.ID(), "turn", c.turn, "error", err)
		return c.errorEvent(err), nil
	}

	inboxes := c.drainTriggers()

	type contribution struct {
		id    string
		event protocol.StoryEvent
	}
	contributions := []contribution{{id: c.primary.ID(), event: primaryDecision.Event}}
	newTriggers := append([]protocol.Trigger(nil), primaryDecision.Triggers...)

	for _, secondary := range c.secondaries {
		id := secondary.ID()
		if c.status[id] != StatusActive {
			continue
		}

		inbox := c.buildInbox(secondary, playerTrigger, inboxes[id])
		if len(inbox) == 0 {
			continue
		}

		event, triggers, err := c.dispatchSecondary(ctx, secondary, inbox)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.status[id] = StatusQuarantined
			c.discardPendingFor(id)
			log.Warn("Secondary contributor quarantined",
				"contributor", id, "turn", c.turn, "error", err)
			continue
		}
		if event != nil {
			contributions = append(contributions, contribution{id: id, event: *event})
		}
		newTriggers = append(newTriggers, triggers...)
	}

	// Merge.
	var narrations []string
	var choices []protocol.Choice
	metadata := map[string]any{
		"turn":                c.turn,
		"primary_location":    c.state.Location(),
		"active_contributors": c.activeIDs(),
	}
	if quarantined := c.Quarantined(); len(quarantined) > 0 {
		metadata["quarantined"] = quarantined
	}
	for _, contrib := range contributions {
		if contrib.event.Narration != "" {
			narrations = append(narrations, contrib.event.Narration)
		}
		choices = append(choices, contrib.event.Choices...)
		if len(contrib.event.Metadata) > 0 {
			metadata[contrib.id] = contrib.event.Metadata
		}
	}

	merged := &protocol.StoryEvent{
		Narration: strings.Join(narrations, c.cfg.Separator),
		Choices:   protocol.DedupeChoices(choices),
		Metadata:  metadata,
	}

	c.enqueue(newTriggers)

	c.state.Memory().Append(world.EntryObservation, merged.Narration)

	return merged, nil
}

func (c *Coordinator) dispatchPrimary(ctx context.Context, trigger protocol.Trigger) (*Decision, error) {
	ctx, span := observability.Tracer().Start(ctx, observability.SpanDispatch,
		trace.WithAttributes(attribute.String(observability.AttrContributor, c.primary.ID())))
	defer span.End()

	decision, err := c.primary.RespondMutating(ctx, trigger, c.state)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if decision == nil {
		return nil, fmt.Errorf("primary contributor %q returned no decision", c.primary.ID())
	}
	return decision, nil
}

// dispatchSecondary runs one contributor's inbox sequentially. Its
// narrations are folded into a single contribution; all returned triggers
// are collected.
func (c *Coordinator) dispatchSecondary(ctx context.Context, contributor Contributor, inbox []protocol.Trigger) (*protocol.StoryEvent, []protocol.Trigger, error) {
	ctx, span := observability.Tracer().Start(ctx, observability.SpanDispatch,
		trace.WithAttributes(attribute.String(observability.AttrContributor, contributor.ID())))
	defer span.End()

	var narrations []string
	var choices []protocol.Choice
	metadata := map[string]any{}
	var triggers []protocol.Trigger
	produced := false

	for _, trigger := range inbox {
		decision, err := c.respondWithPolicy(ctx, contributor, trigger)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, nil, err
		}
		if decision == nil {
			continue
		}
		if decision.Event.Narration != "" {
			narrations = append(narrations, decision.Event.Narration)
			produced = true
		}
		if len(decision.Event.Choices) > 0 {
			choices = append(choices, decision.Event.Choices...)
			produced = true
		}
		for k, v := range decision.Event.Metadata {
			metadata[k] = v
			produced = true
		}
		triggers = append(triggers, decision.Triggers...)
	}

	if !produced {
		return nil, triggers, nil
	}
	return &protocol.StoryEvent{
		Narration: strings.Join(narrations, c.cfg.Separator),
		Choices:   choices,
		Metadata:  metadata,
	}, triggers, nil
}

// respondWithPolicy applies the isolation policy: under retry, one failed
// call gets a single immediate second chance.
func (c *Coordinator) respondWithPolicy(ctx context.Context, contributor Contributor, trigger protocol.Trigger) (*Decision, error) {
	decision, err := contributor.Respond(ctx, trigger, c.state)
	if err == nil || c.cfg.IsolationPolicy != config.IsolationRetry || ctx.Err() != nil {
		return decision, err
	}
	logger.GetLogger().Debug("Retrying failed contributor",
		"contributor", contributor.ID(), "error", err)
	return contributor.Respond(ctx, trigger, c.state)
}

// drainTriggers removes the deliverable messages from the pending queue and
// groups them per target, preserving FIFO order. A message enqueued on turn
// T becomes deliverable on turn T+1.
func (c *Coordinator) drainTriggers() map[string][]protocol.Trigger {
	inboxes := make(map[string][]protocol.Trigger)
	var still []protocol.QueuedMessage

	for _, msg := range c.pending {
		if msg.EnqueuedTurn+1 > c.turn {
			still = append(still, msg)
			continue
		}
		// Undeliverable messages (unknown or quarantined target) are
		// dropped, not requeued.
		for _, secondary := range c.secondaries {
			id := secondary.ID()
			if c.status[id] != StatusActive {
				continue
			}
			if msg.Trigger.Target.Matches(id, msg.Trigger.Source) {
				inboxes[id] = append(inboxes[id], msg.Trigger)
				if !msg.Trigger.Target.IsBroadcast() {
					break
				}
			}
		}
	}

	c.pending = still
	return inboxes
}

// buildInbox assembles a secondary's triggers for this turn: the player
// input first (when subscribed), then its queued messages in FIFO order.
func (c *Coordinator) buildInbox(contributor Contributor, playerTrigger protocol.Trigger, queued []protocol.Trigger) []protocol.Trigger {
	var inbox []protocol.Trigger
	if contributor.Capabilities().SubscribesToPlayerInput {
		inbox = append(inbox, playerTrigger)
	}
	return append(inbox, queued...)
}

// enqueue stamps and appends new triggers. Insertion order is preserved:
// triggers from earlier contributors precede later ones.
func (c *Coordinator) enqueue(triggers []protocol.Trigger) {
	for _, trigger := range triggers {
		c.pending = append(c.pending, protocol.QueuedMessage{
			Trigger:      trigger,
			EnqueuedTurn: c.turn,
			Seq:          c.seq,
		})
		c.seq++
	}
}

func (c *Coordinator) discardPendingFor(id string) {
	var still []protocol.QueuedMessage
	for _, msg := range c.pending {
		if !msg.Trigger.Target.IsBroadcast() && msg.Trigger.Target.ID == id {
			continue
		}
		still = append(still, msg)
	}
	c.pending = still
}

func (c *Coordinator) activeIDs() []string {
	ids := []string{c.primary.ID()}
	for _, s := range c.secondaries {
		if c.status[s.ID()] == StatusActive {
			ids = append(ids, s.ID())
		}
	}
	return ids
}

// errorEvent is returned in place of a merged event when the primary fails;
// the session stays usable.
func (c *Coordinator) errorEvent(err error) *protocol.StoryEvent {
	return &protocol.StoryEvent{
		Narration: "The story falters for a moment. Try again.",
		Metadata: map[string]any{
			"turn":        c.turn,
			"error":       err.Error(),
			"contributor": c.primary.ID(),
		},
	}
}
