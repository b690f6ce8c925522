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

// Package protocol defines the wire-level value types shared by the scene
// machine, the coordinator, and every contributor: story events, choices,
// triggers, and queued inter-contributor messages.
package protocol

import "strings"

// TriggerKind identifies why a contributor is being invoked.
type TriggerKind string

const (
	TriggerPlayerInput  TriggerKind = "player_input"
	TriggerAgentMessage TriggerKind = "agent_message"
	TriggerSystem       TriggerKind = "system"
)

// TargetKind discriminates trigger addressing.
type TargetKind string

const (
	TargetBroadcast TargetKind = "broadcast"
	TargetSpecific  TargetKind = "specific"
)

// Target addresses a trigger: either every contributor except the source, or
// exactly one contributor by id.
type Target struct {
	Kind TargetKind `json:"kind"`
	ID   string     `json:"id,omitempty"`
}

// Broadcast addresses every contributor except the trigger's source.
func Broadcast() Target {
	return Target{Kind: TargetBroadcast}
}

// To addresses a single contributor by id.
func To(id string) Target {
	return Target{Kind: TargetSpecific, ID: id}
}

func (t Target) IsBroadcast() bool {
	return t.Kind == TargetBroadcast || t.Kind == ""
}

// Matches reports whether a contributor should receive a trigger carrying
// this target, given the trigger's source.
func (t Target) Matches(contributorID, sourceID string) bool {
	if t.IsBroadcast() {
		return contributorID != sourceID
	}
	return t.ID == contributorID
}

// Trigger is a message that causes a contributor to be invoked on a turn.
type Trigger struct {
	Kind     TriggerKind    `json:"kind"`
	Payload  string         `json:"payload,omitempty"`
	Source   string         `json:"source_agent,omitempty"`
	Target   Target         `json:"target_agent"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// QueuedMessage is a trigger held in the coordinator's pending queue, stamped
// with the turn on which it was enqueued and a global sequence number.
type QueuedMessage struct {
	Trigger      Trigger `json:"trigger"`
	EnqueuedTurn int     `json:"enqueued_turn"`
	Seq          uint64  `json:"seq"`
}

// Choice is a player-facing command with its description.
type Choice struct {
	Command     string `json:"command"`
	Description string `json:"description"`
}

// StoryEvent is one contributor's (or the merged turn's) output.
type StoryEvent struct {
	Narration string         `json:"narration"`
	Choices   []Choice       `json:"choices,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// NormalizeCommand lowercases and trims a player command.
func NormalizeCommand(command string) string {
	return strings.ToLower(strings.TrimSpace(command))
}

// DedupeChoices removes duplicate choices, keyed by lowercased command,
// keeping the first occurrence.
func DedupeChoices(choices []Choice) []Choice {
	seen := make(map[string]struct{}, len(choices))
	out := make([]Choice, 0, len(choices))
	for _, c := range choices {
		key := strings.ToLower(c.Command)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, c)
	}
	return out
}
