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

// Package scene loads and validates JSON scene graphs and exposes them as an
// immutable repository. Validation is total and eager: a load either yields a
// fully typed document or a ValidationError listing every violation.
package scene

import (
	"github.com/taleweave/taleweave/pkg/protocol"
)

// Scene is one node of the scene graph.
type Scene struct {
	ID          string                `json:"-"`
	Description string                `json:"description"`
	Choices     []protocol.Choice     `json:"choices"`
	Transitions map[string]Transition `json:"transitions,omitempty"`

	// Extra preserves unknown fields in lenient mode.
	Extra map[string]any `json:"-"`
}

// Transition is one edge: what happens when the player issues a command in
// this scene.
type Transition struct {
	Narration string `json:"narration"`

	// Target is the destination scene. Empty means remain in place.
	Target string `json:"target,omitempty"`

	// Item is granted on success. Grants are idempotent.
	Item string `json:"item,omitempty"`

	// Requires must all be held for the transition to fire.
	Requires []string `json:"requires,omitempty"`

	// Consumes are removed on success.
	Consumes []string `json:"consumes,omitempty"`

	// FailureNarration is shown when Requires is not satisfied.
	FailureNarration string `json:"failure_narration,omitempty"`

	// Records are appended to history on success.
	Records []string `json:"records,omitempty"`

	// Overrides conditionally replace the base narration; first match wins.
	Overrides []NarrationOverride `json:"narration_overrides,omitempty"`
}

// NarrationOverride replaces the base narration when all of its filters pass.
// A missing filter is vacuously true; an empty _any filter is vacuously false.
type NarrationOverride struct {
	Narration string `json:"narration"`

	RequiresHistoryAll []string `json:"requires_history_all,omitempty"`
	RequiresHistoryAny []string `json:"requires_history_any,omitempty"`
	ForbidsHistoryAny  []string `json:"forbids_history_any,omitempty"`

	RequiresInventoryAll []string `json:"requires_inventory_all,omitempty"`
	RequiresInventoryAny []string `json:"requires_inventory_any,omitempty"`
	ForbidsInventoryAny  []string `json:"forbids_inventory_any,omitempty"`

	// Records are appended to history only if this override fires.
	Records []string `json:"records,omitempty"`
}

// Envelope is the v2 scene document wrapper. v1 documents are a flat
// scene-id → scene map and are normalised into this form on load.
type Envelope struct {
	SchemaVersion int               `json:"schema_version"`
	StartScene    string            `json:"start_scene,omitempty"`
	GeneratedAt   string            `json:"generated_at,omitempty"`
	VersionID     string            `json:"version_id,omitempty"`
	Checksum      string            `json:"checksum,omitempty"`
	Lore          map[string]string `json:"lore,omitempty"`
	Scenes        map[string]Scene  `json:"scenes"`
}

// Builtin commands are handled by the engine itself and need no scene-level
// transition entry.
var builtinCommands = map[string]struct{}{
	"look":      {},
	"inventory": {},
	"journal":   {},
	"history":   {},
	"recall":    {},
	"help":      {},
	"status":    {},
	"save":      {},
	"load":      {},
	"tutorial":  {},
	"quit":      {},
}

// IsBuiltinCommand reports whether cmd is handled by the engine without a
// scene transition.
func IsBuiltinCommand(cmd string) bool {
	_, ok := builtinCommands[cmd]
	return ok
}
