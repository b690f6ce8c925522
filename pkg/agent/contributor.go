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

// Package agent coordinates the turn protocol across story contributors: the
// scripted scene engine as primary plus any number of model-backed
// secondaries. One turn in, one merged story event out.
package agent

import (
	"context"
	"errors"

	"github.com/taleweave/taleweave/pkg/protocol"
	"github.com/taleweave/taleweave/pkg/world"
)

// ErrCorruptWorld marks a failure that may have left the shared world state
// inconsistent. The coordinator aborts the session rather than roll forward.
var ErrCorruptWorld = errors.New("world state may be corrupt")

// Capabilities declare how the coordinator treats a contributor.
type Capabilities struct {
	// Primary contributors drive the story: their narration leads the
	// merged event, their failure fails the turn. Exactly one per session.
	Primary bool

	// SubscribesToPlayerInput delivers the turn's player-input trigger.
	// Non-subscribing secondaries only see addressed agent messages.
	SubscribesToPlayerInput bool
}

// Decision is what a contributor returns for one trigger.
type Decision struct {
	Event protocol.StoryEvent

	// Triggers are follow-up messages for other contributors, delivered
	// no earlier than the next turn.
	Triggers []protocol.Trigger
}

// Contributor is one voice in the story. Respond must not retain view past
// the call; only the primary receives a mutable world.
type Contributor interface {
	ID() string
	Capabilities() Capabilities
	Respond(ctx context.Context, trigger protocol.Trigger, view world.View) (*Decision, error)
}

// MutatingContributor is the extended surface of the primary: it receives
// the authoritative world state and may mutate it.
type MutatingContributor interface {
	Contributor
	RespondMutating(ctx context.Context, trigger protocol.Trigger, state *world.State) (*Decision, error)
}
