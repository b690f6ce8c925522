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

// Package tool defines read-only world commands that narrate without
// mutating state. Built-ins like "look" and "inventory" live here, as does
// the lore lookup backed by the scene document.
package tool

import (
	"context"

	"github.com/taleweave/taleweave/pkg/registry"
	"github.com/taleweave/taleweave/pkg/world"
)

// Result is the outcome of running a tool.
type Result struct {
	// Narration is the player-facing text.
	Narration string `json:"narration"`

	// OK is false when the tool could not serve the request (unknown lore
	// topic, empty journal). The narration still explains what happened.
	OK bool `json:"ok"`

	Metadata map[string]any `json:"metadata,omitempty"`
}

// Tool answers a read-only command against the current world view. Tools
// must not retain the view past the call.
type Tool interface {
	Name() string
	Description() string
	Run(ctx context.Context, arg string, view world.View) (Result, error)
}

// Registry holds the tools available to the scene engine.
type Registry struct {
	*registry.BaseRegistry[Tool]
}

func NewRegistry() *Registry {
	return &Registry{BaseRegistry: registry.NewBaseRegistry[Tool]()}
}

// RegisterTool adds a tool under its own name.
func (r *Registry) RegisterTool(t Tool) error {
	return r.Register(t.Name(), t)
}
