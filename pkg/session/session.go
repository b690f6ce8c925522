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

// Package session is the driver-facing surface: it wires a scene source,
// the scripted engine, and any model-backed contributors into one turn
// loop, and owns snapshot/restore.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/taleweave/taleweave/pkg/agent"
	"github.com/taleweave/taleweave/pkg/agent/llmagent"
	"github.com/taleweave/taleweave/pkg/config"
	"github.com/taleweave/taleweave/pkg/engine"
	"github.com/taleweave/taleweave/pkg/llms"
	"github.com/taleweave/taleweave/pkg/protocol"
	"github.com/taleweave/taleweave/pkg/scene"
	"github.com/taleweave/taleweave/pkg/tool"
	"github.com/taleweave/taleweave/pkg/world"
)

type Session struct {
	id          string
	cfg         *config.Config
	scenes      scene.Source
	pin         *scene.Pin
	coordinator *agent.Coordinator
	state       *world.State
	capturedAt  time.Time
}

type Option func(*options)

type options struct {
	id          string
	secondaries []agent.Contributor
	clients     *llms.Registry
}

// WithID fixes the session id instead of generating one.
func WithID(id string) Option {
	return func(o *options) { o.id = id }
}

// WithSecondaries injects pre-built secondary contributors, bypassing the
// config-driven LLM contributor construction.
func WithSecondaries(secondaries ...agent.Contributor) Option {
	return func(o *options) { o.secondaries = secondaries }
}

// WithClients shares a provider client registry across sessions.
func WithClients(clients *llms.Registry) Option {
	return func(o *options) { o.clients = clients }
}

// New builds a session positioned at the configured start scene.
func New(cfg *config.Config, scenes scene.Source, opts ...Option) (*Session, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	// Contributors read scenes through the pin, so every participant of a
	// turn resolves against the same repository even when the watcher swaps
	// the underlying store mid-turn. Advance refreshes it per turn.
	pin := scene.NewPin(scenes)
	repo := pin.Current()
	start := cfg.Scenes.StartScene
	if start == "" {
		start = repo.StartScene()
	}
	if _, ok := repo.Get(start); !ok {
		return nil, fmt.Errorf("start scene %q is not in the scene graph", start)
	}

	state := world.NewState(start, cfg.Actor, cfg.Memory.Capacity)

	tools := tool.NewRegistry()
	if err := tool.RegisterBuiltins(tools, pin); err != nil {
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}

	primary := engine.New(pin, tools)

	secondaries := o.secondaries
	if secondaries == nil {
		built, err := buildContributors(cfg, pin, o.clients)
		if err != nil {
			return nil, err
		}
		secondaries = built
	}

	coordinator, err := agent.NewCoordinator(primary, secondaries, state, cfg.Coordinator)
	if err != nil {
		return nil, err
	}

	id := o.id
	if id == "" {
		id = uuid.NewString()
	}

	return &Session{
		id:          id,
		cfg:         cfg,
		scenes:      scenes,
		pin:         pin,
		coordinator: coordinator,
		state:       state,
		capturedAt:  time.Now().UTC(),
	}, nil
}

// buildContributors constructs the configured LLM contributors, one
// provider client each unless a shared registry already holds one.
func buildContributors(cfg *config.Config, scenes scene.Source, clients *llms.Registry) ([]agent.Contributor, error) {
	var secondaries []agent.Contributor
	for i := range cfg.Contributors {
		cc := cfg.Contributors[i]

		var client llms.Client
		if clients != nil {
			if existing, ok := clients.Get(cc.Name); ok {
				client = existing
			} else {
				registered, err := clients.RegisterClient(cc.Name, &cc.Provider)
				if err != nil {
					return nil, fmt.Errorf("contributor %q: %w", cc.Name, err)
				}
				client = registered
			}
		} else {
			built, err := llms.NewFromConfig(&cc.Provider)
			if err != nil {
				return nil, fmt.Errorf("contributor %q: %w", cc.Name, err)
			}
			client = built
		}

		secondaries = append(secondaries, llmagent.New(cc, client, scenes, cfg.Memory))
	}
	return secondaries, nil
}

func (s *Session) ID() string { return s.id }

func (s *Session) World() *world.State { return s.state }

func (s *Session) Turn() int { return s.coordinator.Turn() }

// Advance runs one turn against the coordinator. The newest scene graph is
// pinned for the whole turn; a reload landing mid-turn takes effect on the
// next one.
func (s *Session) Advance(ctx context.Context, input string) (*protocol.StoryEvent, error) {
	s.pin.Refresh()
	event, err := s.coordinator.Advance(ctx, input)
	if err != nil {
		return nil, err
	}
	s.capturedAt = time.Now().UTC()
	return event, nil
}

// Look re-emits the current scene without consuming a turn.
func (s *Session) Look(ctx context.Context) (*protocol.StoryEvent, error) {
	repo := s.scenes.Current()
	sc, ok := repo.Get(s.state.Location())
	if !ok {
		return nil, fmt.Errorf("location %q not in scene graph: %w", s.state.Location(), agent.ErrCorruptWorld)
	}
	return &protocol.StoryEvent{
		Narration: sc.Description,
		Choices:   sc.Choices,
		Metadata:  map[string]any{engine.MetaLocation: sc.ID},
	}, nil
}
