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

// Package world holds the authoritative per-session context: location,
// inventory, history, and the rolling memory log. It is mutated only through
// its own operations; one State exists per session.
package world

import (
	"maps"
	"slices"
	"sort"
)

// View is the read-only surface handed to tools and secondary contributors.
type View interface {
	Location() string
	Actor() string
	Has(item string) bool
	Inventory() []string
	History() []string
	HasHistory(entry string) bool
	MemorySlice(req MemoryRequest) MemorySlice
}

// State is the mutable session world.
type State struct {
	location  string
	actor     string
	inventory map[string]struct{}
	history   []string
	memory    *MemoryLog
}

// NewState creates a session world at the given starting location.
func NewState(startLocation, actor string, memoryCapacity int) *State {
	return &State{
		location:  startLocation,
		actor:     actor,
		inventory: make(map[string]struct{}),
		memory:    NewMemoryLog(memoryCapacity),
	}
}

func (s *State) Location() string { return s.location }

func (s *State) Actor() string { return s.actor }

// MoveTo sets the current location. Callers are responsible for ensuring the
// target is known to the active scene repository.
func (s *State) MoveTo(sceneID string) {
	s.location = sceneID
}

// Has reports whether the item is held.
func (s *State) Has(item string) bool {
	_, ok := s.inventory[item]
	return ok
}

// Missing returns, in input order, the items from the list that are not held.
func (s *State) Missing(items []string) []string {
	var missing []string
	for _, item := range items {
		if !s.Has(item) {
			missing = append(missing, item)
		}
	}
	return missing
}

// Grant adds an item. Adding an already-held item is a no-op; the return
// value reports whether inventory changed.
func (s *State) Grant(item string) bool {
	if _, held := s.inventory[item]; held {
		return false
	}
	s.inventory[item] = struct{}{}
	return true
}

// Consume removes an item, reporting whether it was held.
func (s *State) Consume(item string) bool {
	if _, held := s.inventory[item]; !held {
		return false
	}
	delete(s.inventory, item)
	return true
}

// Inventory returns the held items, sorted.
func (s *State) Inventory() []string {
	items := make([]string, 0, len(s.inventory))
	for item := range s.inventory {
		items = append(items, item)
	}
	sort.Strings(items)
	return items
}

// Record appends an entry to the history. History is append-only.
func (s *State) Record(entry string) {
	s.history = append(s.history, entry)
}

// History returns a copy of the history, insertion order preserved.
func (s *State) History() []string {
	return slices.Clone(s.history)
}

// HasHistory reports whether the exact entry appears in the history.
func (s *State) HasHistory(entry string) bool {
	return slices.Contains(s.history, entry)
}

// Memory returns the session memory log.
func (s *State) Memory() *MemoryLog { return s.memory }

// MemorySlice applies a MemoryRequest against the log.
func (s *State) MemorySlice(req MemoryRequest) MemorySlice {
	return s.memory.Slice(req)
}

// Restore overwrites the state from snapshot components.
func (s *State) Restore(location string, inventory []string, history []string, memory []Entry) {
	s.location = location
	s.inventory = make(map[string]struct{}, len(inventory))
	for _, item := range inventory {
		s.inventory[item] = struct{}{}
	}
	s.history = slices.Clone(history)
	s.memory.Restore(memory)
}

// Clone returns a deep, independent copy used for pre-turn rollback.
func (s *State) Clone() *State {
	return &State{
		location:  s.location,
		actor:     s.actor,
		inventory: maps.Clone(s.inventory),
		history:   slices.Clone(s.history),
		memory:    s.memory.Clone(),
	}
}

// CopyFrom overwrites this state with the contents of other. Used to commit
// a staged transition or to roll back to a pre-turn clone.
func (s *State) CopyFrom(other *State) {
	s.location = other.location
	s.actor = other.actor
	s.inventory = maps.Clone(other.inventory)
	s.history = slices.Clone(other.history)
	s.memory = other.memory.Clone()
}

var _ View = (*State)(nil)
