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

// Package config defines the runtime configuration surface. Every config
// struct follows the same convention: SetDefaults applies defaults in place,
// Validate reports the first violation.
package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration document.
type Config struct {
	Scenes       SceneConfig         `yaml:"scenes"`
	Memory       MemoryConfig        `yaml:"memory"`
	Coordinator  CoordinatorConfig   `yaml:"coordinator"`
	Contributors []ContributorConfig `yaml:"contributors,omitempty"`
	Logger       LoggerConfig        `yaml:"logger"`
	Server       ServerConfig        `yaml:"server"`
	Snapshots    SnapshotStoreConfig `yaml:"snapshots"`

	// Actor is the player identifier stamped into new sessions.
	Actor string `yaml:"actor,omitempty"`
}

func (c *Config) SetDefaults() {
	if c.Actor == "" {
		c.Actor = "player"
	}
	c.Scenes.SetDefaults()
	c.Memory.SetDefaults()
	c.Coordinator.SetDefaults()
	for i := range c.Contributors {
		c.Contributors[i].SetDefaults()
	}
	c.Logger.SetDefaults()
	c.Server.SetDefaults()
	c.Snapshots.SetDefaults()
}

func (c *Config) Validate() error {
	if err := c.Scenes.Validate(); err != nil {
		return fmt.Errorf("scenes: %w", err)
	}
	if err := c.Memory.Validate(); err != nil {
		return fmt.Errorf("memory: %w", err)
	}
	if err := c.Coordinator.Validate(); err != nil {
		return fmt.Errorf("coordinator: %w", err)
	}
	seen := map[string]bool{}
	for i := range c.Contributors {
		if err := c.Contributors[i].Validate(); err != nil {
			return fmt.Errorf("contributors[%d]: %w", i, err)
		}
		if seen[c.Contributors[i].Name] {
			return fmt.Errorf("contributors[%d]: duplicate name %q", i, c.Contributors[i].Name)
		}
		seen[c.Contributors[i].Name] = true
	}
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := c.Snapshots.Validate(); err != nil {
		return fmt.Errorf("snapshots: %w", err)
	}
	return nil
}

// YAML renders the config for `taleweave config show`.
func (c *Config) YAML() (string, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to marshal config: %w", err)
	}
	return string(out), nil
}

// MemoryConfig bounds the rolling memory log and its default prompt windows.
type MemoryConfig struct {
	// Capacity is the maximum number of retained memory entries.
	Capacity int `yaml:"capacity,omitempty"`

	// DefaultActionWindow is the default last-N actions slice for prompts.
	DefaultActionWindow int `yaml:"default_action_window,omitempty"`

	// DefaultObservationWindow is the default last-N observations slice.
	DefaultObservationWindow int `yaml:"default_observation_window,omitempty"`
}

func (c *MemoryConfig) SetDefaults() {
	if c.Capacity == 0 {
		c.Capacity = 256
	}
	if c.DefaultActionWindow == 0 {
		c.DefaultActionWindow = 8
	}
	if c.DefaultObservationWindow == 0 {
		c.DefaultObservationWindow = 8
	}
}

func (c *MemoryConfig) Validate() error {
	if c.Capacity < 0 {
		return fmt.Errorf("capacity cannot be negative")
	}
	if c.DefaultActionWindow < 0 || c.DefaultObservationWindow < 0 {
		return fmt.Errorf("memory windows cannot be negative")
	}
	return nil
}

// IsolationPolicy controls what happens to a secondary contributor that
// fails during dispatch.
type IsolationPolicy string

const (
	IsolationQuarantine IsolationPolicy = "quarantine"
	IsolationRetry      IsolationPolicy = "retry"
)

// CoordinatorConfig tunes the turn loop.
type CoordinatorConfig struct {
	// TurnDeadlineMS caps total turn time. Zero disables the deadline.
	TurnDeadlineMS int `yaml:"turn_deadline_ms,omitempty"`

	// IsolationPolicy is quarantine (default) or retry.
	IsolationPolicy IsolationPolicy `yaml:"isolation_policy,omitempty"`

	// Separator joins contributor narrations in the merged event.
	Separator string `yaml:"separator,omitempty"`
}

func (c *CoordinatorConfig) SetDefaults() {
	if c.IsolationPolicy == "" {
		c.IsolationPolicy = IsolationQuarantine
	}
	if c.Separator == "" {
		c.Separator = "\n\n"
	}
}

func (c *CoordinatorConfig) Validate() error {
	switch c.IsolationPolicy {
	case IsolationQuarantine, IsolationRetry:
	default:
		return fmt.Errorf("invalid isolation_policy %q (valid: quarantine, retry)", c.IsolationPolicy)
	}
	if c.TurnDeadlineMS < 0 {
		return fmt.Errorf("turn_deadline_ms cannot be negative")
	}
	return nil
}

// BoolPtr returns a pointer to b. Helper for optional config fields.
func BoolPtr(b bool) *bool { return &b }

// Float64Ptr returns a pointer to f.
func Float64Ptr(f float64) *float64 { return &f }
