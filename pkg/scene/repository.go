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

package scene

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync/atomic"
	"time"
)

// Repository is an immutable, validated scene graph. All accessors are safe
// for concurrent use because nothing mutates after construction.
type Repository struct {
	envelope   *Envelope
	startScene string
	loadedAt   time.Time
}

// ParseOptions control document decoding.
type ParseOptions struct {
	// Strict rejects unknown fields anywhere in the document.
	Strict bool

	// StartScene overrides the document's own start_scene. Required for v1
	// documents, which carry none.
	StartScene string
}

// Parse decodes, validates, and freezes a scene document.
func Parse(data []byte, opts ParseOptions) (*Repository, error) {
	env, err := parseDocument(data, opts.Strict)
	if err != nil {
		return nil, err
	}

	start := opts.StartScene
	if start == "" {
		start = env.StartScene
	}
	if start == "" {
		return nil, fmt.Errorf("no start scene: document declares none and none was configured")
	}
	if _, ok := env.Scenes[start]; !ok {
		return nil, fmt.Errorf("start scene %q is not defined in the document", start)
	}

	return &Repository{
		envelope:   env,
		startScene: start,
		loadedAt:   time.Now(),
	}, nil
}

// Load reads and parses a scene document from disk.
func Load(path string, opts ParseOptions) (*Repository, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scene file %s: %w", path, err)
	}
	repo, err := Parse(data, opts)
	if err != nil {
		return nil, fmt.Errorf("scene file %s: %w", path, err)
	}
	return repo, nil
}

// Get returns the scene with the given id.
func (r *Repository) Get(id string) (Scene, bool) {
	sc, ok := r.envelope.Scenes[id]
	return sc, ok
}

// StartScene is the configured entry point of the graph.
func (r *Repository) StartScene() string {
	return r.startScene
}

// SceneIDs returns every scene id in sorted order.
func (r *Repository) SceneIDs() []string {
	return sortedSceneIDs(r.envelope.Scenes)
}

// Len is the number of scenes in the graph.
func (r *Repository) Len() int {
	return len(r.envelope.Scenes)
}

// Lore returns the document's lore table, keyed by topic.
func (r *Repository) Lore() map[string]string {
	return r.envelope.Lore
}

// VersionID identifies the document revision, when the authoring pipeline
// stamped one.
func (r *Repository) VersionID() string {
	return r.envelope.VersionID
}

// Checksum returns the sha256 content hash of the scene map.
func (r *Repository) Checksum() string {
	if r.envelope.Checksum != "" {
		return r.envelope.Checksum
	}
	return ChecksumScenes(r.envelope.Scenes)
}

// LoadedAt is when this repository was constructed.
func (r *Repository) LoadedAt() time.Time {
	return r.loadedAt
}

// Current satisfies Source, so a bare Repository can stand in wherever a
// reloadable Store is accepted.
func (r *Repository) Current() *Repository {
	return r
}

type envelopeDoc struct {
	SchemaVersion int                        `json:"schema_version"`
	StartScene    string                     `json:"start_scene"`
	GeneratedAt   string                     `json:"generated_at,omitempty"`
	VersionID     string                     `json:"version_id,omitempty"`
	Checksum      string                     `json:"checksum,omitempty"`
	Lore          map[string]string          `json:"lore,omitempty"`
	Scenes        map[string]json.RawMessage `json:"scenes"`
}

// Envelope serialises the repository as a v2 envelope document. Fields
// preserved in lenient mode are folded back into their scenes and the
// canonical checksum is stamped, so a document loaded through either schema
// parses back to an equivalent repository.
func (r *Repository) Envelope() ([]byte, error) {
	scenes := make(map[string]json.RawMessage, len(r.envelope.Scenes))
	for id, sc := range r.envelope.Scenes {
		data, err := encodeScene(sc)
		if err != nil {
			return nil, fmt.Errorf("failed to serialise scene %q: %w", id, err)
		}
		scenes[id] = data
	}
	return json.MarshalIndent(envelopeDoc{
		SchemaVersion: 2,
		StartScene:    r.startScene,
		GeneratedAt:   r.envelope.GeneratedAt,
		VersionID:     r.envelope.VersionID,
		Checksum:      ChecksumScenes(r.envelope.Scenes),
		Lore:          r.envelope.Lore,
		Scenes:        scenes,
	}, "", "  ")
}

// encodeScene marshals a scene with its preserved unknown fields merged back
// in. Typed fields win on key collision.
func encodeScene(sc Scene) (json.RawMessage, error) {
	data, err := json.Marshal(sc)
	if err != nil {
		return nil, err
	}
	if len(sc.Extra) == 0 {
		return data, nil
	}
	merged := make(map[string]any, len(sc.Extra))
	for k, v := range sc.Extra {
		merged[k] = v
	}
	var typed map[string]any
	if err := json.Unmarshal(data, &typed); err != nil {
		return nil, err
	}
	for k, v := range typed {
		merged[k] = v
	}
	return json.Marshal(merged)
}

// Source yields the current scene repository. A Store swaps repositories on
// reload; a Repository always returns itself.
type Source interface {
	Current() *Repository
}

// ChecksumScenes computes the canonical sha256 hash of a scene map: scenes
// are serialised in sorted id order so the hash is stable across loads.
func ChecksumScenes(scenes map[string]Scene) string {
	h := sha256.New()
	ids := make([]string, 0, len(scenes))
	for id := range scenes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		h.Write([]byte(id))
		h.Write([]byte{0})
		data, err := json.Marshal(scenes[id])
		if err != nil {
			continue
		}
		h.Write(data)
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Store holds the live repository for a scene file and can swap it on
// reload. Readers always see a complete, validated graph: a failed reload
// leaves the previous repository in place.
type Store struct {
	path    string
	opts    ParseOptions
	current atomic.Pointer[Repository]
	modTime atomic.Int64
}

// NewStore loads path and wraps the result in a reloadable store.
func NewStore(path string, opts ParseOptions) (*Store, error) {
	repo, err := Load(path, opts)
	if err != nil {
		return nil, err
	}
	s := &Store{path: path, opts: opts}
	s.current.Store(repo)
	if info, err := os.Stat(path); err == nil {
		s.modTime.Store(info.ModTime().UnixNano())
	}
	return s, nil
}

// Current returns the live repository.
func (s *Store) Current() *Repository {
	return s.current.Load()
}

// Path is the backing scene file.
func (s *Store) Path() string {
	return s.path
}

// Reload re-reads the backing file and swaps in the new repository. On
// error the previous repository stays live.
func (s *Store) Reload() error {
	repo, err := Load(s.path, s.opts)
	if err != nil {
		return err
	}
	s.current.Store(repo)
	if info, err := os.Stat(s.path); err == nil {
		s.modTime.Store(info.ModTime().UnixNano())
	}
	return nil
}

// Pin holds one repository steady while the underlying source may be swapped
// by a reload. Every reader of a Pin sees the same graph until Refresh, which
// is how a turn in progress is insulated from a mid-turn reload: refresh once
// at the start of the turn, and all participants resolve against that
// repository.
type Pin struct {
	source Source
	pinned atomic.Pointer[Repository]
}

func NewPin(source Source) *Pin {
	p := &Pin{source: source}
	p.pinned.Store(source.Current())
	return p
}

// Current returns the pinned repository.
func (p *Pin) Current() *Repository {
	return p.pinned.Load()
}

// Refresh re-reads the underlying source and pins whatever it holds now.
func (p *Pin) Refresh() *Repository {
	repo := p.source.Current()
	p.pinned.Store(repo)
	return repo
}

// ReloadIfChanged reloads only when the file's mtime moved since the last
// successful load. Returns whether a reload happened.
func (s *Store) ReloadIfChanged() (bool, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		return false, fmt.Errorf("failed to stat scene file %s: %w", s.path, err)
	}
	if info.ModTime().UnixNano() == s.modTime.Load() {
		return false, nil
	}
	if err := s.Reload(); err != nil {
		return false, err
	}
	return true, nil
}
