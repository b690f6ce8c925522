package session

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/taleweave/taleweave/pkg/protocol"
	"github.com/taleweave/taleweave/pkg/scene"
	"github.com/taleweave/taleweave/pkg/world"

	"github.com/taleweave/taleweave/pkg/config"
)

// SnapshotSchemaVersion is the current snapshot document version.
const SnapshotSchemaVersion = 1

type snapshotDoc struct {
	SchemaVersion int              `json:"schema_version"`
	CapturedAt    time.Time        `json:"captured_at"`
	World         worldSnapshot    `json:"world"`
	Coordinator   coordinatorState `json:"coordinator"`
}

type worldSnapshot struct {
	Location  string         `json:"location"`
	Inventory []string       `json:"inventory"`
	History   []string       `json:"history"`
	Memory    memorySnapshot `json:"memory"`
}

type memorySnapshot struct {
	Entries []world.Entry `json:"entries"`
}

type coordinatorState struct {
	Turn         int                      `json:"turn"`
	PendingQueue []protocol.QueuedMessage `json:"pending_queue"`
	Quarantined  []string                 `json:"quarantined"`
}

// Snapshot serialises the session. Serialisation is deterministic, so
// snapshotting an unchanged session yields byte-identical output.
func (s *Session) Snapshot() ([]byte, error) {
	doc := snapshotDoc{
		SchemaVersion: SnapshotSchemaVersion,
		CapturedAt:    s.capturedAt,
		World: worldSnapshot{
			Location:  s.state.Location(),
			Inventory: s.state.Inventory(),
			History:   s.state.History(),
			Memory:    memorySnapshot{Entries: s.state.Memory().Entries()},
		},
		Coordinator: coordinatorState{
			Turn:         s.coordinator.Turn(),
			PendingQueue: s.coordinator.PendingQueue(),
			Quarantined:  s.coordinator.Quarantined(),
		},
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return data, nil
}

// Restore builds a fresh session from a snapshot. The snapshot's location
// must exist in the active scene graph.
func Restore(cfg *config.Config, scenes scene.Source, data []byte, opts ...Option) (*Session, error) {
	var doc snapshotDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("malformed snapshot: %w", err)
	}
	if doc.SchemaVersion != SnapshotSchemaVersion {
		return nil, fmt.Errorf("unsupported snapshot schema version %d", doc.SchemaVersion)
	}
	if _, ok := scenes.Current().Get(doc.World.Location); !ok {
		return nil, fmt.Errorf("snapshot location %q is not in the active scene graph", doc.World.Location)
	}

	s, err := New(cfg, scenes, opts...)
	if err != nil {
		return nil, err
	}

	s.state.Restore(doc.World.Location, doc.World.Inventory, doc.World.History, doc.World.Memory.Entries)
	s.coordinator.RestoreState(doc.Coordinator.Turn, doc.Coordinator.PendingQueue, doc.Coordinator.Quarantined)
	s.capturedAt = doc.CapturedAt
	return s, nil
}
