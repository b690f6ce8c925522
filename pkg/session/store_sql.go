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

package session

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/taleweave/taleweave/pkg/config"
)

// SQLStore persists snapshots in a relational database. Supported dialects:
// sqlite, postgres, mysql.
type SQLStore struct {
	db      *sql.DB
	dialect string
}

const createSnapshotsTableSQL = `
CREATE TABLE IF NOT EXISTS snapshots (
    session_id VARCHAR(255) PRIMARY KEY,
    snapshot TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
`

func NewSQLStore(db *sql.DB, dialect string) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	switch dialect {
	case "sqlite", "postgres", "mysql":
	default:
		return nil, fmt.Errorf("unsupported dialect %q (supported: sqlite, postgres, mysql)", dialect)
	}

	s := &SQLStore{db: db, dialect: dialect}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize snapshot schema: %w", err)
	}
	return s, nil
}

// NewSQLStoreFromConfig opens and pings the configured database.
func NewSQLStoreFromConfig(cfg *config.SnapshotStoreConfig) (*SQLStore, error) {
	if cfg == nil || cfg.Driver == "" {
		return nil, fmt.Errorf("snapshot store driver is not configured")
	}

	driverName := cfg.Driver
	if driverName == "sqlite" {
		driverName = "sqlite3"
	}

	db, err := sql.Open(driverName, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.Driver, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to %s database: %w", cfg.Driver, err)
	}

	store, err := NewSQLStore(db, cfg.Driver)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLStore) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := s.db.ExecContext(ctx, createSnapshotsTableSQL); err != nil {
		return err
	}
	return nil
}

func (s *SQLStore) Save(ctx context.Context, sessionID string, snapshot []byte) error {
	if sessionID == "" {
		return fmt.Errorf("sessionID cannot be empty")
	}

	var query string
	switch s.dialect {
	case "postgres":
		query = `
INSERT INTO snapshots (session_id, snapshot, updated_at) VALUES ($1, $2, $3)
ON CONFLICT (session_id) DO UPDATE SET snapshot = EXCLUDED.snapshot, updated_at = EXCLUDED.updated_at
`
	case "mysql":
		query = `
INSERT INTO snapshots (session_id, snapshot, updated_at) VALUES (?, ?, ?)
ON DUPLICATE KEY UPDATE snapshot = VALUES(snapshot), updated_at = VALUES(updated_at)
`
	default:
		query = `
INSERT INTO snapshots (session_id, snapshot, updated_at) VALUES (?, ?, ?)
ON CONFLICT (session_id) DO UPDATE SET snapshot = excluded.snapshot, updated_at = excluded.updated_at
`
	}

	if _, err := s.db.ExecContext(ctx, query, sessionID, string(snapshot), time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

func (s *SQLStore) Load(ctx context.Context, sessionID string) ([]byte, error) {
	query := `SELECT snapshot FROM snapshots WHERE session_id = ?`
	if s.dialect == "postgres" {
		query = `SELECT snapshot FROM snapshots WHERE session_id = $1`
	}

	var snapshot string
	err := s.db.QueryRowContext(ctx, query, sessionID).Scan(&snapshot)
	if err == sql.ErrNoRows {
		return nil, ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	return []byte(snapshot), nil
}

func (s *SQLStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT session_id FROM snapshots ORDER BY session_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLStore) Delete(ctx context.Context, sessionID string) error {
	query := `DELETE FROM snapshots WHERE session_id = ?`
	if s.dialect == "postgres" {
		query = `DELETE FROM snapshots WHERE session_id = $1`
	}
	if _, err := s.db.ExecContext(ctx, query, sessionID); err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	return nil
}

func (s *SQLStore) Close() error { return s.db.Close() }
