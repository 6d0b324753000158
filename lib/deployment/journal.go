// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package deployment

import (
	"context"
	"fmt"
	"log/slog"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/modelfleet/lib/codec"
	"github.com/bureau-foundation/modelfleet/lib/sqlitepool"
)

// journalMigrations are append-only; see sqlitepool.Config.Migrations.
var journalMigrations = []string{`
	CREATE TABLE deployments (
		id      TEXT PRIMARY KEY,
		version INTEGER NOT NULL,
		removed INTEGER NOT NULL DEFAULT 0,
		record  BLOB NOT NULL
	);
`}

// JournalConfig configures a Journal.
type JournalConfig struct {
	// Path is the SQLite database file.
	Path string

	// PoolSize defaults to 2. Writes are serialized by SQLite.
	PoolSize int

	Logger *slog.Logger
}

// Journal persists deployment records so a restarted controller keeps
// its view of what is deployed. Each write carries the registry
// version it was made at; a write older than the stored row is
// ignored, so concurrent writers cannot regress a record.
type Journal struct {
	pool   *sqlitepool.Pool
	logger *slog.Logger
}

// OpenJournal opens (creating if needed) the journal database.
func OpenJournal(config JournalConfig) (*Journal, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	poolSize := config.PoolSize
	if poolSize <= 0 {
		poolSize = 2
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:       config.Path,
		PoolSize:   poolSize,
		Logger:     logger,
		Migrations: journalMigrations,
	})
	if err != nil {
		return nil, fmt.Errorf("deployment journal: %w", err)
	}
	return &Journal{pool: pool, logger: logger}, nil
}

// Close closes the underlying pool.
func (j *Journal) Close() error {
	return j.pool.Close()
}

// Save writes record at version.
func (j *Journal) Save(ctx context.Context, record Record, version int64) error {
	data, err := codec.Marshal(record)
	if err != nil {
		return fmt.Errorf("deployment journal: encoding %s: %w", record.ID, err)
	}
	return j.write(ctx, record.ID, version, false, data)
}

// Delete writes a tombstone for id at version.
func (j *Journal) Delete(ctx context.Context, id string, version int64) error {
	return j.write(ctx, id, version, true, []byte{})
}

func (j *Journal) write(ctx context.Context, id string, version int64, removed bool, data []byte) error {
	removedFlag := 0
	if removed {
		removedFlag = 1
	}
	err := j.pool.Write(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			INSERT INTO deployments (id, version, removed, record)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				version = excluded.version,
				removed = excluded.removed,
				record  = excluded.record
			WHERE excluded.version > deployments.version`,
			&sqlitex.ExecOptions{Args: []any{id, version, removedFlag, data}},
		)
	})
	if err != nil {
		return fmt.Errorf("deployment journal: writing %s: %w", id, err)
	}
	return nil
}

// Load returns every live record and the highest version seen,
// including versions of tombstones. Tombstones are pruned afterwards.
func (j *Journal) Load(ctx context.Context) (records []Record, version int64, err error) {
	conn, err := j.pool.Take(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("deployment journal: %w", err)
	}
	defer j.pool.Put(conn)

	err = sqlitex.Execute(conn, `SELECT COALESCE(MAX(version), 0) FROM deployments`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				version = stmt.ColumnInt64(0)
				return nil
			},
		})
	if err != nil {
		return nil, 0, fmt.Errorf("deployment journal: reading version: %w", err)
	}

	err = sqlitex.Execute(conn, `SELECT id, record FROM deployments WHERE removed = 0 ORDER BY id`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				id := stmt.ColumnText(0)
				data := make([]byte, stmt.ColumnLen(1))
				stmt.ColumnBytes(1, data)

				var record Record
				if decodeErr := codec.Unmarshal(data, &record); decodeErr != nil {
					j.logger.Warn("skipping undecodable journal row", "deployment", id, "error", decodeErr)
					return nil
				}
				records = append(records, record)
				return nil
			},
		})
	if err != nil {
		return nil, 0, fmt.Errorf("deployment journal: reading records: %w", err)
	}

	if pruneErr := sqlitex.Execute(conn, `DELETE FROM deployments WHERE removed = 1`, nil); pruneErr != nil {
		j.logger.Warn("pruning journal tombstones failed", "error", pruneErr)
	}
	return records, version, nil
}
