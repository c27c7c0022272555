// Package state persists items, tracks and chunk tasks in sqlite.
package state

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // pure Go sqlite driver

	"github.com/surge-downloader/offline/internal/engine/types"
)

// DBFileName is the database file inside the state directory
const DBFileName = "offline.db"

// migration upgrades the schema from version-1 to version
type migration struct {
	version int
	name    string
	stmts   []string
}

// migrations are applied in order; user_version records the last one applied.
var migrations = []migration{
	{
		version: 1,
		name:    "items and files",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS items (
				id              TEXT PRIMARY KEY,
				content_url     TEXT NOT NULL,
				state           INTEGER NOT NULL,
				added_at        INTEGER NOT NULL,
				finished_at     INTEGER NOT NULL DEFAULT 0,
				estimated_size  INTEGER NOT NULL DEFAULT 0,
				downloaded_size INTEGER NOT NULL DEFAULT 0,
				duration_ms     INTEGER NOT NULL DEFAULT 0,
				data_dir        TEXT NOT NULL,
				playback_path   TEXT NOT NULL DEFAULT ''
			)`,
			`CREATE TABLE IF NOT EXISTS files (
				item_id      TEXT NOT NULL REFERENCES items(id) ON DELETE CASCADE,
				url          TEXT NOT NULL,
				target_file  TEXT NOT NULL,
				track_id     TEXT NOT NULL DEFAULT '',
				ord          INTEGER NOT NULL DEFAULT -1,
				range_offset INTEGER NOT NULL DEFAULT -1,
				range_length INTEGER NOT NULL DEFAULT 0,
				complete     INTEGER NOT NULL DEFAULT 0,
				UNIQUE (item_id, url, range_offset)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_files_pending ON files(item_id, complete)`,
			`CREATE INDEX IF NOT EXISTS idx_items_state ON items(state)`,
		},
	},
	{
		version: 2,
		name:    "tracks",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS tracks (
				item_id     TEXT NOT NULL REFERENCES items(id) ON DELETE CASCADE,
				relative_id TEXT NOT NULL,
				type        INTEGER NOT NULL,
				language    TEXT NOT NULL DEFAULT '',
				bitrate     INTEGER NOT NULL DEFAULT 0,
				width       INTEGER NOT NULL DEFAULT 0,
				height      INTEGER NOT NULL DEFAULT 0,
				codecs      TEXT NOT NULL DEFAULT '',
				state       INTEGER NOT NULL DEFAULT 0,
				extra       BLOB,
				PRIMARY KEY (item_id, relative_id)
			)`,
		},
	},
	{
		version: 3,
		name:    "rename files to chunks, item format",
		stmts: []string{
			`ALTER TABLE files RENAME TO chunks`,
			`DROP INDEX IF EXISTS idx_files_pending`,
			`CREATE INDEX IF NOT EXISTS idx_chunks_pending ON chunks(item_id, complete)`,
			`ALTER TABLE items ADD COLUMN item_format TEXT NOT NULL DEFAULT ''`,
		},
	},
}

// SchemaVersion is the version a freshly opened store is migrated to
var SchemaVersion = migrations[len(migrations)-1].version

// Store is the single owner of the engine database handle
type Store struct {
	db     *sql.DB
	path   string
	logger *zap.Logger
}

// Open opens (creating if needed) the database at path and migrates it to
// the latest schema.
func Open(ctx context.Context, path string, logger *zap.Logger) (*Store, error) {
	return openAt(ctx, path, SchemaVersion, logger)
}

func openAt(ctx context.Context, path string, target int, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, &types.StorageError{Op: "create state directory", Err: err}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &types.StorageError{Op: "open database", Err: err}
	}
	// One connection keeps per-connection pragmas in effect and serializes
	// writers without SQLITE_BUSY retries.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, &types.StorageError{Op: "connect database", Err: err}
	}

	s := &Store{
		db:     db,
		path:   path,
		logger: logger.With(zap.String("component", "store")),
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, &types.StorageError{Op: "apply pragma", Err: fmt.Errorf("%s: %w", pragma, err)}
		}
	}

	if err := s.migrate(ctx, target); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close releases the database handle
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return &types.StorageError{Op: "close database", Err: err}
	}
	return nil
}

// Path returns the database file path
func (s *Store) Path() string {
	return s.path
}

// Version returns the schema version recorded in the database
func (s *Store) Version(ctx context.Context) (int, error) {
	var v int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v); err != nil {
		return 0, &types.StorageError{Op: "read schema version", Err: err}
	}
	return v, nil
}

func (s *Store) migrate(ctx context.Context, target int) error {
	current, err := s.Version(ctx)
	if err != nil {
		return err
	}
	if current > SchemaVersion {
		return &types.StorageError{
			Op:  "migrate",
			Err: fmt.Errorf("database schema v%d is newer than supported v%d", current, SchemaVersion),
		}
	}

	for _, m := range migrations {
		if m.version <= current || m.version > target {
			continue
		}
		err := s.withTx(ctx, func(tx *sql.Tx) error {
			for _, stmt := range m.stmts {
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return err
				}
			}
			// PRAGMA does not accept bound parameters
			_, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", m.version))
			return err
		})
		if err != nil {
			return &types.StorageError{Op: fmt.Sprintf("migrate to v%d (%s)", m.version, m.name), Err: err}
		}
		s.logger.Info("schema migrated", zap.Int("version", m.version), zap.String("name", m.name))
	}
	return nil
}

// withTx runs fn in a transaction, rolling back when fn fails
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
