package state

import (
	"context"
	"database/sql"

	"github.com/surge-downloader/offline/internal/engine/types"
)

const chunkColumns = `item_id, url, target_file, track_id, ord, range_offset, range_length, complete`

func insertChunks(ctx context.Context, tx *sql.Tx, chunks []types.ChunkTask) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO chunks
		(`+chunkColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	inserted := 0
	for _, c := range chunks {
		offset := c.RangeOffset
		if !c.IsRanged() {
			offset = types.WholeResource
		}
		res, err := stmt.ExecContext(ctx, c.ItemID, c.URL, c.TargetFile, c.TrackID,
			c.Order, offset, c.RangeLength, c.Complete)
		if err != nil {
			return inserted, err
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}
	return inserted, nil
}

// AddChunks inserts chunk tasks in one transaction, ignoring ones already
// known. It returns how many were new.
func (s *Store) AddChunks(ctx context.Context, chunks []types.ChunkTask) (int, error) {
	var inserted int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		n, err := insertChunks(ctx, tx, chunks)
		inserted = n
		return err
	})
	if err != nil {
		return 0, &types.StorageError{Op: "add chunks", Err: err}
	}
	return inserted, nil
}

// MarkChunkComplete flags one chunk task as done
func (s *Store) MarkChunkComplete(ctx context.Context, c types.ChunkTask) error {
	offset := c.RangeOffset
	if !c.IsRanged() {
		offset = types.WholeResource
	}
	_, err := s.db.ExecContext(ctx,
		"UPDATE chunks SET complete = 1 WHERE item_id = ? AND url = ? AND range_offset = ?",
		c.ItemID, c.URL, offset)
	if err != nil {
		return &types.StorageError{Op: "mark chunk complete", Err: err}
	}
	return nil
}

// PendingChunks returns the item's incomplete chunk tasks in scheduling
// order: explicit order first, insertion order as tie-break.
func (s *Store) PendingChunks(ctx context.Context, itemID string) ([]types.ChunkTask, error) {
	return s.queryChunks(ctx, "pending chunks",
		"SELECT "+chunkColumns+" FROM chunks WHERE item_id = ? AND complete = 0 ORDER BY ord, rowid", itemID)
}

// AllChunks returns every chunk task of the item in insertion order
func (s *Store) AllChunks(ctx context.Context, itemID string) ([]types.ChunkTask, error) {
	return s.queryChunks(ctx, "all chunks",
		"SELECT "+chunkColumns+" FROM chunks WHERE item_id = ? ORDER BY rowid", itemID)
}

// CountPendingChunks counts incomplete chunk tasks for the item. A non-empty
// trackID restricts the count to that track.
func (s *Store) CountPendingChunks(ctx context.Context, itemID, trackID string) (int, error) {
	query := "SELECT COUNT(*) FROM chunks WHERE item_id = ? AND complete = 0"
	args := []any{itemID}
	if trackID != "" {
		query += " AND track_id = ?"
		args = append(args, trackID)
	}

	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, &types.StorageError{Op: "count pending chunks", Err: err}
	}
	return n, nil
}

func (s *Store) queryChunks(ctx context.Context, op, query string, args ...any) ([]types.ChunkTask, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &types.StorageError{Op: op, Err: err}
	}
	defer rows.Close()

	var chunks []types.ChunkTask
	for rows.Next() {
		var c types.ChunkTask
		if err := rows.Scan(&c.ItemID, &c.URL, &c.TargetFile, &c.TrackID, &c.Order,
			&c.RangeOffset, &c.RangeLength, &c.Complete); err != nil {
			return nil, &types.StorageError{Op: op, Err: err}
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, &types.StorageError{Op: op, Err: err}
	}
	return chunks, nil
}
