package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/surge-downloader/offline/internal/engine/types"
)

// Column names an item field that UpdateItem may write
type Column string

const (
	ColState          Column = "state"
	ColFormat         Column = "item_format"
	ColFinishedAt     Column = "finished_at"
	ColEstimatedSize  Column = "estimated_size"
	ColDownloadedSize Column = "downloaded_size"
	ColDuration       Column = "duration_ms"
	ColPlaybackPath   Column = "playback_path"
)

// value extracts the column's value from item
func (c Column) value(item types.Item) (any, error) {
	switch c {
	case ColState:
		return int(item.State), nil
	case ColFormat:
		return string(item.Format), nil
	case ColFinishedAt:
		return unixMillis(item.FinishedAt), nil
	case ColEstimatedSize:
		return item.EstimatedSize, nil
	case ColDownloadedSize:
		return item.DownloadedSize, nil
	case ColDuration:
		return item.Duration.Milliseconds(), nil
	case ColPlaybackPath:
		return item.PlaybackPath, nil
	default:
		return nil, fmt.Errorf("unknown item column %q", string(c))
	}
}

const itemColumns = `id, content_url, state, item_format, added_at, finished_at,
	estimated_size, downloaded_size, duration_ms, data_dir, playback_path`

func unixMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (types.Item, error) {
	var (
		item                 types.Item
		state                int
		format               string
		added, finished, dur int64
	)
	err := row.Scan(&item.ID, &item.ContentURL, &state, &format, &added, &finished,
		&item.EstimatedSize, &item.DownloadedSize, &dur, &item.DataDir, &item.PlaybackPath)
	if err != nil {
		return types.Item{}, err
	}
	item.State = types.ItemState(state)
	item.Format = types.AssetFormat(format)
	item.AddedAt = fromMillis(added)
	item.FinishedAt = fromMillis(finished)
	item.Duration = time.Duration(dur) * time.Millisecond
	return item, nil
}

// AddItem inserts a new item. It returns types.ErrItemExists when the id is
// already taken and leaves the stored row untouched.
func (s *Store) AddItem(ctx context.Context, item types.Item) error {
	res, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO items
		(id, content_url, state, item_format, added_at, finished_at,
		 estimated_size, downloaded_size, duration_ms, data_dir, playback_path)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.ContentURL, int(item.State), string(item.Format),
		unixMillis(item.AddedAt), unixMillis(item.FinishedAt),
		item.EstimatedSize, item.DownloadedSize, item.Duration.Milliseconds(),
		item.DataDir, item.PlaybackPath)
	if err != nil {
		return &types.StorageError{Op: "add item", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return &types.StorageError{Op: "add item", Err: err}
	}
	if n == 0 {
		return types.ErrItemExists
	}
	return nil
}

// GetItem loads one item
func (s *Store) GetItem(ctx context.Context, id string) (types.Item, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+itemColumns+" FROM items WHERE id = ?", id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Item{}, types.ErrItemNotFound
	}
	if err != nil {
		return types.Item{}, &types.StorageError{Op: "get item", Err: err}
	}
	return item, nil
}

// ItemsByState returns items in any of the given states, oldest first. With
// no states every item is returned.
func (s *Store) ItemsByState(ctx context.Context, states ...types.ItemState) ([]types.Item, error) {
	query := "SELECT " + itemColumns + " FROM items"
	args := make([]any, 0, len(states))
	if len(states) > 0 {
		marks := make([]string, len(states))
		for i, st := range states {
			marks[i] = "?"
			args = append(args, int(st))
		}
		query += " WHERE state IN (" + strings.Join(marks, ", ") + ")"
	}
	query += " ORDER BY added_at, rowid"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &types.StorageError{Op: "list items", Err: err}
	}
	defer rows.Close()

	var items []types.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, &types.StorageError{Op: "list items", Err: err}
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, &types.StorageError{Op: "list items", Err: err}
	}
	return items, nil
}

// UpdateItem writes exactly the named columns of item
func (s *Store) UpdateItem(ctx context.Context, item types.Item, cols ...Column) error {
	return s.updateItem(ctx, s.db, item, cols...)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) updateItem(ctx context.Context, db execer, item types.Item, cols ...Column) error {
	if len(cols) == 0 {
		return nil
	}

	sets := make([]string, 0, len(cols))
	args := make([]any, 0, len(cols)+1)
	for _, c := range cols {
		v, err := c.value(item)
		if err != nil {
			return &types.StorageError{Op: "update item", Err: err}
		}
		sets = append(sets, string(c)+" = ?")
		args = append(args, v)
	}
	args = append(args, item.ID)

	res, err := db.ExecContext(ctx, "UPDATE items SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return &types.StorageError{Op: "update item", Err: err}
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return types.ErrItemNotFound
	}
	return nil
}

// RemoveItem deletes the item with its tracks and chunk tasks
func (s *Store) RemoveItem(ctx context.Context, id string) error {
	var removed int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM chunks WHERE item_id = ?", id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM tracks WHERE item_id = ?", id); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, "DELETE FROM items WHERE id = ?", id)
		if err != nil {
			return err
		}
		removed, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return &types.StorageError{Op: "remove item", Err: err}
	}
	if removed == 0 {
		return types.ErrItemNotFound
	}
	return nil
}

// SaveMetadata persists a first metadata load in one transaction: the
// item columns, every discovered track and the initial chunk plan.
func (s *Store) SaveMetadata(ctx context.Context, item types.Item, tracks []types.Track, chunks []types.ChunkTask, cols ...Column) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := insertTracks(ctx, tx, tracks); err != nil {
			return err
		}
		if _, err := insertChunks(ctx, tx, chunks); err != nil {
			return err
		}
		return s.updateItem(ctx, tx, item, cols...)
	})
	if errors.Is(err, types.ErrItemNotFound) {
		return err
	}
	if err != nil {
		var se *types.StorageError
		if errors.As(err, &se) {
			return err
		}
		return &types.StorageError{Op: "save metadata", Err: err}
	}
	return nil
}

// SelectionChange is an update-mode selection diff applied atomically
type SelectionChange struct {
	Item       types.Item
	Columns    []Column
	Selected   []string // relative ids now SELECTED
	Deselected []string // relative ids now NOT_SELECTED
	Chunks     []types.ChunkTask
}

// ApplySelection writes track state changes, new chunk tasks and item columns
// in one transaction. It returns the number of chunk tasks actually inserted.
func (s *Store) ApplySelection(ctx context.Context, change SelectionChange) (int, error) {
	var inserted int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := setTrackStates(ctx, tx, change.Item.ID, types.TrackSelected, change.Selected); err != nil {
			return err
		}
		if err := setTrackStates(ctx, tx, change.Item.ID, types.TrackNotSelected, change.Deselected); err != nil {
			return err
		}
		n, err := insertChunks(ctx, tx, change.Chunks)
		if err != nil {
			return err
		}
		inserted = n
		return s.updateItem(ctx, tx, change.Item, change.Columns...)
	})
	if err != nil {
		if errors.Is(err, types.ErrItemNotFound) || errors.Is(err, types.ErrTrackNotFound) {
			return 0, err
		}
		var se *types.StorageError
		if errors.As(err, &se) {
			return 0, err
		}
		return 0, &types.StorageError{Op: "apply selection", Err: err}
	}
	return inserted, nil
}
