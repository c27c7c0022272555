package state

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/surge-downloader/offline/internal/engine/types"
)

func insertTracks(ctx context.Context, tx *sql.Tx, tracks []types.Track) error {
	if len(tracks) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO tracks
		(item_id, relative_id, type, language, bitrate, width, height, codecs, state, extra)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, t := range tracks {
		if _, err := stmt.ExecContext(ctx, t.ItemID, t.RelativeID, int(t.Type), t.Language,
			t.Bitrate, t.Width, t.Height, t.Codecs, int(t.State), t.Extra); err != nil {
			return err
		}
	}
	return nil
}

func setTrackStates(ctx context.Context, tx *sql.Tx, itemID string, state types.TrackState, relativeIDs []string) error {
	for _, id := range relativeIDs {
		res, err := tx.ExecContext(ctx, "UPDATE tracks SET state = ? WHERE item_id = ? AND relative_id = ?",
			int(state), itemID, id)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return types.ErrTrackNotFound
		}
	}
	return nil
}

// AddTracks inserts discovered tracks, available and selected alike, in one
// transaction. Each track's State carries its selection. Existing rows are
// never overwritten.
func (s *Store) AddTracks(ctx context.Context, tracks []types.Track) error {
	if err := s.withTx(ctx, func(tx *sql.Tx) error {
		return insertTracks(ctx, tx, tracks)
	}); err != nil {
		return &types.StorageError{Op: "add tracks", Err: err}
	}
	return nil
}

// Tracks returns the item's tracks in discovery order, optionally filtered by
// state.
func (s *Store) Tracks(ctx context.Context, itemID string, states ...types.TrackState) ([]types.Track, error) {
	query := `SELECT item_id, relative_id, type, language, bitrate, width, height, codecs, state, extra
		FROM tracks WHERE item_id = ?`
	args := []any{itemID}
	if len(states) > 0 {
		marks := make([]string, len(states))
		for i, st := range states {
			marks[i] = "?"
			args = append(args, int(st))
		}
		query += " AND state IN (" + strings.Join(marks, ", ") + ")"
	}
	query += " ORDER BY rowid"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &types.StorageError{Op: "list tracks", Err: err}
	}
	defer rows.Close()

	var tracks []types.Track
	for rows.Next() {
		var (
			t          types.Track
			typ, state int
		)
		if err := rows.Scan(&t.ItemID, &t.RelativeID, &typ, &t.Language, &t.Bitrate,
			&t.Width, &t.Height, &t.Codecs, &state, &t.Extra); err != nil {
			return nil, &types.StorageError{Op: "list tracks", Err: err}
		}
		t.Type = types.TrackType(typ)
		t.State = types.TrackState(state)
		tracks = append(tracks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, &types.StorageError{Op: "list tracks", Err: err}
	}
	return tracks, nil
}

// SetTrackStates moves the listed tracks to state atomically
func (s *Store) SetTrackStates(ctx context.Context, itemID string, state types.TrackState, relativeIDs ...string) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		return setTrackStates(ctx, tx, itemID, state, relativeIDs)
	})
	if errors.Is(err, types.ErrTrackNotFound) {
		return err
	}
	if err != nil {
		return &types.StorageError{Op: "set track states", Err: err}
	}
	return nil
}
