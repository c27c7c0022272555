package state

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surge-downloader/offline/internal/engine/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), DBFileName), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newItem(id string) types.Item {
	return types.Item{
		ID:         id,
		ContentURL: "http://origin.test/" + id + "/manifest.mpd",
		State:      types.StateNew,
		AddedAt:    time.UnixMilli(1_700_000_000_000),
		DataDir:    "/data/" + id,
	}
}

func TestOpen_FreshDatabaseAtLatestVersion(t *testing.T) {
	s := openTestStore(t)
	v, err := s.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, v)
}

func TestMigration_PreservesRowsFromV1(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), DBFileName)

	old, err := openAt(ctx, path, 1, nil)
	require.NoError(t, err)
	_, err = old.db.ExecContext(ctx, `INSERT INTO items (id, content_url, state, added_at, data_dir, downloaded_size)
		VALUES ('legacy', 'http://origin.test/a.mpd', ?, 1000, '/data/legacy', 4096)`, int(types.StatePaused))
	require.NoError(t, err)
	_, err = old.db.ExecContext(ctx, `INSERT INTO files (item_id, url, target_file, complete)
		VALUES ('legacy', 'http://origin.test/seg1.m4s', '/data/legacy/seg1', 1),
		       ('legacy', 'http://origin.test/seg2.m4s', '/data/legacy/seg2', 0)`)
	require.NoError(t, err)
	v, err := old.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	require.NoError(t, old.Close())

	s, err := Open(ctx, path, nil)
	require.NoError(t, err)
	defer s.Close()

	v, err = s.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, v)

	item, err := s.GetItem(ctx, "legacy")
	require.NoError(t, err)
	assert.Equal(t, types.StatePaused, item.State)
	assert.Equal(t, int64(4096), item.DownloadedSize)
	assert.Equal(t, types.FormatUnknown, item.Format)

	all, err := s.AllChunks(ctx, "legacy")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	pending, err := s.PendingChunks(ctx, "legacy")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "http://origin.test/seg2.m4s", pending[0].URL)
	assert.Equal(t, types.WholeResource, pending[0].RangeOffset)

	tracks, err := s.Tracks(ctx, "legacy")
	require.NoError(t, err)
	assert.Empty(t, tracks)
}

func TestAddItem_DuplicateIsNotOverwritten(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.AddItem(ctx, newItem("x")))

	dup := newItem("x")
	dup.ContentURL = "http://elsewhere.test/other.m3u8"
	assert.ErrorIs(t, s.AddItem(ctx, dup), types.ErrItemExists)

	got, err := s.GetItem(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, "http://origin.test/x/manifest.mpd", got.ContentURL)
	assert.Equal(t, time.UnixMilli(1_700_000_000_000), got.AddedAt)
}

func TestGetItem_NotFound(t *testing.T) {
	_, err := openTestStore(t).GetItem(context.Background(), "missing")
	assert.ErrorIs(t, err, types.ErrItemNotFound)
}

func TestUpdateItem_WritesOnlyNamedColumns(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	require.NoError(t, s.AddItem(ctx, newItem("x")))

	changed := newItem("x")
	changed.State = types.StateInfoLoaded
	changed.EstimatedSize = 1234
	changed.DownloadedSize = 999
	require.NoError(t, s.UpdateItem(ctx, changed, ColState, ColEstimatedSize))

	got, err := s.GetItem(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, types.StateInfoLoaded, got.State)
	assert.Equal(t, int64(1234), got.EstimatedSize)
	assert.Zero(t, got.DownloadedSize)

	assert.ErrorIs(t, s.UpdateItem(ctx, newItem("nope"), ColState), types.ErrItemNotFound)
}

func TestItemsByState(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	for i, st := range []types.ItemState{types.StateNew, types.StateInProgress, types.StatePaused, types.StateInProgress} {
		item := newItem(string(rune('a' + i)))
		item.State = st
		item.AddedAt = item.AddedAt.Add(time.Duration(i) * time.Second)
		require.NoError(t, s.AddItem(ctx, item))
	}

	inProgress, err := s.ItemsByState(ctx, types.StateInProgress)
	require.NoError(t, err)
	require.Len(t, inProgress, 2)
	assert.Equal(t, "b", inProgress[0].ID)
	assert.Equal(t, "d", inProgress[1].ID)

	active, err := s.ItemsByState(ctx, types.StateInProgress, types.StatePaused)
	require.NoError(t, err)
	assert.Len(t, active, 3)

	all, err := s.ItemsByState(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestChunks_IgnoreOnConflictAndPendingOrder(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	require.NoError(t, s.AddItem(ctx, newItem("x")))

	chunks := []types.ChunkTask{
		{ItemID: "x", URL: "http://o/v/2.m4s", TargetFile: "/d/2", TrackID: "a0r0", Order: 2, RangeOffset: types.WholeResource},
		{ItemID: "x", URL: "http://o/v/1.m4s", TargetFile: "/d/1", TrackID: "a0r0", Order: 1, RangeOffset: types.WholeResource},
		{ItemID: "x", URL: "http://o/a/1.m4s", TargetFile: "/d/a1", TrackID: "a1r0", Order: 1, RangeOffset: types.WholeResource},
	}
	n, err := s.AddChunks(ctx, chunks)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = s.AddChunks(ctx, chunks)
	require.NoError(t, err)
	assert.Zero(t, n)

	pending, err := s.PendingChunks(ctx, "x")
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, "http://o/v/1.m4s", pending[0].URL)
	assert.Equal(t, "http://o/a/1.m4s", pending[1].URL)
	assert.Equal(t, "http://o/v/2.m4s", pending[2].URL)

	require.NoError(t, s.MarkChunkComplete(ctx, pending[0]))

	count, err := s.CountPendingChunks(ctx, "x", "")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	count, err = s.CountPendingChunks(ctx, "x", "a0r0")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestChunks_ByteRangesShareURL(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	require.NoError(t, s.AddItem(ctx, newItem("x")))

	n, err := s.AddChunks(ctx, []types.ChunkTask{
		{ItemID: "x", URL: "http://o/all.ts", TargetFile: "/d/r0", Order: 0, RangeOffset: 0, RangeLength: 100},
		{ItemID: "x", URL: "http://o/all.ts", TargetFile: "/d/r1", Order: 1, RangeOffset: 100, RangeLength: 100},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, s.MarkChunkComplete(ctx, types.ChunkTask{ItemID: "x", URL: "http://o/all.ts", RangeOffset: 100, RangeLength: 100}))
	pending, err := s.PendingChunks(ctx, "x")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, int64(0), pending[0].RangeOffset)
}

func TestTracks_StatesAndSelectionChange(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	require.NoError(t, s.AddItem(ctx, newItem("x")))

	require.NoError(t, s.AddTracks(ctx, []types.Track{
		{ItemID: "x", RelativeID: "a0r0", Type: types.TrackVideo, Bitrate: 500_000, State: types.TrackNotSelected},
		{ItemID: "x", RelativeID: "a0r1", Type: types.TrackVideo, Bitrate: 2_000_000, State: types.TrackSelected, Extra: []byte(`{"p":0}`)},
		{ItemID: "x", RelativeID: "a1r0", Type: types.TrackAudio, Language: "en", State: types.TrackSelected},
	}))

	selected, err := s.Tracks(ctx, "x", types.TrackSelected)
	require.NoError(t, err)
	require.Len(t, selected, 2)
	assert.Equal(t, "a0r1", selected[0].RelativeID)
	assert.JSONEq(t, `{"p":0}`, string(selected[0].Extra))

	item := newItem("x")
	item.EstimatedSize = 42
	inserted, err := s.ApplySelection(ctx, SelectionChange{
		Item:       item,
		Columns:    []Column{ColEstimatedSize},
		Selected:   []string{"a0r0"},
		Deselected: []string{"a0r1"},
		Chunks: []types.ChunkTask{
			{ItemID: "x", URL: "http://o/low/1.m4s", TargetFile: "/d/l1", TrackID: "a0r0", Order: 0, RangeOffset: types.WholeResource},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, inserted)

	video, err := s.Tracks(ctx, "x", types.TrackSelected)
	require.NoError(t, err)
	ids := []string{}
	for _, tr := range video {
		ids = append(ids, tr.RelativeID)
	}
	assert.ElementsMatch(t, []string{"a0r0", "a1r0"}, ids)

	got, err := s.GetItem(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, int64(42), got.EstimatedSize)
}

func TestApplySelection_UnknownTrackRollsBack(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	require.NoError(t, s.AddItem(ctx, newItem("x")))
	require.NoError(t, s.AddTracks(ctx, []types.Track{
		{ItemID: "x", RelativeID: "v0", Type: types.TrackVideo, State: types.TrackNotSelected},
	}))

	_, err := s.ApplySelection(ctx, SelectionChange{
		Item:     newItem("x"),
		Selected: []string{"v0", "ghost"},
		Chunks: []types.ChunkTask{
			{ItemID: "x", URL: "http://o/v0/1.ts", TargetFile: "/d/1", TrackID: "v0", RangeOffset: types.WholeResource},
		},
	})
	assert.ErrorIs(t, err, types.ErrTrackNotFound)

	all, err := s.AllChunks(ctx, "x")
	require.NoError(t, err)
	assert.Empty(t, all)
	tracks, err := s.Tracks(ctx, "x", types.TrackSelected)
	require.NoError(t, err)
	assert.Empty(t, tracks)
}

func TestRemoveItem_Cascades(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	require.NoError(t, s.AddItem(ctx, newItem("x")))

	item := newItem("x")
	item.State = types.StateInfoLoaded
	require.NoError(t, s.SaveMetadata(ctx, item,
		[]types.Track{{ItemID: "x", RelativeID: "v0", State: types.TrackSelected}},
		[]types.ChunkTask{{ItemID: "x", URL: "http://o/1.ts", TargetFile: "/d/1", TrackID: "v0", RangeOffset: types.WholeResource}},
		ColState))

	require.NoError(t, s.RemoveItem(ctx, "x"))
	assert.ErrorIs(t, s.RemoveItem(ctx, "x"), types.ErrItemNotFound)

	all, err := s.AllChunks(ctx, "x")
	require.NoError(t, err)
	assert.Empty(t, all)
	tracks, err := s.Tracks(ctx, "x")
	require.NoError(t, err)
	assert.Empty(t, tracks)
}
