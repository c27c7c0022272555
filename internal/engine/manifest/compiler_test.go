package manifest

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surge-downloader/offline/internal/engine/state"
	"github.com/surge-downloader/offline/internal/engine/transfer"
	"github.com/surge-downloader/offline/internal/engine/types"
	"github.com/surge-downloader/offline/internal/testutil"
)

func mustURL(t *testing.T, s string) *url.URL {
	t.Helper()
	u, err := url.Parse(s)
	require.NoError(t, err)
	return u
}

type fixture struct {
	store *state.Store
	item  types.Item
	opts  Options
}

func newFixture(t *testing.T, contentURL string) *fixture {
	t.Helper()
	ctx := context.Background()
	store, err := state.Open(ctx, filepath.Join(t.TempDir(), state.DBFileName), nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	item := types.Item{
		ID:         "item-1",
		ContentURL: contentURL,
		State:      types.StateNew,
		AddedAt:    time.Now(),
		DataDir:    t.TempDir(),
	}
	require.NoError(t, store.AddItem(ctx, item))

	return &fixture{
		store: store,
		item:  item,
		opts: Options{
			Fetcher: transfer.New(nil, &types.RuntimeConfig{}, nil, nil),
			Store:   store,
		},
	}
}

func fetchBody(t *testing.T, rawURL string) []byte {
	t.Helper()
	resp, err := http.Get(rawURL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return body
}

func ids(tracks []types.Track) []string {
	out := make([]string, 0, len(tracks))
	for _, t := range tracks {
		out = append(out, t.RelativeID)
	}
	return out
}

func (f *fixture) create(t *testing.T) (*Compiler, types.Item) {
	t.Helper()
	c, err := Create(context.Background(), f.item, f.opts)
	require.NoError(t, err)
	item, err := c.Apply(context.Background())
	require.NoError(t, err)
	item.State = types.StateInfoLoaded
	return c, item
}

func TestCreate_Dash(t *testing.T) {
	origin := testutil.NewMockOriginT(t)
	asset := origin.ServeDashAsset("movie", 2)
	f := newFixture(t, asset.URL)

	c, err := Create(context.Background(), f.item, f.opts)
	require.NoError(t, err)
	assert.Equal(t, types.FormatDash, c.Format())

	assert.Equal(t, []string{"a0r0", "a0r1"}, ids(c.AvailableTracks(types.TrackVideo)))
	assert.Equal(t, []string{"a1r0"}, ids(c.AvailableTracks(types.TrackAudio)))
	assert.Equal(t, []string{"a2r0"}, ids(c.AvailableTracks(types.TrackText)))
	assert.Equal(t, []string{"a0r1"}, ids(c.SelectedTracks(types.TrackVideo)))

	video := c.AvailableTracks(types.TrackVideo)[1]
	assert.Equal(t, int64(2_000_000), video.Bitrate)
	assert.Equal(t, 1280, video.Width)
	assert.Equal(t, "avc1.4d401f", video.Codecs)
	assert.Equal(t, types.TrackSelected, video.State)

	item, err := c.Apply(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.FormatDash, item.Format)
	assert.Equal(t, 8*time.Second, item.Duration)
	assert.Equal(t, "manifest.mpd", item.PlaybackPath)
	assert.Equal(t, int64((2_000_000+128_000+1000)*8/8), item.EstimatedSize)

	chunks, err := f.store.AllChunks(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Len(t, chunks, asset.ChunkCount("a0r1", "a1r0", "a2r0"))
	for _, ch := range chunks {
		assert.True(t, strings.HasPrefix(ch.TargetFile, filepath.Join(item.DataDir, chunkDir)))
		assert.True(t, strings.HasPrefix(ch.URL, "http://"), "urls are absolute")
	}

	stored, err := f.store.GetItem(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, item.EstimatedSize, stored.EstimatedSize)
	assert.Equal(t, "manifest.mpd", stored.PlaybackPath)

	local, err := os.ReadFile(filepath.Join(item.DataDir, "manifest.mpd"))
	require.NoError(t, err)
	assert.Contains(t, string(local), `<Representation id="a0r1"`)
	assert.NotContains(t, string(local), `id="a0r0"`)
	assert.Contains(t, string(local), `sourceURL="chunks/`)
	assert.NotContains(t, string(local), origin.URL("/"))
}

func TestCreate_ApplyIsIdempotent(t *testing.T) {
	origin := testutil.NewMockOriginT(t)
	asset := origin.ServeDashAsset("movie", 3)
	f := newFixture(t, asset.URL)

	c, err := Create(context.Background(), f.item, f.opts)
	require.NoError(t, err)

	var applied int
	c.onApplied = func(types.Item) { applied++ }

	first, err := c.Apply(context.Background())
	require.NoError(t, err)
	before, err := f.store.AllChunks(context.Background(), first.ID)
	require.NoError(t, err)

	second, err := c.Apply(context.Background())
	require.NoError(t, err)
	after, err := f.store.AllChunks(context.Background(), first.ID)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, before, after)
	assert.Equal(t, 1, applied, "second apply fires nothing downstream")
	assert.ErrorIs(t, c.SetSelectedTracks(types.TrackVideo, "a0r0"), types.ErrInvalidState)
}

func TestCreate_CallerOverridesSelection(t *testing.T) {
	origin := testutil.NewMockOriginT(t)
	asset := origin.ServeDashAsset("movie", 2)
	f := newFixture(t, asset.URL)

	c, err := Create(context.Background(), f.item, f.opts)
	require.NoError(t, err)

	err = c.SetSelectedTracks(types.TrackVideo, "a1r0")
	assert.ErrorIs(t, err, types.ErrTrackNotFound, "audio id is not a video track")
	require.NoError(t, c.SetSelectedTracks(types.TrackVideo, "a0r0"))
	require.NoError(t, c.SetSelectedTracks(types.TrackText))

	item, err := c.Apply(context.Background())
	require.NoError(t, err)

	chunks, err := f.store.AllChunks(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Len(t, chunks, asset.ChunkCount("a0r0", "a1r0"))

	selected, err := f.store.Tracks(context.Background(), item.ID, types.TrackSelected)
	require.NoError(t, err)
	assert.Equal(t, []string{"a0r0", "a1r0"}, ids(selected))
}

func TestCreate_Hls(t *testing.T) {
	origin := testutil.NewMockOriginT(t)
	asset := origin.ServeHlsAsset("show", 3)
	f := newFixture(t, asset.URL)

	c, item := f.create(t)
	assert.Equal(t, types.FormatHls, item.Format)
	assert.Equal(t, 12*time.Second, item.Duration)

	assert.Equal(t, []string{"v0", "v1"}, ids(c.AvailableTracks(types.TrackVideo)))
	assert.Equal(t, []string{"a0", "a1"}, ids(c.AvailableTracks(types.TrackAudio)))
	assert.Equal(t, []string{"t0"}, ids(c.AvailableTracks(types.TrackText)))
	assert.Equal(t, []string{"v1"}, ids(c.SelectedTracks(types.TrackVideo)))
	assert.Equal(t, []string{"a0"}, ids(c.SelectedTracks(types.TrackAudio)))
	assert.Equal(t, "fr", c.AvailableTracks(types.TrackAudio)[1].Language)
	assert.Equal(t, 720, c.AvailableTracks(types.TrackVideo)[1].Height)

	chunks, err := f.store.AllChunks(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Len(t, chunks, asset.ChunkCount("v1", "a0", "t0"))

	assert.Equal(t, "master.m3u8", item.PlaybackPath)
	master, err := os.ReadFile(filepath.Join(item.DataDir, "master.m3u8"))
	require.NoError(t, err)
	assert.Contains(t, string(master), "v1/index.m3u8")
	assert.Contains(t, string(master), `URI="a0/index.m3u8"`)
	assert.Contains(t, string(master), `URI="t0/index.m3u8"`)
	assert.NotContains(t, string(master), "v0/index.m3u8")

	media, err := os.ReadFile(filepath.Join(item.DataDir, "v1", "index.m3u8"))
	require.NoError(t, err)
	assert.Contains(t, string(media), "../chunks/")
	assert.Contains(t, string(media), "#EXT-X-MAP")
	assert.Contains(t, string(media), "#EXT-X-ENDLIST")

	// every origin document is kept for offline update mode
	_, err = os.Stat(filepath.Join(item.DataDir, sourceDir, sourceIndex))
	assert.NoError(t, err)
}

func TestCreate_HlsByteRanges(t *testing.T) {
	origin := testutil.NewMockOriginT(t)
	asset := origin.ServeHlsByteRangeAsset("clip", 3, 1000)
	f := newFixture(t, asset.URL)

	c, item := f.create(t)
	assert.Equal(t, []string{"v0"}, ids(c.SelectedTracks(types.TrackVideo)))

	chunks, err := f.store.AllChunks(context.Background(), item.ID)
	require.NoError(t, err)
	require.Len(t, chunks, 4)

	var ranges [][2]int64
	for _, ch := range chunks {
		assert.Equal(t, origin.URL("/clip/all.mp4"), ch.URL)
		ranges = append(ranges, [2]int64{ch.RangeOffset, ch.RangeLength})
	}
	assert.Equal(t, [][2]int64{{0, 500}, {500, 1000}, {1500, 1000}, {2500, 1000}}, ranges)
}

func TestCreate_SimpleAsset(t *testing.T) {
	origin := testutil.NewMockOriginT(t)
	origin.AddFile("/files/movie.mp4", 12_345)
	f := newFixture(t, origin.URL("/files/movie.mp4"))

	c, item := f.create(t)
	assert.Equal(t, types.FormatSimple, item.Format)
	assert.Empty(t, c.AvailableTracks(types.TrackVideo))
	assert.Equal(t, int64(12_345), item.EstimatedSize)
	assert.True(t, strings.HasPrefix(item.PlaybackPath, "media/"))
	assert.True(t, strings.HasSuffix(item.PlaybackPath, ".mp4"))

	chunks, err := f.store.AllChunks(context.Background(), item.ID)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Empty(t, chunks[0].TrackID)
	assert.Equal(t, filepath.Join(item.DataDir, filepath.FromSlash(item.PlaybackPath)), chunks[0].TargetFile)
	assert.Equal(t, int64(SniffSize), origin.Stats().BytesServed, "only the sniffed head was read")
}

func TestCreate_SniffsManifestWithoutExtension(t *testing.T) {
	origin := testutil.NewMockOriginT(t)
	asset := origin.ServeDashAsset("movie", 1)

	// same document, served without a telling extension or content type
	mpd := fetchBody(t, asset.URL)
	origin.Add("/movie/play", mpd, "text/plain")
	f := newFixture(t, origin.URL("/movie/play"))

	c, err := Create(context.Background(), f.item, f.opts)
	require.NoError(t, err)
	assert.Equal(t, types.FormatDash, c.Format())
	assert.Len(t, c.AvailableTracks(types.TrackVideo), 2)
}

func TestCreate_ManifestTooLarge(t *testing.T) {
	origin := testutil.NewMockOriginT(t)
	asset := origin.ServeDashAsset("movie", 1)
	f := newFixture(t, asset.URL)
	f.opts.MaxManifestSize = 64

	_, err := Create(context.Background(), f.item, f.opts)
	var me *types.ManifestError
	assert.True(t, errors.As(err, &me))
}

func TestCreate_MissingManifestIsNetworkError(t *testing.T) {
	origin := testutil.NewMockOriginT(t)
	f := newFixture(t, origin.URL("/nope/manifest.mpd"))

	_, err := Create(context.Background(), f.item, f.opts)
	var ne *types.NetworkError
	require.True(t, errors.As(err, &ne))
	assert.Equal(t, 404, ne.StatusCode)
}

func TestOpen_UpdateAddsOnlyNewChunks(t *testing.T) {
	origin := testutil.NewMockOriginT(t)
	asset := origin.ServeHlsAsset("show", 2)
	f := newFixture(t, asset.URL)
	ctx := context.Background()

	_, item := f.create(t)
	before, err := f.store.AllChunks(ctx, item.ID)
	require.NoError(t, err)

	// update mode must work offline
	origin.Close()

	u, err := Open(ctx, item, Options{Store: f.store})
	require.NoError(t, err)
	assert.Equal(t, []string{"v1"}, ids(u.SelectedTracks(types.TrackVideo)))
	assert.False(t, u.Dirty())

	same, err := u.Apply(ctx)
	require.NoError(t, err)
	assert.Equal(t, item.EstimatedSize, same.EstimatedSize, "clean apply is a no-op")

	require.NoError(t, u.SetSelectedTracks(types.TrackVideo, "v0"))
	require.NoError(t, u.SetSelectedTracks(types.TrackAudio, "a0", "a1"))
	assert.True(t, u.Dirty())

	updated, err := u.Apply(ctx)
	require.NoError(t, err)
	assert.False(t, u.Dirty())
	assert.Less(t, updated.EstimatedSize, item.EstimatedSize)

	after, err := f.store.AllChunks(ctx, item.ID)
	require.NoError(t, err)
	assert.Len(t, after, len(before)+asset.ChunkCount("v0", "a1"))

	selected, err := f.store.Tracks(ctx, item.ID, types.TrackSelected)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"v0", "a0", "a1", "t0"}, ids(selected))

	stored, err := f.store.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, updated.EstimatedSize, stored.EstimatedSize)

	master, err := os.ReadFile(filepath.Join(item.DataDir, "master.m3u8"))
	require.NoError(t, err)
	assert.Contains(t, string(master), "v0/index.m3u8")
	assert.NotContains(t, string(master), "v1/index.m3u8")
	assert.Contains(t, string(master), `URI="a1/index.m3u8"`)
}

func TestOpen_RequiresLoadedMetadata(t *testing.T) {
	f := newFixture(t, "http://origin.test/x.mpd")
	_, err := Open(context.Background(), f.item, Options{Store: f.store})
	assert.ErrorIs(t, err, types.ErrInvalidState)
}

func TestDownloadedTracks_Derived(t *testing.T) {
	origin := testutil.NewMockOriginT(t)
	asset := origin.ServeDashAsset("movie", 2)
	f := newFixture(t, asset.URL)
	ctx := context.Background()

	_, item := f.create(t)
	u, err := Open(ctx, item, Options{Store: f.store})
	require.NoError(t, err)

	done, err := u.DownloadedTracks(ctx)
	require.NoError(t, err)
	assert.Empty(t, done)

	chunks, err := f.store.AllChunks(ctx, item.ID)
	require.NoError(t, err)
	for _, ch := range chunks {
		if ch.TrackID == "a1r0" {
			require.NoError(t, f.store.MarkChunkComplete(ctx, ch))
		}
	}

	done, err = u.DownloadedTracks(ctx)
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.Equal(t, "a1r0", done[0].RelativeID)
	assert.Equal(t, types.TrackDownloaded, done[0].State)
}
