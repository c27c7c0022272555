package manifest

import (
	"context"
	"path"
	"path/filepath"
	"time"

	"github.com/surge-downloader/offline/internal/engine/types"
	"github.com/surge-downloader/offline/internal/utils"
)

// chunkDir holds every downloaded segment of an item, relative to its data dir
const chunkDir = "chunks"

// format is implemented by each manifest variant
type format interface {
	assetFormat() types.AssetFormat
	// parseOrigin reads the origin manifest and any documents it references
	parseOrigin(ctx context.Context, src *sources, originURL string) error
	// createTracks lists every selectable track in discovery order
	createTracks(itemID string) []types.Track
	createDownloadTasks(item types.Item, selected []types.Track) ([]types.ChunkTask, error)
	// createLocalManifest writes the offline manifest and returns its path
	// relative to the item's data dir
	createLocalManifest(item types.Item, selected []types.Track) (string, error)
	estimatedSize(selected []types.Track) int64
	duration() time.Duration
}

func newFormat(f types.AssetFormat, fetcher Fetcher) format {
	switch f {
	case types.FormatDash:
		return &dashFormat{}
	case types.FormatHls:
		return &hlsFormat{}
	default:
		return &simpleFormat{fetcher: fetcher}
	}
}

// segment is one addressable piece of a track
type segment struct {
	URL      string
	Offset   int64 // types.WholeResource unless a byte range
	Length   int64
	Duration time.Duration
}

func wholeSegment(url string, d time.Duration) segment {
	return segment{URL: url, Offset: types.WholeResource, Duration: d}
}

// localName is the chunk file name for a segment. It only depends on the
// source so recompiling maps to the same file.
func (s segment) localName() string {
	return utils.RangeHash(s.URL, s.Offset, s.Length) + utils.URLExtension(s.URL)
}

// localRef is the segment path as written into a local manifest placed at
// depth directories below the data dir.
func (s segment) localRef(depth int) string {
	p := path.Join(chunkDir, s.localName())
	for i := 0; i < depth; i++ {
		p = "../" + p
	}
	return p
}

// rendition is a track resolved to its segments
type rendition struct {
	track    types.Track
	init     *segment
	segments []segment
}

// tasks emits one chunk task per segment, initialization segment first.
// Order is the segment position so tracks progress side by side.
func (r *rendition) tasks(item types.Item) []types.ChunkTask {
	out := make([]types.ChunkTask, 0, len(r.segments)+1)
	add := func(s segment, order int64) {
		out = append(out, types.ChunkTask{
			ItemID:      item.ID,
			URL:         s.URL,
			TargetFile:  filepath.Join(item.DataDir, chunkDir, s.localName()),
			TrackID:     r.track.RelativeID,
			Order:       order,
			RangeOffset: s.Offset,
			RangeLength: s.Length,
		})
	}
	if r.init != nil {
		add(*r.init, 0)
	}
	for i, s := range r.segments {
		add(s, int64(i+1))
	}
	return out
}

func (r *rendition) totalDuration() time.Duration {
	var d time.Duration
	for _, s := range r.segments {
		d += s.Duration
	}
	return d
}

// renditionTasks compiles tasks for the selected tracks, failing on any id the
// parsed manifest does not know.
func renditionTasks(item types.Item, byID map[string]*rendition, selected []types.Track) ([]types.ChunkTask, error) {
	var out []types.ChunkTask
	for _, t := range selected {
		r, ok := byID[t.RelativeID]
		if !ok {
			return nil, types.ErrTrackNotFound
		}
		out = append(out, r.tasks(item)...)
	}
	return out, nil
}

// estimateBytes is Σ bitrate × duration / 8 over the selected tracks
func estimateBytes(selected []types.Track, d time.Duration) int64 {
	var total int64
	for _, t := range selected {
		total += int64(float64(t.Bitrate) * d.Seconds() / 8)
	}
	return total
}
