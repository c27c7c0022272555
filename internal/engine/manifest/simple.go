package manifest

import (
	"context"
	"path/filepath"
	"time"

	"github.com/surge-downloader/offline/internal/engine/types"
	"github.com/surge-downloader/offline/internal/utils"
)

const simpleDir = "media"

// simpleFormat is a single file asset: one chunk task, no tracks. The
// playback path is the downloaded file itself.
type simpleFormat struct {
	fetcher Fetcher
	url     string
	ext     string
	size    int64
}

func (f *simpleFormat) assetFormat() types.AssetFormat { return types.FormatSimple }

func (f *simpleFormat) duration() time.Duration { return 0 }

// parseOrigin only records the URL and, when online, its length. Nothing is
// downloaded here.
func (f *simpleFormat) parseOrigin(ctx context.Context, src *sources, originURL string) error {
	f.url = originURL
	if f.ext == "" {
		f.ext = utils.URLExtension(originURL)
	}
	if f.fetcher == nil {
		return nil
	}
	n, err := f.fetcher.ProbeLength(ctx, originURL)
	if err != nil {
		// size stays unknown; the transfer will find out
		if types.IsStopped(err) || ctx.Err() != nil {
			return err
		}
		return nil
	}
	f.size = n
	return nil
}

func (f *simpleFormat) createTracks(string) []types.Track { return nil }

func (f *simpleFormat) localPath() string {
	return filepath.ToSlash(filepath.Join(simpleDir, utils.URLHash(f.url)+f.ext))
}

func (f *simpleFormat) createDownloadTasks(item types.Item, _ []types.Track) ([]types.ChunkTask, error) {
	return []types.ChunkTask{{
		ItemID:      item.ID,
		URL:         f.url,
		TargetFile:  filepath.Join(item.DataDir, filepath.FromSlash(f.localPath())),
		Order:       0,
		RangeOffset: types.WholeResource,
	}}, nil
}

func (f *simpleFormat) createLocalManifest(types.Item, []types.Track) (string, error) {
	return f.localPath(), nil
}

func (f *simpleFormat) estimatedSize([]types.Track) int64 { return f.size }
