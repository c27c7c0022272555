package manifest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/grafov/m3u8"
	"golang.org/x/sync/errgroup"

	"github.com/surge-downloader/offline/internal/engine/types"
	"github.com/surge-downloader/offline/internal/utils"
)

const (
	hlsLocalMaster = "master.m3u8"
	hlsLocalMedia  = "index.m3u8"

	// media playlists fetched at once while parsing a master playlist
	hlsFetchConcurrency = 4

	hlsAudioGroup    = "audio"
	hlsSubtitleGroup = "subs"
)

// hlsTrack is the Extra blob of an HLS track
type hlsTrack struct {
	URI     string `json:"uri"`
	Group   string `json:"group,omitempty"`
	Name    string `json:"name,omitempty"`
	Default bool   `json:"default,omitempty"`
}

type hlsFormat struct {
	total  time.Duration
	tracks []types.Track
	meta   map[string]hlsTrack
	byID   map[string]*rendition
}

func (f *hlsFormat) assetFormat() types.AssetFormat { return types.FormatHls }

func (f *hlsFormat) duration() time.Duration { return f.total }

// hlsEntry is a media playlist referenced from the master playlist
type hlsEntry struct {
	track types.Track
	meta  hlsTrack
	uri   string // absolute
	r     *rendition
}

func (f *hlsFormat) parseOrigin(ctx context.Context, src *sources, originURL string) error {
	doc, err := src.load(ctx, originURL)
	if err != nil {
		return err
	}
	base, err := url.Parse(doc.URL)
	if err != nil {
		return &types.ManifestError{Reason: "invalid manifest url", Err: err}
	}

	pl, listType, err := m3u8.DecodeFrom(bytes.NewReader(doc.Body), false)
	if err != nil {
		return &types.ManifestError{Reason: "invalid playlist", Err: err}
	}

	var entries []*hlsEntry
	switch listType {
	case m3u8.MEDIA:
		// a bare media playlist is a single video track
		r, err := hlsRendition(pl.(*m3u8.MediaPlaylist), base)
		if err != nil {
			return err
		}
		e := &hlsEntry{
			track: types.Track{RelativeID: "v0", Type: types.TrackVideo},
			meta:  hlsTrack{URI: doc.URL},
			uri:   doc.URL,
			r:     r,
		}
		entries = append(entries, e)
	case m3u8.MASTER:
		entries, err = masterEntries(pl.(*m3u8.MasterPlaylist), base)
		if err != nil {
			return err
		}
		if err := fetchMediaPlaylists(ctx, src, entries); err != nil {
			return err
		}
	default:
		return &types.ManifestError{Reason: "unrecognized playlist"}
	}
	if len(entries) == 0 {
		return &types.ManifestError{Reason: "playlist has no streams"}
	}

	f.meta = make(map[string]hlsTrack, len(entries))
	f.byID = make(map[string]*rendition, len(entries))
	for _, e := range entries {
		e.track.Extra, _ = json.Marshal(e.meta)
		e.r.track = e.track
		f.tracks = append(f.tracks, e.track)
		f.meta[e.track.RelativeID] = e.meta
		f.byID[e.track.RelativeID] = e.r
	}
	f.total = entries[0].r.totalDuration()
	return nil
}

// masterEntries lists variants as video tracks and EXT-X-MEDIA renditions with
// their own URI as audio or text tracks. Ids count positions per type in the
// order URIs appear in the playlist.
func masterEntries(master *m3u8.MasterPlaylist, base *url.URL) ([]*hlsEntry, error) {
	var entries []*hlsEntry
	seen := make(map[string]bool)
	counts := make(map[types.TrackType]int)

	add := func(kind types.TrackType, prefix, ref string, fill func(*hlsEntry)) error {
		u, err := utils.ResolveURL(base, ref)
		if err != nil {
			return &types.ManifestError{Reason: "invalid playlist uri", Err: err}
		}
		if seen[u] {
			return nil
		}
		seen[u] = true
		e := &hlsEntry{
			track: types.Track{RelativeID: prefix + strconv.Itoa(counts[kind]), Type: kind},
			meta:  hlsTrack{URI: u},
			uri:   u,
		}
		counts[kind]++
		fill(e)
		entries = append(entries, e)
		return nil
	}

	for _, v := range master.Variants {
		if v == nil {
			continue
		}
		for _, alt := range v.Alternatives {
			if alt == nil || alt.URI == "" {
				continue
			}
			var kind types.TrackType
			var prefix string
			switch strings.ToUpper(alt.Type) {
			case "AUDIO":
				kind, prefix = types.TrackAudio, "a"
			case "SUBTITLES":
				kind, prefix = types.TrackText, "t"
			default:
				continue
			}
			alt := alt
			if err := add(kind, prefix, alt.URI, func(e *hlsEntry) {
				e.track.Language = alt.Language
				e.meta.Group = alt.GroupId
				e.meta.Name = alt.Name
				e.meta.Default = alt.Default
			}); err != nil {
				return nil, err
			}
		}
		if v.Iframe || v.URI == "" {
			continue
		}
		v := v
		if err := add(types.TrackVideo, "v", v.URI, func(e *hlsEntry) {
			e.track.Bitrate = int64(v.Bandwidth)
			e.track.Codecs = v.Codecs
			e.track.Width, e.track.Height = parseResolution(v.Resolution)
			e.meta.Group = v.Audio
		}); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

func fetchMediaPlaylists(ctx context.Context, src *sources, entries []*hlsEntry) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(hlsFetchConcurrency)
	for _, e := range entries {
		e := e
		g.Go(func() error {
			doc, err := src.load(gctx, e.uri)
			if err != nil {
				return err
			}
			pl, listType, err := m3u8.DecodeFrom(bytes.NewReader(doc.Body), false)
			if err != nil {
				return &types.ManifestError{Reason: "invalid media playlist " + e.track.RelativeID, Err: err}
			}
			if listType != m3u8.MEDIA {
				return &types.ManifestError{Reason: e.track.RelativeID + " is not a media playlist"}
			}
			base, err := url.Parse(doc.URL)
			if err != nil {
				return &types.ManifestError{Reason: "invalid playlist url", Err: err}
			}
			r, err := hlsRendition(pl.(*m3u8.MediaPlaylist), base)
			if err != nil {
				return err
			}
			e.r = r
			return nil
		})
	}
	return g.Wait()
}

// hlsRendition resolves a media playlist into segments. Byte ranges without
// an explicit offset continue where the previous range of the same URI ended.
func hlsRendition(media *m3u8.MediaPlaylist, base *url.URL) (*rendition, error) {
	if !media.Closed {
		return nil, &types.ManifestError{Reason: "live playlist without EXT-X-ENDLIST"}
	}
	if encrypted(media.Key) {
		return nil, &types.ManifestError{Reason: "encrypted playlists are not supported"}
	}

	r := &rendition{}
	xmap := media.Map
	var prev *segment
	for _, s := range media.Segments {
		if s == nil {
			continue
		}
		if encrypted(s.Key) {
			return nil, &types.ManifestError{Reason: "encrypted playlists are not supported"}
		}
		if xmap == nil && s.Map != nil {
			xmap = s.Map
		}
		u, err := utils.ResolveURL(base, s.URI)
		if err != nil {
			return nil, &types.ManifestError{Reason: "invalid segment uri", Err: err}
		}
		seg := wholeSegment(u, time.Duration(s.Duration*float64(time.Second)))
		if s.Limit > 0 {
			off := s.Offset
			if off == 0 && prev != nil && prev.URL == u && prev.Offset >= 0 {
				off = prev.Offset + prev.Length
			}
			seg.Offset, seg.Length = off, s.Limit
		}
		r.segments = append(r.segments, seg)
		last := seg
		prev = &last
	}
	if len(r.segments) == 0 {
		return nil, &types.ManifestError{Reason: "media playlist has no segments"}
	}

	if xmap != nil && xmap.URI != "" {
		u, err := utils.ResolveURL(base, xmap.URI)
		if err != nil {
			return nil, &types.ManifestError{Reason: "invalid EXT-X-MAP uri", Err: err}
		}
		init := wholeSegment(u, 0)
		if xmap.Limit > 0 {
			init.Offset, init.Length = xmap.Offset, xmap.Limit
		}
		r.init = &init
	}
	return r, nil
}

func encrypted(k *m3u8.Key) bool {
	return k != nil && k.Method != "" && !strings.EqualFold(k.Method, "NONE")
}

func parseResolution(s string) (int, int) {
	w, h, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok {
		return 0, 0
	}
	width, err1 := strconv.Atoi(w)
	height, err2 := strconv.Atoi(h)
	if err1 != nil || err2 != nil {
		return 0, 0
	}
	return width, height
}

func (f *hlsFormat) createTracks(itemID string) []types.Track {
	out := make([]types.Track, len(f.tracks))
	for i, t := range f.tracks {
		t.ItemID = itemID
		out[i] = t
	}
	return out
}

func (f *hlsFormat) createDownloadTasks(item types.Item, selected []types.Track) ([]types.ChunkTask, error) {
	return renditionTasks(item, f.byID, selected)
}

func (f *hlsFormat) estimatedSize(selected []types.Track) int64 {
	return estimateBytes(selected, f.total)
}

// createLocalManifest writes one media playlist per selected track under
// <relative id>/index.m3u8 and a master playlist tying them together.
func (f *hlsFormat) createLocalManifest(item types.Item, selected []types.Track) (string, error) {
	var videos, audios, texts []types.Track
	for _, t := range selected {
		r, ok := f.byID[t.RelativeID]
		if !ok {
			return "", types.ErrTrackNotFound
		}
		body, err := localMediaPlaylist(r)
		if err != nil {
			return "", err
		}
		if err := writeLocal(item.DataDir, path.Join(t.RelativeID, hlsLocalMedia), body); err != nil {
			return "", err
		}
		switch t.Type {
		case types.TrackVideo:
			videos = append(videos, t)
		case types.TrackAudio:
			audios = append(audios, t)
		case types.TrackText:
			texts = append(texts, t)
		}
	}

	var alts []*m3u8.Alternative
	for i, t := range audios {
		alts = append(alts, f.alternative("AUDIO", hlsAudioGroup, t, i == 0))
	}
	for i, t := range texts {
		alts = append(alts, f.alternative("SUBTITLES", hlsSubtitleGroup, t, i == 0))
	}

	streams := videos
	if len(streams) == 0 {
		// audio only: the renditions themselves are the variant streams
		streams, alts = audios, nil
		for i, t := range texts {
			alts = append(alts, f.alternative("SUBTITLES", hlsSubtitleGroup, t, i == 0))
		}
	}

	master := m3u8.NewMasterPlaylist()
	for i, t := range streams {
		params := m3u8.VariantParams{
			Bandwidth: uint32(t.Bitrate),
			Codecs:    t.Codecs,
		}
		if t.Width > 0 && t.Height > 0 {
			params.Resolution = fmt.Sprintf("%dx%d", t.Width, t.Height)
		}
		if len(videos) > 0 && len(audios) > 0 {
			params.Audio = hlsAudioGroup
		}
		if len(texts) > 0 {
			params.Subtitles = hlsSubtitleGroup
		}
		// alternatives are written once, with the first variant
		if i == 0 {
			params.Alternatives = alts
		}
		master.Append(path.Join(t.RelativeID, hlsLocalMedia), nil, params)
	}

	if err := writeLocal(item.DataDir, hlsLocalMaster, master.Encode().Bytes()); err != nil {
		return "", err
	}
	return hlsLocalMaster, nil
}

func (f *hlsFormat) alternative(kind, group string, t types.Track, first bool) *m3u8.Alternative {
	meta := f.meta[t.RelativeID]
	name := firstNonEmpty(meta.Name, t.Language, t.RelativeID)
	return &m3u8.Alternative{
		GroupId:    group,
		URI:        path.Join(t.RelativeID, hlsLocalMedia),
		Type:       kind,
		Language:   t.Language,
		Name:       name,
		Default:    first,
		Autoselect: "YES",
	}
}

func localMediaPlaylist(r *rendition) ([]byte, error) {
	pl, err := m3u8.NewMediaPlaylist(0, uint(len(r.segments)))
	if err != nil {
		return nil, &types.ManifestError{Reason: "build local playlist", Err: err}
	}
	pl.MediaType = m3u8.VOD
	if r.init != nil {
		pl.SetDefaultMap(r.init.localRef(1), 0, 0)
	}
	for _, s := range r.segments {
		if err := pl.Append(s.localRef(1), s.Duration.Seconds(), ""); err != nil {
			return nil, &types.ManifestError{Reason: "build local playlist", Err: err}
		}
	}
	pl.Close()
	return pl.Encode().Bytes(), nil
}
