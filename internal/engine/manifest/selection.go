package manifest

import "github.com/surge-downloader/offline/internal/engine/types"

// DefaultSelection picks the initial tracks of a freshly parsed manifest:
// the highest bitrate video, the highest bitrate audio in the language of
// the first audio track (of any language when that track has none), and the
// first text track. Ties go to the track
// discovered first. The result is a set of relative ids per type.
func DefaultSelection(available []types.Track) map[types.TrackType][]string {
	byType := make(map[types.TrackType][]types.Track)
	for _, t := range available {
		byType[t.Type] = append(byType[t.Type], t)
	}

	sel := make(map[types.TrackType][]string)
	if best, ok := highestBitrate(byType[types.TrackVideo], nil); ok {
		sel[types.TrackVideo] = []string{best.RelativeID}
	}
	if audio := byType[types.TrackAudio]; len(audio) > 0 {
		var keep func(types.Track) bool
		if lang := audio[0].Language; lang != "" {
			keep = func(t types.Track) bool { return t.Language == lang }
		}
		if best, ok := highestBitrate(audio, keep); ok {
			sel[types.TrackAudio] = []string{best.RelativeID}
		}
	}
	if text := byType[types.TrackText]; len(text) > 0 {
		sel[types.TrackText] = []string{text[0].RelativeID}
	}
	return sel
}

func highestBitrate(tracks []types.Track, keep func(types.Track) bool) (types.Track, bool) {
	var best types.Track
	found := false
	for _, t := range tracks {
		if keep != nil && !keep(t) {
			continue
		}
		if !found || t.Bitrate > best.Bitrate {
			best = t
			found = true
		}
	}
	return best, found
}
