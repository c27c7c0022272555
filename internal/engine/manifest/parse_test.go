package manifest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surge-downloader/offline/internal/engine/types"
)

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		name        string
		url         string
		contentType string
		head        string
		want        types.AssetFormat
	}{
		{"dash content type", "http://x/play", "application/dash+xml", "", types.FormatDash},
		{"hls content type", "http://x/play", "application/vnd.apple.mpegURL", "", types.FormatHls},
		{"mpd extension", "http://x/a/manifest.mpd?token=1", "", "", types.FormatDash},
		{"m3u8 extension", "http://x/a/master.m3u8", "text/plain", "", types.FormatHls},
		{"sniffed mpd", "http://x/play?id=1", "text/plain", "\xef\xbb\xbf\n<?xml version=\"1.0\"?>\n<MPD type=\"static\">", types.FormatDash},
		{"sniffed m3u8", "http://x/play?id=1", "", "  #EXTM3U\n#EXT-X-VERSION:3", types.FormatHls},
		{"plain file", "http://x/movie.mp4", "video/mp4", "", types.FormatSimple},
		{"unknown bytes", "http://x/blob", "", "hello", types.FormatSimple},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectFormat(tt.url, tt.contentType, []byte(tt.head)))
		})
	}
}

func TestMediaExtension(t *testing.T) {
	assert.Equal(t, ".mp4", mediaExtension("http://x/a.mp4", nil))
	// PNG signature
	assert.Equal(t, ".png", mediaExtension("http://x/blob", []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")))
	assert.Equal(t, "", mediaExtension("http://x/blob", []byte("nothing")))
}

func track(id string, kind types.TrackType, lang string, bitrate int64) types.Track {
	return types.Track{RelativeID: id, Type: kind, Language: lang, Bitrate: bitrate}
}

func TestDefaultSelection(t *testing.T) {
	sel := DefaultSelection([]types.Track{
		track("v0", types.TrackVideo, "", 500_000),
		track("v1", types.TrackVideo, "", 2_000_000),
		track("a0", types.TrackAudio, "en", 64_000),
		track("a1", types.TrackAudio, "en", 128_000),
		track("a2", types.TrackAudio, "fr", 96_000),
		track("t0", types.TrackText, "en", 0),
		track("t1", types.TrackText, "fr", 0),
	})

	assert.Equal(t, []string{"v1"}, sel[types.TrackVideo])
	assert.Equal(t, []string{"a1"}, sel[types.TrackAudio])
	assert.Equal(t, []string{"t0"}, sel[types.TrackText])
}

func TestDefaultSelection_TiesAndLanguage(t *testing.T) {
	sel := DefaultSelection([]types.Track{
		track("v0", types.TrackVideo, "", 1000),
		track("v1", types.TrackVideo, "", 1000),
		track("a0", types.TrackAudio, "fr", 64_000),
		track("a1", types.TrackAudio, "en", 256_000),
	})
	assert.Equal(t, []string{"v0"}, sel[types.TrackVideo], "first discovered wins ties")
	assert.Equal(t, []string{"a0"}, sel[types.TrackAudio], "only the first track's language is considered")
	assert.Empty(t, sel[types.TrackText])

	sel = DefaultSelection([]types.Track{
		track("a0", types.TrackAudio, "", 64_000),
		track("a1", types.TrackAudio, "en", 256_000),
	})
	assert.Equal(t, []string{"a1"}, sel[types.TrackAudio], "unlabelled first track does not restrict the language")

	assert.Empty(t, DefaultSelection(nil))
}

func TestExpandTemplate(t *testing.T) {
	assert.Equal(t, "v720/seg-007.m4s", expandTemplate("$RepresentationID$/seg-$Number%03d$.m4s", "v720", 0, 7, 0))
	assert.Equal(t, "t/90000_2000000.mp4", expandTemplate("t/$Time$_$Bandwidth$.mp4", "x", 2_000_000, 1, 90000))
	assert.Equal(t, "a$b/12", expandTemplate("a$$b/$Number$", "x", 0, 12, 0))
}

func TestParseISODuration(t *testing.T) {
	tests := map[string]time.Duration{
		"PT8S":       8 * time.Second,
		"PT1H2M3.5S": time.Hour + 2*time.Minute + 3500*time.Millisecond,
		"P1DT1S":     24*time.Hour + time.Second,
		"PT0.25S":    250 * time.Millisecond,
		"":           0,
	}
	for in, want := range tests {
		got, err := parseISODuration(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, bad := range []string{"8S", "P", "PT", "PTxS"} {
		_, err := parseISODuration(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseByteRange(t *testing.T) {
	off, n, err := parseByteRange("100-199")
	require.NoError(t, err)
	assert.Equal(t, int64(100), off)
	assert.Equal(t, int64(100), n)

	_, _, err = parseByteRange("200-100")
	assert.Error(t, err)
	_, _, err = parseByteRange("abc")
	assert.Error(t, err)
}

func TestPeriodDurations_OpenPeriodRunsToEnd(t *testing.T) {
	f := &dashFormat{doc: mpdDoc{
		MediaPresentationDuration: "PT30S",
		Periods:                   []mpdPeriod{{Duration: "PT10S"}, {}},
	}}
	require.NoError(t, f.periodDurations())
	assert.Equal(t, []time.Duration{10 * time.Second, 20 * time.Second}, f.periods)
	assert.Equal(t, 30*time.Second, f.total)
}

func TestFromTemplate_Timeline(t *testing.T) {
	f := &dashFormat{}
	zero := int64(0)
	tmpl := &mpdSegmentTemplate{
		Media:     "$RepresentationID$/$Time$.m4s",
		Timescale: 1000,
		Timeline: &mpdTimeline{S: []mpdTimelineEntry{
			{T: &zero, D: 2000, R: 2},
			{D: 1000, R: -1},
		}},
	}
	base := mustURL(t, "http://cdn.test/a/manifest.mpd")
	r := &rendition{}
	require.NoError(t, f.fromTemplate(r, tmpl, &mpdRepresentation{ID: "v"}, base, 9*time.Second))

	var urls []string
	for _, s := range r.segments {
		urls = append(urls, s.URL)
	}
	assert.Equal(t, []string{
		"http://cdn.test/a/v/0.m4s",
		"http://cdn.test/a/v/2000.m4s",
		"http://cdn.test/a/v/4000.m4s",
		"http://cdn.test/a/v/6000.m4s",
		"http://cdn.test/a/v/7000.m4s",
		"http://cdn.test/a/v/8000.m4s",
	}, urls)
	assert.Equal(t, 9*time.Second, r.totalDuration())
	assert.Nil(t, r.init)
}

func TestFromTemplate_LastSegmentIsShort(t *testing.T) {
	f := &dashFormat{}
	tmpl := &mpdSegmentTemplate{Media: "s$Number$.m4s", Initialization: "init-$RepresentationID$.mp4", Timescale: 1, Duration: 4}
	r := &rendition{}
	require.NoError(t, f.fromTemplate(r, tmpl, &mpdRepresentation{ID: "v"}, mustURL(t, "http://cdn.test/m.mpd"), 10*time.Second))

	require.Len(t, r.segments, 3)
	assert.Equal(t, "http://cdn.test/s1.m4s", r.segments[0].URL)
	assert.Equal(t, 2*time.Second, r.segments[2].Duration)
	require.NotNil(t, r.init)
	assert.Equal(t, "http://cdn.test/init-v.mp4", r.init.URL)
}

func TestFromList_ByteRanges(t *testing.T) {
	f := &dashFormat{}
	list := &mpdSegmentList{
		Timescale:      1,
		Duration:       4,
		Initialization: &mpdURL{Range: "0-99"},
		SegmentURLs:    []mpdSegmentURL{{MediaRange: "100-1099"}, {MediaRange: "1100-2099"}},
	}
	r := &rendition{}
	require.NoError(t, f.fromList(r, list, mustURL(t, "http://cdn.test/v/all.mp4")))

	require.NotNil(t, r.init)
	assert.Equal(t, int64(0), r.init.Offset)
	assert.Equal(t, int64(100), r.init.Length)
	require.Len(t, r.segments, 2)
	assert.Equal(t, "http://cdn.test/v/all.mp4", r.segments[1].URL)
	assert.Equal(t, int64(1100), r.segments[1].Offset)
	assert.Equal(t, int64(1000), r.segments[1].Length)
	assert.NotEqual(t, r.segments[0].localName(), r.segments[1].localName())
}
