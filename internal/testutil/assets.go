package testutil

import (
	"fmt"
	"path"
	"strings"
)

// Asset describes a manifest registered on a MockOrigin
type Asset struct {
	URL        string
	TrackBytes map[string]int64    // relative id → bytes of every chunk of the track
	Files      map[string][]string // relative id → origin paths
}

// Bytes sums TrackBytes over ids
func (a *Asset) Bytes(ids ...string) int64 {
	var n int64
	for _, id := range ids {
		n += a.TrackBytes[id]
	}
	return n
}

// ChunkCount returns how many chunk tasks ids compile to
func (a *Asset) ChunkCount(ids ...string) int {
	n := 0
	for _, id := range ids {
		n += len(a.Files[id])
	}
	return n
}

func newAsset(url string) *Asset {
	return &Asset{URL: url, TrackBytes: make(map[string]int64), Files: make(map[string][]string)}
}

func (m *MockOrigin) addTrackFile(a *Asset, id, p string, size int) {
	m.AddFile(p, size)
	a.TrackBytes[id] += int64(size)
	a.Files[id] = append(a.Files[id], p)
}

const (
	fixtureInitSize  = 500
	fixtureSegSecs   = 4
	fixtureTextBytes = 200
)

type fixtureRendition struct {
	name    string
	segSize int
}

// ServeDashAsset registers /<name>/manifest.mpd: a video adaptation set with
// 360p@500k (a0r0) and 720p@2000k (a0r1), an English audio set (a1r0) and an
// English WebVTT text set (a2r0). Media uses a numbered SegmentTemplate with
// an init segment; text is a single BaseURL file.
func (m *MockOrigin) ServeDashAsset(name string, segments int) *Asset {
	root := "/" + name
	a := newAsset(m.URL(root + "/manifest.mpd"))

	reps := map[string]fixtureRendition{
		"a0r0": {"v360", 3000},
		"a0r1": {"v720", 8000},
		"a1r0": {"aen", 1500},
	}
	for id, r := range reps {
		m.addTrackFile(a, id, fmt.Sprintf("%s/%s/init.mp4", root, r.name), fixtureInitSize)
		for i := 1; i <= segments; i++ {
			m.addTrackFile(a, id, fmt.Sprintf("%s/%s/seg-%03d.m4s", root, r.name, i), r.segSize)
		}
	}
	m.addTrackFile(a, "a2r0", root+"/subs/en.vtt", fixtureTextBytes)

	tmpl := `<SegmentTemplate initialization="$RepresentationID$/init.mp4" media="$RepresentationID$/seg-$Number%03d$.m4s" startNumber="1" timescale="1000" duration="4000"/>`
	mpd := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<MPD xmlns="urn:mpeg:dash:schema:mpd:2011" type="static" mediaPresentationDuration="PT%dS" minBufferTime="PT2S">
  <Period id="p0">
    <AdaptationSet id="0" contentType="video" mimeType="video/mp4">
      %s
      <Representation id="v360" bandwidth="500000" width="640" height="360" codecs="avc1.4d401e"/>
      <Representation id="v720" bandwidth="2000000" width="1280" height="720" codecs="avc1.4d401f"/>
    </AdaptationSet>
    <AdaptationSet id="1" contentType="audio" mimeType="audio/mp4" lang="en">
      %s
      <Representation id="aen" bandwidth="128000" codecs="mp4a.40.2"/>
    </AdaptationSet>
    <AdaptationSet id="2" contentType="text" mimeType="text/vtt" lang="en">
      <Representation id="sub-en" bandwidth="1000">
        <BaseURL>subs/en.vtt</BaseURL>
      </Representation>
    </AdaptationSet>
  </Period>
</MPD>
`, segments*fixtureSegSecs, tmpl, tmpl)
	m.Add(root+"/manifest.mpd", []byte(mpd), "application/dash+xml")
	return a
}

func mediaPlaylist(segs []string, mapURI string) string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n#EXT-X-VERSION:7\n")
	fmt.Fprintf(&b, "#EXT-X-TARGETDURATION:%d\n#EXT-X-PLAYLIST-TYPE:VOD\n", fixtureSegSecs)
	if mapURI != "" {
		fmt.Fprintf(&b, "#EXT-X-MAP:URI=%q\n", mapURI)
	}
	for _, s := range segs {
		fmt.Fprintf(&b, "#EXTINF:%d.000,\n%s\n", fixtureSegSecs, s)
	}
	b.WriteString("#EXT-X-ENDLIST\n")
	return b.String()
}

// ServeHlsAsset registers /<name>/master.m3u8 with two video variants,
// low@500k (v0) and high@2000k (v1), English (a0) and French (a1) audio
// renditions and English subtitles (t0). Audio and video media playlists use
// an EXT-X-MAP init segment.
func (m *MockOrigin) ServeHlsAsset(name string, segments int) *Asset {
	root := "/" + name
	a := newAsset(m.URL(root + "/master.m3u8"))

	type rendition struct {
		id, dir, ext string
		segSize      int
		init         bool
	}
	renditions := []rendition{
		{"a0", "audio/en", ".m4s", 1500, true},
		{"a1", "audio/fr", ".m4s", 1400, true},
		{"t0", "subs/en", ".vtt", fixtureTextBytes, false},
		{"v0", "low", ".m4s", 3000, true},
		{"v1", "high", ".m4s", 8000, true},
	}
	for _, r := range renditions {
		dir := path.Join(root, r.dir)
		mapURI := ""
		if r.init {
			mapURI = "init.mp4"
			m.addTrackFile(a, r.id, dir+"/init.mp4", fixtureInitSize)
		}
		var segs []string
		for i := 0; i < segments; i++ {
			seg := fmt.Sprintf("seg-%d%s", i, r.ext)
			segs = append(segs, seg)
			m.addTrackFile(a, r.id, dir+"/"+seg, r.segSize)
		}
		m.Add(dir+"/index.m3u8", []byte(mediaPlaylist(segs, mapURI)), "application/vnd.apple.mpegurl")
	}

	master := `#EXTM3U
#EXT-X-VERSION:6
#EXT-X-INDEPENDENT-SEGMENTS
#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID="aud",NAME="English",LANGUAGE="en",DEFAULT=YES,AUTOSELECT=YES,URI="audio/en/index.m3u8"
#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID="aud",NAME="French",LANGUAGE="fr",DEFAULT=NO,AUTOSELECT=YES,URI="audio/fr/index.m3u8"
#EXT-X-MEDIA:TYPE=SUBTITLES,GROUP-ID="subs",NAME="English",LANGUAGE="en",DEFAULT=NO,AUTOSELECT=YES,URI="subs/en/index.m3u8"
#EXT-X-STREAM-INF:BANDWIDTH=500000,RESOLUTION=640x360,CODECS="avc1.4d401e,mp4a.40.2",AUDIO="aud",SUBTITLES="subs"
low/index.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=2000000,RESOLUTION=1280x720,CODECS="avc1.4d401f,mp4a.40.2",AUDIO="aud",SUBTITLES="subs"
high/index.m3u8
`
	m.Add(root+"/master.m3u8", []byte(master), "application/vnd.apple.mpegurl")
	return a
}

// ServeHlsByteRangeAsset registers /<name>/media.m3u8, a bare media playlist
// whose init segment and media segments are byte ranges of one file. Only
// the first range carries an explicit offset.
func (m *MockOrigin) ServeHlsByteRangeAsset(name string, segments, segSize int) *Asset {
	root := "/" + name
	a := newAsset(m.URL(root + "/media.m3u8"))

	total := fixtureInitSize + segments*segSize
	m.AddFile(root+"/all.mp4", total)
	a.TrackBytes["v0"] = int64(total)
	for i := 0; i <= segments; i++ {
		a.Files["v0"] = append(a.Files["v0"], root+"/all.mp4")
	}

	var b strings.Builder
	b.WriteString("#EXTM3U\n#EXT-X-VERSION:7\n")
	fmt.Fprintf(&b, "#EXT-X-TARGETDURATION:%d\n#EXT-X-PLAYLIST-TYPE:VOD\n", fixtureSegSecs)
	fmt.Fprintf(&b, "#EXT-X-MAP:URI=\"all.mp4\",BYTERANGE=\"%d@0\"\n", fixtureInitSize)
	for i := 0; i < segments; i++ {
		fmt.Fprintf(&b, "#EXTINF:%d.000,\n", fixtureSegSecs)
		if i == 0 {
			fmt.Fprintf(&b, "#EXT-X-BYTERANGE:%d@%d\n", segSize, fixtureInitSize)
		} else {
			fmt.Fprintf(&b, "#EXT-X-BYTERANGE:%d\n", segSize)
		}
		b.WriteString("all.mp4\n")
	}
	b.WriteString("#EXT-X-ENDLIST\n")
	m.Add(root+"/media.m3u8", []byte(b.String()), "application/vnd.apple.mpegurl")
	return a
}

// ServeDashPairAsset registers /<name>/manifest.mpd with exactly one video
// representation (a0r0) and one audio representation (a1r0), each an init
// segment plus segments media segments.
func (m *MockOrigin) ServeDashPairAsset(name string, segments int) *Asset {
	root := "/" + name
	a := newAsset(m.URL(root + "/manifest.mpd"))

	for id, r := range map[string]fixtureRendition{"a0r0": {"video", 3000}, "a1r0": {"audio", 1500}} {
		m.addTrackFile(a, id, fmt.Sprintf("%s/%s/init.mp4", root, r.name), fixtureInitSize)
		for i := 1; i <= segments; i++ {
			m.addTrackFile(a, id, fmt.Sprintf("%s/%s/seg-%03d.m4s", root, r.name, i), r.segSize)
		}
	}

	tmpl := `<SegmentTemplate initialization="$RepresentationID$/init.mp4" media="$RepresentationID$/seg-$Number%03d$.m4s" startNumber="1" timescale="1000" duration="4000"/>`
	mpd := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<MPD xmlns="urn:mpeg:dash:schema:mpd:2011" type="static" mediaPresentationDuration="PT%dS">
  <Period>
    <AdaptationSet contentType="video" mimeType="video/mp4">
      %s
      <Representation id="video" bandwidth="500000" width="640" height="360"/>
    </AdaptationSet>
    <AdaptationSet contentType="audio" mimeType="audio/mp4" lang="en">
      %s
      <Representation id="audio" bandwidth="128000"/>
    </AdaptationSet>
  </Period>
</MPD>
`, segments*fixtureSegSecs, tmpl, tmpl)
	m.Add(root+"/manifest.mpd", []byte(mpd), "application/dash+xml")
	return a
}
