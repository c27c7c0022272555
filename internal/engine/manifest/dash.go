package manifest

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"

	"github.com/surge-downloader/offline/internal/engine/types"
	"github.com/surge-downloader/offline/internal/utils"
)

const dashLocalManifest = "manifest.mpd"

// dashRef locates a representation inside the parsed MPD
type dashRef struct {
	Period        int    `json:"period"`
	AdaptationSet int    `json:"adaptation_set"`
	Mime          string `json:"mime,omitempty"`
}

type dashFormat struct {
	doc     mpdDoc
	total   time.Duration
	periods []time.Duration
	tracks  []types.Track
	refs    map[string]dashRef
	byID    map[string]*rendition
	repByID map[string]*mpdRepresentation
	setByID map[string]*mpdAdaptationSet
}

func (f *dashFormat) assetFormat() types.AssetFormat { return types.FormatDash }

func (f *dashFormat) duration() time.Duration { return f.total }

func (f *dashFormat) parseOrigin(ctx context.Context, src *sources, originURL string) error {
	doc, err := src.load(ctx, originURL)
	if err != nil {
		return err
	}
	if err := xml.Unmarshal(doc.Body, &f.doc); err != nil {
		return &types.ManifestError{Reason: "invalid MPD", Err: err}
	}
	if strings.EqualFold(f.doc.Type, "dynamic") {
		return &types.ManifestError{Reason: "live MPD cannot be downloaded"}
	}
	if len(f.doc.Periods) == 0 {
		return &types.ManifestError{Reason: "MPD has no periods"}
	}

	base, err := url.Parse(doc.URL)
	if err != nil {
		return &types.ManifestError{Reason: "invalid manifest url", Err: err}
	}
	if base, err = resolveBase(base, f.doc.BaseURL); err != nil {
		return &types.ManifestError{Reason: "invalid BaseURL", Err: err}
	}
	if err := f.periodDurations(); err != nil {
		return err
	}

	f.refs = make(map[string]dashRef)
	f.byID = make(map[string]*rendition)
	f.repByID = make(map[string]*mpdRepresentation)
	f.setByID = make(map[string]*mpdAdaptationSet)

	multi := len(f.doc.Periods) > 1
	for pi := range f.doc.Periods {
		p := &f.doc.Periods[pi]
		pbase, err := resolveBase(base, p.BaseURL)
		if err != nil {
			return &types.ManifestError{Reason: "invalid period BaseURL", Err: err}
		}
		for ai := range p.AdaptationSets {
			set := &p.AdaptationSets[ai]
			sbase, err := resolveBase(pbase, set.BaseURL)
			if err != nil {
				return &types.ManifestError{Reason: "invalid adaptation set BaseURL", Err: err}
			}
			for ri := range set.Representations {
				rep := &set.Representations[ri]
				kind, ok := dashTrackType(set, rep)
				if !ok {
					continue
				}
				id := fmt.Sprintf("a%dr%d", ai, ri)
				if multi {
					id = fmt.Sprintf("p%d%s", pi, id)
				}
				rbase, err := resolveBase(sbase, rep.BaseURL)
				if err != nil {
					return &types.ManifestError{Reason: "invalid representation BaseURL", Err: err}
				}
				r, err := f.resolve(set, rep, rbase, rep.BaseURL != "" || set.BaseURL != "", f.periods[pi])
				if err != nil {
					return &types.ManifestError{Reason: "representation " + id, Err: err}
				}

				ref := dashRef{Period: pi, AdaptationSet: ai, Mime: firstNonEmpty(rep.MimeType, set.MimeType)}
				extra, _ := json.Marshal(ref)
				r.track = types.Track{
					RelativeID: id,
					Type:       kind,
					Language:   set.Lang,
					Bitrate:    rep.Bandwidth,
					Width:      rep.Width,
					Height:     rep.Height,
					Codecs:     firstNonEmpty(rep.Codecs, set.Codecs),
					Extra:      extra,
				}
				f.tracks = append(f.tracks, r.track)
				f.refs[id] = ref
				f.byID[id] = r
				f.repByID[id] = rep
				f.setByID[id] = set
			}
		}
	}
	if len(f.tracks) == 0 {
		return &types.ManifestError{Reason: "MPD has no playable representations"}
	}
	return nil
}

// periodDurations fills f.periods and f.total. A period without a duration
// runs to the end of the presentation.
func (f *dashFormat) periodDurations() error {
	total, err := parseISODuration(f.doc.MediaPresentationDuration)
	if err != nil {
		return &types.ManifestError{Reason: "invalid mediaPresentationDuration", Err: err}
	}

	f.periods = make([]time.Duration, len(f.doc.Periods))
	var known time.Duration
	open := -1
	for i, p := range f.doc.Periods {
		d, err := parseISODuration(p.Duration)
		if err != nil {
			return &types.ManifestError{Reason: "invalid period duration", Err: err}
		}
		if d == 0 {
			if open >= 0 {
				return &types.ManifestError{Reason: "more than one period without duration"}
			}
			open = i
		}
		f.periods[i] = d
		known += d
	}
	if open >= 0 {
		if total <= known {
			return &types.ManifestError{Reason: "cannot determine period duration"}
		}
		f.periods[open] = total - known
		known = total
	}
	if total == 0 {
		total = known
	}
	f.total = total
	return nil
}

// resolve expands a representation into its segment list
func (f *dashFormat) resolve(set *mpdAdaptationSet, rep *mpdRepresentation, base *url.URL, hasBaseURL bool, period time.Duration) (*rendition, error) {
	r := &rendition{}
	tmpl := rep.SegmentTemplate.merge(set.SegmentTemplate)
	list := rep.SegmentList
	if list == nil {
		list = set.SegmentList
	}

	switch {
	case tmpl != nil && tmpl.Media != "":
		return r, f.fromTemplate(r, tmpl, rep, base, period)
	case list != nil:
		return r, f.fromList(r, list, base)
	case hasBaseURL:
		r.segments = []segment{wholeSegment(base.String(), period)}
		return r, nil
	default:
		return nil, fmt.Errorf("no segment information")
	}
}

func (f *dashFormat) fromTemplate(r *rendition, tmpl *mpdSegmentTemplate, rep *mpdRepresentation, base *url.URL, period time.Duration) error {
	timescale := tmpl.Timescale
	if timescale <= 0 {
		timescale = 1
	}
	number := int64(1)
	if tmpl.StartNumber != nil {
		number = *tmpl.StartNumber
	}
	toDuration := func(ticks int64) time.Duration {
		return time.Duration(float64(ticks) / float64(timescale) * float64(time.Second))
	}
	add := func(num, t, ticks int64) error {
		u, err := utils.ResolveURL(base, expandTemplate(tmpl.Media, rep.ID, rep.Bandwidth, num, t))
		if err != nil {
			return err
		}
		r.segments = append(r.segments, wholeSegment(u, toDuration(ticks)))
		return nil
	}

	if tmpl.Initialization != "" {
		u, err := utils.ResolveURL(base, expandTemplate(tmpl.Initialization, rep.ID, rep.Bandwidth, 0, 0))
		if err != nil {
			return err
		}
		init := wholeSegment(u, 0)
		r.init = &init
	}

	periodTicks := int64(math.Ceil(period.Seconds()*float64(timescale) - 1e-6))

	if tmpl.Timeline != nil {
		var t int64
		entries := tmpl.Timeline.S
		for i, s := range entries {
			if s.T != nil {
				t = *s.T
			}
			if s.D <= 0 {
				return fmt.Errorf("timeline entry without duration")
			}
			repeat := s.R
			if repeat < 0 {
				end := periodTicks
				if i+1 < len(entries) && entries[i+1].T != nil {
					end = *entries[i+1].T
				}
				repeat = (end-t+s.D-1)/s.D - 1
			}
			for k := int64(0); k <= repeat; k++ {
				if err := add(number, t, s.D); err != nil {
					return err
				}
				t += s.D
				number++
			}
		}
		return nil
	}

	if tmpl.Duration <= 0 {
		return fmt.Errorf("segment template without duration or timeline")
	}
	if periodTicks <= 0 {
		return fmt.Errorf("segment template needs a period duration")
	}
	count := (periodTicks + tmpl.Duration - 1) / tmpl.Duration
	for i := int64(0); i < count; i++ {
		ticks := tmpl.Duration
		if rest := periodTicks - i*tmpl.Duration; rest < ticks {
			ticks = rest
		}
		if err := add(number+i, i*tmpl.Duration, ticks); err != nil {
			return err
		}
	}
	return nil
}

func (f *dashFormat) fromList(r *rendition, list *mpdSegmentList, base *url.URL) error {
	timescale := list.Timescale
	if timescale <= 0 {
		timescale = 1
	}
	each := time.Duration(float64(list.Duration) / float64(timescale) * float64(time.Second))

	resolveRange := func(ref, rng string, d time.Duration) (segment, error) {
		u := base.String()
		if ref != "" {
			var err error
			if u, err = utils.ResolveURL(base, ref); err != nil {
				return segment{}, err
			}
		}
		s := wholeSegment(u, d)
		if rng != "" {
			off, n, err := parseByteRange(rng)
			if err != nil {
				return segment{}, err
			}
			s.Offset, s.Length = off, n
		}
		return s, nil
	}

	if in := list.Initialization; in != nil {
		s, err := resolveRange(in.SourceURL, in.Range, 0)
		if err != nil {
			return err
		}
		r.init = &s
	}
	for _, su := range list.SegmentURLs {
		s, err := resolveRange(su.Media, su.MediaRange, each)
		if err != nil {
			return err
		}
		r.segments = append(r.segments, s)
	}
	if len(r.segments) == 0 {
		return fmt.Errorf("empty segment list")
	}
	return nil
}

func (f *dashFormat) createTracks(itemID string) []types.Track {
	out := make([]types.Track, len(f.tracks))
	for i, t := range f.tracks {
		t.ItemID = itemID
		out[i] = t
	}
	return out
}

func (f *dashFormat) createDownloadTasks(item types.Item, selected []types.Track) ([]types.ChunkTask, error) {
	return renditionTasks(item, f.byID, selected)
}

func (f *dashFormat) estimatedSize(selected []types.Track) int64 {
	return estimateBytes(selected, f.total)
}

// Local MPD. Every representation becomes a SegmentList with a millisecond
// SegmentTimeline pointing at the chunk files.

type localMPD struct {
	XMLName                   xml.Name      `xml:"MPD"`
	Xmlns                     string        `xml:"xmlns,attr"`
	Profiles                  string        `xml:"profiles,attr"`
	Type                      string        `xml:"type,attr"`
	MinBufferTime             string        `xml:"minBufferTime,attr"`
	MediaPresentationDuration string        `xml:"mediaPresentationDuration,attr"`
	Periods                   []localPeriod `xml:"Period"`
}

type localPeriod struct {
	ID       string     `xml:"id,attr,omitempty"`
	Duration string     `xml:"duration,attr"`
	Sets     []localSet `xml:"AdaptationSet"`
}

type localSet struct {
	ID          string     `xml:"id,attr,omitempty"`
	ContentType string     `xml:"contentType,attr,omitempty"`
	MimeType    string     `xml:"mimeType,attr,omitempty"`
	Codecs      string     `xml:"codecs,attr,omitempty"`
	Lang        string     `xml:"lang,attr,omitempty"`
	Reps        []localRep `xml:"Representation"`
}

type localRep struct {
	ID          string           `xml:"id,attr"`
	Bandwidth   int64            `xml:"bandwidth,attr"`
	Width       int              `xml:"width,attr,omitempty"`
	Height      int              `xml:"height,attr,omitempty"`
	Codecs      string           `xml:"codecs,attr,omitempty"`
	MimeType    string           `xml:"mimeType,attr,omitempty"`
	SegmentList localSegmentList `xml:"SegmentList"`
}

type localSegmentList struct {
	Timescale      int64          `xml:"timescale,attr"`
	Initialization *localURL      `xml:"Initialization,omitempty"`
	Timeline       localTimeline  `xml:"SegmentTimeline"`
	SegmentURLs    []localSegment `xml:"SegmentURL"`
}

type localTimeline struct {
	S []localTimelineEntry `xml:"S"`
}

type localTimelineEntry struct {
	D int64 `xml:"d,attr"`
	R int64 `xml:"r,attr,omitempty"`
}

type localURL struct {
	SourceURL string `xml:"sourceURL,attr"`
}

type localSegment struct {
	Media string `xml:"media,attr"`
}

func (f *dashFormat) createLocalManifest(item types.Item, selected []types.Track) (string, error) {
	out := localMPD{
		Xmlns:                     "urn:mpeg:dash:schema:mpd:2011",
		Profiles:                  "urn:mpeg:dash:profile:isoff-on-demand:2011",
		Type:                      "static",
		MinBufferTime:             "PT2S",
		MediaPresentationDuration: formatISODuration(f.total),
	}

	// keep the origin period and adaptation set structure for selected tracks
	type setKey struct{ period, set int }
	periodIdx := make(map[int]int)
	setIdx := make(map[setKey]int)

	for _, t := range selected {
		ref, ok := f.refs[t.RelativeID]
		if !ok {
			return "", types.ErrTrackNotFound
		}
		pi, ok := periodIdx[ref.Period]
		if !ok {
			p := f.doc.Periods[ref.Period]
			out.Periods = append(out.Periods, localPeriod{ID: p.ID, Duration: formatISODuration(f.periods[ref.Period])})
			pi = len(out.Periods) - 1
			periodIdx[ref.Period] = pi
		}
		key := setKey{ref.Period, ref.AdaptationSet}
		si, ok := setIdx[key]
		if !ok {
			set := f.setByID[t.RelativeID]
			out.Periods[pi].Sets = append(out.Periods[pi].Sets, localSet{
				ID:          set.ID,
				ContentType: t.Type.String(),
				MimeType:    set.MimeType,
				Codecs:      set.Codecs,
				Lang:        set.Lang,
			})
			si = len(out.Periods[pi].Sets) - 1
			setIdx[key] = si
		}

		rep := f.repByID[t.RelativeID]
		r := f.byID[t.RelativeID]
		lr := localRep{
			ID:        t.RelativeID,
			Bandwidth: rep.Bandwidth,
			Width:     rep.Width,
			Height:    rep.Height,
			Codecs:    rep.Codecs,
			MimeType:  rep.MimeType,
			SegmentList: localSegmentList{
				Timescale: 1000,
			},
		}
		if r.init != nil {
			lr.SegmentList.Initialization = &localURL{SourceURL: r.init.localRef(0)}
		}
		for _, s := range r.segments {
			lr.SegmentList.SegmentURLs = append(lr.SegmentList.SegmentURLs, localSegment{Media: s.localRef(0)})
			d := s.Duration.Milliseconds()
			entries := lr.SegmentList.Timeline.S
			if n := len(entries); n > 0 && entries[n-1].D == d {
				entries[n-1].R++
			} else {
				lr.SegmentList.Timeline.S = append(entries, localTimelineEntry{D: d})
			}
		}
		out.Periods[pi].Sets[si].Reps = append(out.Periods[pi].Sets[si].Reps, lr)
	}

	body, err := xml.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", &types.ManifestError{Reason: "encode local MPD", Err: err}
	}
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	buf.Write(body)
	buf.WriteByte('\n')

	if err := writeLocal(item.DataDir, dashLocalManifest, buf.Bytes()); err != nil {
		return "", err
	}
	return dashLocalManifest, nil
}

func dashTrackType(set *mpdAdaptationSet, rep *mpdRepresentation) (types.TrackType, bool) {
	mime := firstNonEmpty(rep.MimeType, set.MimeType)
	codecs := firstNonEmpty(rep.Codecs, set.Codecs)
	switch {
	case set.ContentType == "video" || strings.HasPrefix(mime, "video/"):
		return types.TrackVideo, true
	case set.ContentType == "audio" || strings.HasPrefix(mime, "audio/"):
		return types.TrackAudio, true
	case set.ContentType == "text" || strings.HasPrefix(mime, "text/") || mime == "application/ttml+xml":
		return types.TrackText, true
	case mime == "application/mp4" && (strings.HasPrefix(codecs, "stpp") || strings.HasPrefix(codecs, "wvtt")):
		return types.TrackText, true
	}
	return types.TrackVideo, false
}

func resolveBase(base *url.URL, ref string) (*url.URL, error) {
	if strings.TrimSpace(ref) == "" {
		return base, nil
	}
	s, err := utils.ResolveURL(base, ref)
	if err != nil {
		return nil, err
	}
	return url.Parse(s)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
