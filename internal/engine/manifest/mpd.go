package manifest

import (
	"encoding/xml"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// The MPD subset understood by the compiler. Unknown elements and attributes
// are ignored by encoding/xml.

type mpdDoc struct {
	XMLName                   xml.Name    `xml:"MPD"`
	Type                      string      `xml:"type,attr"`
	MediaPresentationDuration string      `xml:"mediaPresentationDuration,attr"`
	BaseURL                   string      `xml:"BaseURL"`
	Periods                   []mpdPeriod `xml:"Period"`
}

type mpdPeriod struct {
	ID             string             `xml:"id,attr"`
	Duration       string             `xml:"duration,attr"`
	BaseURL        string             `xml:"BaseURL"`
	AdaptationSets []mpdAdaptationSet `xml:"AdaptationSet"`
}

type mpdAdaptationSet struct {
	ID              string              `xml:"id,attr"`
	ContentType     string              `xml:"contentType,attr"`
	MimeType        string              `xml:"mimeType,attr"`
	Codecs          string              `xml:"codecs,attr"`
	Lang            string              `xml:"lang,attr"`
	BaseURL         string              `xml:"BaseURL"`
	SegmentTemplate *mpdSegmentTemplate `xml:"SegmentTemplate"`
	SegmentList     *mpdSegmentList     `xml:"SegmentList"`
	SegmentBase     *mpdSegmentBase     `xml:"SegmentBase"`
	Representations []mpdRepresentation `xml:"Representation"`
}

type mpdRepresentation struct {
	ID              string              `xml:"id,attr"`
	Bandwidth       int64               `xml:"bandwidth,attr"`
	Width           int                 `xml:"width,attr"`
	Height          int                 `xml:"height,attr"`
	Codecs          string              `xml:"codecs,attr"`
	MimeType        string              `xml:"mimeType,attr"`
	BaseURL         string              `xml:"BaseURL"`
	SegmentTemplate *mpdSegmentTemplate `xml:"SegmentTemplate"`
	SegmentList     *mpdSegmentList     `xml:"SegmentList"`
	SegmentBase     *mpdSegmentBase     `xml:"SegmentBase"`
}

type mpdSegmentTemplate struct {
	Media          string       `xml:"media,attr"`
	Initialization string       `xml:"initialization,attr"`
	StartNumber    *int64       `xml:"startNumber,attr"`
	Timescale      int64        `xml:"timescale,attr"`
	Duration       int64        `xml:"duration,attr"`
	Timeline       *mpdTimeline `xml:"SegmentTimeline"`
}

type mpdTimeline struct {
	S []mpdTimelineEntry `xml:"S"`
}

type mpdTimelineEntry struct {
	T *int64 `xml:"t,attr"`
	D int64  `xml:"d,attr"`
	R int64  `xml:"r,attr"`
}

type mpdSegmentList struct {
	Timescale      int64           `xml:"timescale,attr"`
	Duration       int64           `xml:"duration,attr"`
	Initialization *mpdURL         `xml:"Initialization"`
	SegmentURLs    []mpdSegmentURL `xml:"SegmentURL"`
}

type mpdURL struct {
	SourceURL string `xml:"sourceURL,attr"`
	Range     string `xml:"range,attr"`
}

type mpdSegmentURL struct {
	Media      string `xml:"media,attr"`
	MediaRange string `xml:"mediaRange,attr"`
}

type mpdSegmentBase struct {
	Initialization *mpdURL `xml:"Initialization"`
}

// merge fills unset fields of t from the adaptation set level template
func (t *mpdSegmentTemplate) merge(parent *mpdSegmentTemplate) *mpdSegmentTemplate {
	if t == nil {
		return parent
	}
	if parent == nil {
		return t
	}
	m := *t
	if m.Media == "" {
		m.Media = parent.Media
	}
	if m.Initialization == "" {
		m.Initialization = parent.Initialization
	}
	if m.StartNumber == nil {
		m.StartNumber = parent.StartNumber
	}
	if m.Timescale == 0 {
		m.Timescale = parent.Timescale
	}
	if m.Duration == 0 {
		m.Duration = parent.Duration
	}
	if m.Timeline == nil {
		m.Timeline = parent.Timeline
	}
	return &m
}

var templateVar = regexp.MustCompile(`\$(RepresentationID|Number|Time|Bandwidth)(%0(\d+)d)?\$`)

// expandTemplate substitutes the DASH template identifiers. "$$" is a
// literal dollar sign.
func expandTemplate(tmpl, repID string, bandwidth, number, t int64) string {
	const escaped = "\x00"
	s := strings.ReplaceAll(tmpl, "$$", escaped)
	s = templateVar.ReplaceAllStringFunc(s, func(m string) string {
		parts := templateVar.FindStringSubmatch(m)
		var v int64
		switch parts[1] {
		case "RepresentationID":
			return repID
		case "Number":
			v = number
		case "Time":
			v = t
		case "Bandwidth":
			v = bandwidth
		}
		if parts[3] != "" {
			return fmt.Sprintf("%0"+parts[3]+"d", v)
		}
		return strconv.FormatInt(v, 10)
	})
	return strings.ReplaceAll(s, escaped, "$")
}

var isoDuration = regexp.MustCompile(`^P(?:(\d+(?:\.\d+)?)Y)?(?:(\d+(?:\.\d+)?)M)?(?:(\d+(?:\.\d+)?)D)?(?:T(?:(\d+(?:\.\d+)?)H)?(?:(\d+(?:\.\d+)?)M)?(?:(\d+(?:\.\d+)?)S)?)?$`)

// parseISODuration parses xs:duration values such as "PT1H2M3.5S".
// Years and months are approximated as 365 and 30 days.
func parseISODuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	m := isoDuration.FindStringSubmatch(s)
	if m == nil || s == "P" || strings.HasSuffix(s, "T") {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	units := []time.Duration{365 * 24 * time.Hour, 30 * 24 * time.Hour, 24 * time.Hour, time.Hour, time.Minute, time.Second}
	var total float64
	for i, u := range units {
		if m[i+1] == "" {
			continue
		}
		v, err := strconv.ParseFloat(m[i+1], 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", s, err)
		}
		total += v * float64(u)
	}
	return time.Duration(total), nil
}

// formatISODuration is the inverse of parseISODuration for local manifests
func formatISODuration(d time.Duration) string {
	return fmt.Sprintf("PT%.3fS", d.Seconds())
}

// parseByteRange parses "first-last" into offset and length
func parseByteRange(s string) (int64, int64, error) {
	first, last, ok := strings.Cut(strings.TrimSpace(s), "-")
	if !ok {
		return 0, 0, fmt.Errorf("invalid byte range %q", s)
	}
	a, err := strconv.ParseInt(first, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid byte range %q", s)
	}
	b, err := strconv.ParseInt(last, 10, 64)
	if err != nil || b < a {
		return 0, 0, fmt.Errorf("invalid byte range %q", s)
	}
	return a, b - a + 1, nil
}
