package types

import (
	"net/http"
	"time"
)

// ItemState is the lifecycle state of a downloadable item
type ItemState int

const (
	StateNew ItemState = iota
	StateInfoLoaded
	StateInProgress
	StatePaused
	StateCompleted
	StateFailed
)

func (s ItemState) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateInfoLoaded:
		return "info_loaded"
	case StateInProgress:
		return "in_progress"
	case StatePaused:
		return "paused"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ParseItemState is the inverse of ItemState.String
func ParseItemState(s string) (ItemState, bool) {
	for st := StateNew; st <= StateFailed; st++ {
		if st.String() == s {
			return st, true
		}
	}
	return StateNew, false
}

// HasPlayback reports whether an item in this state carries a playback path
func (s ItemState) HasPlayback() bool {
	return s != StateNew
}

// TrackType identifies the kind of rendition
type TrackType int

const (
	TrackVideo TrackType = iota
	TrackAudio
	TrackText
)

// TrackTypes lists every track type in discovery order
var TrackTypes = []TrackType{TrackVideo, TrackAudio, TrackText}

func (t TrackType) String() string {
	switch t {
	case TrackVideo:
		return "video"
	case TrackAudio:
		return "audio"
	case TrackText:
		return "text"
	default:
		return "unknown"
	}
}

// ParseTrackType parses "video", "audio" or "text"
func ParseTrackType(s string) (TrackType, bool) {
	for _, t := range TrackTypes {
		if t.String() == s {
			return t, true
		}
	}
	return TrackVideo, false
}

// TrackState is the selection state of a track
type TrackState int

const (
	TrackNotSelected TrackState = iota
	TrackSelected
	TrackDownloaded
)

func (s TrackState) String() string {
	switch s {
	case TrackNotSelected:
		return "not_selected"
	case TrackSelected:
		return "selected"
	case TrackDownloaded:
		return "downloaded"
	default:
		return "unknown"
	}
}

// AssetFormat is the detected format of an item's content URL
type AssetFormat string

const (
	FormatUnknown AssetFormat = ""
	FormatDash    AssetFormat = "dash"
	FormatHls     AssetFormat = "hls"
	FormatSimple  AssetFormat = "simple"
)

// Item is one downloadable asset
type Item struct {
	ID             string        `json:"id"`
	ContentURL     string        `json:"content_url"`
	State          ItemState     `json:"state"`
	Format         AssetFormat   `json:"format,omitempty"`
	AddedAt        time.Time     `json:"added_at"`
	FinishedAt     time.Time     `json:"finished_at,omitempty"`
	EstimatedSize  int64         `json:"estimated_size"`
	DownloadedSize int64         `json:"downloaded_size"`
	Duration       time.Duration `json:"duration"`
	DataDir        string        `json:"data_dir"`
	PlaybackPath   string        `json:"playback_path,omitempty"` // Relative to DataDir
}

// Progress returns the completion percentage, 0-100
func (i Item) Progress() float64 {
	if i.EstimatedSize <= 0 {
		return 0
	}
	p := float64(i.DownloadedSize) / float64(i.EstimatedSize) * 100
	if p > 100 {
		p = 100
	}
	return p
}

// Track is one selectable rendition discovered in a manifest
type Track struct {
	ItemID     string     `json:"item_id"`
	RelativeID string     `json:"relative_id"`
	Type       TrackType  `json:"type"`
	Language   string     `json:"language,omitempty"`
	Bitrate    int64      `json:"bitrate"`
	Width      int        `json:"width,omitempty"`
	Height     int        `json:"height,omitempty"`
	Codecs     string     `json:"codecs,omitempty"`
	State      TrackState `json:"state"`
	Extra      []byte     `json:"extra,omitempty"` // Format specific, opaque to the store
}

// ChunkTask is one transfer needed to materialize a track or a simple asset
type ChunkTask struct {
	ItemID      string `json:"item_id"`
	URL         string `json:"url"`
	TargetFile  string `json:"target_file"`
	TrackID     string `json:"track_id,omitempty"` // Empty for non-ABR assets
	Order       int64  `json:"order"`              // OrderUnknown for unordered plans
	RangeOffset int64  `json:"range_offset"`       // WholeResource unless a byte range
	RangeLength int64  `json:"range_length"`
	Complete    bool   `json:"complete"`
}

const (
	OrderUnknown  int64 = -1
	WholeResource int64 = -1
)

// IsRanged reports whether the task fetches a byte range of its URL
func (c ChunkTask) IsRanged() bool {
	return c.RangeOffset >= 0 && c.RangeLength > 0
}

// TrackSelector is handed to listeners so they can override the default
// selection before a plan is compiled.
type TrackSelector interface {
	AvailableTracks(t TrackType) []Track
	SelectedTracks(t TrackType) []Track
	SetSelectedTracks(t TrackType, relativeIDs ...string) error
}

// RequestAdapter rewrites outbound manifest and chunk requests
type RequestAdapter interface {
	Adapt(rawURL string, header http.Header) (string, http.Header)
}

// RequestAdapterFunc adapts a function to RequestAdapter
type RequestAdapterFunc func(rawURL string, header http.Header) (string, http.Header)

func (f RequestAdapterFunc) Adapt(rawURL string, header http.Header) (string, http.Header) {
	return f(rawURL, header)
}
