package tui

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/surge-downloader/offline/internal/core"
	"github.com/surge-downloader/offline/internal/engine/types"
)

// DownloadModel is the view state of one item
type DownloadModel struct {
	ID         string
	URL        string
	State      types.ItemState
	Total      int64
	Downloaded int64
	Speed      float64 // bytes per second, smoothed

	StartTime time.Time
	Elapsed   time.Duration

	progress progress.Model
	sampled  int64 // Downloaded at the previous tick

	done    bool
	removed bool
	err     error
}

// RootModel shows the progress of a set of items and lets the user pause,
// resume or remove them.
type RootModel struct {
	ctx     context.Context
	service core.DownloadService
	events  <-chan any

	downloads []*DownloadModel
	width     int
	height    int

	// Navigation
	cursor int

	speedHistory []float64
	status       string

	// exitWhenDone quits once every item completed, failed or was removed
	exitWhenDone bool
	quitting     bool
}

// NewDownloadModel builds the view state of an item
func NewDownloadModel(item types.Item) *DownloadModel {
	m := &DownloadModel{
		ID:         item.ID,
		URL:        item.ContentURL,
		State:      item.State,
		Total:      item.EstimatedSize,
		Downloaded: item.DownloadedSize,
		sampled:    item.DownloadedSize,
		StartTime:  time.Now(),
		progress:   progress.New(progress.WithDefaultGradient()),
	}
	m.done = item.State == types.StateCompleted || item.State == types.StateFailed
	return m
}

// NewRootModel builds the model over items. Events come from
// service.StreamEvents and are read one at a time by the update loop.
func NewRootModel(ctx context.Context, service core.DownloadService, events <-chan any, items []types.Item, exitWhenDone bool) RootModel {
	m := RootModel{
		ctx:          ctx,
		service:      service,
		events:       events,
		width:        DefaultWidth,
		exitWhenDone: exitWhenDone,
	}
	for _, it := range items {
		m.downloads = append(m.downloads, NewDownloadModel(it))
	}
	return m
}

// Init starts the event listener and the speed sampler
func (m RootModel) Init() tea.Cmd {
	return tea.Batch(listenForActivity(m.events), tick())
}

// Failed returns the ids of items that ended in FAILED
func (m RootModel) Failed() []string {
	var ids []string
	for _, d := range m.downloads {
		if d.State == types.StateFailed {
			ids = append(ids, d.ID)
		}
	}
	return ids
}

func (m RootModel) find(id string) *DownloadModel {
	for _, d := range m.downloads {
		if d.ID == id {
			return d
		}
	}
	return nil
}

func (m RootModel) selected() *DownloadModel {
	if m.cursor < 0 || m.cursor >= len(m.downloads) {
		return nil
	}
	return m.downloads[m.cursor]
}

func (m RootModel) allDone() bool {
	for _, d := range m.downloads {
		if !d.done && !d.removed {
			return false
		}
	}
	return true
}
