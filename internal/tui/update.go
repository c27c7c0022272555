package tui

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/surge-downloader/offline/internal/engine/events"
	"github.com/surge-downloader/offline/internal/engine/types"
)

type tickMsg time.Time

// activityMsg carries one engine event read from the stream
type activityMsg struct {
	event any
}

// streamClosedMsg is sent when the event channel is closed
type streamClosedMsg struct{}

// actionResultMsg reports the outcome of a key triggered service call
type actionResultMsg struct {
	id     string
	action string
	err    error
}

func tick() tea.Cmd {
	return tea.Tick(TickInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// listenForActivity waits for the next engine event
func listenForActivity(ch <-chan any) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return streamClosedMsg{}
		}
		return activityMsg{event: ev}
	}
}

func (m RootModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		for _, d := range m.downloads {
			d.progress.Width = m.progressWidth()
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tickMsg:
		m.sampleSpeed()
		return m, tick()

	case actionResultMsg:
		if msg.err != nil {
			m.status = fmt.Sprintf("%s %s: %v", msg.action, msg.id, msg.err)
		} else {
			m.status = ""
		}
		return m, nil

	case streamClosedMsg:
		m.quitting = true
		return m, tea.Quit

	case activityMsg:
		m.handleEvent(msg.event)
		if m.exitWhenDone && m.allDone() {
			m.quitting = true
			return m, tea.Quit
		}
		return m, listenForActivity(m.events)
	}
	return m, nil
}

// handleEvent applies one engine event. Events of items not shown are ignored.
func (m *RootModel) handleEvent(event any) {
	switch msg := event.(type) {
	case events.MetadataLoadedMsg:
		if d := m.find(msg.DownloadID); d != nil {
			if msg.Err != nil {
				d.err = msg.Err
			} else {
				d.State = msg.Item.State
				d.Total = msg.Item.EstimatedSize
			}
		}

	case events.DownloadStartedMsg:
		if d := m.find(msg.DownloadID); d != nil {
			d.State = types.StateInProgress
			d.Total = msg.Item.EstimatedSize
			d.Downloaded = msg.Item.DownloadedSize
			d.sampled = d.Downloaded
			d.StartTime = time.Now()
			d.done = false
			d.err = nil
		}

	case events.ProgressMsg:
		if d := m.find(msg.DownloadID); d != nil {
			d.Downloaded = msg.Downloaded
			if msg.Total > 0 {
				d.Total = msg.Total
			}
			d.Elapsed = time.Since(d.StartTime)
		}

	case events.DownloadPausedMsg:
		if d := m.find(msg.DownloadID); d != nil {
			d.State = types.StatePaused
			d.Downloaded = msg.Downloaded
			d.Speed = 0
		}

	case events.DownloadCompleteMsg:
		if d := m.find(msg.DownloadID); d != nil {
			d.State = types.StateCompleted
			d.Downloaded = msg.Total
			d.Elapsed = msg.Elapsed
			d.Speed = 0
			d.done = true
		}

	case events.DownloadErrorMsg:
		if d := m.find(msg.DownloadID); d != nil {
			d.State = types.StateFailed
			d.err = msg.Err
			d.Speed = 0
			d.done = true
		}

	case events.DownloadRemovedMsg:
		m.drop(msg.DownloadID)
	}
}

func (m RootModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		m.quitting = true
		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.downloads)-1 {
			m.cursor++
		}
	case "p":
		return m, m.act("pause", m.service.Pause)
	case "r":
		return m, m.act("resume", m.service.Resume)
	case "x", "delete":
		return m, m.act("remove", m.service.Delete)
	}
	return m, nil
}

func (m RootModel) act(action string, fn func(ctx context.Context, id string) error) tea.Cmd {
	d := m.selected()
	if d == nil || m.service == nil {
		return nil
	}
	ctx, id := m.ctx, d.ID
	return func() tea.Msg {
		return actionResultMsg{id: id, action: action, err: fn(ctx, id)}
	}
}

func (m *RootModel) drop(id string) {
	for i, d := range m.downloads {
		if d.ID == id {
			d.removed = true
			m.downloads = append(m.downloads[:i], m.downloads[i+1:]...)
			break
		}
	}
	if m.cursor >= len(m.downloads) && m.cursor > 0 {
		m.cursor = len(m.downloads) - 1
	}
}

// sampleSpeed folds the bytes since the previous tick into each item's
// moving average and records the total for the graph.
func (m *RootModel) sampleSpeed() {
	var total float64
	for _, d := range m.downloads {
		delta := d.Downloaded - d.sampled
		d.sampled = d.Downloaded
		if d.State != types.StateInProgress || delta < 0 {
			d.Speed = 0
			continue
		}
		inst := float64(delta) / TickInterval.Seconds()
		d.Speed = SpeedSmoothing*inst + (1-SpeedSmoothing)*d.Speed
		total += d.Speed
	}
	m.speedHistory = append(m.speedHistory, total)
	if len(m.speedHistory) > GraphHistoryPoints {
		m.speedHistory = m.speedHistory[len(m.speedHistory)-GraphHistoryPoints:]
	}
}
